package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"catalogd/pkg/apperr"
)

func sha256Spec(b []byte) string {
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func TestParse(t *testing.T) {
	validHex := strings.Repeat("ab", 32)

	tests := []struct {
		name     string
		spec     string
		sentinel error
	}{
		{"valid sha256", "sha256:" + validHex, nil},
		{"missing separator", "badformat", ErrInvalidFormat},
		{"unsupported algorithm", "md5:abcd", ErrUnsupportedAlgorithm},
		{"short hex", "sha256:abc123", ErrInvalidHashFormat},
		{"uppercase hex", "sha256:" + strings.ToUpper(validHex), ErrInvalidHashFormat},
		{"non-hex characters", "sha256:" + strings.Repeat("zz", 32), ErrInvalidHashFormat},
		{"empty hash", "sha256:", ErrInvalidHashFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := Parse(tt.spec)
			if tt.sentinel == nil {
				if err != nil {
					t.Fatalf("Parse(%q) error = %v", tt.spec, err)
				}
				if parsed.Algorithm != "sha256" || parsed.Hex != validHex {
					t.Fatalf("Parse(%q) = %+v", tt.spec, parsed)
				}
				return
			}
			if !errors.Is(err, tt.sentinel) {
				t.Fatalf("Parse(%q) error = %v, want %v", tt.spec, err, tt.sentinel)
			}
			if !apperr.IsKind(err, apperr.KindBadRequest) {
				t.Fatalf("Parse(%q) kind = %q, want bad_request", tt.spec, apperr.KindOf(err))
			}
		})
	}
}

func TestVerifyMatchingContent(t *testing.T) {
	content := []byte("hello world")

	if err := Verify(content, sha256Spec(content)); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
}

func TestVerifySingleByteMutation(t *testing.T) {
	content := []byte("hello world")
	spec := sha256Spec(content)

	mutated := append([]byte(nil), content...)
	mutated[0] ^= 0x01

	err := Verify(mutated, spec)
	if !errors.Is(err, ErrMismatch) {
		t.Fatalf("Verify(mutated) error = %v, want ErrMismatch", err)
	}
}

func TestVerifyKnownVector(t *testing.T) {
	content := []byte("hello")

	if err := Verify(content, "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	err := Verify(content, "sha256:"+strings.Repeat("0", 64))
	if !errors.Is(err, ErrMismatch) {
		t.Fatalf("Verify(zero digest) error = %v, want ErrMismatch", err)
	}
}

func TestVerifyEmptyContent(t *testing.T) {
	if err := Verify(nil, sha256Spec(nil)); err != nil {
		t.Fatalf("Verify(empty) error = %v", err)
	}
}

func TestSumReader(t *testing.T) {
	content := []byte("streamed content")
	want := Sum("sha256", content)

	got, err := SumReader("sha256", strings.NewReader(string(content)))
	if err != nil {
		t.Fatalf("SumReader() error = %v", err)
	}
	if got != want {
		t.Fatalf("SumReader() = %q, want %q", got, want)
	}
}

func TestSpecString(t *testing.T) {
	spec := Spec{Algorithm: "sha256", Hex: strings.Repeat("a", 64)}
	if got := spec.String(); got != "sha256:"+strings.Repeat("a", 64) {
		t.Fatalf("String() = %q", got)
	}
}
