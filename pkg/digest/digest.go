package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"regexp"
	"strings"

	"catalogd/pkg/apperr"
)

// Sentinel failure modes. All surface as bad-request errors, but each is
// matchable with errors.Is for precise diagnostics.
var (
	ErrInvalidFormat        = errors.New("invalid digest format")
	ErrUnsupportedAlgorithm = errors.New("unsupported digest algorithm")
	ErrInvalidHashFormat    = errors.New("invalid hash format")
	ErrMismatch             = errors.New("digest mismatch")
)

// Write-once validation state, shared process-wide.
var (
	sha256HexPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

	// algorithms is the open dispatch table for digest algorithms. Adding an
	// algorithm means registering a constructor and a hex pattern here.
	algorithms = map[string]algorithm{
		"sha256": {newHash: sha256.New, hexPattern: sha256HexPattern},
	}
)

type algorithm struct {
	newHash    func() hash.Hash
	hexPattern *regexp.Regexp
}

// Spec is a parsed "algorithm:hex" digest specification.
type Spec struct {
	Algorithm string
	Hex       string
}

// String renders the spec back into wire form.
func (s Spec) String() string { return s.Algorithm + ":" + s.Hex }

func badRequest(sentinel error, format string, args ...any) error {
	return &apperr.Error{
		Kind:    apperr.KindBadRequest,
		Message: fmt.Sprintf(format, args...),
		Err:     sentinel,
	}
}

// Parse validates a digest spec of the form "algorithm:hex".
func Parse(spec string) (Spec, error) {
	algo, hexPart, ok := strings.Cut(spec, ":")
	if !ok {
		return Spec{}, badRequest(ErrInvalidFormat, "invalid digest format %q, expected 'algorithm:hash'", spec)
	}

	impl, ok := algorithms[algo]
	if !ok {
		return Spec{}, badRequest(ErrUnsupportedAlgorithm, "unsupported digest algorithm %q", algo)
	}
	if !impl.hexPattern.MatchString(hexPart) {
		return Spec{}, badRequest(ErrInvalidHashFormat, "invalid %s hash format in digest %q", algo, spec)
	}

	return Spec{Algorithm: algo, Hex: hexPart}, nil
}

// Sum computes the lowercase hex digest of b under the given algorithm.
// The algorithm must already have passed Parse.
func Sum(algo string, b []byte) string {
	h := algorithms[algo].newHash()
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}

// SumReader hashes everything remaining in r under the given algorithm.
func SumReader(algo string, r io.Reader) (string, error) {
	h := algorithms[algo].newHash()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify parses spec and checks it against the full content. A mismatch is a
// hard failure that must abort ingestion before any persistent write.
func Verify(content []byte, spec string) error {
	parsed, err := Parse(spec)
	if err != nil {
		return err
	}

	computed := Sum(parsed.Algorithm, content)
	if computed != parsed.Hex {
		return badRequest(ErrMismatch, "digest mismatch: expected %s, got %s:%s", spec, parsed.Algorithm, computed)
	}
	return nil
}
