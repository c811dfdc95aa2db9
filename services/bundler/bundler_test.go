package bundler

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"catalogd/pkg/digest"
	"catalogd/services/catalog"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &Signer{privateKey: priv, publicKey: pub}
}

func writePayload(t *testing.T, dir, id, fileName string, content []byte) {
	t.Helper()
	contentRel := filepath.Join(id, fileName)
	if err := os.MkdirAll(filepath.Join(dir, id), 0o755); err != nil {
		t.Fatalf("mkdir payload dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, contentRel), content, 0o644); err != nil {
		t.Fatalf("write content: %v", err)
	}

	manifest := catalog.Manifest{
		ID:          id,
		Name:        id,
		Type:        "exporter",
		Description: "test payload",
		FileURL:     filepath.ToSlash(contentRel),
		Digest:      "sha256:" + digest.Sum("sha256", content),
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("marshal payload manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, id+".manifest.json"), data, 0o644); err != nil {
		t.Fatalf("write payload manifest: %v", err)
	}
}

type catalogStub struct {
	mu       sync.Mutex
	received map[string][]catalog.Manifest
	status   int
}

func newCatalogStub() *catalogStub {
	return &catalogStub{received: map[string][]catalog.Manifest{}, status: http.StatusCreated}
}

func (s *catalogStub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		family := strings.TrimPrefix(r.URL.Path, "/v1/")
		var payload catalog.Manifest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.received[family] = append(s.received[family], payload)
		status := s.status
		s.mu.Unlock()
		w.WriteHeader(status)
	})
}

func (s *catalogStub) payloads(family string) []catalog.Manifest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]catalog.Manifest(nil), s.received[family]...)
}

func TestBuildImportRoundTrip(t *testing.T) {
	payloads := t.TempDir()
	writePayload(t, payloads, "def-a", "config.json", []byte(`{"scrape":"node"}`))
	writePayload(t, payloads, "mod-a", "mod-a.wasm", []byte("\x00asm module bytes"))

	signer := newTestSigner(t)
	output := filepath.Join(t.TempDir(), "bundle.tar.zst")

	manifest, err := Build(context.Background(), BuildConfig{
		PayloadsDir: payloads,
		Output:      output,
		Signer:      signer,
		Stdout:      io.Discard,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if manifest.Signature == "" {
		t.Fatal("expected signed manifest")
	}
	if len(manifest.Artifacts) != 4 {
		t.Fatalf("expected 4 artifacts, got %d", len(manifest.Artifacts))
	}

	stub := newCatalogStub()
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	imported, err := Import(context.Background(), ImportConfig{
		BundlePath: output,
		APIBaseURL: server.URL,
		Signer:     signer,
		Stdout:     io.Discard,
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if imported.Version != "1" {
		t.Fatalf("unexpected manifest version %q", imported.Version)
	}

	defs := stub.payloads("definitions")
	if len(defs) != 1 || defs[0].ID != "def-a" {
		t.Fatalf("unexpected definitions registered: %+v", defs)
	}
	mods := stub.payloads("modules")
	if len(mods) != 1 || mods[0].ID != "mod-a" {
		t.Fatalf("unexpected modules registered: %+v", mods)
	}
	if !strings.HasSuffix(mods[0].FileURL, "mod-a.wasm") {
		t.Fatalf("module file_url not rewritten: %q", mods[0].FileURL)
	}
	if !filepath.IsAbs(mods[0].FileURL) {
		t.Fatalf("expected absolute extracted path, got %q", mods[0].FileURL)
	}
}

func TestImportKeepDirSurvives(t *testing.T) {
	payloads := t.TempDir()
	writePayload(t, payloads, "def-a", "config.json", []byte(`{"scrape":"node"}`))

	signer := newTestSigner(t)
	output := filepath.Join(t.TempDir(), "bundle.tar.zst")
	if _, err := Build(context.Background(), BuildConfig{
		PayloadsDir: payloads,
		Output:      output,
		Signer:      signer,
		Stdout:      io.Discard,
	}); err != nil {
		t.Fatalf("build: %v", err)
	}

	stub := newCatalogStub()
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	keepDir := filepath.Join(t.TempDir(), "extracted")
	if _, err := Import(context.Background(), ImportConfig{
		BundlePath: output,
		APIBaseURL: server.URL,
		Signer:     signer,
		KeepDir:    keepDir,
		Stdout:     io.Discard,
	}); err != nil {
		t.Fatalf("import: %v", err)
	}

	defs := stub.payloads("definitions")
	if len(defs) != 1 {
		t.Fatalf("expected one registered definition, got %d", len(defs))
	}
	content, err := os.ReadFile(defs[0].FileURL)
	if err != nil {
		t.Fatalf("read kept content: %v", err)
	}
	if err := digest.Verify(content, defs[0].Digest); err != nil {
		t.Fatalf("kept content digest: %v", err)
	}
}

func TestImportSkipsConflicts(t *testing.T) {
	payloads := t.TempDir()
	writePayload(t, payloads, "def-a", "config.json", []byte(`{"scrape":"node"}`))

	signer := newTestSigner(t)
	output := filepath.Join(t.TempDir(), "bundle.tar.zst")
	if _, err := Build(context.Background(), BuildConfig{
		PayloadsDir: payloads,
		Output:      output,
		Signer:      signer,
		Stdout:      io.Discard,
	}); err != nil {
		t.Fatalf("build: %v", err)
	}

	stub := newCatalogStub()
	stub.status = http.StatusConflict
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	var buf bytes.Buffer
	if _, err := Import(context.Background(), ImportConfig{
		BundlePath: output,
		APIBaseURL: server.URL,
		Signer:     signer,
		Stdout:     &buf,
	}); err != nil {
		t.Fatalf("import with conflicts: %v", err)
	}
	if !strings.Contains(buf.String(), "already installed") {
		t.Fatalf("expected conflict notice, got %q", buf.String())
	}
}

func TestImportRejectsUnexpectedSigner(t *testing.T) {
	payloads := t.TempDir()
	writePayload(t, payloads, "def-a", "config.json", []byte(`{"scrape":"node"}`))

	output := filepath.Join(t.TempDir(), "bundle.tar.zst")
	if _, err := Build(context.Background(), BuildConfig{
		PayloadsDir: payloads,
		Output:      output,
		Signer:      newTestSigner(t),
		Stdout:      io.Discard,
	}); err != nil {
		t.Fatalf("build: %v", err)
	}

	_, err := Import(context.Background(), ImportConfig{
		BundlePath: output,
		APIBaseURL: "http://unused.local",
		Signer:     newTestSigner(t),
		Stdout:     io.Discard,
	})
	if err == nil || !strings.Contains(err.Error(), "unexpected key") {
		t.Fatalf("expected unexpected key error, got %v", err)
	}
}

func TestImportRejectsCorruptedContent(t *testing.T) {
	signer := newTestSigner(t)

	content := []byte(`{"scrape":"node"}`)
	payload := catalog.Manifest{
		ID:      "def-a",
		Name:    "def-a",
		Type:    "exporter",
		FileURL: "def-a/config.json",
		Digest:  digest.Sum("sha256", content),
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	manifest := Manifest{
		Version:          "1",
		CreatedAt:        time.Now().UTC().Truncate(time.Second),
		SigningPublicKey: signer.PublicKeyBase64(),
		Artifacts: []ManifestArtifact{
			{
				Path:   "def-a.manifest.json",
				Kind:   "payload-manifest",
				Size:   int64(len(payloadJSON)),
				SHA256: strings.Repeat("0", 64),
			},
		},
	}
	signing, err := manifest.SigningBytes()
	if err != nil {
		t.Fatalf("signing bytes: %v", err)
	}
	manifest.Signature, err = signer.Sign(signing)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	bundlePath := filepath.Join(t.TempDir(), "bundle.tar.zst")
	writeRawBundle(t, bundlePath, manifest, map[string][]byte{
		"payloads/def-a.manifest.json": payloadJSON,
	})

	_, err = Import(context.Background(), ImportConfig{
		BundlePath: bundlePath,
		APIBaseURL: "http://unused.local",
		Signer:     signer,
		Stdout:     io.Discard,
	})
	if err == nil || !strings.Contains(err.Error(), "sha256 mismatch") {
		t.Fatalf("expected sha256 mismatch, got %v", err)
	}
}

func TestBuildRequiresPayloadManifest(t *testing.T) {
	payloads := t.TempDir()
	if err := os.WriteFile(filepath.Join(payloads, "loose.bin"), []byte("data"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	_, err := Build(context.Background(), BuildConfig{
		PayloadsDir: payloads,
		Output:      filepath.Join(t.TempDir(), "bundle.tar.zst"),
		Signer:      newTestSigner(t),
		Stdout:      io.Discard,
	})
	if err == nil || !strings.Contains(err.Error(), ".manifest.json") {
		t.Fatalf("expected missing payload manifest error, got %v", err)
	}
}

func writeRawBundle(t *testing.T, path string, manifest Manifest, files map[string][]byte) {
	t.Helper()

	manifestBytes, err := yaml.Marshal(manifest)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}

	out, err := os.Create(path)
	if err != nil {
		t.Fatalf("create bundle: %v", err)
	}
	defer out.Close()

	encoder, err := zstd.NewWriter(out)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	defer encoder.Close()

	tw := tar.NewWriter(encoder)
	defer tw.Close()

	write := func(name string, data []byte) {
		header := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(data)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(header); err != nil {
			t.Fatalf("write header %q: %v", name, err)
		}
		if _, err := tw.Write(data); err != nil {
			t.Fatalf("write body %q: %v", name, err)
		}
	}

	write(manifestFileName, manifestBytes)
	for name, data := range files {
		write(name, data)
	}
}
