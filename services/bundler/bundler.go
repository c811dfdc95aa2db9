package bundler

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"catalogd/services/catalog"
)

const (
	manifestFileName  = "manifest.yaml"
	payloadsTarPrefix = "payloads"

	payloadManifestSuffix = ".manifest.json"
)

// Build assembles a signed bundle from the provided payloads directory and
// writes the tar.zst archive to Output. The directory holds one
// *.manifest.json per artifact plus the content files those manifests
// reference by relative path.
func Build(ctx context.Context, cfg BuildConfig) (*Manifest, error) {
	if cfg.PayloadsDir == "" {
		return nil, errors.New("payloads directory is required")
	}
	if cfg.Output == "" {
		return nil, errors.New("output path is required")
	}
	if cfg.Signer == nil {
		return nil, errors.New("signer is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(cfg.PayloadsDir)
	if err != nil {
		return nil, fmt.Errorf("stat payloads dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("payloads dir %q is not a directory", cfg.PayloadsDir)
	}

	entries, err := collectPayloads(ctx, cfg.PayloadsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errors.New("no payloads found to bundle")
	}
	if !hasPayloadManifest(entries) {
		return nil, fmt.Errorf("no %s files found in %q", payloadManifestSuffix, cfg.PayloadsDir)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})

	manifest := &Manifest{
		Version:          "1",
		CreatedAt:        cfg.Now().UTC().Truncate(time.Second),
		Signer:           cfg.Signer.Recipient(),
		SigningPublicKey: cfg.Signer.PublicKeyBase64(),
		Artifacts:        entries,
	}

	payload, err := manifest.SigningBytes()
	if err != nil {
		return nil, fmt.Errorf("marshal manifest for signing: %w", err)
	}
	sig, err := cfg.Signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("sign manifest: %w", err)
	}
	manifest.Signature = sig

	manifestBytes, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}

	if err := writeBundle(cfg.Output, manifestBytes, cfg.PayloadsDir, entries); err != nil {
		return nil, err
	}

	fmt.Fprintf(cfg.Stdout, "wrote bundle %s (%d files)\n", cfg.Output, len(entries))
	return manifest, nil
}

func collectPayloads(ctx context.Context, root string) ([]ManifestArtifact, error) {
	var artifacts []ManifestArtifact
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("relative path for %q: %w", path, err)
		}
		rel = filepath.ToSlash(rel)

		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %q: %w", path, err)
		}
		hash := sha256.New()
		size, err := io.Copy(hash, file)
		file.Close()
		if err != nil {
			return fmt.Errorf("hash %q: %w", path, err)
		}

		artifacts = append(artifacts, ManifestArtifact{
			Path:   rel,
			Kind:   inferKind(rel),
			Size:   size,
			SHA256: hex.EncodeToString(hash.Sum(nil)),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return artifacts, nil
}

func hasPayloadManifest(entries []ManifestArtifact) bool {
	for _, entry := range entries {
		if entry.Kind == "payload-manifest" {
			return true
		}
	}
	return false
}

func writeBundle(output string, manifest []byte, payloadsDir string, entries []ManifestArtifact) error {
	dir := filepath.Dir(output)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	file, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer file.Close()

	encoder, err := zstd.NewWriter(file)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	defer encoder.Close()

	tw := tar.NewWriter(encoder)
	defer tw.Close()

	manifestHeader := &tar.Header{
		Name:     manifestFileName,
		Mode:     0o644,
		Size:     int64(len(manifest)),
		ModTime:  time.Now().UTC(),
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(manifestHeader); err != nil {
		return fmt.Errorf("write manifest header: %w", err)
	}
	if _, err := tw.Write(manifest); err != nil {
		return fmt.Errorf("write manifest body: %w", err)
	}

	for _, entry := range entries {
		fullPath := filepath.Join(payloadsDir, filepath.FromSlash(entry.Path))
		info, err := os.Stat(fullPath)
		if err != nil {
			return fmt.Errorf("stat %q: %w", entry.Path, err)
		}
		file, err := os.Open(fullPath)
		if err != nil {
			return fmt.Errorf("open %q: %w", entry.Path, err)
		}

		header := &tar.Header{
			Name:     filepath.ToSlash(filepath.Join(payloadsTarPrefix, entry.Path)),
			Mode:     int64(info.Mode().Perm()),
			Size:     info.Size(),
			ModTime:  info.ModTime(),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(header); err != nil {
			file.Close()
			return fmt.Errorf("write header for %q: %w", entry.Path, err)
		}
		if _, err := io.Copy(tw, file); err != nil {
			file.Close()
			return fmt.Errorf("copy %q: %w", entry.Path, err)
		}
		file.Close()
	}

	return nil
}

func inferKind(path string) string {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, payloadManifestSuffix):
		return "payload-manifest"
	case strings.HasSuffix(lower, ".wasm"):
		return "wasm"
	case strings.HasSuffix(lower, ".json"):
		return "json"
	default:
		return "file"
	}
}

// Import extracts a bundle, verifies its signature and per-file digests, and
// registers every payload manifest against a catalogd reachable over the same
// filesystem. Each payload's file_url is rewritten to the extracted content
// path so the server ingests local bytes instead of reaching out to a
// registry.
func Import(ctx context.Context, cfg ImportConfig) (*Manifest, error) {
	if cfg.BundlePath == "" {
		return nil, errors.New("bundle file is required")
	}
	if cfg.APIBaseURL == "" {
		return nil, errors.New("api base url is required")
	}
	if cfg.Signer == nil {
		return nil, errors.New("signer is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	extractDir := cfg.KeepDir
	if extractDir == "" {
		tempDir, err := os.MkdirTemp("", "catalogd-bundle-*")
		if err != nil {
			return nil, fmt.Errorf("temp dir: %w", err)
		}
		defer os.RemoveAll(tempDir)
		extractDir = tempDir
	} else if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return nil, fmt.Errorf("create extract dir: %w", err)
	}

	manifestBytes, files, err := extractBundle(ctx, cfg.BundlePath, extractDir)
	if err != nil {
		return nil, err
	}
	if len(manifestBytes) == 0 {
		return nil, errors.New("bundle missing manifest.yaml")
	}

	var manifest Manifest
	if err := yaml.Unmarshal(manifestBytes, &manifest); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	if manifest.Version != "1" {
		return nil, fmt.Errorf("unsupported manifest version %q", manifest.Version)
	}
	if manifest.Signature == "" {
		return nil, errors.New("manifest missing signature")
	}

	payload, err := manifest.SigningBytes()
	if err != nil {
		return nil, fmt.Errorf("marshal manifest for verification: %w", err)
	}
	if err := cfg.Signer.Verify(payload, manifest.Signature, manifest.SigningPublicKey); err != nil {
		return nil, fmt.Errorf("verify manifest signature: %w", err)
	}

	fmt.Fprintf(cfg.Stdout, "verified manifest signed at %s\n", manifest.CreatedAt.Format(time.RFC3339))

	for _, art := range manifest.Artifacts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		relative := filepath.ToSlash(filepath.Clean(art.Path))
		tarPath := filepath.ToSlash(filepath.Join(payloadsTarPrefix, relative))
		extractedPath, ok := files[tarPath]
		if !ok {
			return nil, fmt.Errorf("file %q missing from archive", relative)
		}
		if err := validateFile(extractedPath, art); err != nil {
			return nil, err
		}
	}

	baseURL := strings.TrimRight(cfg.APIBaseURL, "/")
	registered := 0
	for _, art := range manifest.Artifacts {
		if art.Kind != "payload-manifest" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		relative := filepath.ToSlash(filepath.Clean(art.Path))
		tarPath := filepath.ToSlash(filepath.Join(payloadsTarPrefix, relative))
		if err := registerPayload(ctx, cfg, baseURL, files, files[tarPath], relative); err != nil {
			return nil, err
		}
		registered++
	}

	if registered == 0 {
		return nil, errors.New("bundle contains no payload manifests")
	}

	return &manifest, nil
}

func extractBundle(ctx context.Context, bundlePath, destDir string) ([]byte, map[string]string, error) {
	bundleFile, err := os.Open(bundlePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open bundle: %w", err)
	}
	defer bundleFile.Close()

	decoder, err := zstd.NewReader(bundleFile)
	if err != nil {
		return nil, nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer decoder.Close()

	tr := tar.NewReader(decoder)

	var (
		manifestBytes []byte
		files         = map[string]string{}
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read tar entry: %w", err)
		}

		name := filepath.Clean(header.Name)
		if header.Typeflag == tar.TypeDir {
			target := filepath.Join(destDir, name)
			if !strings.HasPrefix(target, destDir) {
				return nil, nil, fmt.Errorf("invalid directory entry %q", name)
			}
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, nil, fmt.Errorf("mkdir %q: %w", name, err)
			}
			continue
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		if name == manifestFileName {
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, nil, fmt.Errorf("read manifest: %w", err)
			}
			manifestBytes = data
			continue
		}

		targetPath := filepath.Join(destDir, name)
		if !strings.HasPrefix(targetPath, destDir) {
			return nil, nil, fmt.Errorf("invalid entry path %q", name)
		}
		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("mkdir %q: %w", filepath.Dir(targetPath), err)
		}
		file, err := os.Create(targetPath)
		if err != nil {
			return nil, nil, fmt.Errorf("create file for %q: %w", name, err)
		}
		if _, err := io.Copy(file, tr); err != nil {
			file.Close()
			return nil, nil, fmt.Errorf("write file for %q: %w", name, err)
		}
		file.Close()

		files[filepath.ToSlash(name)] = targetPath
	}

	return manifestBytes, files, nil
}

func validateFile(path string, art ManifestArtifact) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %q: %w", art.Path, err)
	}
	defer file.Close()

	hash := sha256.New()
	size, err := io.Copy(hash, file)
	if err != nil {
		return fmt.Errorf("hash %q: %w", art.Path, err)
	}
	if size != art.Size {
		return fmt.Errorf("size mismatch for %q: expected %d got %d", art.Path, art.Size, size)
	}
	computed := hex.EncodeToString(hash.Sum(nil))
	if !strings.EqualFold(computed, art.SHA256) {
		return fmt.Errorf("sha256 mismatch for %q", art.Path)
	}
	return nil
}

// registerPayload rewrites the payload's file_url to the extracted content
// path and creates the artifact through the catalog API. A conflict means the
// artifact is already installed and is skipped.
func registerPayload(ctx context.Context, cfg ImportConfig, baseURL string, files map[string]string, manifestPath, relative string) error {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return fmt.Errorf("read payload manifest %q: %w", relative, err)
	}

	var payload catalog.Manifest
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse payload manifest %q: %w", relative, err)
	}

	if !strings.HasPrefix(payload.FileURL, "http://") && !strings.HasPrefix(payload.FileURL, "https://") {
		contentRel := filepath.ToSlash(filepath.Clean(payload.FileURL))
		contentPath, ok := files[filepath.ToSlash(filepath.Join(payloadsTarPrefix, contentRel))]
		if !ok {
			return fmt.Errorf("payload %q references %q which is not in the bundle", relative, payload.FileURL)
		}
		payload.FileURL = contentPath
	}

	family := "definitions"
	if strings.HasSuffix(strings.ToLower(payload.FileURL), ".wasm") {
		family = "modules"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload %q: %w", relative, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/"+family, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("register payload %q: %w", relative, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		fmt.Fprintf(cfg.Stdout, "registered %s %s\n", strings.TrimSuffix(family, "s"), payload.ID)
		return nil
	case http.StatusConflict:
		fmt.Fprintf(cfg.Stdout, "skipped %s %s: already installed\n", strings.TrimSuffix(family, "s"), payload.ID)
		return nil
	default:
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("register payload %q failed: %s", relative, strings.TrimSpace(string(data)))
	}
}
