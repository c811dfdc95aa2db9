package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"catalogd/pkg/apperr"
	"catalogd/pkg/digest"
	"catalogd/pkg/fetch"
)

type fakeRepo struct {
	mu      sync.Mutex
	items   map[string]Artifact
	creates int
	updates int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{items: map[string]Artifact{}}
}

func (r *fakeRepo) Get(ctx context.Context, id string) (Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	art, ok := r.items[id]
	if !ok {
		return Artifact{}, apperr.NotFound("artifact %q not found", id)
	}
	return art, nil
}

func (r *fakeRepo) List(ctx context.Context, filter ListFilter) ([]Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]Artifact, 0, len(r.items))
	for _, art := range r.items {
		items = append(items, art)
	}
	return items, nil
}

func (r *fakeRepo) Create(ctx context.Context, art Artifact) (Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[art.ID]; exists {
		return Artifact{}, apperr.Conflict("artifact %q already exists", art.ID)
	}
	now := time.Now().UTC()
	art.CreatedAt = now
	art.UpdatedAt = now
	r.items[art.ID] = art
	r.creates++
	return art, nil
}

func (r *fakeRepo) Update(ctx context.Context, id string, patch Patch) (Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	art, ok := r.items[id]
	if !ok {
		return Artifact{}, apperr.NotFound("artifact %q not found", id)
	}
	if patch.Type != nil {
		art.Type = *patch.Type
	}
	if patch.Name != nil {
		art.Name = *patch.Name
	}
	if patch.Description != nil {
		art.Description = *patch.Description
	}
	if patch.Enabled != nil {
		art.Enabled = *patch.Enabled
	}
	if patch.SourceURL != nil {
		art.SourceURL = patch.SourceURL
	}
	if patch.Digest != nil {
		art.Digest = *patch.Digest
	}
	art.UpdatedAt = time.Now().UTC()
	r.items[id] = art
	r.updates++
	return art, nil
}

func (r *fakeRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return apperr.NotFound("artifact %q not found", id)
	}
	delete(r.items, id)
	return nil
}

type fakeObjects struct {
	mu   sync.Mutex
	blob map[string][]byte
	puts int
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{blob: map[string][]byte{}}
}

func (o *fakeObjects) Put(ctx context.Context, bucket, key string, r io.Reader, expectedDigest string) error {
	content, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if err := digest.Verify(content, expectedDigest); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.blob[bucket+"/"+key] = content
	o.puts++
	return nil
}

func (o *fakeObjects) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	return "https://objects.local/" + bucket + "/" + key, nil
}

func (o *fakeObjects) get(bucket, key string) ([]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	b, ok := o.blob[bucket+"/"+key]
	return b, ok
}

func (o *fakeObjects) putCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.puts
}

// registry serves a manifest and a content payload over HTTP.
type registry struct {
	server   *httptest.Server
	mu       sync.Mutex
	manifest Manifest
	content  []byte
	wasm     bool
}

func newRegistry(t *testing.T, wasm bool) *registry {
	t.Helper()

	reg := &registry{wasm: wasm}
	mux := http.NewServeMux()
	mux.HandleFunc("/manifest.json", func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		_ = json.NewEncoder(w).Encode(reg.manifest)
	})
	mux.HandleFunc("/content", func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		_, _ = w.Write(reg.content)
	})
	mux.HandleFunc("/content.wasm", func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		_, _ = w.Write(reg.content)
	})

	reg.server = httptest.NewServer(mux)
	t.Cleanup(reg.server.Close)
	return reg
}

func (reg *registry) manifestURL() string { return reg.server.URL + "/manifest.json" }

// serve publishes content under the registry and returns the manifest that
// describes it.
func (reg *registry) serve(id string, content []byte) Manifest {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	fileURL := reg.server.URL + "/content"
	if reg.wasm {
		fileURL = reg.server.URL + "/content.wasm"
	}

	reg.content = content
	reg.manifest = Manifest{
		ID:          id,
		Name:        "Artifact " + id,
		Type:        "config",
		Description: "test artifact",
		FileURL:     fileURL,
		Digest:      "sha256:" + digest.Sum("sha256", content),
	}
	return reg.manifest
}

func (reg *registry) setManifest(m Manifest) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.manifest = m
}

func TestCreateStoresContentAndRow(t *testing.T) {
	reg := newRegistry(t, false)
	repo := newFakeRepo()
	objects := newFakeObjects()
	syncer := NewDefinitionSyncer(repo, objects, fetch.New())

	content := []byte(`{"setting": true}`)
	m := reg.serve("pkg-a", content)

	created, err := syncer.Create(context.Background(), m)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if created.ID != "pkg-a" || !created.Enabled {
		t.Errorf("created = %+v, want id pkg-a enabled", created)
	}
	if created.ObjectKey != "pkg-a" || created.ConfigObjectKey != "pkg-a" || created.SecretsObjectKey != "pkg-a" {
		t.Errorf("object keys = %q/%q/%q, want all pkg-a",
			created.ObjectKey, created.ConfigObjectKey, created.SecretsObjectKey)
	}

	stored, ok := objects.get(definitionsBucket, "pkg-a")
	if !ok {
		t.Fatal("content was not written to the object store")
	}
	if !bytes.Equal(stored, content) {
		t.Errorf("stored content = %q, want %q", stored, content)
	}

	if _, err := repo.Get(context.Background(), "pkg-a"); err != nil {
		t.Errorf("row was not inserted: %v", err)
	}
}

func TestCreateConflictOnExistingID(t *testing.T) {
	reg := newRegistry(t, false)
	repo := newFakeRepo()
	objects := newFakeObjects()
	syncer := NewDefinitionSyncer(repo, objects, fetch.New())

	m := reg.serve("pkg-a", []byte("first"))
	if _, err := syncer.Create(context.Background(), m); err != nil {
		t.Fatalf("first Create() error = %v", err)
	}

	m2 := reg.serve("pkg-a", []byte("second"))
	_, err := syncer.Create(context.Background(), m2)
	if !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("second Create() error = %v, want conflict", err)
	}
	if got := objects.putCount(); got != 1 {
		t.Errorf("put count = %d, want 1 (conflict must not write)", got)
	}
}

func TestCreateDigestMismatchWritesNothing(t *testing.T) {
	reg := newRegistry(t, false)
	repo := newFakeRepo()
	objects := newFakeObjects()
	syncer := NewDefinitionSyncer(repo, objects, fetch.New())

	m := reg.serve("pkg-a", []byte("real content"))
	m.Digest = "sha256:" + digest.Sum("sha256", []byte("other content"))

	_, err := syncer.Create(context.Background(), m)
	if !errors.Is(err, digest.ErrMismatch) {
		t.Fatalf("Create() error = %v, want digest mismatch", err)
	}
	if got := objects.putCount(); got != 0 {
		t.Errorf("put count = %d, want 0", got)
	}
	if repo.creates != 0 {
		t.Errorf("creates = %d, want 0", repo.creates)
	}
}

func TestCreateRejectsInvalidManifest(t *testing.T) {
	repo := newFakeRepo()
	objects := newFakeObjects()
	syncer := NewDefinitionSyncer(repo, objects, fetch.New())

	valid := Manifest{
		ID:          "pkg-a",
		Name:        "Pkg A",
		Type:        "config",
		Description: "d",
		FileURL:     "https://example.com/content",
		Digest:      "sha256:" + digest.Sum("sha256", []byte("x")),
	}

	tests := []struct {
		name   string
		mutate func(m *Manifest)
	}{
		{"missing id", func(m *Manifest) { m.ID = "" }},
		{"missing name", func(m *Manifest) { m.Name = "" }},
		{"missing type", func(m *Manifest) { m.Type = "" }},
		{"missing file_url", func(m *Manifest) { m.FileURL = "" }},
		{"bad digest", func(m *Manifest) { m.Digest = "md5:abc" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid
			tt.mutate(&m)
			_, err := syncer.Create(context.Background(), m)
			if !apperr.IsKind(err, apperr.KindBadRequest) {
				t.Errorf("Create() error = %v, want bad_request", err)
			}
		})
	}
}

func TestModuleCreateRequiresWasmFile(t *testing.T) {
	reg := newRegistry(t, false)
	repo := newFakeRepo()
	objects := newFakeObjects()
	syncer := NewModuleSyncer(repo, objects, fetch.New())

	m := reg.serve("mod-a", []byte("binary"))
	_, err := syncer.Create(context.Background(), m)
	if !apperr.IsKind(err, apperr.KindBadRequest) {
		t.Fatalf("Create() error = %v, want bad_request for non-wasm file_url", err)
	}
}

func TestModuleCreateUsesWasmKey(t *testing.T) {
	reg := newRegistry(t, true)
	repo := newFakeRepo()
	objects := newFakeObjects()
	syncer := NewModuleSyncer(repo, objects, fetch.New())

	m := reg.serve("mod-a", []byte("\x00asm binary"))
	created, err := syncer.Create(context.Background(), m)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if created.ObjectKey != "mod-a.wasm" {
		t.Errorf("object key = %q, want mod-a.wasm", created.ObjectKey)
	}
	if _, ok := objects.get(modulesBucket, "mod-a.wasm"); !ok {
		t.Error("content was not written under the wasm key")
	}
}

func TestInstallDefaultsSourceURL(t *testing.T) {
	reg := newRegistry(t, false)
	repo := newFakeRepo()
	objects := newFakeObjects()
	syncer := NewDefinitionSyncer(repo, objects, fetch.New())

	reg.serve("pkg-a", []byte("content"))

	created, err := syncer.Install(context.Background(), reg.manifestURL())
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if created.SourceURL == nil || *created.SourceURL != reg.manifestURL() {
		t.Errorf("source_url = %v, want %q", created.SourceURL, reg.manifestURL())
	}
}

func TestInstallKeepsManifestSourceURL(t *testing.T) {
	reg := newRegistry(t, false)
	repo := newFakeRepo()
	objects := newFakeObjects()
	syncer := NewDefinitionSyncer(repo, objects, fetch.New())

	m := reg.serve("pkg-a", []byte("content"))
	upstream := "https://upstream.example.com/manifest.json"
	m.SourceURL = &upstream
	reg.setManifest(m)

	created, err := syncer.Install(context.Background(), reg.manifestURL())
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if created.SourceURL == nil || *created.SourceURL != upstream {
		t.Errorf("source_url = %v, want %q", created.SourceURL, upstream)
	}
}

func TestUpgradeShortCircuitsOnEqualDigest(t *testing.T) {
	reg := newRegistry(t, false)
	repo := newFakeRepo()
	objects := newFakeObjects()
	syncer := NewDefinitionSyncer(repo, objects, fetch.New())

	reg.serve("pkg-a", []byte("v1"))
	installed, err := syncer.Install(context.Background(), reg.manifestURL())
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	putsBefore := objects.putCount()
	updatesBefore := repo.updates

	upgraded, err := syncer.Upgrade(context.Background(), "pkg-a")
	if err != nil {
		t.Fatalf("Upgrade() error = %v", err)
	}

	if upgraded.Digest != installed.Digest {
		t.Errorf("digest changed on no-op upgrade: %q -> %q", installed.Digest, upgraded.Digest)
	}
	if objects.putCount() != putsBefore {
		t.Error("no-op upgrade wrote to the object store")
	}
	if repo.updates != updatesBefore {
		t.Error("no-op upgrade updated the row")
	}
}

func TestUpgradeReplacesContentAndMetadata(t *testing.T) {
	reg := newRegistry(t, false)
	repo := newFakeRepo()
	objects := newFakeObjects()
	syncer := NewDefinitionSyncer(repo, objects, fetch.New())

	reg.serve("pkg-a", []byte("v1"))
	installed, err := syncer.Install(context.Background(), reg.manifestURL())
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	next := reg.serve("pkg-a", []byte("v2"))
	next.Name = "Renamed"
	next.Type = "profile"
	next.Description = "updated"
	foreign := "https://elsewhere.example.com/manifest.json"
	next.SourceURL = &foreign
	reg.setManifest(next)

	upgraded, err := syncer.Upgrade(context.Background(), "pkg-a")
	if err != nil {
		t.Fatalf("Upgrade() error = %v", err)
	}

	if upgraded.Name != "Renamed" || upgraded.Type != "profile" || upgraded.Description != "updated" {
		t.Errorf("metadata not updated: %+v", upgraded)
	}
	if upgraded.Digest != next.Digest {
		t.Errorf("digest = %q, want %q", upgraded.Digest, next.Digest)
	}
	if upgraded.SourceURL == nil || *upgraded.SourceURL != *installed.SourceURL {
		t.Errorf("source_url = %v, want original %v", upgraded.SourceURL, installed.SourceURL)
	}

	stored, _ := objects.get(definitionsBucket, "pkg-a")
	if !bytes.Equal(stored, []byte("v2")) {
		t.Errorf("stored content = %q, want v2", stored)
	}
}

func TestUpgradeWithoutSourceURL(t *testing.T) {
	repo := newFakeRepo()
	objects := newFakeObjects()
	syncer := NewDefinitionSyncer(repo, objects, fetch.New())

	if _, err := repo.Create(context.Background(), Artifact{ID: "pkg-a", Digest: "sha256:x"}); err != nil {
		t.Fatal(err)
	}

	_, err := syncer.Upgrade(context.Background(), "pkg-a")
	if !apperr.IsKind(err, apperr.KindBadRequest) {
		t.Fatalf("Upgrade() error = %v, want bad_request", err)
	}
}

func TestUpgradeMissingArtifact(t *testing.T) {
	syncer := NewDefinitionSyncer(newFakeRepo(), newFakeObjects(), fetch.New())

	_, err := syncer.Upgrade(context.Background(), "ghost")
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("Upgrade() error = %v, want not_found", err)
	}
}

func TestConcurrentCreateOneWins(t *testing.T) {
	reg := newRegistry(t, false)
	repo := newFakeRepo()
	objects := newFakeObjects()
	syncer := NewDefinitionSyncer(repo, objects, fetch.New())

	m := reg.serve("pkg-a", []byte("content"))

	const workers = 8
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := syncer.Create(context.Background(), m)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded, conflicted := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case apperr.IsKind(err, apperr.KindConflict):
			conflicted++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}

	if succeeded != 1 {
		t.Errorf("succeeded = %d, want exactly 1", succeeded)
	}
	if succeeded+conflicted != workers {
		t.Errorf("succeeded+conflicted = %d, want %d", succeeded+conflicted, workers)
	}
	if repo.creates != 1 {
		t.Errorf("row inserts = %d, want 1", repo.creates)
	}
}

func TestSyncerEmitsEvents(t *testing.T) {
	reg := newRegistry(t, false)
	repo := newFakeRepo()
	objects := newFakeObjects()
	syncer := NewDefinitionSyncer(repo, objects, fetch.New())

	var mu sync.Mutex
	var events []string
	syncer.publish = func(action string, payload map[string]any) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, fmt.Sprintf("%s:%v", action, payload["id"]))
	}

	reg.serve("pkg-a", []byte("v1"))
	if _, err := syncer.Install(context.Background(), reg.manifestURL()); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	reg.serve("pkg-a", []byte("v2"))
	if _, err := syncer.Upgrade(context.Background(), "pkg-a"); err != nil {
		t.Fatalf("Upgrade() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"installed:pkg-a", "upgraded:pkg-a"}
	if len(events) != len(want) || events[0] != want[0] || events[1] != want[1] {
		t.Errorf("events = %v, want %v", events, want)
	}
}
