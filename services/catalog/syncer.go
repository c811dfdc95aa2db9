package catalog

import (
	"context"
	"strings"

	"catalogd/pkg/apperr"
	"catalogd/pkg/digest"
	"catalogd/pkg/fetch"
	"catalogd/pkg/source"
)

const (
	definitionsBucket = "definitions"
	modulesBucket     = "modules"
)

// Syncer drives artifact ingestion for one family: fetch the content named by
// a manifest, verify and store the blob, then record the catalog row.
type Syncer struct {
	repo    Repository
	objects ObjectStore
	fetch   *fetch.Client
	bucket  string
	keyFor  func(id string) string
	check   func(m Manifest) error

	publish func(event string, payload map[string]any)
	audit   func(ctx context.Context, action, artifact string, details map[string]any)
}

// NewDefinitionSyncer builds the syncer for configuration artifacts. Object
// keys are the artifact id.
func NewDefinitionSyncer(repo Repository, objects ObjectStore, fc *fetch.Client) *Syncer {
	return &Syncer{
		repo:    repo,
		objects: objects,
		fetch:   fc,
		bucket:  definitionsBucket,
		keyFor:  func(id string) string { return id },
	}
}

// NewModuleSyncer builds the syncer for executable artifacts. Modules must
// reference a .wasm payload and are stored under "<id>.wasm".
func NewModuleSyncer(repo Repository, objects ObjectStore, fc *fetch.Client) *Syncer {
	return &Syncer{
		repo:    repo,
		objects: objects,
		fetch:   fc,
		bucket:  modulesBucket,
		keyFor:  func(id string) string { return id + ".wasm" },
		check:   ensureWasmFile,
	}
}

func ensureWasmFile(m Manifest) error {
	if !strings.HasSuffix(strings.ToLower(m.FileURL), ".wasm") {
		return apperr.BadRequest("modules must reference a .wasm file")
	}
	return nil
}

func (s *Syncer) validate(m Manifest) error {
	if strings.TrimSpace(m.ID) == "" {
		return apperr.BadRequest("manifest id is required")
	}
	if strings.TrimSpace(m.Name) == "" {
		return apperr.BadRequest("manifest name is required")
	}
	if strings.TrimSpace(m.Type) == "" {
		return apperr.BadRequest("manifest type is required")
	}
	if strings.TrimSpace(m.FileURL) == "" {
		return apperr.BadRequest("manifest file_url is required")
	}
	if _, err := digest.Parse(m.Digest); err != nil {
		return err
	}
	if s.check != nil {
		return s.check(m)
	}
	return nil
}

// Create registers a new artifact from a full manifest: the content behind
// file_url is fetched, digest-verified, written to the blob store, and the
// catalog row inserted. An existing id is a conflict; the insert itself maps
// unique violations to the same conflict so concurrent creates cannot both
// win.
func (s *Syncer) Create(ctx context.Context, m Manifest) (Artifact, error) {
	if err := s.validate(m); err != nil {
		return Artifact{}, err
	}

	if _, err := s.repo.Get(ctx, m.ID); err == nil {
		return Artifact{}, apperr.Conflict("artifact %q already exists", m.ID)
	} else if !apperr.IsKind(err, apperr.KindNotFound) {
		return Artifact{}, err
	}

	key := s.keyFor(m.ID)
	if err := s.syncContent(ctx, m.FileURL, key, m.Digest); err != nil {
		return Artifact{}, err
	}

	created, err := s.repo.Create(ctx, Artifact{
		ID:               m.ID,
		Type:             m.Type,
		Name:             m.Name,
		Description:      m.Description,
		Enabled:          true,
		ObjectKey:        key,
		ConfigObjectKey:  key,
		SecretsObjectKey: key,
		Digest:           m.Digest,
		SourceURL:        m.SourceURL,
	})
	if err != nil {
		return Artifact{}, err
	}

	s.emit(ctx, "installed", created.ID, map[string]any{
		"id":     created.ID,
		"name":   created.Name,
		"digest": created.Digest,
	})
	return created, nil
}

// Install registers an artifact from a registry locator: the manifest is
// fetched from the locator first, defaulting its source_url to the locator so
// later upgrades know where to look.
func (s *Syncer) Install(ctx context.Context, rawSource string) (Artifact, error) {
	src, err := source.Parse(rawSource)
	if err != nil {
		return Artifact{}, err
	}

	var m Manifest
	if err := s.fetch.JSON(ctx, src, &m); err != nil {
		return Artifact{}, apperr.Wrap(err, "load manifest")
	}
	if m.SourceURL == nil {
		m.SourceURL = &rawSource
	}

	return s.Create(ctx, m)
}

// Upgrade reconciles a stored artifact against its recorded source_url. Equal
// digests short-circuit with no writes at all. Otherwise the new content
// overwrites the id-derived key and the row's type, name, description, and
// digest are updated; source_url keeps its original value.
func (s *Syncer) Upgrade(ctx context.Context, id string) (Artifact, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Artifact{}, err
	}
	if current.SourceURL == nil {
		return Artifact{}, apperr.BadRequest("artifact %q has no source_url to upgrade from", id)
	}

	src, err := source.Parse(*current.SourceURL)
	if err != nil {
		return Artifact{}, err
	}

	var m Manifest
	if err := s.fetch.JSON(ctx, src, &m); err != nil {
		return Artifact{}, apperr.Wrap(err, "load manifest")
	}

	if m.Digest == current.Digest {
		return current, nil
	}

	if err := s.validate(m); err != nil {
		return Artifact{}, err
	}

	key := s.keyFor(current.ID)
	if err := s.syncContent(ctx, m.FileURL, key, m.Digest); err != nil {
		return Artifact{}, err
	}

	updated, err := s.repo.Update(ctx, id, Patch{
		Type:        &m.Type,
		Name:        &m.Name,
		Description: &m.Description,
		Digest:      &m.Digest,
	})
	if err != nil {
		return Artifact{}, err
	}

	s.emit(ctx, "upgraded", updated.ID, map[string]any{
		"id":         updated.ID,
		"name":       updated.Name,
		"old_digest": current.Digest,
		"digest":     updated.Digest,
	})
	return updated, nil
}

// syncContent fetches the bytes behind fileURL and writes them to the blob
// store, which verifies the digest before any PUT.
func (s *Syncer) syncContent(ctx context.Context, fileURL, key, digestSpec string) error {
	src, err := source.Parse(fileURL)
	if err != nil {
		return err
	}

	body, err := s.fetch.Content(ctx, src)
	if err != nil {
		return apperr.Wrap(err, "fetch content")
	}
	defer body.Close()

	if err := s.objects.Put(ctx, s.bucket, key, body, digestSpec); err != nil {
		return apperr.Wrap(err, "store content")
	}
	return nil
}

func (s *Syncer) emit(ctx context.Context, action, artifact string, payload map[string]any) {
	if s.publish != nil {
		s.publish(action, payload)
	}
	if s.audit != nil {
		s.audit(ctx, action, artifact, payload)
	}
}
