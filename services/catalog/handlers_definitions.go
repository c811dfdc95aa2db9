package catalog

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"catalogd/pkg/apperr"
)

func (a *API) handleListDefinitions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		respondError(w, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	artifacts, err := a.definitions.List(ctx, filter)
	if err != nil {
		respondError(w, err)
		return
	}

	items := make([]Definition, 0, len(artifacts))
	for _, art := range artifacts {
		items = append(items, definitionFromArtifact(art))
	}

	respondJSON(w, http.StatusOK, map[string]any{"definitions": items})
}

func (a *API) handleGetDefinition(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "definitionID"))

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	art, err := a.definitions.Get(ctx, id)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"definition": definitionFromArtifact(art)})
}

func (a *API) handleCreateDefinition(w http.ResponseWriter, r *http.Request) {
	var m Manifest
	if err := decodeJSON(r, &m); err != nil {
		respondError(w, err)
		return
	}

	art, err := a.definitionSync.Create(r.Context(), m)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{"definition": definitionFromArtifact(art)})
}

func (a *API) handleInstallDefinition(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source string `json:"source"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	req.Source = strings.TrimSpace(req.Source)
	if req.Source == "" {
		respondError(w, apperr.BadRequest("source is required"))
		return
	}

	art, err := a.definitionSync.Install(r.Context(), req.Source)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{"definition": definitionFromArtifact(art)})
}

func (a *API) handleUpdateDefinition(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "definitionID"))

	// The request shape has no digest field; decodeJSON rejects attempts to
	// change it as an unknown field.
	var req struct {
		Type        *string `json:"type"`
		Name        *string `json:"name"`
		Description *string `json:"description"`
		Enabled     *bool   `json:"enabled"`
		SourceURL   *string `json:"source_url"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	art, err := a.definitions.Update(ctx, id, Patch{
		Type:        req.Type,
		Name:        req.Name,
		Description: req.Description,
		Enabled:     req.Enabled,
		SourceURL:   req.SourceURL,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"definition": definitionFromArtifact(art)})
}

func (a *API) handleDeleteDefinition(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "definitionID"))

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.definitions.Delete(ctx, id); err != nil {
		respondError(w, err)
		return
	}

	a.recordAudit(ctx, "deleted", id, map[string]any{"id": id})
	a.publishJSON(definitionsTopicPrefix+"deleted", map[string]any{"id": id})

	respondJSON(w, http.StatusNoContent, nil)
}

func (a *API) handleUpgradeDefinition(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "definitionID"))

	art, err := a.definitionSync.Upgrade(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"definition": definitionFromArtifact(art)})
}

func (a *API) handleDownloadDefinition(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "definitionID"))

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	art, err := a.definitions.Get(ctx, id)
	if err != nil {
		respondError(w, err)
		return
	}

	url, err := a.store.Objects.PresignGet(ctx, definitionsBucket, art.ObjectKey, a.config.PresignTTL)
	if err != nil {
		respondError(w, apperr.Internal("presign download", err))
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"download_url": url})
}
