package catalog

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"catalogd/pkg/apperr"
)

func (a *API) handleListModules(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		respondError(w, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	artifacts, err := a.modules.List(ctx, filter)
	if err != nil {
		respondError(w, err)
		return
	}

	items := make([]Module, 0, len(artifacts))
	for _, art := range artifacts {
		items = append(items, moduleFromArtifact(art))
	}

	respondJSON(w, http.StatusOK, map[string]any{"modules": items})
}

func (a *API) handleGetModule(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "moduleID"))

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	art, err := a.modules.Get(ctx, id)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"module": moduleFromArtifact(art)})
}

func (a *API) handleCreateModule(w http.ResponseWriter, r *http.Request) {
	var m Manifest
	if err := decodeJSON(r, &m); err != nil {
		respondError(w, err)
		return
	}

	art, err := a.moduleSync.Create(r.Context(), m)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{"module": moduleFromArtifact(art)})
}

func (a *API) handleInstallModule(w http.ResponseWriter, r *http.Request) {
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

	art, err := a.moduleSync.Install(r.Context(), req.Source)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{"module": moduleFromArtifact(art)})
}

func (a *API) handleUpdateModule(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "moduleID"))

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

	art, err := a.modules.Update(ctx, id, Patch{
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

	respondJSON(w, http.StatusOK, map[string]any{"module": moduleFromArtifact(art)})
}

func (a *API) handleDeleteModule(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "moduleID"))

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.modules.Delete(ctx, id); err != nil {
		respondError(w, err)
		return
	}

	a.recordAudit(ctx, "deleted", id, map[string]any{"id": id})
	a.publishJSON(modulesTopicPrefix+"deleted", map[string]any{"id": id})

	respondJSON(w, http.StatusNoContent, nil)
}

func (a *API) handleUpgradeModule(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "moduleID"))

	art, err := a.moduleSync.Upgrade(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"module": moduleFromArtifact(art)})
}

func (a *API) handleDownloadModule(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "moduleID"))

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	art, err := a.modules.Get(ctx, id)
	if err != nil {
		respondError(w, err)
		return
	}

	url, err := a.store.Objects.PresignGet(ctx, modulesBucket, art.ObjectKey, a.config.PresignTTL)
	if err != nil {
		respondError(w, apperr.Internal("presign download", err))
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"download_url": url})
}
