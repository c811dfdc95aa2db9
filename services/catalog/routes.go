package catalog

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"catalogd/pkg/fetch"
)

const (
	defaultPresignTTL = 15 * time.Minute

	definitionsTopicPrefix = "catalog.definitions."
	modulesTopicPrefix     = "catalog.modules."
)

// Config controls runtime behaviour for the catalog handlers.
type Config struct {
	PresignTTL time.Duration
}

// API wires dependencies and configuration for the HTTP handlers.
type API struct {
	store  *Store
	config Config

	definitions Repository
	modules     Repository

	definitionSync *Syncer
	moduleSync     *Syncer
}

// New initialises the catalog API layer with sane defaults applied to the
// provided configuration.
func New(store *Store, cfg Config) (*API, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if store.DB == nil {
		return nil, errors.New("store DB is required")
	}
	if store.ORM == nil {
		return nil, errors.New("store ORM is required")
	}
	if store.Objects == nil {
		return nil, errors.New("store object client is required")
	}

	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = defaultPresignTTL
	}

	fc := fetch.New()
	defRepo := newDefinitionRepo(store.ORM)
	modRepo := newModuleRepo(store.DB)

	a := &API{
		store:          store,
		config:         cfg,
		definitions:    defRepo,
		modules:        modRepo,
		definitionSync: NewDefinitionSyncer(defRepo, store.Objects, fc),
		moduleSync:     NewModuleSyncer(modRepo, store.Objects, fc),
	}

	a.definitionSync.publish = func(action string, payload map[string]any) {
		a.publishJSON(definitionsTopicPrefix+action, payload)
	}
	a.moduleSync.publish = func(action string, payload map[string]any) {
		a.publishJSON(modulesTopicPrefix+action, payload)
	}
	a.definitionSync.audit = a.recordAudit
	a.moduleSync.audit = a.recordAudit

	return a, nil
}

// Routes constructs the chi router containing all catalog endpoints.
func (a *API) Routes() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/definitions", func(r chi.Router) {
			r.Get("/", a.handleListDefinitions)
			r.Post("/", a.handleCreateDefinition)
			r.Post("/install", a.handleInstallDefinition)
			r.Get("/{definitionID}", a.handleGetDefinition)
			r.Patch("/{definitionID}", a.handleUpdateDefinition)
			r.Delete("/{definitionID}", a.handleDeleteDefinition)
			r.Post("/{definitionID}/upgrade", a.handleUpgradeDefinition)
			r.Get("/{definitionID}/download", a.handleDownloadDefinition)
		})
		r.Route("/modules", func(r chi.Router) {
			r.Get("/", a.handleListModules)
			r.Post("/", a.handleCreateModule)
			r.Post("/install", a.handleInstallModule)
			r.Get("/{moduleID}", a.handleGetModule)
			r.Patch("/{moduleID}", a.handleUpdateModule)
			r.Delete("/{moduleID}", a.handleDeleteModule)
			r.Post("/{moduleID}/upgrade", a.handleUpgradeModule)
			r.Get("/{moduleID}/download", a.handleDownloadModule)
		})
	})

	return r, nil
}

func (a *API) recordAudit(ctx context.Context, action, artifact string, details map[string]any) {
	recordAudit(ctx, a.store.ORM, action, artifact, details)
}
