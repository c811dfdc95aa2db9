package catalog

import (
	"context"
	"io"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"

	"catalogd/pkg/bus"
)

// Artifact is the family-neutral catalog record backing both definitions and
// modules. Handlers convert it to the per-family wire shape.
type Artifact struct {
	ID               string
	Type             string
	Name             string
	Description      string
	Enabled          bool
	ObjectKey        string
	ConfigObjectKey  string
	SecretsObjectKey string
	Digest           string
	SourceURL        *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Manifest is the metadata payload served by registries and sideload bundles.
type Manifest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Description string  `json:"description"`
	FileURL     string  `json:"file_url"`
	Digest      string  `json:"digest"`
	SourceURL   *string `json:"source_url,omitempty"`
}

// SortBy and SortOrder enumerate the supported list orderings.
const (
	SortByID   = "id"
	SortByName = "name"
	SortByType = "type"

	SortAsc  = "asc"
	SortDesc = "desc"
)

// ListFilter narrows and orders a catalog listing. Query matches id, name, or
// description case-insensitively as a substring; all set fields compose with
// AND. Zero limit means no limit. An empty SortBy keeps storage order.
type ListFilter struct {
	Query     string
	Enabled   *bool
	Type      string
	SortBy    string
	SortOrder string
	Limit     int
	Offset    int
}

// Patch is a partial metadata update. Nil fields are left untouched. Digest
// changes ride along with upgrades only, never through external updates.
type Patch struct {
	Type        *string
	Name        *string
	Description *string
	Enabled     *bool
	SourceURL   *string
	Digest      *string
}

// Repository is the per-family persistence contract over the catalog tables.
type Repository interface {
	Get(ctx context.Context, id string) (Artifact, error)
	List(ctx context.Context, filter ListFilter) ([]Artifact, error)
	Create(ctx context.Context, art Artifact) (Artifact, error)
	Update(ctx context.Context, id string, patch Patch) (Artifact, error)
	Delete(ctx context.Context, id string) error
}

// ObjectStore is the blob-store contract satisfied by pkg/s3.
type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, r io.Reader, expectedDigest string) error
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// Store holds external dependencies required by the catalog service.
type Store struct {
	DB      *pgxpool.Pool
	ORM     *gorm.DB
	Objects ObjectStore
	Bus     *bus.Bus
}
