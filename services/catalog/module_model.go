package catalog

import "time"

type moduleRow struct {
	ID                     string    `db:"id"`
	Type                   string    `db:"type"`
	Name                   string    `db:"name"`
	Description            string    `db:"description"`
	Enabled                bool      `db:"enabled"`
	ModuleObjectKey        string    `db:"module_object_key"`
	ConfigurationObjectKey string    `db:"configuration_object_key"`
	SecretsObjectKey       string    `db:"secrets_object_key"`
	Digest                 string    `db:"digest"`
	SourceURL              *string   `db:"source_url"`
	CreatedAt              time.Time `db:"created_at"`
	UpdatedAt              time.Time `db:"updated_at"`
}

func (r moduleRow) toArtifact() Artifact {
	return Artifact{
		ID:               r.ID,
		Type:             r.Type,
		Name:             r.Name,
		Description:      r.Description,
		Enabled:          r.Enabled,
		ObjectKey:        r.ModuleObjectKey,
		ConfigObjectKey:  r.ConfigurationObjectKey,
		SecretsObjectKey: r.SecretsObjectKey,
		Digest:           r.Digest,
		SourceURL:        r.SourceURL,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}
