package catalog

import "time"

// Module is the wire representation of an executable artifact.
type Module struct {
	ID                     string    `json:"id"`
	Type                   string    `json:"type"`
	Name                   string    `json:"name"`
	Description            string    `json:"description"`
	Enabled                bool      `json:"enabled"`
	ModuleObjectKey        string    `json:"module_object_key"`
	ConfigurationObjectKey string    `json:"configuration_object_key"`
	SecretsObjectKey       string    `json:"secrets_object_key"`
	Digest                 string    `json:"digest"`
	SourceURL              *string   `json:"source_url,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

func moduleFromArtifact(a Artifact) Module {
	return Module{
		ID:                     a.ID,
		Type:                   a.Type,
		Name:                   a.Name,
		Description:            a.Description,
		Enabled:                a.Enabled,
		ModuleObjectKey:        a.ObjectKey,
		ConfigurationObjectKey: a.ConfigObjectKey,
		SecretsObjectKey:       a.SecretsObjectKey,
		Digest:                 a.Digest,
		SourceURL:              a.SourceURL,
		CreatedAt:              a.CreatedAt,
		UpdatedAt:              a.UpdatedAt,
	}
}
