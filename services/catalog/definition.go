package catalog

import "time"

// Definition is the wire representation of a configuration artifact.
type Definition struct {
	ID                     string    `json:"id"`
	Type                   string    `json:"type"`
	Name                   string    `json:"name"`
	Description            string    `json:"description"`
	Enabled                bool      `json:"enabled"`
	DefinitionObjectKey    string    `json:"definition_object_key"`
	ConfigurationObjectKey string    `json:"configuration_object_key"`
	SecretsObjectKey       string    `json:"secrets_object_key"`
	Digest                 string    `json:"digest"`
	SourceURL              *string   `json:"source_url,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

func definitionFromArtifact(a Artifact) Definition {
	return Definition{
		ID:                     a.ID,
		Type:                   a.Type,
		Name:                   a.Name,
		Description:            a.Description,
		Enabled:                a.Enabled,
		DefinitionObjectKey:    a.ObjectKey,
		ConfigurationObjectKey: a.ConfigObjectKey,
		SecretsObjectKey:       a.SecretsObjectKey,
		Digest:                 a.Digest,
		SourceURL:              a.SourceURL,
		CreatedAt:              a.CreatedAt,
		UpdatedAt:              a.UpdatedAt,
	}
}
