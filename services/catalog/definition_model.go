package catalog

import "time"

type definitionModel struct {
	ID                     string    `gorm:"type:text;primaryKey"`
	Type                   string    `gorm:"type:text;not null"`
	Name                   string    `gorm:"type:text;not null"`
	Description            string    `gorm:"type:text;not null"`
	Enabled                bool      `gorm:"type:boolean;not null;default:true"`
	DefinitionObjectKey    string    `gorm:"type:text;not null"`
	ConfigurationObjectKey string    `gorm:"type:text;not null"`
	SecretsObjectKey       string    `gorm:"type:text;not null"`
	Digest                 string    `gorm:"type:text;not null"`
	SourceURL              *string   `gorm:"type:text"`
	CreatedAt              time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt              time.Time `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (definitionModel) TableName() string { return "definitions" }

func (m definitionModel) toArtifact() Artifact {
	return Artifact{
		ID:               m.ID,
		Type:             m.Type,
		Name:             m.Name,
		Description:      m.Description,
		Enabled:          m.Enabled,
		ObjectKey:        m.DefinitionObjectKey,
		ConfigObjectKey:  m.ConfigurationObjectKey,
		SecretsObjectKey: m.SecretsObjectKey,
		Digest:           m.Digest,
		SourceURL:        m.SourceURL,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func definitionModelFrom(a Artifact) definitionModel {
	return definitionModel{
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
