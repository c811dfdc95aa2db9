package catalog

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type auditModel struct {
	ID       int64             `gorm:"type:bigserial;primaryKey"`
	Action   string            `gorm:"type:text;not null"`
	Artifact string            `gorm:"type:text;not null"`
	Details  datatypes.JSONMap `gorm:"type:jsonb"`
	At       time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (auditModel) TableName() string { return "catalog_audit" }

// recordAudit writes a catalog_audit row. Failures are swallowed; the audit
// trail is best effort and never blocks the operation that produced it.
func recordAudit(ctx context.Context, orm *gorm.DB, action, artifact string, details map[string]any) {
	if orm == nil {
		return
	}

	entry := auditModel{
		Action:   action,
		Artifact: artifact,
		Details:  toJSONMap(details),
		At:       time.Now().UTC(),
	}
	_ = orm.WithContext(ctx).Create(&entry).Error
}

func toJSONMap(src map[string]any) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	for k, v := range src {
		out[k] = v
	}
	return out
}
