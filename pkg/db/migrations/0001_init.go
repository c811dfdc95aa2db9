package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type Definition struct {
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

type Module struct {
	ID                     string    `gorm:"type:text;primaryKey"`
	Type                   string    `gorm:"type:text;not null"`
	Name                   string    `gorm:"type:text;not null"`
	Description            string    `gorm:"type:text;not null"`
	Enabled                bool      `gorm:"type:boolean;not null;default:true"`
	ModuleObjectKey        string    `gorm:"type:text;not null"`
	ConfigurationObjectKey string    `gorm:"type:text;not null"`
	SecretsObjectKey       string    `gorm:"type:text;not null"`
	Digest                 string    `gorm:"type:text;not null"`
	SourceURL              *string   `gorm:"type:text"`
	CreatedAt              time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt              time.Time `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

type CatalogAudit struct {
	ID       int64             `gorm:"type:bigserial;primaryKey"`
	Action   string            `gorm:"type:text;not null"`
	Artifact string            `gorm:"type:text;not null"`
	Details  datatypes.JSONMap `gorm:"type:jsonb"`
	At       time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (CatalogAudit) TableName() string { return "catalog_audit" }

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).AutoMigrate(
		&Definition{},
		&Module{},
		&CatalogAudit{},
	)
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(
		&CatalogAudit{},
		&Module{},
		&Definition{},
	)
}
