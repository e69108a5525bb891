package common

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/atoll-registry/atoll/pkg/config"
	"github.com/atoll-registry/atoll/pkg/types"
)

// Database wraps the GORM database connection
type Database struct {
	*gorm.DB
}

// NewDatabase creates a new database connection
func NewDatabase(cfg *config.DatabaseConfig) (*Database, error) {
	dsn := cfg.DatabaseURL()

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Database{DB: db}, nil
}

// Migrate creates or updates the registry schema
func (db *Database) Migrate() error {
	return db.AutoMigrate(
		&types.Package{},
		&types.Version{},
		&types.Distribution{},
		&types.EntryPoint{},
		&types.Collaborator{},
		&types.TrustedPublisher{},
		&types.APIToken{},
		&types.AuditLog{},
	)
}

// Close closes the database connection
func (db *Database) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
