// Package db provides database connection and migration functionality.
package db

import (
	"fmt"
	stdlog "log"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"peer-validation/internal/config"
	"peer-validation/internal/models"
)

// Open opens a database connection using the provided configuration. It
// returns (nil, nil) when no database is configured.
func Open(cfg config.Config, log zerolog.Logger) (*gorm.DB, error) {
	if !cfg.Persistent() {
		return nil, nil
	}

	// Only errors and slow queries reach the application log
	gormLogger := logger.New(
		stdlog.New(log.With().Str("component", "gorm").Logger(), "", 0),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Error,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	switch cfg.DBDialect {
	case config.DatabaseSchemePostgres:
		return gorm.Open(postgres.Open(cfg.DBDsn), &gorm.Config{Logger: gormLogger})
	default:
		return nil, fmt.Errorf("unsupported DB_DIALECT: %s", cfg.DBDialect)
	}
}

// AutoMigrate runs database migrations for all models.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	return db.AutoMigrate(
		&models.Validator{},
		&models.Submission{},
		&models.Vote{},
		&models.RingAssignment{},
		&models.ValidatorPeriodStats{},
	)
}
