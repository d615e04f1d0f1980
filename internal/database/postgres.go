// Package database provides the PostgreSQL connection and schema migration.
package database

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/telvault/escrow/pkg/models"
)

// NewPostgresDB creates a PostgreSQL connection with pooling configured
func NewPostgresDB(dsn string, maxOpen, maxIdle int, connMaxLife time.Duration) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		PrepareStmt:    true,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	if maxOpen == 0 {
		maxOpen = 25
	}
	if maxIdle == 0 {
		maxIdle = 5
	}
	if connMaxLife == 0 {
		connMaxLife = time.Hour
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(connMaxLife)
	sqlDB.SetConnMaxIdleTime(15 * time.Minute)

	return db, nil
}

// Migrate creates or updates the escrow schema. The unique indexes on
// transaction and revenue references back the idempotency guarantees, so
// migration failure is fatal.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Escrow{},
		&models.Dispute{},
		&models.PlatformRevenue{},
		&models.Account{},
		&models.Transaction{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
