package database

import (
	"fmt"

	"einvoice/internal/logger"
	"einvoice/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// NewConnection opens the postgres pool and migrates the invoicing schema.
func NewConnection(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the tables used by the invoicing pipeline.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.Company{},
		&model.Settings{},
		&model.Invoice{},
		&model.InvoiceItem{},
		&model.AuditLog{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate models: %w", err)
	}
	log := logger.WithComponent("database")
	log.Debug().Msg("schema migrated")
	return nil
}
