package repository

import (
	"context"
	"errors"

	"einvoice/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SettingsRepository interface {
	FindByCompany(ctx context.Context, companyID uuid.UUID) (*model.Settings, error)
	Upsert(ctx context.Context, settings *model.Settings) error
}

type settingsRepository struct {
	db *gorm.DB
}

func NewSettingsRepository(db *gorm.DB) SettingsRepository {
	return &settingsRepository{db: db}
}

// FindByCompany returns the company's settings, or model.DefaultSettings if none were saved.
func (r *settingsRepository) FindByCompany(ctx context.Context, companyID uuid.UUID) (*model.Settings, error) {
	var settings model.Settings
	err := GetDB(ctx, r.db).First(&settings, "company_id = ?", companyID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.DefaultSettings(companyID), nil
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func (r *settingsRepository) Upsert(ctx context.Context, settings *model.Settings) error {
	return GetDB(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "company_id"}},
		UpdateAll: true,
	}).Create(settings).Error
}
