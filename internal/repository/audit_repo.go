package repository

import (
	"context"

	"einvoice/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AuditListFilter struct {
	CompanyID uuid.UUID
	EntityID  string
	Offset    int
	Limit     int
}

type AuditRepository interface {
	Log(ctx context.Context, entry *model.AuditLog) error
	List(ctx context.Context, filter AuditListFilter) ([]model.AuditLog, int64, error)
}

type auditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Log(ctx context.Context, entry *model.AuditLog) error {
	return GetDB(ctx, r.db).Create(entry).Error
}

func (r *auditRepository) List(ctx context.Context, filter AuditListFilter) ([]model.AuditLog, int64, error) {
	var logs []model.AuditLog
	var total int64

	scope := GetDB(ctx, r.db).Model(&model.AuditLog{}).Where("company_id = ?", filter.CompanyID)
	if filter.EntityID != "" {
		scope = scope.Where("entity_id = ?", filter.EntityID)
	}

	if err := scope.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := scope.Session(&gorm.Session{}).Order("created_at desc").Offset(filter.Offset).Limit(filter.Limit).Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}
