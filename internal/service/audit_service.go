package service

import (
	"context"
	"encoding/json"
	"time"

	"einvoice/internal/model"
	"einvoice/internal/repository"
)

type AuditLogResponse struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Action     string          `json:"action"`
	EntityID   string          `json:"entity_id"`
	EntityName string          `json:"entity_name"`
	Axis       string          `json:"axis,omitempty"`
	FromStatus string          `json:"from_status,omitempty"`
	ToStatus   string          `json:"to_status,omitempty"`
	Details    json.RawMessage `json:"details"`
	CreatedAt  string          `json:"created_at"`
}

type AuditService interface {
	GetAuditLogs(ctx context.Context, actor Actor, entityID string, page, limit int) ([]AuditLogResponse, int64, error)
}

type auditService struct {
	auditRepo repository.AuditRepository
}

// NewAuditService creates a new AuditService instance
func NewAuditService(auditRepo repository.AuditRepository) AuditService {
	return &auditService{auditRepo: auditRepo}
}

// GetAuditLogs returns the company's audit trail, newest first, optionally for one entity.
func (s *auditService) GetAuditLogs(ctx context.Context, actor Actor, entityID string, page, limit int) ([]AuditLogResponse, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	logs, total, err := s.auditRepo.List(ctx, repository.AuditListFilter{
		CompanyID: actor.CompanyID,
		EntityID:  entityID,
		Offset:    (page - 1) * limit,
		Limit:     limit,
	})
	if err != nil {
		return nil, 0, err
	}

	res := make([]AuditLogResponse, 0, len(logs))
	for _, l := range logs {
		res = append(res, toAuditLogResponse(l))
	}
	return res, total, nil
}

func toAuditLogResponse(l model.AuditLog) AuditLogResponse {
	userID := ""
	if l.UserID != nil {
		userID = l.UserID.String()
	}
	details := json.RawMessage("{}")
	if l.Details != "" && json.Valid([]byte(l.Details)) {
		details = json.RawMessage(l.Details)
	}
	return AuditLogResponse{
		ID:         l.ID.String(),
		UserID:     userID,
		Action:     l.Action,
		EntityID:   l.EntityID,
		EntityName: l.EntityName,
		Axis:       l.Axis,
		FromStatus: l.FromStatus,
		ToStatus:   l.ToStatus,
		Details:    details,
		CreatedAt:  l.CreatedAt.Format(time.RFC3339),
	}
}
