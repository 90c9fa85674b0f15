package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ActionCreateInvoice    = "CREATE_INVOICE"
	ActionUpdateInvoice    = "UPDATE_INVOICE"
	ActionDeleteInvoice    = "DELETE_INVOICE"
	ActionChangeStatus     = "CHANGE_STATUS"
	ActionChangePayment    = "CHANGE_PAYMENT_STATUS"
	ActionRecordPayment    = "RECORD_PAYMENT"
	ActionFBRPost          = "FBR_POST"
	ActionFBRRegressionRun = "FBR_REGRESSION_RUN"
)

// Transition axes
const (
	AxisDocument = "document"
	AxisPayment  = "payment"
)

// AuditLog tracks who changed what and when. Status changes carry the axis and both states.
type AuditLog struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	CompanyID  *uuid.UUID `gorm:"type:uuid;index" json:"company_id"`
	UserID     *uuid.UUID `gorm:"type:uuid;index" json:"user_id"` // nil for automated actions
	Action     string     `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityID   string     `gorm:"type:varchar(50);index" json:"entity_id"`
	EntityName string     `gorm:"type:varchar(255)" json:"entity_name,omitempty"`
	Axis       string     `gorm:"type:varchar(10)" json:"axis,omitempty"`
	FromStatus string     `gorm:"type:varchar(20)" json:"from_status,omitempty"`
	ToStatus   string     `gorm:"type:varchar(20)" json:"to_status,omitempty"`
	Details    string     `gorm:"type:jsonb" json:"details"`
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
