package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Company is the seller profile. The pipeline only reads it.
type Company struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name         string    `gorm:"type:varchar(255);not null" json:"name"`
	BusinessName string    `gorm:"type:varchar(255);not null" json:"business_name"`
	Address      string    `gorm:"type:text" json:"address"`
	Province     string    `gorm:"type:varchar(50)" json:"province"`
	NTN          string    `gorm:"column:ntn;type:varchar(20)" json:"ntn"` // NTN (7 digits) or CNIC (13 digits), any punctuation
	FBRToken     string    `gorm:"column:fbr_token;type:text" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (c *Company) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// Gateway environments
const (
	FBREnvSandbox    = "sandbox"
	FBREnvProduction = "production"
)

// Settings holds the per-company invoicing defaults.
type Settings struct {
	ID                uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CompanyID         uuid.UUID       `gorm:"type:uuid;uniqueIndex;not null" json:"company_id"`
	SalesTaxRate      decimal.Decimal `gorm:"type:decimal(9,4);not null;default:18" json:"sales_tax_rate"`
	FurtherTaxRate    decimal.Decimal `gorm:"type:decimal(9,4);not null;default:0" json:"further_tax_rate"`
	DefaultScenarioID string          `gorm:"type:varchar(10)" json:"default_scenario_id"`
	DefaultHSCode     string          `gorm:"column:default_hs_code;type:varchar(20)" json:"default_hs_code"`
	DefaultUOM        string          `gorm:"column:default_uom;type:varchar(100)" json:"default_uom"`
	DefaultSaleType   string          `gorm:"type:varchar(150)" json:"default_sale_type"`
	FBREnvironment    string          `gorm:"column:fbr_environment;type:varchar(20);not null;default:'sandbox'" json:"fbr_environment"`
	FBRTokenOverride  string          `gorm:"column:fbr_token_override;type:text" json:"-"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// DefaultSalesTaxRate is the standard sales tax rate, in percent, and the column default.
var DefaultSalesTaxRate = decimal.NewFromInt(18)

// DefaultSettings are the settings of a company that never saved any. They match the
// column defaults.
func DefaultSettings(companyID uuid.UUID) *Settings {
	return &Settings{
		CompanyID:      companyID,
		SalesTaxRate:   DefaultSalesTaxRate,
		FurtherTaxRate: decimal.Zero,
		FBREnvironment: FBREnvSandbox,
	}
}

func (s *Settings) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// Token returns the bearer token to present to the gateway for this company.
func (s *Settings) Token(c *Company) string {
	if s != nil && s.FBRTokenOverride != "" {
		return s.FBRTokenOverride
	}
	if c == nil {
		return ""
	}
	return c.FBRToken
}

// IsSandbox reports whether the company submits to the sandbox gateway.
func (s *Settings) IsSandbox() bool {
	return s == nil || s.FBREnvironment != FBREnvProduction
}
