package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Document types accepted by the gateway
const (
	DocSaleInvoice = "Sale Invoice"
	DocDebitNote   = "Debit Note"
	DocCreditNote  = "Credit Note"
)

// Buyer registration types
const (
	BuyerRegistered   = "Registered"
	BuyerUnregistered = "Unregistered"
)

// Document status enum constants
const (
	StatusDraft     = "draft"
	StatusFBRPosted = "fbr_posted"
	StatusVerified  = "verified"
	StatusPaid      = "paid"
	StatusDeleted   = "deleted"
)

// Payment status enum constants
const (
	PaymentPending   = "pending"
	PaymentPartial   = "partial"
	PaymentPaid      = "paid"
	PaymentOverdue   = "overdue"
	PaymentCancelled = "cancelled"
)

// Invoice is a tax invoice (or debit/credit note) with a snapshot of the buyer.
// Monetary fields are derived by the tax engine and never edited directly.
type Invoice struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CompanyID     uuid.UUID `gorm:"type:uuid;not null;index" json:"company_id"`
	InvoiceNumber string    `gorm:"type:varchar(50);not null;index" json:"invoice_number"`
	InvoiceDate   time.Time `gorm:"type:date;not null" json:"invoice_date"`
	DocumentType  string    `gorm:"type:varchar(20);not null;default:'Sale Invoice'" json:"document_type"`
	ScenarioID    string    `gorm:"type:varchar(10)" json:"scenario_id"`

	BuyerName             string `gorm:"type:varchar(255)" json:"buyer_name"`
	BuyerBusinessName     string `gorm:"type:varchar(255)" json:"buyer_business_name"`
	BuyerTaxID            string `gorm:"type:varchar(20)" json:"buyer_tax_id"`
	BuyerAddress          string `gorm:"type:text" json:"buyer_address"`
	BuyerProvince         string `gorm:"type:varchar(50)" json:"buyer_province"`
	BuyerRegistrationType string `gorm:"type:varchar(20);not null;default:'Unregistered'" json:"buyer_registration_type"`

	HSCode   string `gorm:"column:hs_code;type:varchar(20)" json:"hs_code"`
	UOM      string `gorm:"column:uom;type:varchar(100)" json:"uom"`
	SaleType string `gorm:"type:varchar(150)" json:"sale_type"`

	Subtotal         decimal.Decimal `gorm:"type:numeric;not null;default:0" json:"subtotal"`
	SalesTaxRate     decimal.Decimal `gorm:"type:decimal(9,4);not null;default:0" json:"sales_tax_rate"`
	SalesTaxAmount   decimal.Decimal `gorm:"type:numeric;not null;default:0" json:"sales_tax_amount"`
	FurtherTaxRate   decimal.Decimal `gorm:"type:decimal(9,4);not null;default:0" json:"further_tax_rate"`
	FurtherTaxAmount decimal.Decimal `gorm:"type:numeric;not null;default:0" json:"further_tax_amount"`
	Total            decimal.Decimal `gorm:"type:numeric;not null;default:0" json:"total"` // subtotal + sales_tax_amount + further_tax_amount
	AmountPaid       decimal.Decimal `gorm:"type:numeric;not null;default:0" json:"amount_paid"`

	Status        string `gorm:"type:varchar(20);not null;default:'draft';index" json:"status"`
	PaymentStatus string `gorm:"type:varchar(20);not null;default:'pending';index" json:"payment_status"`

	// ReferenceNo is generated once and reused as the gateway idempotency key.
	ReferenceNo          string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"reference_no"`
	OriginalFBRInvoiceNo *string    `gorm:"column:original_fbr_invoice_no;type:varchar(64)" json:"original_fbr_invoice_no,omitempty"`
	FBRInvoiceNumber     *string    `gorm:"column:fbr_invoice_number;type:varchar(64);index" json:"fbr_invoice_number,omitempty"`
	FBRResponse          *string    `gorm:"column:fbr_response;type:jsonb" json:"fbr_response,omitempty"`
	FBRPostedAt          *time.Time `gorm:"column:fbr_posted_at" json:"fbr_posted_at,omitempty"`

	// PostClaim is the lease held by whoever is currently posting the draft to the gateway.
	PostClaim     *uuid.UUID `gorm:"type:uuid" json:"-"`
	PostClaimedAt *time.Time `json:"-"`

	Items     []InvoiceItem `gorm:"foreignKey:InvoiceID;constraint:OnDelete:CASCADE" json:"items"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func (i *Invoice) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	if i.ReferenceNo == "" {
		i.ReferenceNo = uuid.NewString()
	}
	return nil
}

// InvoiceItem is one line of an invoice. LineTotal = UnitPrice * Quantity.
type InvoiceItem struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	InvoiceID   uuid.UUID       `gorm:"type:uuid;not null;index" json:"invoice_id"`
	Position    int             `gorm:"not null;default:0" json:"position"`
	Description string          `gorm:"type:text;not null" json:"description"`
	HSCode      string          `gorm:"column:hs_code;type:varchar(20)" json:"hs_code"`
	UOM         string          `gorm:"column:uom;type:varchar(100)" json:"uom"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"unit_price"`
	Quantity    decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"quantity"`
	LineTotal   decimal.Decimal `gorm:"type:numeric;not null" json:"line_total"`
}

func (it *InvoiceItem) BeforeCreate(tx *gorm.DB) error {
	if it.ID == uuid.Nil {
		it.ID = uuid.New()
	}
	return nil
}
