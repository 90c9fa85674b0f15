package repository

import (
	"context"
	"fmt"
	"time"

	"einvoice/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InvoiceListFilter narrows List results. Empty fields match everything.
type InvoiceListFilter struct {
	CompanyID     uuid.UUID
	Status        string
	PaymentStatus string
	InvoiceNumber string // partial match
	Offset        int
	Limit         int
}

// PostedUpdate is what a successful gateway post writes onto the invoice.
type PostedUpdate struct {
	FBRInvoiceNumber string
	FBRResponse      string
	PostedAt         time.Time
}

// PaymentState is the payment axis of an invoice: status plus the amount paid so far.
type PaymentState struct {
	Status     string
	AmountPaid decimal.Decimal
}

type InvoiceRepository interface {
	Create(ctx context.Context, invoice *model.Invoice) error
	FindByID(ctx context.Context, companyID, id uuid.UUID) (*model.Invoice, error)
	List(ctx context.Context, filter InvoiceListFilter) ([]model.Invoice, int64, error)
	Update(ctx context.Context, invoice *model.Invoice) error
	ReplaceItems(ctx context.Context, invoiceID uuid.UUID, items []model.InvoiceItem) error
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) error
	UpdatePayment(ctx context.Context, id uuid.UUID, from, to PaymentState) error
	ClaimPost(ctx context.Context, id, claim uuid.UUID, now, staleBefore time.Time) error
	ReleasePost(ctx context.Context, id, claim uuid.UUID) error
	MarkPosted(ctx context.Context, id uuid.UUID, update PostedUpdate) error
	CountByPrefix(ctx context.Context, companyID uuid.UUID, prefix string) (int64, error)
}

type invoiceRepository struct {
	db *gorm.DB
}

func NewInvoiceRepository(db *gorm.DB) InvoiceRepository {
	return &invoiceRepository{db: db}
}

func (r *invoiceRepository) Create(ctx context.Context, invoice *model.Invoice) error {
	return GetDB(ctx, r.db).Create(invoice).Error
}

func (r *invoiceRepository) FindByID(ctx context.Context, companyID, id uuid.UUID) (*model.Invoice, error) {
	var invoice model.Invoice
	err := GetDB(ctx, r.db).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position asc") }).
		First(&invoice, "id = ? AND company_id = ?", id, companyID).Error
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *invoiceRepository) List(ctx context.Context, filter InvoiceListFilter) ([]model.Invoice, int64, error) {
	var invoices []model.Invoice
	var total int64

	db := GetDB(ctx, r.db)
	scope := func(q *gorm.DB) *gorm.DB {
		q = q.Where("company_id = ?", filter.CompanyID)
		if filter.Status != "" {
			q = q.Where("status = ?", filter.Status)
		} else {
			q = q.Where("status <> ?", model.StatusDeleted)
		}
		if filter.PaymentStatus != "" {
			q = q.Where("payment_status = ?", filter.PaymentStatus)
		}
		if filter.InvoiceNumber != "" {
			q = q.Where("invoice_number LIKE ?", "%"+filter.InvoiceNumber+"%")
		}
		return q
	}

	if err := scope(db.Model(&model.Invoice{})).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := scope(db.Model(&model.Invoice{})).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position asc") }).
		Order("invoice_date desc, created_at desc").
		Offset(filter.Offset).Limit(filter.Limit).
		Find(&invoices).Error
	if err != nil {
		return nil, 0, err
	}
	return invoices, total, nil
}

// Update saves the editable columns. Status, payment and gateway columns have their own methods.
// The row must still be in invoice.Status with invoice.AmountPaid paid, otherwise ErrStaleStatus
// is returned.
func (r *invoiceRepository) Update(ctx context.Context, invoice *model.Invoice) error {
	res := GetDB(ctx, r.db).Model(&model.Invoice{}).
		Where("id = ? AND company_id = ? AND status = ? AND amount_paid = ?",
			invoice.ID, invoice.CompanyID, invoice.Status, invoice.AmountPaid).
		Select(
			"invoice_number", "invoice_date", "document_type", "scenario_id",
			"buyer_name", "buyer_business_name", "buyer_tax_id", "buyer_address", "buyer_province", "buyer_registration_type",
			"hs_code", "uom", "sale_type", "original_fbr_invoice_no",
			"subtotal", "sales_tax_rate", "sales_tax_amount", "further_tax_rate", "further_tax_amount", "total",
			"updated_at",
		).
		Omit(clause.Associations).
		Updates(invoice)
	return casResult(res)
}

func (r *invoiceRepository) ReplaceItems(ctx context.Context, invoiceID uuid.UUID, items []model.InvoiceItem) error {
	db := GetDB(ctx, r.db)
	if err := db.Where("invoice_id = ?", invoiceID).Delete(&model.InvoiceItem{}).Error; err != nil {
		return fmt.Errorf("failed to delete items: %w", err)
	}
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		items[i].ID = uuid.Nil
		items[i].InvoiceID = invoiceID
		items[i].Position = i
	}
	return db.Create(&items).Error
}

// UpdateStatus moves the document status from -> to, failing with ErrStaleStatus if the
// row is no longer in from.
func (r *invoiceRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) error {
	res := GetDB(ctx, r.db).Model(&model.Invoice{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{"status": to, "updated_at": time.Now()})
	return casResult(res)
}

// UpdatePayment swaps the payment state. Both the status and the amount paid must still
// match from, so two payments computed from the same snapshot cannot both land.
func (r *invoiceRepository) UpdatePayment(ctx context.Context, id uuid.UUID, from, to PaymentState) error {
	res := GetDB(ctx, r.db).Model(&model.Invoice{}).
		Where("id = ? AND payment_status = ? AND amount_paid = ?", id, from.Status, from.AmountPaid).
		Updates(map[string]interface{}{"payment_status": to.Status, "amount_paid": to.AmountPaid, "updated_at": time.Now()})
	return casResult(res)
}

// ClaimPost leases a draft for posting. A lease taken before staleBefore counts as
// abandoned and can be taken over. ErrStaleStatus means the invoice left draft or
// someone else holds a live lease.
func (r *invoiceRepository) ClaimPost(ctx context.Context, id, claim uuid.UUID, now, staleBefore time.Time) error {
	res := GetDB(ctx, r.db).Model(&model.Invoice{}).
		Where("id = ? AND status = ?", id, model.StatusDraft).
		Where("(post_claim IS NULL OR post_claimed_at < ?)", staleBefore).
		UpdateColumns(map[string]interface{}{"post_claim": claim, "post_claimed_at": now})
	return casResult(res)
}

// ReleasePost drops a lease. A lease that was already taken over is left alone.
func (r *invoiceRepository) ReleasePost(ctx context.Context, id, claim uuid.UUID) error {
	return GetDB(ctx, r.db).Model(&model.Invoice{}).
		Where("id = ? AND post_claim = ?", id, claim).
		UpdateColumns(map[string]interface{}{"post_claim": nil, "post_claimed_at": nil}).Error
}

// MarkPosted is the draft -> fbr_posted compare-and-swap. Status, gateway number,
// raw response and posted-at change together or not at all. Any post lease is cleared.
func (r *invoiceRepository) MarkPosted(ctx context.Context, id uuid.UUID, update PostedUpdate) error {
	res := GetDB(ctx, r.db).Model(&model.Invoice{}).
		Where("id = ? AND status = ?", id, model.StatusDraft).
		Updates(map[string]interface{}{
			"status":             model.StatusFBRPosted,
			"fbr_invoice_number": update.FBRInvoiceNumber,
			"fbr_response":       update.FBRResponse,
			"fbr_posted_at":      update.PostedAt,
			"post_claim":         nil,
			"post_claimed_at":    nil,
			"updated_at":         time.Now(),
		})
	return casResult(res)
}

func (r *invoiceRepository) CountByPrefix(ctx context.Context, companyID uuid.UUID, prefix string) (int64, error) {
	var count int64
	err := GetDB(ctx, r.db).Model(&model.Invoice{}).
		Where("company_id = ? AND invoice_number LIKE ?", companyID, prefix+"%").
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func casResult(res *gorm.DB) error {
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleStatus
	}
	return nil
}
