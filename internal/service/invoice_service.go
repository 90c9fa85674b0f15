package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"einvoice/internal/fbr"
	"einvoice/internal/lifecycle"
	"einvoice/internal/logger"
	"einvoice/internal/model"
	"einvoice/internal/repository"
	"einvoice/internal/tax"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// --- DTOs ---

type InvoiceItemRequest struct {
	Description string `json:"description" binding:"required"`
	HSCode      string `json:"hs_code"`
	UOM         string `json:"uom"`
	UnitPrice   string `json:"unit_price" binding:"required"`
	Quantity    string `json:"quantity" binding:"required"`
}

// InvoiceRequest creates or replaces an invoice. Rates left empty fall back to the
// company settings on create and keep their current value on update.
type InvoiceRequest struct {
	InvoiceNumber         string               `json:"invoice_number"` // generated when empty
	InvoiceDate           string               `json:"invoice_date"`   // YYYY-MM-DD, defaults to today
	DocumentType          string               `json:"document_type"`
	ScenarioID            string               `json:"scenario_id"`
	BuyerName             string               `json:"buyer_name"`
	BuyerBusinessName     string               `json:"buyer_business_name" binding:"required"`
	BuyerTaxID            string               `json:"buyer_tax_id"`
	BuyerAddress          string               `json:"buyer_address"`
	BuyerProvince         string               `json:"buyer_province" binding:"required"`
	BuyerRegistrationType string               `json:"buyer_registration_type" binding:"omitempty,oneof=Registered Unregistered"`
	HSCode                string               `json:"hs_code"`
	UOM                   string               `json:"uom"`
	SaleType              string               `json:"sale_type"`
	SalesTaxRate          *string              `json:"sales_tax_rate"`
	FurtherTaxRate        *string              `json:"further_tax_rate"`
	OriginalFBRInvoiceNo  string               `json:"original_fbr_invoice_no"`
	Items                 []InvoiceItemRequest `json:"items" binding:"required,min=1,dive"`
}

type InvoiceFilter struct {
	Status        string
	PaymentStatus string
	InvoiceNumber string // partial match
	Page          int
	Limit         int
}

type StatusChangeRequest struct {
	Status string `json:"status" binding:"required"`
}

type RecordPaymentRequest struct {
	Amount string `json:"amount" binding:"required"`
}

type InvoiceItemResponse struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	HSCode      string `json:"hs_code"`
	UOM         string `json:"uom"`
	UnitPrice   string `json:"unit_price"`
	Quantity    string `json:"quantity"`
	LineTotal   string `json:"line_total"`
}

type InvoiceResponse struct {
	ID                    string                `json:"id"`
	InvoiceNumber         string                `json:"invoice_number"`
	InvoiceDate           string                `json:"invoice_date"`
	DocumentType          string                `json:"document_type"`
	ScenarioID            string                `json:"scenario_id"`
	BuyerName             string                `json:"buyer_name"`
	BuyerBusinessName     string                `json:"buyer_business_name"`
	BuyerTaxID            string                `json:"buyer_tax_id"`
	BuyerAddress          string                `json:"buyer_address"`
	BuyerProvince         string                `json:"buyer_province"`
	BuyerRegistrationType string                `json:"buyer_registration_type"`
	HSCode                string                `json:"hs_code"`
	UOM                   string                `json:"uom"`
	SaleType              string                `json:"sale_type"`
	Subtotal              string                `json:"subtotal"`
	SalesTaxRate          string                `json:"sales_tax_rate"`
	SalesTaxAmount        string                `json:"sales_tax_amount"`
	FurtherTaxRate        string                `json:"further_tax_rate"`
	FurtherTaxAmount      string                `json:"further_tax_amount"`
	Total                 string                `json:"total"`
	AmountPaid            string                `json:"amount_paid"`
	Balance               string                `json:"balance"`
	Status                string                `json:"status"`
	PaymentStatus         string                `json:"payment_status"`
	Editable              bool                  `json:"editable"`
	ReferenceNo           string                `json:"reference_no"`
	OriginalFBRInvoiceNo  *string               `json:"original_fbr_invoice_no,omitempty"`
	FBRInvoiceNumber      *string               `json:"fbr_invoice_number,omitempty"`
	FBRResponse           json.RawMessage       `json:"fbr_response,omitempty"`
	FBRPostedAt           *string               `json:"fbr_posted_at,omitempty"`
	Items                 []InvoiceItemResponse `json:"items"`
	CreatedAt             string                `json:"created_at"`
	UpdatedAt             string                `json:"updated_at"`
}

// --- Interface ---

type InvoiceService interface {
	CreateInvoice(ctx context.Context, actor Actor, req InvoiceRequest) (InvoiceResponse, error)
	GetInvoice(ctx context.Context, actor Actor, id string) (InvoiceResponse, error)
	ListInvoices(ctx context.Context, actor Actor, filter InvoiceFilter) ([]InvoiceResponse, int64, error)
	UpdateInvoice(ctx context.Context, actor Actor, id string, req InvoiceRequest) (InvoiceResponse, error)
	DeleteInvoice(ctx context.Context, actor Actor, id string) error
	ChangeStatus(ctx context.Context, actor Actor, id string, req StatusChangeRequest) (InvoiceResponse, error)
	ChangePaymentStatus(ctx context.Context, actor Actor, id string, req StatusChangeRequest) (InvoiceResponse, error)
	RecordPayment(ctx context.Context, actor Actor, id string, req RecordPaymentRequest) (InvoiceResponse, error)
}

type invoiceService struct {
	invoiceRepo  repository.InvoiceRepository
	companyRepo  repository.CompanyRepository
	settingsRepo repository.SettingsRepository
	auditRepo    repository.AuditRepository
	txManager    repository.TransactionManager
	events       EventPublisher
	now          func() time.Time
	log          zerolog.Logger
}

func NewInvoiceService(
	invoiceRepo repository.InvoiceRepository,
	companyRepo repository.CompanyRepository,
	settingsRepo repository.SettingsRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	events EventPublisher,
) InvoiceService {
	return &invoiceService{
		invoiceRepo:  invoiceRepo,
		companyRepo:  companyRepo,
		settingsRepo: settingsRepo,
		auditRepo:    auditRepo,
		txManager:    txManager,
		events:       publisherOrNop(events),
		now:          time.Now,
		log:          logger.WithComponent("invoice-service"),
	}
}

// --- Implementation ---

func (s *invoiceService) CreateInvoice(ctx context.Context, actor Actor, req InvoiceRequest) (InvoiceResponse, error) {
	_, settings, err := loadSeller(ctx, s.companyRepo, s.settingsRepo, actor.CompanyID)
	if err != nil {
		return InvoiceResponse{}, err
	}

	invoice := &model.Invoice{
		CompanyID:     actor.CompanyID,
		Status:        model.StatusDraft,
		PaymentStatus: model.PaymentPending,
		AmountPaid:    decimal.Zero,
	}
	items, err := s.apply(invoice, req, settings, true)
	if err != nil {
		return InvoiceResponse{}, err
	}
	invoice.Items = items

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if invoice.InvoiceNumber == "" {
			number, err := s.generateInvoiceNo(txCtx, actor, invoice.InvoiceDate)
			if err != nil {
				return fmt.Errorf("failed to generate invoice number: %w", err)
			}
			invoice.InvoiceNumber = number
		}
		if err := s.invoiceRepo.Create(txCtx, invoice); err != nil {
			return fmt.Errorf("failed to create invoice: %w", err)
		}
		return writeAudit(txCtx, s.auditRepo, actor, auditEntry{
			action:  model.ActionCreateInvoice,
			invoice: invoice,
			details: req,
		})
	})
	if err != nil {
		return InvoiceResponse{}, err
	}

	s.log.Info().Str("invoice_id", invoice.ID.String()).Str("invoice_number", invoice.InvoiceNumber).
		Str("total", invoice.Total.String()).Msg("invoice created")

	resp := toInvoiceResponse(*invoice)
	s.events.Publish(actor.CompanyID, EventInvoiceCreated, resp)
	return resp, nil
}

func (s *invoiceService) GetInvoice(ctx context.Context, actor Actor, id string) (InvoiceResponse, error) {
	invoice, err := findInvoice(ctx, s.invoiceRepo, actor.CompanyID, id)
	if err != nil {
		return InvoiceResponse{}, err
	}
	return toInvoiceResponse(*invoice), nil
}

func (s *invoiceService) ListInvoices(ctx context.Context, actor Actor, filter InvoiceFilter) ([]InvoiceResponse, int64, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	if filter.Status != "" && !lifecycle.IsDocumentStatus(filter.Status) {
		return nil, 0, invalidf("unknown status %q", filter.Status)
	}
	if filter.PaymentStatus != "" && !lifecycle.IsPaymentStatus(filter.PaymentStatus) {
		return nil, 0, invalidf("unknown payment status %q", filter.PaymentStatus)
	}

	invoices, total, err := s.invoiceRepo.List(ctx, repository.InvoiceListFilter{
		CompanyID:     actor.CompanyID,
		Status:        filter.Status,
		PaymentStatus: filter.PaymentStatus,
		InvoiceNumber: filter.InvoiceNumber,
		Offset:        (filter.Page - 1) * filter.Limit,
		Limit:         filter.Limit,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch invoices: %w", err)
	}

	result := make([]InvoiceResponse, 0, len(invoices))
	for _, inv := range invoices {
		result = append(result, toInvoiceResponse(inv))
	}
	return result, total, nil
}

// UpdateInvoice replaces the invoice's editable fields and items, then recomputes totals.
func (s *invoiceService) UpdateInvoice(ctx context.Context, actor Actor, id string, req InvoiceRequest) (InvoiceResponse, error) {
	invoice, err := findInvoice(ctx, s.invoiceRepo, actor.CompanyID, id)
	if err != nil {
		return InvoiceResponse{}, err
	}
	if err := lifecycle.CheckEditable(invoice.Status); err != nil {
		return InvoiceResponse{}, fmt.Errorf("cannot edit invoice %s: %w", invoice.InvoiceNumber, err)
	}

	_, settings, err := loadSeller(ctx, s.companyRepo, s.settingsRepo, actor.CompanyID)
	if err != nil {
		return InvoiceResponse{}, err
	}
	items, err := s.apply(invoice, req, settings, false)
	if err != nil {
		return InvoiceResponse{}, err
	}
	if invoice.AmountPaid.GreaterThan(invoice.Total) {
		return InvoiceResponse{}, fmt.Errorf("%w: new total %s is below the amount already paid (%s)",
			lifecycle.ErrOverpayment, invoice.Total.StringFixed(2), invoice.AmountPaid.StringFixed(2))
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.invoiceRepo.Update(txCtx, invoice); err != nil {
			return fmt.Errorf("failed to update invoice: %w", casError(err))
		}
		if err := s.invoiceRepo.ReplaceItems(txCtx, invoice.ID, items); err != nil {
			return fmt.Errorf("failed to replace items: %w", err)
		}
		return writeAudit(txCtx, s.auditRepo, actor, auditEntry{
			action:  model.ActionUpdateInvoice,
			invoice: invoice,
			details: req,
		})
	})
	if err != nil {
		return InvoiceResponse{}, err
	}

	return s.reload(ctx, actor, invoice, EventInvoiceUpdated)
}

// DeleteInvoice is the draft -> deleted transition. Rows are kept for the audit trail.
func (s *invoiceService) DeleteInvoice(ctx context.Context, actor Actor, id string) error {
	invoice, err := findInvoice(ctx, s.invoiceRepo, actor.CompanyID, id)
	if err != nil {
		return err
	}
	tr, err := lifecycle.ChangeDocument(invoice.Status, model.StatusDeleted)
	if err != nil {
		return err
	}
	if err := s.applyDocumentTransition(ctx, actor, invoice, tr, model.ActionDeleteInvoice); err != nil {
		return err
	}
	invoice.Status = tr.To
	s.events.Publish(actor.CompanyID, EventInvoiceStatus, transitionEvent(invoice, tr))
	return nil
}

func (s *invoiceService) ChangeStatus(ctx context.Context, actor Actor, id string, req StatusChangeRequest) (InvoiceResponse, error) {
	invoice, err := findInvoice(ctx, s.invoiceRepo, actor.CompanyID, id)
	if err != nil {
		return InvoiceResponse{}, err
	}
	tr, err := lifecycle.ChangeDocument(invoice.Status, strings.TrimSpace(req.Status))
	if err != nil {
		return InvoiceResponse{}, err
	}
	if err := s.applyDocumentTransition(ctx, actor, invoice, tr, model.ActionChangeStatus); err != nil {
		return InvoiceResponse{}, err
	}
	s.events.Publish(actor.CompanyID, EventInvoiceStatus, transitionEvent(invoice, tr))
	return s.reload(ctx, actor, invoice, "")
}

func (s *invoiceService) applyDocumentTransition(ctx context.Context, actor Actor, invoice *model.Invoice, tr lifecycle.Transition, action string) error {
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.invoiceRepo.UpdateStatus(txCtx, invoice.ID, tr.From, tr.To); err != nil {
			return fmt.Errorf("failed to update status: %w", casError(err))
		}
		return writeAudit(txCtx, s.auditRepo, actor, auditEntry{
			action:     action,
			invoice:    invoice,
			transition: &tr,
		})
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("invoice_id", invoice.ID.String()).Str("from", tr.From).Str("to", tr.To).Msg("document status changed")
	return nil
}

func (s *invoiceService) ChangePaymentStatus(ctx context.Context, actor Actor, id string, req StatusChangeRequest) (InvoiceResponse, error) {
	invoice, err := findInvoice(ctx, s.invoiceRepo, actor.CompanyID, id)
	if err != nil {
		return InvoiceResponse{}, err
	}
	if invoice.Status == model.StatusDeleted {
		return InvoiceResponse{}, &lifecycle.TransitionError{
			Axis: model.AxisPayment, From: invoice.PaymentStatus, To: req.Status, Reason: "invoice is deleted",
		}
	}
	change, err := lifecycle.ChangePayment(invoice.PaymentStatus, strings.TrimSpace(req.Status), invoice.Total, invoice.AmountPaid)
	if err != nil {
		return InvoiceResponse{}, err
	}
	if err := s.applyPaymentChange(ctx, actor, invoice, change, model.ActionChangePayment, nil); err != nil {
		return InvoiceResponse{}, err
	}
	return s.reload(ctx, actor, invoice, "")
}

func (s *invoiceService) RecordPayment(ctx context.Context, actor Actor, id string, req RecordPaymentRequest) (InvoiceResponse, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		return InvoiceResponse{}, invalidf("invalid amount %q", req.Amount)
	}

	invoice, err := findInvoice(ctx, s.invoiceRepo, actor.CompanyID, id)
	if err != nil {
		return InvoiceResponse{}, err
	}
	if invoice.Status == model.StatusDeleted {
		return InvoiceResponse{}, &lifecycle.TransitionError{
			Axis: model.AxisPayment, From: invoice.PaymentStatus, To: model.PaymentPartial, Reason: "invoice is deleted",
		}
	}
	change, err := lifecycle.RecordPayment(invoice.PaymentStatus, invoice.Total, invoice.AmountPaid, amount)
	if err != nil {
		return InvoiceResponse{}, err
	}
	details := map[string]string{"amount": amount.String(), "amount_paid": change.AmountPaid.String()}
	if err := s.applyPaymentChange(ctx, actor, invoice, change, model.ActionRecordPayment, details); err != nil {
		return InvoiceResponse{}, err
	}
	return s.reload(ctx, actor, invoice, "")
}

func (s *invoiceService) applyPaymentChange(ctx context.Context, actor Actor, invoice *model.Invoice, change lifecycle.PaymentChange, action string, details interface{}) error {
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		err := s.invoiceRepo.UpdatePayment(txCtx, invoice.ID,
			repository.PaymentState{Status: change.From, AmountPaid: invoice.AmountPaid},
			repository.PaymentState{Status: change.To, AmountPaid: change.AmountPaid})
		if err != nil {
			return fmt.Errorf("failed to update payment: %w", casError(err))
		}
		return writeAudit(txCtx, s.auditRepo, actor, auditEntry{
			action:     action,
			invoice:    invoice,
			transition: &change.Transition,
			details:    details,
		})
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("invoice_id", invoice.ID.String()).Str("from", change.From).Str("to", change.To).
		Str("amount_paid", change.AmountPaid.String()).Msg("payment status changed")
	data := transitionEvent(invoice, change.Transition)
	data["amount_paid"] = change.AmountPaid.StringFixed(2)
	s.events.Publish(actor.CompanyID, EventInvoicePayment, data)
	return nil
}

// reload fetches the invoice after a write and optionally publishes it.
func (s *invoiceService) reload(ctx context.Context, actor Actor, invoice *model.Invoice, event string) (InvoiceResponse, error) {
	reloaded, err := s.invoiceRepo.FindByID(ctx, actor.CompanyID, invoice.ID)
	if err != nil {
		return InvoiceResponse{}, fmt.Errorf("failed to reload invoice: %w", err)
	}
	resp := toInvoiceResponse(*reloaded)
	if event != "" {
		s.events.Publish(actor.CompanyID, event, resp)
	}
	return resp, nil
}

func (s *invoiceService) generateInvoiceNo(ctx context.Context, actor Actor, date time.Time) (string, error) {
	prefix := "INV-" + date.Format("20060102") + "-"

	count, err := s.invoiceRepo.CountByPrefix(ctx, actor.CompanyID, prefix)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s%05d", prefix, count+1), nil
}

// apply copies req onto invoice, recomputes its totals and returns the new items.
func (s *invoiceService) apply(invoice *model.Invoice, req InvoiceRequest, settings *model.Settings, creating bool) ([]model.InvoiceItem, error) {
	date := s.now()
	if req.InvoiceDate != "" {
		parsed, err := time.Parse(dateLayout, req.InvoiceDate)
		if err != nil {
			return nil, invalidf("invoice_date must be YYYY-MM-DD, got %q", req.InvoiceDate)
		}
		date = parsed
	} else if !creating {
		date = invoice.InvoiceDate
	}
	invoice.InvoiceDate = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)

	docType := firstNonEmpty(req.DocumentType, model.DocSaleInvoice)
	switch docType {
	case model.DocSaleInvoice, model.DocDebitNote, model.DocCreditNote:
	default:
		return nil, invalidf("unknown document type %q", req.DocumentType)
	}

	registration := firstNonEmpty(req.BuyerRegistrationType, model.BuyerUnregistered)
	if registration != model.BuyerRegistered && registration != model.BuyerUnregistered {
		return nil, invalidf("unknown buyer registration type %q", req.BuyerRegistrationType)
	}

	buyerTaxID := strings.TrimSpace(req.BuyerTaxID)
	if buyerTaxID != "" {
		id, err := fbr.NormalizeTaxID(buyerTaxID)
		if err != nil {
			return nil, fmt.Errorf("%w: buyer_tax_id: %w", ErrInvalidInput, err)
		}
		buyerTaxID = id.Value
	}
	if buyerTaxID == "" && registration == model.BuyerRegistered {
		return nil, invalidf("buyer_tax_id is required for registered buyers")
	}

	if req.InvoiceNumber != "" || creating {
		invoice.InvoiceNumber = strings.TrimSpace(req.InvoiceNumber)
	}
	invoice.DocumentType = docType
	invoice.ScenarioID = strings.TrimSpace(req.ScenarioID)
	invoice.BuyerName = strings.TrimSpace(req.BuyerName)
	invoice.BuyerBusinessName = strings.TrimSpace(req.BuyerBusinessName)
	invoice.BuyerTaxID = buyerTaxID
	invoice.BuyerAddress = strings.TrimSpace(req.BuyerAddress)
	invoice.BuyerProvince = strings.TrimSpace(req.BuyerProvince)
	invoice.BuyerRegistrationType = registration
	invoice.HSCode = strings.TrimSpace(req.HSCode)
	invoice.UOM = strings.TrimSpace(req.UOM)
	invoice.SaleType = strings.TrimSpace(req.SaleType)
	invoice.OriginalFBRInvoiceNo = nil
	if ref := strings.TrimSpace(req.OriginalFBRInvoiceNo); ref != "" && docType != model.DocSaleInvoice {
		invoice.OriginalFBRInvoiceNo = &ref
	}

	salesRate, furtherRate := invoice.SalesTaxRate, invoice.FurtherTaxRate
	if creating {
		salesRate = settings.SalesTaxRate
		furtherRate = decimal.Zero
		if registration == model.BuyerUnregistered {
			furtherRate = settings.FurtherTaxRate
		}
	}
	var err error
	if req.SalesTaxRate != nil {
		if salesRate, err = parseRate("sales_tax_rate", *req.SalesTaxRate); err != nil {
			return nil, err
		}
	}
	if req.FurtherTaxRate != nil {
		if furtherRate, err = parseRate("further_tax_rate", *req.FurtherTaxRate); err != nil {
			return nil, err
		}
	}

	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, fbr.ErrNoItems)
	}
	items := make([]model.InvoiceItem, 0, len(req.Items))
	lines := make([]tax.Line, 0, len(req.Items))
	for i, it := range req.Items {
		item, err := toItem(i, it)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		lines = append(lines, tax.Line{UnitPrice: item.UnitPrice, Quantity: item.Quantity})
	}

	totals := tax.Calculate(lines, salesRate, furtherRate)
	invoice.Subtotal = totals.Subtotal
	invoice.SalesTaxRate = totals.SalesTaxRate
	invoice.SalesTaxAmount = totals.SalesTaxAmount
	invoice.FurtherTaxRate = totals.FurtherTaxRate
	invoice.FurtherTaxAmount = totals.FurtherTaxAmount
	invoice.Total = totals.Total
	return items, nil
}

func toItem(i int, req InvoiceItemRequest) (model.InvoiceItem, error) {
	desc := strings.TrimSpace(req.Description)
	if desc == "" {
		return model.InvoiceItem{}, invalidf("items[%d].description is required", i)
	}
	price, err := decimal.NewFromString(strings.TrimSpace(req.UnitPrice))
	if err != nil || price.IsNegative() {
		return model.InvoiceItem{}, invalidf("items[%d].unit_price must be a non-negative number", i)
	}
	if !withinScale(price) {
		return model.InvoiceItem{}, invalidf("items[%d].unit_price has more than %d decimal places", i, maxInputScale)
	}
	qty, err := decimal.NewFromString(strings.TrimSpace(req.Quantity))
	if err != nil || !qty.IsPositive() {
		return model.InvoiceItem{}, invalidf("items[%d].quantity must be greater than zero", i)
	}
	if !withinScale(qty) {
		return model.InvoiceItem{}, invalidf("items[%d].quantity has more than %d decimal places", i, maxInputScale)
	}
	return model.InvoiceItem{
		Position:    i,
		Description: desc,
		HSCode:      strings.TrimSpace(req.HSCode),
		UOM:         strings.TrimSpace(req.UOM),
		UnitPrice:   price,
		Quantity:    qty,
		LineTotal:   tax.LineTotal(tax.Line{UnitPrice: price, Quantity: qty}),
	}, nil
}

func parseRate(field, raw string) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(strings.TrimSuffix(strings.TrimSpace(raw), "%"))
	if err != nil || rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.Zero, invalidf("%s must be a percentage between 0 and 100, got %q", field, raw)
	}
	if !withinScale(rate) {
		return decimal.Zero, invalidf("%s has more than %d decimal places", field, maxInputScale)
	}
	return rate, nil
}

// maxInputScale is the column scale for prices, quantities and rates.
const maxInputScale = 4

// withinScale reports whether d survives storage at maxInputScale places. Trailing
// zeros beyond the scale are fine.
func withinScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(maxInputScale))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// --- Mapping ---

func transitionEvent(inv *model.Invoice, tr lifecycle.Transition) map[string]interface{} {
	return map[string]interface{}{
		"invoice_id":     inv.ID.String(),
		"invoice_number": inv.InvoiceNumber,
		"axis":           tr.Axis,
		"from":           tr.From,
		"to":             tr.To,
	}
}

func toInvoiceResponse(inv model.Invoice) InvoiceResponse {
	resp := InvoiceResponse{
		ID:                    inv.ID.String(),
		InvoiceNumber:         inv.InvoiceNumber,
		InvoiceDate:           inv.InvoiceDate.Format(dateLayout),
		DocumentType:          inv.DocumentType,
		ScenarioID:            inv.ScenarioID,
		BuyerName:             inv.BuyerName,
		BuyerBusinessName:     inv.BuyerBusinessName,
		BuyerTaxID:            inv.BuyerTaxID,
		BuyerAddress:          inv.BuyerAddress,
		BuyerProvince:         inv.BuyerProvince,
		BuyerRegistrationType: inv.BuyerRegistrationType,
		HSCode:                inv.HSCode,
		UOM:                   inv.UOM,
		SaleType:              inv.SaleType,
		Subtotal:              inv.Subtotal.StringFixed(2),
		SalesTaxRate:          inv.SalesTaxRate.String(),
		SalesTaxAmount:        inv.SalesTaxAmount.StringFixed(2),
		FurtherTaxRate:        inv.FurtherTaxRate.String(),
		FurtherTaxAmount:      inv.FurtherTaxAmount.StringFixed(2),
		Total:                 inv.Total.StringFixed(2),
		AmountPaid:            inv.AmountPaid.StringFixed(2),
		Balance:               inv.Total.Sub(inv.AmountPaid).StringFixed(2),
		Status:                inv.Status,
		PaymentStatus:         inv.PaymentStatus,
		Editable:              lifecycle.Editable(inv.Status),
		ReferenceNo:           inv.ReferenceNo,
		OriginalFBRInvoiceNo:  inv.OriginalFBRInvoiceNo,
		FBRInvoiceNumber:      inv.FBRInvoiceNumber,
		Items:                 make([]InvoiceItemResponse, 0, len(inv.Items)),
		CreatedAt:             inv.CreatedAt.Format(time.RFC3339),
		UpdatedAt:             inv.UpdatedAt.Format(time.RFC3339),
	}

	if inv.FBRResponse != nil && json.Valid([]byte(*inv.FBRResponse)) {
		resp.FBRResponse = json.RawMessage(*inv.FBRResponse)
	}
	if inv.FBRPostedAt != nil {
		s := inv.FBRPostedAt.Format(time.RFC3339)
		resp.FBRPostedAt = &s
	}
	for _, it := range inv.Items {
		resp.Items = append(resp.Items, InvoiceItemResponse{
			ID:          it.ID.String(),
			Description: it.Description,
			HSCode:      it.HSCode,
			UOM:         it.UOM,
			UnitPrice:   it.UnitPrice.String(),
			Quantity:    it.Quantity.String(),
			LineTotal:   it.LineTotal.StringFixed(2),
		})
	}

	return resp
}
