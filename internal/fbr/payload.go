package fbr

import (
	"fmt"
	"strings"

	"einvoice/internal/model"
	"einvoice/internal/tax"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// InvoicePayload is the request body of the validate and post endpoints.
type InvoicePayload struct {
	InvoiceType           string        `json:"invoiceType" yaml:"invoiceType"`
	InvoiceDate           string        `json:"invoiceDate" yaml:"invoiceDate"`
	SellerNTNCNIC         string        `json:"sellerNTNCNIC" yaml:"sellerNTNCNIC"`
	SellerBusinessName    string        `json:"sellerBusinessName" yaml:"sellerBusinessName"`
	SellerProvince        string        `json:"sellerProvince" yaml:"sellerProvince"`
	SellerAddress         string        `json:"sellerAddress" yaml:"sellerAddress"`
	BuyerNTNCNIC          string        `json:"buyerNTNCNIC" yaml:"buyerNTNCNIC"`
	BuyerBusinessName     string        `json:"buyerBusinessName" yaml:"buyerBusinessName"`
	BuyerProvince         string        `json:"buyerProvince" yaml:"buyerProvince"`
	BuyerAddress          string        `json:"buyerAddress" yaml:"buyerAddress"`
	BuyerRegistrationType string        `json:"buyerRegistrationType" yaml:"buyerRegistrationType"`
	InvoiceRefNo          string        `json:"invoiceRefNo" yaml:"invoiceRefNo"`
	ScenarioID            string        `json:"scenarioId,omitempty" yaml:"scenarioId,omitempty"`
	Items                 []PayloadItem `json:"items" yaml:"items"`
}

// PayloadItem is one line of an InvoicePayload.
type PayloadItem struct {
	HSCode                          string `json:"hsCode" yaml:"hsCode"`
	ProductDescription              string `json:"productDescription" yaml:"productDescription"`
	Rate                            string `json:"rate" yaml:"rate"`
	UoM                             string `json:"uoM" yaml:"uoM"`
	Quantity                        Amount `json:"quantity" yaml:"quantity"`
	TotalValues                     Amount `json:"totalValues" yaml:"totalValues"`
	ValueSalesExcludingST           Amount `json:"valueSalesExcludingST" yaml:"valueSalesExcludingST"`
	FixedNotifiedValueOrRetailPrice Amount `json:"fixedNotifiedValueOrRetailPrice" yaml:"fixedNotifiedValueOrRetailPrice"`
	SalesTaxApplicable              Amount `json:"salesTaxApplicable" yaml:"salesTaxApplicable"`
	SalesTaxWithheldAtSource        Amount `json:"salesTaxWithheldAtSource" yaml:"salesTaxWithheldAtSource"`
	ExtraTax                        Amount `json:"extraTax" yaml:"extraTax"`
	FurtherTax                      Amount `json:"furtherTax" yaml:"furtherTax"`
	SroScheduleNo                   string `json:"sroScheduleNo" yaml:"sroScheduleNo"`
	FedPayable                      Amount `json:"fedPayable" yaml:"fedPayable"`
	Discount                        Amount `json:"discount" yaml:"discount"`
	SaleType                        string `json:"saleType" yaml:"saleType"`
	SroItemSerialNo                 string `json:"sroItemSerialNo" yaml:"sroItemSerialNo"`
}

// BuildOptions tunes payload construction.
type BuildOptions struct {
	// RawBuyerTaxID sends the buyer identifier as entered. Only honoured for sandbox builds,
	// where scenario buyers may carry placeholder identifiers.
	RawBuyerTaxID bool

	// IncludeFurtherTax fills the per-item furtherTax field from the invoice further-tax rate.
	// Off by default: the field is zero-filled like the other unused tax fields.
	IncludeFurtherTax bool

	// ScenarioID overrides the invoice and settings scenario.
	ScenarioID string
}

// BuildInput carries everything the builder reads. Nothing is looked up implicitly.
type BuildInput struct {
	Invoice  *model.Invoice
	Items    []model.InvoiceItem // defaults to Invoice.Items
	Company  *model.Company
	Settings *model.Settings
	Options  BuildOptions
}

// FormatRate renders a percentage the way the gateway expects it, e.g. "18%".
func FormatRate(rate decimal.Decimal) string {
	return rate.String() + "%"
}

// BuildPayload assembles the gateway request for an invoice. All validation happens here,
// before any network call.
func BuildPayload(in BuildInput) (*InvoicePayload, error) {
	inv := in.Invoice
	if inv == nil {
		return nil, &MissingFieldError{Field: "invoice"}
	}
	if in.Company == nil {
		return nil, ErrMissingSellerTaxID
	}
	settings := in.Settings
	if settings == nil {
		settings = &model.Settings{}
	}

	docType := inv.DocumentType
	if docType == "" {
		docType = model.DocSaleInvoice
	}
	switch docType {
	case model.DocSaleInvoice, model.DocDebitNote, model.DocCreditNote:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDocumentType, docType)
	}

	seller, err := sellerFields(in.Company)
	if err != nil {
		return nil, err
	}

	buyer, err := buyerFields(inv, in.Options.RawBuyerTaxID && settings.IsSandbox())
	if err != nil {
		return nil, err
	}

	items := in.Items
	if items == nil {
		items = inv.Items
	}
	if len(items) == 0 {
		return nil, ErrNoItems
	}

	if inv.InvoiceDate.IsZero() {
		return nil, &MissingFieldError{Field: "invoiceDate"}
	}

	hsCode := firstNonEmpty(inv.HSCode, settings.DefaultHSCode)
	uom := firstNonEmpty(inv.UOM, settings.DefaultUOM)
	saleType := firstNonEmpty(inv.SaleType, settings.DefaultSaleType)
	if hsCode == "" {
		return nil, &MissingFieldError{Field: "hsCode"}
	}
	if uom == "" {
		return nil, &MissingFieldError{Field: "uoM"}
	}

	payload := &InvoicePayload{
		InvoiceType:           docType,
		InvoiceDate:           inv.InvoiceDate.Format(dateLayout),
		SellerNTNCNIC:         seller.taxID,
		SellerBusinessName:    seller.businessName,
		SellerProvince:        seller.province,
		SellerAddress:         seller.address,
		BuyerNTNCNIC:          buyer.taxID,
		BuyerBusinessName:     buyer.businessName,
		BuyerProvince:         buyer.province,
		BuyerAddress:          buyer.address,
		BuyerRegistrationType: buyer.registrationType,
		InvoiceRefNo:          referenceFor(inv, docType),
		ScenarioID:            firstNonEmpty(in.Options.ScenarioID, inv.ScenarioID, settings.DefaultScenarioID),
		Items:                 make([]PayloadItem, 0, len(items)),
	}

	rate := FormatRate(inv.SalesTaxRate)
	for _, it := range items {
		line := tax.Line{UnitPrice: it.UnitPrice, Quantity: it.Quantity}
		value := tax.LineTotal(line)
		item := PayloadItem{
			HSCode:                hsCode,
			ProductDescription:    it.Description,
			Rate:                  rate,
			UoM:                   uom,
			Quantity:              NewAmount(it.Quantity),
			ValueSalesExcludingST: NewAmount(value),
			SalesTaxApplicable:    NewAmount(tax.LineTax(line, inv.SalesTaxRate)),
			SaleType:              saleType,
		}
		if in.Options.IncludeFurtherTax {
			item.FurtherTax = NewAmount(tax.LineTax(line, inv.FurtherTaxRate))
		}
		payload.Items = append(payload.Items, item)
	}

	return payload, nil
}

type party struct {
	taxID            string
	businessName     string
	province         string
	address          string
	registrationType string
}

func sellerFields(c *model.Company) (party, error) {
	if strings.TrimSpace(c.NTN) == "" {
		return party{}, ErrMissingSellerTaxID
	}
	id, err := normalizeField("sellerNTNCNIC", c.NTN)
	if err != nil {
		return party{}, err
	}
	p := party{
		taxID:        id.Value,
		businessName: strings.TrimSpace(firstNonEmpty(c.BusinessName, c.Name)),
		province:     strings.TrimSpace(c.Province),
		address:      strings.TrimSpace(c.Address),
	}
	if p.businessName == "" {
		return party{}, &MissingFieldError{Field: "sellerBusinessName"}
	}
	if p.province == "" {
		return party{}, &MissingFieldError{Field: "sellerProvince"}
	}
	return p, nil
}

func buyerFields(inv *model.Invoice, rawTaxID bool) (party, error) {
	p := party{
		businessName:     strings.TrimSpace(firstNonEmpty(inv.BuyerBusinessName, inv.BuyerName)),
		province:         strings.TrimSpace(inv.BuyerProvince),
		address:          strings.TrimSpace(inv.BuyerAddress),
		registrationType: firstNonEmpty(inv.BuyerRegistrationType, model.BuyerUnregistered),
	}
	if p.businessName == "" {
		return party{}, &MissingFieldError{Field: "buyerBusinessName"}
	}
	if p.province == "" {
		return party{}, &MissingFieldError{Field: "buyerProvince"}
	}

	raw := strings.TrimSpace(inv.BuyerTaxID)
	switch {
	case raw == "" && p.registrationType == model.BuyerRegistered:
		return party{}, &MissingFieldError{Field: "buyerNTNCNIC"}
	case raw == "":
	case rawTaxID:
		p.taxID = raw
	default:
		id, err := normalizeField("buyerNTNCNIC", raw)
		if err != nil {
			return party{}, err
		}
		p.taxID = id.Value
	}
	return p, nil
}

// referenceFor returns the invoiceRefNo: notes point at the invoice they amend,
// everything else carries the invoice's own stable reference.
func referenceFor(inv *model.Invoice, docType string) string {
	if docType != model.DocSaleInvoice && inv.OriginalFBRInvoiceNo != nil && *inv.OriginalFBRInvoiceNo != "" {
		return *inv.OriginalFBRInvoiceNo
	}
	return inv.ReferenceNo
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
