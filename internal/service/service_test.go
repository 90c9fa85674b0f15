package service

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"einvoice/internal/fbr"
	"einvoice/internal/fbrmock"
	"einvoice/internal/model"
	"einvoice/internal/repository"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const sandboxToken = "sandbox-token"

type publishedEvent struct {
	companyID uuid.UUID
	name      string
	data      interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(companyID uuid.UUID, event string, data interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{companyID: companyID, name: event, data: data})
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.name)
	}
	return out
}

type fixture struct {
	db       *gorm.DB
	invoices InvoiceService
	fbr      FBRService
	audit    AuditService
	mock     *fbrmock.Server
	gateway  fbr.Gateway
	events   *recordingPublisher
	actor    Actor
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&model.Company{}, &model.Settings{}, &model.Invoice{}, &model.InvoiceItem{}, &model.AuditLog{}))
	return db
}

func newFixture(t *testing.T, mockCfg fbrmock.Config) *fixture {
	t.Helper()
	if mockCfg.Token == "" {
		mockCfg.Token = sandboxToken
	}
	mock := fbrmock.NewServer(mockCfg, zerolog.Nop())
	srv := httptest.NewServer(mock)
	t.Cleanup(srv.Close)

	db := newTestDB(t)
	ctx := context.Background()

	company := &model.Company{
		Name:         "Indus Textiles",
		BusinessName: "Indus Textiles (Pvt) Ltd",
		Address:      "Plot 12, SITE, Karachi",
		Province:     "Sindh",
		NTN:          "123-456-7",
		FBRToken:     sandboxToken,
	}
	companyRepo := repository.NewCompanyRepository(db)
	require.NoError(t, companyRepo.Create(ctx, company))

	settingsRepo := repository.NewSettingsRepository(db)
	require.NoError(t, settingsRepo.Upsert(ctx, &model.Settings{
		CompanyID:         company.ID,
		SalesTaxRate:      decimal.NewFromInt(18),
		FurtherTaxRate:    decimal.NewFromInt(4),
		DefaultScenarioID: "SN001",
		DefaultHSCode:     "5208.1100",
		DefaultUOM:        "Numbers, pieces, units",
		DefaultSaleType:   "Goods at standard rate (default)",
		FBREnvironment:    model.FBREnvSandbox,
	}))

	gateway := fbr.NewClient(fbr.ClientConfig{
		BaseURL:      srv.URL,
		Environment:  fbr.Sandbox,
		Timeout:      2 * time.Second,
		MaxRetries:   1,
		RetryBackoff: time.Millisecond,
	}, zerolog.Nop())
	catalog, err := fbr.DefaultCatalog()
	require.NoError(t, err)

	invoiceRepo := repository.NewInvoiceRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	txManager := repository.NewTransactionManager(db)
	events := &recordingPublisher{}

	userID := uuid.New()
	return &fixture{
		db:       db,
		invoices: NewInvoiceService(invoiceRepo, companyRepo, settingsRepo, auditRepo, txManager, events),
		fbr: NewFBRService(invoiceRepo, companyRepo, settingsRepo, auditRepo, txManager, events, FBRServiceConfig{
			Gateways:        []fbr.Gateway{gateway},
			Catalog:         catalog,
			RegressionDelay: time.Millisecond,
			AutoPostDelay:   time.Millisecond,
		}),
		audit:   NewAuditService(auditRepo),
		mock:    mock,
		gateway: gateway,
		events:  events,
		actor:   Actor{CompanyID: company.ID, UserID: &userID},
	}
}

func (f *fixture) updateSettings(t *testing.T, column string, value interface{}) {
	t.Helper()
	err := f.db.Model(&model.Settings{}).Where("company_id = ?", f.actor.CompanyID).Update(column, value).Error
	require.NoError(t, err)
}

// otherInstance is a second FBR service on the same database, as another API
// process would run it. It shares no in-process locks with f.fbr.
func (f *fixture) otherInstance(t *testing.T) FBRService {
	t.Helper()
	catalog, err := fbr.DefaultCatalog()
	require.NoError(t, err)
	return NewFBRService(
		repository.NewInvoiceRepository(f.db),
		repository.NewCompanyRepository(f.db),
		repository.NewSettingsRepository(f.db),
		repository.NewAuditRepository(f.db),
		repository.NewTransactionManager(f.db),
		nil,
		FBRServiceConfig{Gateways: []fbr.Gateway{f.gateway}, Catalog: catalog, AutoPostDelay: time.Millisecond},
	)
}

func strPtr(s string) *string { return &s }

func registeredRequest() InvoiceRequest {
	return InvoiceRequest{
		InvoiceDate:           "2025-04-21",
		BuyerName:             "Ahmed Raza",
		BuyerBusinessName:     "Lahore Garments",
		BuyerTaxID:            "35202-1234567-1",
		BuyerAddress:          "Gulberg III, Lahore",
		BuyerProvince:         "Punjab",
		BuyerRegistrationType: model.BuyerRegistered,
		Items: []InvoiceItemRequest{
			{Description: "Cotton fabric", UnitPrice: "1000", Quantity: "400"},
		},
	}
}

func (f *fixture) createDraft(t *testing.T) InvoiceResponse {
	t.Helper()
	inv, err := f.invoices.CreateInvoice(context.Background(), f.actor, registeredRequest())
	require.NoError(t, err)
	return inv
}
