package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"einvoice/internal/model"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

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

func seedInvoice(t *testing.T, repo InvoiceRepository, companyID uuid.UUID, number string) *model.Invoice {
	t.Helper()
	inv := &model.Invoice{
		CompanyID:     companyID,
		InvoiceNumber: number,
		InvoiceDate:   time.Date(2025, 4, 21, 0, 0, 0, 0, time.UTC),
		DocumentType:  model.DocSaleInvoice,
		Status:        model.StatusDraft,
		PaymentStatus: model.PaymentPending,
		Subtotal:      decimal.NewFromInt(400000),
		Total:         decimal.NewFromInt(472000),
		Items: []model.InvoiceItem{
			{Description: "Cotton fabric", UnitPrice: decimal.NewFromInt(1000), Quantity: decimal.NewFromInt(400), LineTotal: decimal.NewFromInt(400000)},
		},
	}
	require.NoError(t, repo.Create(context.Background(), inv))
	return inv
}

func TestInvoiceCreateAndFind(t *testing.T) {
	db := newTestDB(t)
	repo := NewInvoiceRepository(db)
	companyID := uuid.New()

	inv := seedInvoice(t, repo, companyID, "INV-1")
	assert.NotEqual(t, uuid.Nil, inv.ID)
	assert.NotEmpty(t, inv.ReferenceNo)

	found, err := repo.FindByID(context.Background(), companyID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.ReferenceNo, found.ReferenceNo)
	require.Len(t, found.Items, 1)
	assert.True(t, found.Total.Equal(decimal.NewFromInt(472000)))

	_, err = repo.FindByID(context.Background(), uuid.New(), inv.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMarkPostedIsCompareAndSwap(t *testing.T) {
	db := newTestDB(t)
	repo := NewInvoiceRepository(db)
	companyID := uuid.New()
	inv := seedInvoice(t, repo, companyID, "INV-1")
	ctx := context.Background()

	err := repo.MarkPosted(ctx, inv.ID, PostedUpdate{FBRInvoiceNumber: "1234567DI1", FBRResponse: `{"a":1}`, PostedAt: time.Now()})
	require.NoError(t, err)

	err = repo.MarkPosted(ctx, inv.ID, PostedUpdate{FBRInvoiceNumber: "1234567DI2", FBRResponse: `{}`, PostedAt: time.Now()})
	assert.True(t, errors.Is(err, ErrStaleStatus))

	found, err := repo.FindByID(ctx, companyID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFBRPosted, found.Status)
	require.NotNil(t, found.FBRInvoiceNumber)
	assert.Equal(t, "1234567DI1", *found.FBRInvoiceNumber)
	assert.NotNil(t, found.FBRPostedAt)
}

func TestMarkPostedConcurrentOnlyOneWins(t *testing.T) {
	db := newTestDB(t)
	repo := NewInvoiceRepository(db)
	inv := seedInvoice(t, repo, uuid.New(), "INV-1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := repo.MarkPosted(context.Background(), inv.ID, PostedUpdate{FBRInvoiceNumber: "N", FBRResponse: "{}", PostedAt: time.Now()}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestUpdateStatusAndPayment(t *testing.T) {
	db := newTestDB(t)
	repo := NewInvoiceRepository(db)
	companyID := uuid.New()
	inv := seedInvoice(t, repo, companyID, "INV-1")
	ctx := context.Background()

	require.NoError(t, repo.UpdateStatus(ctx, inv.ID, model.StatusDraft, model.StatusDeleted))
	assert.True(t, errors.Is(repo.UpdateStatus(ctx, inv.ID, model.StatusDraft, model.StatusDeleted), ErrStaleStatus))

	require.NoError(t, repo.UpdatePayment(ctx, inv.ID,
		PaymentState{Status: model.PaymentPending, AmountPaid: decimal.Zero},
		PaymentState{Status: model.PaymentPartial, AmountPaid: decimal.NewFromInt(100)}))
	found, err := repo.FindByID(ctx, companyID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPartial, found.PaymentStatus)
	assert.True(t, found.AmountPaid.Equal(decimal.NewFromInt(100)))
}

func TestClaimPostLease(t *testing.T) {
	db := newTestDB(t)
	repo := NewInvoiceRepository(db)
	companyID := uuid.New()
	inv := seedInvoice(t, repo, companyID, "INV-1")
	ctx := context.Background()
	now := time.Date(2025, 4, 21, 10, 0, 0, 0, time.UTC)
	ttl := 5 * time.Minute

	first, second := uuid.New(), uuid.New()
	require.NoError(t, repo.ClaimPost(ctx, inv.ID, first, now, now.Add(-ttl)))
	assert.ErrorIs(t, repo.ClaimPost(ctx, inv.ID, second, now.Add(time.Minute), now.Add(time.Minute-ttl)), ErrStaleStatus)

	// Releasing someone else's claim does nothing.
	require.NoError(t, repo.ReleasePost(ctx, inv.ID, second))
	found, err := repo.FindByID(ctx, companyID, inv.ID)
	require.NoError(t, err)
	require.NotNil(t, found.PostClaim)
	assert.Equal(t, first, *found.PostClaim)

	// Past the lease the claim can be taken over.
	later := now.Add(10 * time.Minute)
	require.NoError(t, repo.ClaimPost(ctx, inv.ID, second, later, later.Add(-ttl)))

	require.NoError(t, repo.MarkPosted(ctx, inv.ID, PostedUpdate{FBRInvoiceNumber: "X", FBRResponse: "{}", PostedAt: later}))
	found, err = repo.FindByID(ctx, companyID, inv.ID)
	require.NoError(t, err)
	assert.Nil(t, found.PostClaim)
	assert.Nil(t, found.PostClaimedAt)

	assert.ErrorIs(t, repo.ClaimPost(ctx, inv.ID, uuid.New(), later, later), ErrStaleStatus)
}

func TestReleasePostFreesClaim(t *testing.T) {
	db := newTestDB(t)
	repo := NewInvoiceRepository(db)
	inv := seedInvoice(t, repo, uuid.New(), "INV-1")
	ctx := context.Background()
	now := time.Now().UTC()

	claim := uuid.New()
	require.NoError(t, repo.ClaimPost(ctx, inv.ID, claim, now, now.Add(-time.Minute)))
	require.NoError(t, repo.ReleasePost(ctx, inv.ID, claim))
	assert.NoError(t, repo.ClaimPost(ctx, inv.ID, uuid.New(), now, now.Add(-time.Minute)))
}

func TestUpdatePaymentRejectsStaleAmount(t *testing.T) {
	db := newTestDB(t)
	repo := NewInvoiceRepository(db)
	companyID := uuid.New()
	inv := seedInvoice(t, repo, companyID, "INV-1")
	ctx := context.Background()

	require.NoError(t, repo.UpdatePayment(ctx, inv.ID,
		PaymentState{Status: model.PaymentPending, AmountPaid: decimal.Zero},
		PaymentState{Status: model.PaymentPartial, AmountPaid: decimal.NewFromInt(100000)}))

	// Two payments computed from the same partial snapshot.
	snapshot := PaymentState{Status: model.PaymentPartial, AmountPaid: decimal.NewFromInt(100000)}
	require.NoError(t, repo.UpdatePayment(ctx, inv.ID, snapshot,
		PaymentState{Status: model.PaymentPartial, AmountPaid: decimal.NewFromInt(150000)}))
	err := repo.UpdatePayment(ctx, inv.ID, snapshot,
		PaymentState{Status: model.PaymentPartial, AmountPaid: decimal.NewFromInt(160000)})
	assert.ErrorIs(t, err, ErrStaleStatus)

	found, err := repo.FindByID(ctx, companyID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPartial, found.PaymentStatus)
	assert.True(t, found.AmountPaid.Equal(decimal.NewFromInt(150000)), found.AmountPaid.String())
}

func TestUpdateRejectsStaleAmountPaid(t *testing.T) {
	db := newTestDB(t)
	repo := NewInvoiceRepository(db)
	companyID := uuid.New()
	inv := seedInvoice(t, repo, companyID, "INV-1")
	ctx := context.Background()

	require.NoError(t, repo.UpdatePayment(ctx, inv.ID,
		PaymentState{Status: model.PaymentPending, AmountPaid: decimal.Zero},
		PaymentState{Status: model.PaymentPartial, AmountPaid: decimal.NewFromInt(100)}))

	inv.Total = decimal.NewFromInt(50)
	err := repo.Update(ctx, inv)
	assert.ErrorIs(t, err, ErrStaleStatus)

	found, err := repo.FindByID(ctx, companyID, inv.ID)
	require.NoError(t, err)
	assert.True(t, found.Total.Equal(decimal.NewFromInt(472000)))

	inv.AmountPaid = found.AmountPaid
	require.NoError(t, repo.Update(ctx, inv))
}

func TestReplaceItemsAndUpdate(t *testing.T) {
	db := newTestDB(t)
	repo := NewInvoiceRepository(db)
	companyID := uuid.New()
	inv := seedInvoice(t, repo, companyID, "INV-1")
	ctx := context.Background()

	items := []model.InvoiceItem{
		{Description: "A", UnitPrice: decimal.NewFromInt(10), Quantity: decimal.NewFromInt(1), LineTotal: decimal.NewFromInt(10)},
		{Description: "B", UnitPrice: decimal.NewFromInt(20), Quantity: decimal.NewFromInt(2), LineTotal: decimal.NewFromInt(40)},
	}
	require.NoError(t, repo.ReplaceItems(ctx, inv.ID, items))

	inv.BuyerBusinessName = "New Buyer"
	inv.Subtotal = decimal.NewFromInt(50)
	inv.Total = decimal.NewFromInt(59)
	require.NoError(t, repo.Update(ctx, inv))

	found, err := repo.FindByID(ctx, companyID, inv.ID)
	require.NoError(t, err)
	require.Len(t, found.Items, 2)
	assert.Equal(t, "A", found.Items[0].Description)
	assert.Equal(t, "B", found.Items[1].Description)
	assert.Equal(t, "New Buyer", found.BuyerBusinessName)
	assert.True(t, found.Total.Equal(decimal.NewFromInt(59)))
	assert.Equal(t, model.StatusDraft, found.Status)
}

func TestUpdateRejectsStaleStatus(t *testing.T) {
	db := newTestDB(t)
	repo := NewInvoiceRepository(db)
	companyID := uuid.New()
	inv := seedInvoice(t, repo, companyID, "INV-1")
	ctx := context.Background()

	require.NoError(t, repo.MarkPosted(ctx, inv.ID, PostedUpdate{FBRInvoiceNumber: "X", FBRResponse: "{}", PostedAt: time.Now()}))

	inv.BuyerBusinessName = "Too Late"
	err := repo.Update(ctx, inv)
	assert.ErrorIs(t, err, ErrStaleStatus)

	found, err := repo.FindByID(ctx, companyID, inv.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "Too Late", found.BuyerBusinessName)
}

func TestListFilters(t *testing.T) {
	db := newTestDB(t)
	repo := NewInvoiceRepository(db)
	companyID := uuid.New()
	ctx := context.Background()

	a := seedInvoice(t, repo, companyID, "INV-20250421-00001")
	seedInvoice(t, repo, companyID, "INV-20250421-00002")
	deleted := seedInvoice(t, repo, companyID, "INV-20250421-00003")
	seedInvoice(t, repo, uuid.New(), "INV-20250421-00001")

	require.NoError(t, repo.UpdateStatus(ctx, deleted.ID, model.StatusDraft, model.StatusDeleted))
	require.NoError(t, repo.UpdatePayment(ctx, a.ID,
		PaymentState{Status: model.PaymentPending, AmountPaid: decimal.Zero},
		PaymentState{Status: model.PaymentOverdue, AmountPaid: decimal.Zero}))

	all, total, err := repo.List(ctx, InvoiceListFilter{CompanyID: companyID, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, all, 2)

	overdue, total, err := repo.List(ctx, InvoiceListFilter{CompanyID: companyID, PaymentStatus: model.PaymentOverdue, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, a.ID, overdue[0].ID)

	onlyDeleted, _, err := repo.List(ctx, InvoiceListFilter{CompanyID: companyID, Status: model.StatusDeleted, Limit: 10})
	require.NoError(t, err)
	require.Len(t, onlyDeleted, 1)

	count, err := repo.CountByPrefix(ctx, companyID, "INV-20250421-")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestSettingsUpsertAndDefault(t *testing.T) {
	db := newTestDB(t)
	repo := NewSettingsRepository(db)
	companyID := uuid.New()
	ctx := context.Background()

	s, err := repo.FindByCompany(ctx, companyID)
	require.NoError(t, err)
	assert.True(t, s.IsSandbox())
	assert.True(t, s.SalesTaxRate.Equal(decimal.NewFromInt(18)), s.SalesTaxRate.String())
	assert.True(t, s.FurtherTaxRate.IsZero())

	require.NoError(t, repo.Upsert(ctx, &model.Settings{CompanyID: companyID, SalesTaxRate: decimal.NewFromInt(18), DefaultHSCode: "5208.1100", FBREnvironment: model.FBREnvSandbox}))
	require.NoError(t, repo.Upsert(ctx, &model.Settings{CompanyID: companyID, SalesTaxRate: decimal.NewFromInt(17), DefaultHSCode: "5208.1200", FBREnvironment: model.FBREnvProduction}))

	s, err = repo.FindByCompany(ctx, companyID)
	require.NoError(t, err)
	assert.Equal(t, "5208.1200", s.DefaultHSCode)
	assert.False(t, s.IsSandbox())
}

func TestTransactionRollsBackAudit(t *testing.T) {
	db := newTestDB(t)
	txm := NewTransactionManager(db)
	audit := NewAuditRepository(db)
	companyID := uuid.New()
	ctx := context.Background()

	boom := errors.New("boom")
	err := txm.RunInTx(ctx, func(txCtx context.Context) error {
		require.NoError(t, audit.Log(txCtx, &model.AuditLog{CompanyID: &companyID, Action: model.ActionChangeStatus, EntityID: "x", Details: "{}"}))
		return boom
	})
	assert.True(t, errors.Is(err, boom))

	require.NoError(t, audit.Log(ctx, &model.AuditLog{CompanyID: &companyID, Action: model.ActionRecordPayment, EntityID: "y", Details: "{}"}))

	logs, total, err := audit.List(ctx, AuditListFilter{CompanyID: companyID, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, model.ActionRecordPayment, logs[0].Action)

	byEntity, total, err := audit.List(ctx, AuditListFilter{CompanyID: companyID, EntityID: "x", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
	assert.Empty(t, byEntity)
}

func TestNestedTransactionJoinsOuter(t *testing.T) {
	db := newTestDB(t)
	txm := NewTransactionManager(db)
	audit := NewAuditRepository(db)
	companyID := uuid.New()
	ctx := context.Background()

	boom := errors.New("boom")
	err := txm.RunInTx(ctx, func(outer context.Context) error {
		require.NoError(t, txm.RunInTx(outer, func(inner context.Context) error {
			assert.True(t, inTx(inner))
			return audit.Log(inner, &model.AuditLog{CompanyID: &companyID, Action: model.ActionFBRPost, EntityID: "x", Details: "{}"})
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, total, err := audit.List(ctx, AuditListFilter{CompanyID: companyID, Limit: 10})
	require.NoError(t, err)
	assert.Zero(t, total)
}
