package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"einvoice/internal/fbr"
	"einvoice/internal/fbrmock"
	"einvoice/internal/lifecycle"
	"einvoice/internal/model"
	"einvoice/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreviewPayload(t *testing.T) {
	f := newFixture(t, fbrmock.Config{})
	inv := f.createDraft(t)

	payload, err := f.fbr.PreviewPayload(context.Background(), f.actor, inv.ID)
	require.NoError(t, err)

	assert.Equal(t, "1234567", payload.SellerNTNCNIC)
	assert.Equal(t, "3520212345671", payload.BuyerNTNCNIC)
	assert.Equal(t, inv.ReferenceNo, payload.InvoiceRefNo)
	assert.Equal(t, "SN001", payload.ScenarioID)
	require.Len(t, payload.Items, 1)
	assert.Equal(t, "18%", payload.Items[0].Rate)
	assert.Equal(t, "5208.1100", payload.Items[0].HSCode)
	assert.True(t, payload.Items[0].SalesTaxApplicable.Equal(decimal.NewFromInt(72000)))
	assert.Zero(t, f.mock.Calls(fbr.OpValidate))
}

func TestPreviewPayloadMissingSettingsDefaults(t *testing.T) {
	f := newFixture(t, fbrmock.Config{})
	inv := f.createDraft(t)

	f.updateSettings(t, "default_hs_code", "")

	_, err := f.fbr.PreviewPayload(context.Background(), f.actor, inv.ID)
	var missing *fbr.MissingFieldError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "hsCode", missing.Field)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestValidateInvoiceDoesNotPersist(t *testing.T) {
	f := newFixture(t, fbrmock.Config{})
	inv := f.createDraft(t)

	resp, err := f.fbr.ValidateInvoice(context.Background(), f.actor, inv.ID)
	require.NoError(t, err)
	require.NotNil(t, resp.Validation)
	assert.True(t, resp.Validation.Success)
	assert.Equal(t, fbr.OutcomeValid, resp.Validation.Outcome)
	assert.NotNil(t, resp.Validation.Payload)
	assert.Nil(t, resp.Post)

	got, err := f.invoices.GetInvoice(context.Background(), f.actor, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDraft, got.Status)
	assert.Nil(t, got.FBRInvoiceNumber)
}

func TestPostInvoiceSuccess(t *testing.T) {
	f := newFixture(t, fbrmock.Config{})
	inv := f.createDraft(t)

	resp, err := f.fbr.PostInvoice(context.Background(), f.actor, inv.ID, PostRequest{})
	require.NoError(t, err)

	require.NotNil(t, resp.Validation)
	require.NotNil(t, resp.Post)
	require.NotNil(t, resp.Invoice)
	assert.True(t, resp.Post.Success)
	assert.Equal(t, model.StatusFBRPosted, resp.Invoice.Status)
	require.NotNil(t, resp.Invoice.FBRInvoiceNumber)
	assert.Equal(t, resp.Post.InvoiceNumber(), *resp.Invoice.FBRInvoiceNumber)
	assert.NotEmpty(t, resp.Invoice.FBRResponse)
	assert.NotNil(t, resp.Invoice.FBRPostedAt)
	assert.False(t, resp.Invoice.Editable)
	assert.Equal(t, 1, f.mock.Posted())

	logs, _, err := f.audit.GetAuditLogs(context.Background(), f.actor, inv.ID, 1, 10)
	require.NoError(t, err)
	var posted *AuditLogResponse
	for i := range logs {
		if logs[i].Action == model.ActionFBRPost {
			posted = &logs[i]
		}
	}
	require.NotNil(t, posted)
	assert.Equal(t, model.StatusDraft, posted.FromStatus)
	assert.Equal(t, model.StatusFBRPosted, posted.ToStatus)

	assert.Contains(t, f.events.names(), EventInvoicePosted)
}

func TestPostOnlyFromDraft(t *testing.T) {
	f := newFixture(t, fbrmock.Config{})
	inv := f.createDraft(t)
	ctx := context.Background()

	_, err := f.fbr.PostInvoice(ctx, f.actor, inv.ID, PostRequest{})
	require.NoError(t, err)

	_, err = f.fbr.PostInvoice(ctx, f.actor, inv.ID, PostRequest{})
	assert.ErrorIs(t, err, lifecycle.ErrIllegalTransition)
	assert.Equal(t, 1, f.mock.Calls(fbr.OpPost))
}

func TestPostHaltsOnValidationWarnings(t *testing.T) {
	f := newFixture(t, fbrmock.Config{RejectScenarios: []string{"SN001"}})
	inv := f.createDraft(t)

	resp, err := f.fbr.PostInvoice(context.Background(), f.actor, inv.ID, PostRequest{})
	assert.ErrorIs(t, err, ErrValidationWarnings)
	require.NotNil(t, resp.Validation)
	assert.Equal(t, fbr.OutcomeInvalid, resp.Validation.Outcome)
	assert.NotEmpty(t, resp.Validation.RawResponse)
	assert.Nil(t, resp.Post)
	assert.Zero(t, f.mock.Calls(fbr.OpPost))

	got, err := f.invoices.GetInvoice(context.Background(), f.actor, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDraft, got.Status)
}

func TestPostOverrideStillNeedsGatewayAcceptance(t *testing.T) {
	f := newFixture(t, fbrmock.Config{RejectScenarios: []string{"SN001"}})
	inv := f.createDraft(t)

	resp, err := f.fbr.PostInvoice(context.Background(), f.actor, inv.ID, PostRequest{OverrideWarnings: true})
	assert.ErrorIs(t, err, ErrRejected)
	require.NotNil(t, resp.Post)
	assert.Equal(t, fbr.OutcomeInvalid, resp.Post.Outcome)
	assert.Equal(t, 1, f.mock.Calls(fbr.OpPost))

	got, err := f.invoices.GetInvoice(context.Background(), f.actor, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDraft, got.Status)
	assert.Nil(t, got.FBRInvoiceNumber)
}

func TestPostTransportFailureLeavesInvoiceUnchanged(t *testing.T) {
	f := newFixture(t, fbrmock.Config{})
	inv := f.createDraft(t)
	f.mock.FailNext(fbr.OpPost, http.StatusBadGateway, 1)

	resp, err := f.fbr.PostInvoice(context.Background(), f.actor, inv.ID, PostRequest{})
	assert.ErrorIs(t, err, fbr.ErrTransport)
	require.NotNil(t, resp.Post)
	assert.Equal(t, fbr.OutcomeTransportError, resp.Post.Outcome)
	assert.Equal(t, http.StatusBadGateway, resp.Post.HTTPStatus)

	got, err := f.invoices.GetInvoice(context.Background(), f.actor, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDraft, got.Status)
}

func TestPostInvalidSellerFailsBeforeNetwork(t *testing.T) {
	f := newFixture(t, fbrmock.Config{})
	inv := f.createDraft(t)
	require.NoError(t, f.db.Model(&model.Company{}).Where("id = ?", f.actor.CompanyID).Update("ntn", "12-34").Error)

	_, err := f.fbr.PostInvoice(context.Background(), f.actor, inv.ID, PostRequest{})
	assert.ErrorIs(t, err, fbr.ErrInvalidTaxID)
	assert.Zero(t, f.mock.Calls(fbr.OpValidate))
	assert.Zero(t, f.mock.Calls(fbr.OpPost))
}

func TestConcurrentPostsPostOnce(t *testing.T) {
	f := newFixture(t, fbrmock.Config{})
	inv := f.createDraft(t)

	const n = 5
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.fbr.PostInvoice(context.Background(), f.actor, inv.ID, PostRequest{})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, lifecycle.ErrIllegalTransition) || errors.Is(err, ErrConcurrentPost), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, f.mock.Posted())
}

func TestPostsAcrossInstancesPostOnce(t *testing.T) {
	f := newFixture(t, fbrmock.Config{Latency: 20 * time.Millisecond})
	inv := f.createDraft(t)
	instances := []FBRService{f.fbr, f.otherInstance(t)}

	var wg sync.WaitGroup
	errs := make([]error, len(instances))
	for i, svc := range instances {
		wg.Add(1)
		go func(i int, svc FBRService) {
			defer wg.Done()
			_, errs[i] = svc.PostInvoice(context.Background(), f.actor, inv.ID, PostRequest{})
		}(i, svc)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, lifecycle.ErrIllegalTransition) || errors.Is(err, ErrConcurrentPost), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, f.mock.Calls(fbr.OpPost))
	assert.Equal(t, 1, f.mock.Posted())
}

func TestPostSkipsGatewayWhileAnotherInstanceHoldsClaim(t *testing.T) {
	f := newFixture(t, fbrmock.Config{})
	inv := f.createDraft(t)
	ctx := context.Background()
	repo := repository.NewInvoiceRepository(f.db)
	id := uuid.MustParse(inv.ID)

	now := time.Now().UTC()
	require.NoError(t, repo.ClaimPost(ctx, id, uuid.New(), now, now.Add(-time.Minute)))

	_, err := f.fbr.PostInvoice(ctx, f.actor, inv.ID, PostRequest{})
	assert.ErrorIs(t, err, ErrConcurrentPost)
	assert.Zero(t, f.mock.Calls(fbr.OpPost))

	// An abandoned claim is taken over once it is older than the lease.
	stale := now.Add(-time.Hour)
	require.NoError(t, f.db.Model(&model.Invoice{}).Where("id = ?", id).Update("post_claimed_at", stale).Error)

	resp, err := f.fbr.PostInvoice(ctx, f.actor, inv.ID, PostRequest{})
	require.NoError(t, err)
	assert.Equal(t, model.StatusFBRPosted, resp.Invoice.Status)

	stored, err := repo.FindByID(ctx, f.actor.CompanyID, id)
	require.NoError(t, err)
	assert.Nil(t, stored.PostClaim)
}

func TestRejectedPostReleasesClaim(t *testing.T) {
	f := newFixture(t, fbrmock.Config{})
	inv := f.createDraft(t)
	ctx := context.Background()
	f.mock.FailNext(fbr.OpPost, http.StatusBadGateway, 1)

	_, err := f.fbr.PostInvoice(ctx, f.actor, inv.ID, PostRequest{})
	require.ErrorIs(t, err, fbr.ErrTransport)

	stored, err := repository.NewInvoiceRepository(f.db).FindByID(ctx, f.actor.CompanyID, uuid.MustParse(inv.ID))
	require.NoError(t, err)
	assert.Nil(t, stored.PostClaim)

	_, err = f.otherInstance(t).PostInvoice(ctx, f.actor, inv.ID, PostRequest{})
	require.NoError(t, err)
}

func TestSubmitAutoPostsValidInvoice(t *testing.T) {
	f := newFixture(t, fbrmock.Config{})
	inv := f.createDraft(t)

	resp, err := f.fbr.SubmitInvoice(context.Background(), f.actor, inv.ID)
	require.NoError(t, err)
	assert.True(t, resp.Validation.Success)
	assert.True(t, resp.Post.Success)
	assert.Equal(t, model.StatusFBRPosted, resp.Invoice.Status)
	assert.Equal(t, 1, f.mock.Calls(fbr.OpValidate), "submit validates once")
}

func TestSubmitStopsOnInvalid(t *testing.T) {
	f := newFixture(t, fbrmock.Config{RejectScenarios: []string{"SN001"}})
	inv := f.createDraft(t)

	resp, err := f.fbr.SubmitInvoice(context.Background(), f.actor, inv.ID)
	assert.ErrorIs(t, err, ErrValidationWarnings)
	assert.Nil(t, resp.Post)
	assert.Zero(t, f.mock.Calls(fbr.OpPost))
}

func TestSubmitCancelledDuringDelay(t *testing.T) {
	f := newFixture(t, fbrmock.Config{})
	inv := f.createDraft(t)
	svc := f.fbr.(*fbrService)
	svc.cfg.AutoPostDelay = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.fbr.SubmitInvoice(ctx, f.actor, inv.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, f.mock.Calls(fbr.OpPost))
}

func TestListScenarios(t *testing.T) {
	f := newFixture(t, fbrmock.Config{})

	fetched := f.fbr.ListScenarios(false)
	sorted := f.fbr.ListScenarios(true)

	require.NotEmpty(t, fetched.Scenarios)
	assert.Equal(t, fetched.Version, sorted.Version)
	assert.Len(t, sorted.Scenarios, len(fetched.Scenarios))
	for i := 1; i < len(sorted.Scenarios); i++ {
		assert.Less(t, sorted.Scenarios[i-1].ID, sorted.Scenarios[i].ID)
	}
}

func TestRunRegression(t *testing.T) {
	f := newFixture(t, fbrmock.Config{RejectScenarios: []string{"SN002"}})

	report, err := f.fbr.RunRegression(context.Background(), f.actor)
	require.NoError(t, err)

	catalog, err := fbr.DefaultCatalog()
	require.NoError(t, err)
	require.Len(t, report.Results, catalog.Len())
	assert.Equal(t, catalog.Len()-1, report.Passed)
	assert.Equal(t, 1, report.Failed)

	progress := 0
	for _, name := range f.events.names() {
		if name == EventRegressionProgress {
			progress++
		}
	}
	assert.Equal(t, catalog.Len(), progress)
	assert.Contains(t, f.events.names(), EventRegressionFinished)

	logs, total, err := f.audit.GetAuditLogs(context.Background(), f.actor, report.RunID, 1, 10)
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	assert.Equal(t, model.ActionFBRRegressionRun, logs[0].Action)
}

func TestRunRegressionSandboxOnly(t *testing.T) {
	f := newFixture(t, fbrmock.Config{})
	f.updateSettings(t, "fbr_environment", model.FBREnvProduction)

	_, err := f.fbr.RunRegression(context.Background(), f.actor)
	assert.ErrorIs(t, err, fbr.ErrSandboxOnly)
	assert.Zero(t, f.mock.Calls(fbr.OpValidate))
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")
	done := make(chan struct{})
	go func() {
		defer close(done)
		k.Lock("a")()
	}()

	select {
	case <-done:
		t.Fatal("second lock acquired while held")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	<-done
	assert.Zero(t, k.size())
}
