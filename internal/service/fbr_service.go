package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"einvoice/internal/fbr"
	"einvoice/internal/lifecycle"
	"einvoice/internal/logger"
	"einvoice/internal/model"
	"einvoice/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// --- DTOs ---

type PostRequest struct {
	// OverrideWarnings posts even when pre-flight validation reports the invoice Invalid.
	OverrideWarnings bool `json:"override_warnings"`
}

// SubmissionResponse reports every gateway exchange of a validate, post or submit call.
type SubmissionResponse struct {
	Invoice    *InvoiceResponse      `json:"invoice,omitempty"`
	Validation *fbr.SubmissionResult `json:"validation,omitempty"`
	Post       *fbr.SubmissionResult `json:"post,omitempty"`
}

type ScenarioResponse struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Category    string             `json:"category"`
	Description string             `json:"description"`
	Payload     fbr.InvoicePayload `json:"payload"`
}

type ScenarioListResponse struct {
	Version   string             `json:"version"`
	Scenarios []ScenarioResponse `json:"scenarios"`
}

// FBRServiceConfig wires the gateway side of the pipeline.
type FBRServiceConfig struct {
	// Gateways holds one client per environment; each company's settings pick one.
	Gateways        []fbr.Gateway
	Catalog         *fbr.Catalog
	RegressionDelay time.Duration
	AutoPostDelay   time.Duration
	// PostClaimTTL bounds how long a crashed poster can keep other instances from
	// posting the same draft. Defaults to defaultPostClaimTTL.
	PostClaimTTL      time.Duration
	IncludeFurtherTax bool
}

const defaultPostClaimTTL = 5 * time.Minute

// --- Interface ---

type FBRService interface {
	PreviewPayload(ctx context.Context, actor Actor, id string) (*fbr.InvoicePayload, error)
	ValidateInvoice(ctx context.Context, actor Actor, id string) (SubmissionResponse, error)
	PostInvoice(ctx context.Context, actor Actor, id string, req PostRequest) (SubmissionResponse, error)
	SubmitInvoice(ctx context.Context, actor Actor, id string) (SubmissionResponse, error)
	ListScenarios(sortByID bool) ScenarioListResponse
	RunRegression(ctx context.Context, actor Actor) (*fbr.Report, error)
}

type fbrService struct {
	invoiceRepo  repository.InvoiceRepository
	companyRepo  repository.CompanyRepository
	settingsRepo repository.SettingsRepository
	auditRepo    repository.AuditRepository
	txManager    repository.TransactionManager
	events       EventPublisher
	gateways     map[fbr.Environment]fbr.Gateway
	catalog      *fbr.Catalog
	cfg          FBRServiceConfig
	locks        *keyedMutex
	now          func() time.Time
	log          zerolog.Logger
}

func NewFBRService(
	invoiceRepo repository.InvoiceRepository,
	companyRepo repository.CompanyRepository,
	settingsRepo repository.SettingsRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	events EventPublisher,
	cfg FBRServiceConfig,
) FBRService {
	gateways := make(map[fbr.Environment]fbr.Gateway, len(cfg.Gateways))
	for _, g := range cfg.Gateways {
		gateways[g.Environment()] = g
	}
	return &fbrService{
		invoiceRepo:  invoiceRepo,
		companyRepo:  companyRepo,
		settingsRepo: settingsRepo,
		auditRepo:    auditRepo,
		txManager:    txManager,
		events:       publisherOrNop(events),
		gateways:     gateways,
		catalog:      cfg.Catalog,
		cfg:          cfg,
		locks:        newKeyedMutex(),
		now:          time.Now,
		log:          logger.WithComponent("fbr-service"),
	}
}

// submission is everything one gateway exchange for an invoice needs.
type submission struct {
	invoice  *model.Invoice
	company  *model.Company
	settings *model.Settings
	payload  *fbr.InvoicePayload
	gateway  fbr.Gateway
	token    string
}

// prepare loads the invoice with its seller and builds the payload. All input
// problems surface here, before any network call.
func (s *fbrService) prepare(ctx context.Context, actor Actor, id string) (*submission, error) {
	invoice, err := findInvoice(ctx, s.invoiceRepo, actor.CompanyID, id)
	if err != nil {
		return nil, err
	}
	company, settings, err := loadSeller(ctx, s.companyRepo, s.settingsRepo, actor.CompanyID)
	if err != nil {
		return nil, err
	}

	payload, err := fbr.BuildPayload(fbr.BuildInput{
		Invoice:  invoice,
		Company:  company,
		Settings: settings,
		Options:  fbr.BuildOptions{IncludeFurtherTax: s.cfg.IncludeFurtherTax},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	gateway, err := s.gatewayFor(settings)
	if err != nil {
		return nil, err
	}
	return &submission{
		invoice:  invoice,
		company:  company,
		settings: settings,
		payload:  payload,
		gateway:  gateway,
		token:    settings.Token(company),
	}, nil
}

func (s *fbrService) gatewayFor(settings *model.Settings) (fbr.Gateway, error) {
	env := fbr.ParseEnvironment(settings.FBREnvironment)
	g, ok := s.gateways[env]
	if !ok {
		return nil, fmt.Errorf("no FBR gateway configured for %s", env)
	}
	return g, nil
}

func (s *fbrService) PreviewPayload(ctx context.Context, actor Actor, id string) (*fbr.InvoicePayload, error) {
	sub, err := s.prepare(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return sub.payload, nil
}

// ValidateInvoice dry-runs the invoice against the gateway. Nothing is persisted.
func (s *fbrService) ValidateInvoice(ctx context.Context, actor Actor, id string) (SubmissionResponse, error) {
	sub, err := s.prepare(ctx, actor, id)
	if err != nil {
		return SubmissionResponse{}, err
	}

	res, err := sub.gateway.Validate(ctx, sub.token, sub.payload)
	s.logResult(sub, res, err)
	resp := SubmissionResponse{Validation: res}
	if err != nil {
		return resp, err
	}
	inv := toInvoiceResponse(*sub.invoice)
	resp.Invoice = &inv
	return resp, nil
}

// PostInvoice validates, then posts. An Invalid validation halts the post unless the
// operator overrides it. Only an accepted post moves the invoice to fbr_posted.
func (s *fbrService) PostInvoice(ctx context.Context, actor Actor, id string, req PostRequest) (SubmissionResponse, error) {
	invoiceID, err := parseID(id)
	if err != nil {
		return SubmissionResponse{}, err
	}
	unlock := s.locks.Lock(invoiceID.String())
	defer unlock()

	sub, err := s.prepare(ctx, actor, id)
	if err != nil {
		return SubmissionResponse{}, err
	}
	if _, err := lifecycle.Posted(sub.invoice.Status); err != nil {
		return SubmissionResponse{}, err
	}

	validation, err := sub.gateway.Validate(ctx, sub.token, sub.payload)
	s.logResult(sub, validation, err)
	resp := SubmissionResponse{Validation: validation}
	if err != nil {
		return resp, err
	}
	if !validation.Success {
		if !req.OverrideWarnings {
			return resp, fmt.Errorf("%w: %s", ErrValidationWarnings, validation.Error)
		}
		s.log.Warn().Str("invoice_id", sub.invoice.ID.String()).Str("error", validation.Error).
			Msg("posting despite validation warnings")
	}

	return s.post(ctx, actor, sub, resp)
}

// SubmitInvoice validates and, when the gateway reports the invoice Valid, posts it
// after the configured delay.
func (s *fbrService) SubmitInvoice(ctx context.Context, actor Actor, id string) (SubmissionResponse, error) {
	invoiceID, err := parseID(id)
	if err != nil {
		return SubmissionResponse{}, err
	}
	unlock := s.locks.Lock(invoiceID.String())
	defer unlock()

	sub, err := s.prepare(ctx, actor, id)
	if err != nil {
		return SubmissionResponse{}, err
	}
	if _, err := lifecycle.Posted(sub.invoice.Status); err != nil {
		return SubmissionResponse{}, err
	}

	validation, err := sub.gateway.Validate(ctx, sub.token, sub.payload)
	s.logResult(sub, validation, err)
	resp := SubmissionResponse{Validation: validation}
	if err != nil {
		return resp, err
	}
	if !validation.Success {
		return resp, fmt.Errorf("%w: %s", ErrValidationWarnings, validation.Error)
	}

	if err := sleepCtx(ctx, s.cfg.AutoPostDelay); err != nil {
		return resp, err
	}
	return s.post(ctx, actor, sub, resp)
}

// post sends the payload and, on acceptance, records the transition. The caller holds the
// in-process invoice lock; the post claim on the row covers other instances.
func (s *fbrService) post(ctx context.Context, actor Actor, sub *submission, resp SubmissionResponse) (SubmissionResponse, error) {
	claim := uuid.New()
	now := s.now().UTC()
	ttl := s.cfg.PostClaimTTL
	if ttl <= 0 {
		ttl = defaultPostClaimTTL
	}
	err := s.invoiceRepo.ClaimPost(ctx, sub.invoice.ID, claim, now, now.Add(-ttl))
	if errors.Is(err, repository.ErrStaleStatus) {
		return resp, ErrConcurrentPost
	}
	if err != nil {
		return resp, fmt.Errorf("failed to claim invoice for posting: %w", err)
	}

	res, err := sub.gateway.Post(ctx, sub.token, sub.payload)
	s.logResult(sub, res, err)
	resp.Post = res
	if err == nil && !res.Success {
		err = fmt.Errorf("%w: %s", ErrRejected, res.Error)
	}
	if err != nil {
		s.releasePost(ctx, sub.invoice.ID, claim)
		return resp, err
	}

	tr, err := lifecycle.Posted(sub.invoice.Status)
	if err != nil {
		return resp, err
	}
	number := res.InvoiceNumber()
	postedAt := s.now()

	// The gateway has accepted the invoice; record it even if the caller went away.
	persistCtx := context.WithoutCancel(ctx)
	err = s.txManager.RunInTx(persistCtx, func(txCtx context.Context) error {
		err := s.invoiceRepo.MarkPosted(txCtx, sub.invoice.ID, repository.PostedUpdate{
			FBRInvoiceNumber: number,
			FBRResponse:      res.RawResponse,
			PostedAt:         postedAt,
		})
		if errors.Is(err, repository.ErrStaleStatus) {
			return ErrConcurrentPost
		}
		if err != nil {
			return fmt.Errorf("failed to mark invoice posted: %w", err)
		}
		return writeAudit(txCtx, s.auditRepo, actor, auditEntry{
			action:     model.ActionFBRPost,
			invoice:    sub.invoice,
			transition: &tr,
			details: map[string]interface{}{
				"fbr_invoice_number": number,
				"environment":        sub.gateway.Environment(),
				"attempts":           res.Attempts,
			},
		})
	})
	if err != nil {
		s.log.Error().Err(err).Str("invoice_id", sub.invoice.ID.String()).Str("fbr_invoice_number", number).
			Msg("gateway accepted the invoice but recording it failed")
		return resp, err
	}

	s.log.Info().Str("invoice_id", sub.invoice.ID.String()).Str("fbr_invoice_number", number).Msg("invoice posted")

	reloaded, err := s.invoiceRepo.FindByID(persistCtx, actor.CompanyID, sub.invoice.ID)
	if err != nil {
		return resp, fmt.Errorf("failed to reload invoice: %w", err)
	}
	inv := toInvoiceResponse(*reloaded)
	resp.Invoice = &inv

	data := transitionEvent(sub.invoice, tr)
	data["fbr_invoice_number"] = number
	s.events.Publish(actor.CompanyID, EventInvoicePosted, data)
	return resp, nil
}

// releasePost gives up the claim after the gateway did not accept the invoice.
func (s *fbrService) releasePost(ctx context.Context, id, claim uuid.UUID) {
	if err := s.invoiceRepo.ReleasePost(context.WithoutCancel(ctx), id, claim); err != nil {
		s.log.Warn().Err(err).Str("invoice_id", id.String()).Msg("failed to release post claim")
	}
}

func (s *fbrService) logResult(sub *submission, res *fbr.SubmissionResult, err error) {
	ev := s.log.Info()
	if err != nil {
		ev = s.log.Warn().Err(err)
	}
	ev = ev.Str("invoice_id", sub.invoice.ID.String()).Str("environment", string(sub.gateway.Environment()))
	if res != nil {
		ev = ev.Str("operation", string(res.Operation)).Str("outcome", string(res.Outcome)).
			Int("http_status", res.HTTPStatus).Int("attempts", res.Attempts)
	}
	ev.Msg("gateway exchange finished")
}

func (s *fbrService) ListScenarios(sortByID bool) ScenarioListResponse {
	scenarios := s.catalog.All()
	if sortByID {
		scenarios = s.catalog.SortedByID()
	}
	resp := ScenarioListResponse{
		Version:   s.catalog.Version(),
		Scenarios: make([]ScenarioResponse, 0, len(scenarios)),
	}
	for _, sc := range scenarios {
		resp.Scenarios = append(resp.Scenarios, ScenarioResponse{
			ID:          sc.ID,
			Name:        sc.Name,
			Category:    sc.Category,
			Description: sc.Description,
			Payload:     sc.Payload,
		})
	}
	return resp
}

// RunRegression validates every catalog scenario with the company as seller. Progress is
// published as events; the finished run is audited.
func (s *fbrService) RunRegression(ctx context.Context, actor Actor) (*fbr.Report, error) {
	company, settings, err := loadSeller(ctx, s.companyRepo, s.settingsRepo, actor.CompanyID)
	if err != nil {
		return nil, err
	}
	if !settings.IsSandbox() {
		return nil, fbr.ErrSandboxOnly
	}
	gateway, err := s.gatewayFor(settings)
	if err != nil {
		return nil, err
	}

	runner := fbr.NewRegressionRunner(gateway, s.catalog, s.cfg.RegressionDelay, logger.WithComponent("fbr-regression"))
	report, runErr := runner.Run(ctx, company, settings.Token(company), func(done, total int, res fbr.ScenarioResult) {
		s.events.Publish(actor.CompanyID, EventRegressionProgress, map[string]interface{}{
			"done":        done,
			"total":       total,
			"scenario_id": res.ScenarioID,
			"success":     res.Success,
			"outcome":     res.Outcome,
		})
	})
	if report == nil {
		return nil, runErr
	}

	summary := map[string]interface{}{
		"run_id":          report.RunID,
		"catalog_version": report.CatalogVersion,
		"passed":          report.Passed,
		"failed":          report.Failed,
		"completed":       runErr == nil,
	}
	err = s.txManager.RunInTx(context.WithoutCancel(ctx), func(txCtx context.Context) error {
		return writeAudit(txCtx, s.auditRepo, actor, auditEntry{
			action:     model.ActionFBRRegressionRun,
			entityID:   report.RunID,
			entityName: "FBR regression " + report.CatalogVersion,
			details:    summary,
		})
	})
	if err != nil {
		return report, err
	}
	s.events.Publish(actor.CompanyID, EventRegressionFinished, summary)
	return report, runErr
}
