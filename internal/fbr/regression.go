package fbr

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"einvoice/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ScenarioResult is the validate outcome of one catalog scenario.
type ScenarioResult struct {
	ScenarioID string          `json:"scenario_id"`
	Name       string          `json:"name"`
	Success    bool            `json:"success"`
	Outcome    Outcome         `json:"outcome"`
	HTTPStatus int             `json:"http_status,omitempty"`
	Error      string          `json:"error,omitempty"`
	Response   *Response       `json:"response,omitempty"`
	Payload    *InvoicePayload `json:"payload,omitempty"`
}

// Report holds the results of a regression run in catalog order.
type Report struct {
	RunID          string           `json:"run_id"`
	CatalogVersion string           `json:"catalog_version"`
	StartedAt      time.Time        `json:"started_at"`
	FinishedAt     time.Time        `json:"finished_at"`
	Results        []ScenarioResult `json:"results"`
	Passed         int              `json:"passed"`
	Failed         int              `json:"failed"`
}

// SortedByID returns the results ordered by scenario id.
func (r *Report) SortedByID() []ScenarioResult {
	out := make([]ScenarioResult, len(r.Results))
	copy(out, r.Results)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ScenarioID < out[j].ScenarioID })
	return out
}

func (r *Report) add(res ScenarioResult) {
	r.Results = append(r.Results, res)
	if res.Success {
		r.Passed++
	} else {
		r.Failed++
	}
}

// ProgressFunc is called after each scenario.
type ProgressFunc func(done, total int, res ScenarioResult)

// RegressionRunner validates every catalog scenario, one at a time, against the sandbox.
type RegressionRunner struct {
	gateway Gateway
	catalog *Catalog
	delay   time.Duration
	now     func() time.Time
	log     zerolog.Logger
}

// NewRegressionRunner creates a runner that waits delay between scenarios.
func NewRegressionRunner(gateway Gateway, catalog *Catalog, delay time.Duration, log zerolog.Logger) *RegressionRunner {
	return &RegressionRunner{
		gateway: gateway,
		catalog: catalog,
		delay:   delay,
		now:     time.Now,
		log:     log,
	}
}

// Run validates each scenario with the seller's identity substituted in. Gateway rejections
// and transport failures are recorded per scenario; only cancellation and setup problems
// end the run early. A cancelled run returns the partial report together with the error.
func (r *RegressionRunner) Run(ctx context.Context, seller *model.Company, token string, progress ProgressFunc) (*Report, error) {
	if r.gateway.Environment() != Sandbox {
		return nil, ErrSandboxOnly
	}
	if token == "" {
		return nil, ErrMissingToken
	}
	if seller == nil || seller.NTN == "" {
		return nil, ErrMissingSellerTaxID
	}
	if _, err := sellerFields(seller); err != nil {
		return nil, err
	}

	scenarios := r.catalog.All()
	report := &Report{
		RunID:          uuid.NewString()[:8],
		CatalogVersion: r.catalog.Version(),
		StartedAt:      r.now(),
		Results:        make([]ScenarioResult, 0, len(scenarios)),
	}
	log := r.log.With().Str("run_id", report.RunID).Logger()
	log.Info().Int("scenarios", len(scenarios)).Msg("starting FBR regression run")

	for i, s := range scenarios {
		if i > 0 {
			if err := sleepCtx(ctx, r.delay); err != nil {
				report.FinishedAt = r.now()
				return report, err
			}
		}

		payload, err := s.Instantiate(seller, report.StartedAt, fmt.Sprintf("%s-%s", report.RunID, s.ID))
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", s.ID, err)
		}

		res, err := r.gateway.Validate(ctx, token, payload)
		if err != nil && ctx.Err() != nil {
			report.FinishedAt = r.now()
			return report, ctx.Err()
		}
		if res == nil {
			if err == nil {
				err = errors.New("gateway returned no result")
			}
			return nil, fmt.Errorf("scenario %s: %w", s.ID, err)
		}

		sr := ScenarioResult{
			ScenarioID: s.ID,
			Name:       s.Name,
			Success:    res.Success,
			Outcome:    res.Outcome,
			HTTPStatus: res.HTTPStatus,
			Error:      res.Error,
			Response:   res.Response,
			Payload:    payload,
		}
		report.add(sr)

		log.Info().
			Str("scenario", s.ID).
			Bool("success", sr.Success).
			Str("outcome", string(sr.Outcome)).
			Msg("scenario validated")

		if progress != nil {
			progress(i+1, len(scenarios), sr)
		}
	}

	report.FinishedAt = r.now()
	log.Info().Int("passed", report.Passed).Int("failed", report.Failed).Msg("FBR regression run finished")
	return report, nil
}
