package fbr_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"einvoice/internal/fbr"
	"einvoice/internal/fbrmock"
	"einvoice/internal/model"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seller() *model.Company {
	return &model.Company{
		Name:         "Indus Textiles",
		BusinessName: "Indus Textiles (Pvt) Ltd",
		Address:      "Plot 12, SITE Area, Karachi",
		Province:     "Sindh",
		NTN:          "123-456-7",
	}
}

func catalog(t *testing.T) *fbr.Catalog {
	t.Helper()
	c, err := fbr.DefaultCatalog()
	require.NoError(t, err)
	return c
}

func TestRegressionRunAllPass(t *testing.T) {
	_, srv := newGateway(t, fbrmock.Config{})
	c := catalog(t)

	var progressed []string
	runner := fbr.NewRegressionRunner(newClient(srv.URL, 0), c, time.Millisecond, zerolog.Nop())
	report, err := runner.Run(context.Background(), seller(), token, func(done, total int, res fbr.ScenarioResult) {
		assert.Equal(t, c.Len(), total)
		progressed = append(progressed, res.ScenarioID)
	})
	require.NoError(t, err)

	require.Len(t, report.Results, c.Len())
	assert.Equal(t, c.Len(), report.Passed, "failures: %+v", report.Results)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, c.Version(), report.CatalogVersion)

	for i, s := range c.All() {
		assert.Equal(t, s.ID, report.Results[i].ScenarioID)
		assert.Equal(t, "1234567", report.Results[i].Payload.SellerNTNCNIC)
	}
	assert.Len(t, progressed, c.Len())

	for i, s := range c.SortedByID() {
		assert.Equal(t, s.ID, report.SortedByID()[i].ScenarioID)
	}
}

func TestRegressionRecordsFailuresAndContinues(t *testing.T) {
	mock, srv := newGateway(t, fbrmock.Config{RejectScenarios: []string{"SN006", "SN018"}})
	c := catalog(t)

	report, err := fbr.NewRegressionRunner(newClient(srv.URL, 0), c, 0, zerolog.Nop()).
		Run(context.Background(), seller(), token, nil)
	require.NoError(t, err)

	assert.Len(t, report.Results, c.Len())
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, c.Len()-2, report.Passed)
	assert.Equal(t, c.Len(), mock.Calls(fbr.OpValidate))
	assert.Equal(t, 0, mock.Calls(fbr.OpPost))

	for _, r := range report.Results {
		if r.ScenarioID == "SN006" || r.ScenarioID == "SN018" {
			assert.False(t, r.Success)
			assert.Equal(t, fbr.OutcomeInvalid, r.Outcome)
			assert.NotEmpty(t, r.Error)
		} else {
			assert.True(t, r.Success, r.ScenarioID)
		}
	}
}

func TestRegressionTransportFailureIsPerScenario(t *testing.T) {
	mock, srv := newGateway(t, fbrmock.Config{})
	mock.FailNext(fbr.OpValidate, http.StatusInternalServerError, 1)
	c := catalog(t)

	report, err := fbr.NewRegressionRunner(newClient(srv.URL, 0), c, 0, zerolog.Nop()).
		Run(context.Background(), seller(), token, nil)
	require.NoError(t, err)

	assert.Equal(t, fbr.OutcomeTransportError, report.Results[0].Outcome)
	assert.Equal(t, http.StatusInternalServerError, report.Results[0].HTTPStatus)
	assert.Equal(t, 1, report.Failed)
}

func TestRegressionSandboxOnly(t *testing.T) {
	client := fbr.NewClient(fbr.ClientConfig{Environment: fbr.Production}, zerolog.Nop())

	_, err := fbr.NewRegressionRunner(client, catalog(t), 0, zerolog.Nop()).
		Run(context.Background(), seller(), token, nil)
	assert.True(t, errors.Is(err, fbr.ErrSandboxOnly))
}

func TestRegressionRejectsBadSellerBeforeNetwork(t *testing.T) {
	mock, srv := newGateway(t, fbrmock.Config{})
	s := seller()
	s.NTN = "12-34"

	_, err := fbr.NewRegressionRunner(newClient(srv.URL, 0), catalog(t), 0, zerolog.Nop()).
		Run(context.Background(), s, token, nil)
	assert.True(t, errors.Is(err, fbr.ErrInvalidTaxID))
	assert.Equal(t, 0, mock.Calls(fbr.OpValidate))
}

func TestRegressionCancelReturnsPartialReport(t *testing.T) {
	_, srv := newGateway(t, fbrmock.Config{})
	ctx, cancel := context.WithCancel(context.Background())

	runner := fbr.NewRegressionRunner(newClient(srv.URL, 0), catalog(t), time.Hour, zerolog.Nop())
	report, err := runner.Run(ctx, seller(), token, func(done, total int, _ fbr.ScenarioResult) {
		if done == 1 {
			cancel()
		}
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	require.NotNil(t, report)
	assert.Len(t, report.Results, 1)
}
