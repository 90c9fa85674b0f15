package fbr

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)

	assert.NotEmpty(t, c.Version())
	assert.GreaterOrEqual(t, c.Len(), 10)

	for _, s := range c.All() {
		assert.Equal(t, s.ID, s.Payload.ScenarioID)
		assert.NotEmpty(t, s.Name, s.ID)
		assert.NotEmpty(t, s.Payload.Items, s.ID)
		assert.NotEmpty(t, s.Payload.BuyerProvince, s.ID)
	}

	sn1, err := c.Get("SN001")
	require.NoError(t, err)
	assert.Equal(t, "18%", sn1.Payload.Items[0].Rate)
	assert.Equal(t, "180", sn1.Payload.Items[0].SalesTaxApplicable.String())
}

func TestCatalogOrdering(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)

	all := c.All()
	sorted := c.SortedByID()
	require.Len(t, sorted, len(all))

	for i := 1; i < len(sorted); i++ {
		assert.Less(t, sorted[i-1].ID, sorted[i].ID)
	}

	ids := make([]string, len(all))
	for i, s := range all {
		ids[i] = s.ID
	}
	assert.Equal(t, "SN001", ids[0])
	assert.NotEqual(t, ids, func() []string {
		out := make([]string, len(sorted))
		for i, s := range sorted {
			out[i] = s.ID
		}
		return out
	}(), "catalog order is by category, not by id")
}

func TestCatalogGetUnknown(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)

	_, err = c.Get("SN999")
	assert.True(t, errors.Is(err, ErrUnknownScenario))
}

func TestParseCatalogRejectsBadInput(t *testing.T) {
	tests := map[string]string{
		"no version": "scenarios: []",
		"duplicate": `
version: "1"
scenarios:
  - id: SN001
    payload: {items: [{hsCode: "1"}]}
  - id: SN001
    payload: {items: [{hsCode: "1"}]}
`,
		"no items": `
version: "1"
scenarios:
  - id: SN001
    payload: {invoiceType: Sale Invoice}
`,
		"bad amount": `
version: "1"
scenarios:
  - id: SN001
    payload: {items: [{quantity: lots}]}
`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestInstantiate(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)
	s, err := c.Get("SN002")
	require.NoError(t, err)

	date := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	p, err := s.Instantiate(testCompany(), date, "run-1-SN002")
	require.NoError(t, err)

	assert.Equal(t, "1234567", p.SellerNTNCNIC)
	assert.Equal(t, "Indus Textiles (Pvt) Ltd", p.SellerBusinessName)
	assert.Equal(t, "Sindh", p.SellerProvince)
	assert.Equal(t, "2025-05-01", p.InvoiceDate)
	assert.Equal(t, "run-1-SN002", p.InvoiceRefNo)
	assert.Equal(t, "Walk-in Customer", p.BuyerBusinessName)

	p.Items[0].ProductDescription = "changed"
	again, err := c.Get("SN002")
	require.NoError(t, err)
	assert.Equal(t, "product Description", again.Payload.Items[0].ProductDescription)
}

func TestInstantiateRequiresSellerTaxID(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)
	s, err := c.Get("SN001")
	require.NoError(t, err)

	seller := testCompany()
	seller.NTN = ""
	_, err = s.Instantiate(seller, time.Now(), "x")
	assert.True(t, errors.Is(err, ErrMissingSellerTaxID))

	seller.NTN = "12"
	_, err = s.Instantiate(seller, time.Now(), "x")
	assert.True(t, errors.Is(err, ErrInvalidTaxID))
}
