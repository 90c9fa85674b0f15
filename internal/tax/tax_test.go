package tax

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCalculate(t *testing.T) {
	tests := []struct {
		name       string
		lines      []Line
		sales      string
		further    string
		subtotal   string
		salesTax   string
		furtherTax string
		total      string
	}{
		{
			name:     "single line at standard rate",
			lines:    []Line{{UnitPrice: d("1000"), Quantity: d("400")}},
			sales:    "18",
			further:  "0",
			subtotal: "400000", salesTax: "72000", furtherTax: "0", total: "472000",
		},
		{
			name: "further tax on unregistered buyer",
			lines: []Line{
				{UnitPrice: d("250.50"), Quantity: d("2")},
				{UnitPrice: d("99.99"), Quantity: d("3")},
			},
			sales:    "18",
			further:  "4",
			subtotal: "800.97", salesTax: "144.1746", furtherTax: "32.0388", total: "977.1834",
		},
		{
			name:     "fractional quantity",
			lines:    []Line{{UnitPrice: d("120"), Quantity: d("2.5")}},
			sales:    "17",
			further:  "0",
			subtotal: "300", salesTax: "51", furtherTax: "0", total: "351",
		},
		{
			name:     "no lines",
			lines:    nil,
			sales:    "18",
			further:  "3",
			subtotal: "0", salesTax: "0", furtherTax: "0", total: "0",
		},
		{
			name:     "exempt goods",
			lines:    []Line{{UnitPrice: d("500"), Quantity: d("10")}},
			sales:    "0",
			further:  "0",
			subtotal: "5000", salesTax: "0", furtherTax: "0", total: "5000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Calculate(tt.lines, d(tt.sales), d(tt.further))

			assert.True(t, got.Subtotal.Equal(d(tt.subtotal)), "subtotal %s", got.Subtotal)
			assert.True(t, got.SalesTaxAmount.Equal(d(tt.salesTax)), "sales tax %s", got.SalesTaxAmount)
			assert.True(t, got.FurtherTaxAmount.Equal(d(tt.furtherTax)), "further tax %s", got.FurtherTaxAmount)
			assert.True(t, got.Total.Equal(d(tt.total)), "total %s", got.Total)
			assert.True(t, got.Total.Equal(got.Subtotal.Add(got.SalesTaxAmount).Add(got.FurtherTaxAmount)))
		})
	}
}

func TestCalculateIsIdempotent(t *testing.T) {
	lines := []Line{
		{UnitPrice: d("333.33"), Quantity: d("3")},
		{UnitPrice: d("0.01"), Quantity: d("7")},
	}

	first := Calculate(lines, d("18"), d("4"))
	second := Calculate(lines, d("18"), d("4"))

	assert.True(t, first.Subtotal.Equal(second.Subtotal))
	assert.True(t, first.SalesTaxAmount.Equal(second.SalesTaxAmount))
	assert.True(t, first.FurtherTaxAmount.Equal(second.FurtherTaxAmount))
	assert.True(t, first.Total.Equal(second.Total))
}

func TestCalculateKeepsFullPrecision(t *testing.T) {
	totals := Calculate([]Line{{UnitPrice: d("1000.25"), Quantity: d("1")}}, d("17.5"), d("2.5"))

	assert.Equal(t, "175.04375", totals.SalesTaxAmount.String())
	assert.Equal(t, "25.00625", totals.FurtherTaxAmount.String())
	assert.True(t, totals.Total.Equal(d("1200.3")), totals.Total.String())
}

func TestPercent(t *testing.T) {
	assert.True(t, Percent(d("472000"), d("18")).Equal(d("84960")))
	assert.True(t, Percent(d("1"), d("0.5")).Equal(d("0.005")))
}

func TestLineTaxSumsToInvoiceTax(t *testing.T) {
	lines := []Line{
		{UnitPrice: d("1000"), Quantity: d("400")},
		{UnitPrice: d("12.5"), Quantity: d("3")},
	}

	sum := d("0")
	for _, l := range lines {
		sum = sum.Add(LineTax(l, d("18")))
	}

	assert.True(t, sum.Equal(Calculate(lines, d("18"), d("0")).SalesTaxAmount))
}
