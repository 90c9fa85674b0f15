// Package tax computes invoice amounts for Pakistani sales tax.
//
// All arithmetic is exact decimal; nothing is rounded here. Rounding for
// display belongs to whoever renders the numbers.
package tax

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Line is a single priced line of an invoice.
type Line struct {
	UnitPrice decimal.Decimal
	Quantity  decimal.Decimal
}

// Totals holds the derived monetary fields of an invoice.
type Totals struct {
	Subtotal         decimal.Decimal
	SalesTaxRate     decimal.Decimal
	SalesTaxAmount   decimal.Decimal
	FurtherTaxRate   decimal.Decimal
	FurtherTaxAmount decimal.Decimal
	Total            decimal.Decimal
}

// LineTotal returns unit price times quantity.
func LineTotal(l Line) decimal.Decimal {
	return l.UnitPrice.Mul(l.Quantity)
}

// LineTax returns the tax a single line carries at rate. Summed over all lines it
// equals Percent(subtotal, rate).
func LineTax(l Line, rate decimal.Decimal) decimal.Decimal {
	return Percent(LineTotal(l), rate)
}

// Percent applies a percentage rate to an amount.
func Percent(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Div(hundred)
}

// Calculate derives subtotal, sales tax, further tax and total for the given lines.
// Rates are percentages (18 means 18%).
func Calculate(lines []Line, salesRate, furtherRate decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(LineTotal(l))
	}

	salesTax := Percent(subtotal, salesRate)
	furtherTax := Percent(subtotal, furtherRate)

	return Totals{
		Subtotal:         subtotal,
		SalesTaxRate:     salesRate,
		SalesTaxAmount:   salesTax,
		FurtherTaxRate:   furtherRate,
		FurtherTaxAmount: furtherTax,
		Total:            subtotal.Add(salesTax).Add(furtherTax),
	}
}
