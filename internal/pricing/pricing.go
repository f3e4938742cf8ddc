// Package pricing values quotation line items and aggregates document totals.
// All functions are pure; amounts are accumulated at full float precision and
// rounded to cents only at the result boundary.
package pricing

import (
	"fmt"
	"math"
)

// LineInput describes one quotation line for valuation.
type LineInput struct {
	Quantity        float64
	UnitPrice       float64
	DiscountPercent float64
	TaxRatePercent  float64
}

// LineResult is the monetary breakdown of a single line, rounded to cents.
type LineResult struct {
	Gross          float64 `json:"gross"`
	DiscountAmount float64 `json:"discount_amount"`
	TaxAmount      float64 `json:"tax_amount"`
	LineTotal      float64 `json:"line_total"`
}

// Totals aggregates line results across a quotation, rounded to cents.
type Totals struct {
	Subtotal      float64 `json:"subtotal"`
	DiscountTotal float64 `json:"discount_total"`
	TaxTotal      float64 `json:"tax_total"`
	GrandTotal    float64 `json:"grand_total"`
}

// ValidationError reports a line field outside its allowed range.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("pricing: %s %s", e.Field, e.Message)
}

// RoundCents rounds to two decimal places, halves away from zero.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

func validate(in LineInput) error {
	switch {
	case in.Quantity < 0:
		return &ValidationError{Field: "quantity", Message: "must not be negative"}
	case in.UnitPrice < 0:
		return &ValidationError{Field: "unit_price", Message: "must not be negative"}
	case in.DiscountPercent < 0 || in.DiscountPercent > 100:
		return &ValidationError{Field: "discount_percent", Message: "must be between 0 and 100"}
	case in.TaxRatePercent < 0:
		return &ValidationError{Field: "tax_rate", Message: "must not be negative"}
	}
	return nil
}

// valueLine computes the breakdown at full precision.
func valueLine(in LineInput) (gross, discount, tax, total float64) {
	gross = in.Quantity * in.UnitPrice
	discount = gross * in.DiscountPercent / 100
	taxable := gross - discount
	tax = taxable * in.TaxRatePercent / 100
	total = taxable + tax
	return
}

// ComputeLine values a single line item.
func ComputeLine(in LineInput) (LineResult, error) {
	if err := validate(in); err != nil {
		return LineResult{}, err
	}
	gross, discount, tax, total := valueLine(in)
	return LineResult{
		Gross:          RoundCents(gross),
		DiscountAmount: RoundCents(discount),
		TaxAmount:      RoundCents(tax),
		LineTotal:      RoundCents(total),
	}, nil
}

// ComputeTotals sums line breakdowns into document totals. Rounding happens
// once at the aggregate so permuting the input cannot shift the grand total.
// An empty list yields zero totals.
func ComputeTotals(items []LineInput) (Totals, error) {
	var subtotal, discountTotal, taxTotal, grandTotal float64
	for _, in := range items {
		if err := validate(in); err != nil {
			return Totals{}, err
		}
		gross, discount, tax, total := valueLine(in)
		subtotal += gross
		discountTotal += discount
		taxTotal += tax
		grandTotal += total
	}
	return Totals{
		Subtotal:      RoundCents(subtotal),
		DiscountTotal: RoundCents(discountTotal),
		TaxTotal:      RoundCents(taxTotal),
		GrandTotal:    RoundCents(grandTotal),
	}, nil
}
