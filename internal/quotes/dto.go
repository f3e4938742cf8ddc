package quotes

import (
	"time"

	"github.com/quotedesk/quotedesk/internal/pricing"
)

type CreateQuotationRequest struct {
	CustomerID   int64         `json:"customer_id" validate:"required,gt=0"`
	QuoteDate    time.Time     `json:"quote_date"`
	ValidityDays int           `json:"validity_days" validate:"gte=0"`
	Currency     string        `json:"currency" validate:"required,len=3"`
	PaymentTerms *string       `json:"payment_terms,omitempty"`
	Notes        *string       `json:"notes,omitempty"`
	Lines        []LineItemReq `json:"lines" validate:"dive"`
}

// LineItemReq mirrors the intake form. Numeric fields absent from the payload
// decode to zero; range violations surface as pricing validation errors.
type LineItemReq struct {
	ProductID       *int64  `json:"product_id,omitempty"`
	Description     *string `json:"description,omitempty"`
	Quantity        float64 `json:"quantity"`
	UOM             string  `json:"uom" validate:"max=20"`
	UnitPrice       float64 `json:"unit_price"`
	DiscountPercent float64 `json:"discount_percent"`
	TaxRatePercent  float64 `json:"tax_rate"`
	LineOrder       int     `json:"line_order" validate:"gte=0"`
}

// Input converts the request line into a valuator input.
func (l LineItemReq) Input() pricing.LineInput {
	return pricing.LineInput{
		Quantity:        l.Quantity,
		UnitPrice:       l.UnitPrice,
		DiscountPercent: l.DiscountPercent,
		TaxRatePercent:  l.TaxRatePercent,
	}
}

// SaveQuotationRequest carries an in-place edit. Nil fields keep the stored
// value; a nil Lines slice keeps the stored items.
type SaveQuotationRequest struct {
	QuoteDate    *time.Time       `json:"quote_date,omitempty"`
	ValidityDays *int             `json:"validity_days,omitempty" validate:"omitempty,gte=0"`
	PaymentTerms *string          `json:"payment_terms,omitempty"`
	Notes        *string          `json:"notes,omitempty"`
	Status       *QuotationStatus `json:"status,omitempty" validate:"omitempty,oneof=DRAFT PENDING WON LOST"`
	Lines        *[]LineItemReq   `json:"lines,omitempty" validate:"omitempty,dive"`

	// Comment explains the change. Mandatory for any save that bumps the
	// version; never auto-generated.
	Comment string `json:"comment"`
}

type ReissueRequest struct {
	ValidityDays   *int   `json:"validity_days,omitempty" validate:"omitempty,gt=0"`
	IdempotencyKey string `json:"idempotency_key,omitempty" validate:"omitempty,max=128"`
}

type ReissueResult struct {
	NewQuotationID int64  `json:"new_quotation_id"`
	DocNumber      string `json:"doc_number"`
}

type ListQuotationsRequest struct {
	CustomerID *int64           `json:"customer_id,omitempty"`
	Status     *QuotationStatus `json:"status,omitempty"`
	DateFrom   *time.Time       `json:"date_from,omitempty"`
	DateTo     *time.Time       `json:"date_to,omitempty"`
	Limit      int              `json:"limit" validate:"gte=0,lte=1000"`
	Offset     int              `json:"offset" validate:"gte=0"`
}

// QuotationView is a Quotation enriched with its derived lifecycle state.
type QuotationView struct {
	Quotation
	State ValidityState `json:"state"`
	// ExpiresOn is the derived end of the validity window.
	ExpiresOn time.Time `json:"expires_on"`
}

// ValiditySummary counts open quotations per derived state.
type ValiditySummary struct {
	Valid   int `json:"valid"`
	Due     int `json:"due"`
	Overdue int `json:"overdue"`
	Expired int `json:"expired"`
}

type CreateFollowupRequest struct {
	Type    FollowupType `json:"type" validate:"required,oneof=CALL EMAIL VISIT"`
	DueDate time.Time    `json:"due_date" validate:"required"`
}
