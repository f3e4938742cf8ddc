package quotes

import "time"

type QuotationStatus string

const (
	QuotationStatusDraft   QuotationStatus = "DRAFT"
	QuotationStatusPending QuotationStatus = "PENDING"
	QuotationStatusWon     QuotationStatus = "WON"
	QuotationStatusLost    QuotationStatus = "LOST"
)

// Terminal reports whether the status permits no further edits.
func (s QuotationStatus) Terminal() bool {
	return s == QuotationStatusWon || s == QuotationStatusLost
}

// CustomerSnapshot is the denormalized copy of customer data captured when a
// quotation is created. It never changes afterwards, even when the customer
// record does.
type CustomerSnapshot struct {
	CustomerID   int64  `json:"customer_id" db:"customer_id"`
	CustomerName string `json:"customer_name" db:"customer_name"`
	Location     string `json:"location" db:"location"`
	ContactName  string `json:"contact_name" db:"contact_name"`
	ContactEmail string `json:"contact_email" db:"contact_email"`
}

type Quotation struct {
	ID                int64            `json:"id" db:"id"`
	DocNumber         string           `json:"doc_number" db:"doc_number"`
	Customer          CustomerSnapshot `json:"customer"`
	QuoteDate         time.Time        `json:"quote_date" db:"quote_date"`
	ValidityDays      int              `json:"validity_days" db:"validity_days"`
	PaymentTerms      *string          `json:"payment_terms,omitempty" db:"payment_terms"`
	Notes             *string          `json:"notes,omitempty" db:"notes"`
	Status            QuotationStatus  `json:"status" db:"status"`
	Version           string           `json:"version" db:"version"`
	Currency          string           `json:"currency" db:"currency"`
	Subtotal          float64          `json:"subtotal" db:"subtotal"`
	DiscountTotal     float64          `json:"discount_total" db:"discount_total"`
	TaxTotal          float64          `json:"tax_total" db:"tax_total"`
	GrandTotal        float64          `json:"grand_total" db:"grand_total"`
	SourceQuotationID *int64           `json:"source_quotation_id,omitempty" db:"source_quotation_id"`
	LastFollowupAt    *time.Time       `json:"last_followup_at,omitempty" db:"last_followup_at"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at" db:"updated_at"`
	Lines             []LineItem       `json:"lines,omitempty" db:"-"`

	// ItemsRaw carries legacy serialized items for rows imported before lines
	// were normalized. The recompute task converts it into Lines.
	ItemsRaw []byte `json:"-" db:"items_raw"`
}

type LineItem struct {
	ID              int64   `json:"id" db:"id"`
	QuotationID     int64   `json:"quotation_id" db:"quotation_id"`
	ProductID       *int64  `json:"product_id,omitempty" db:"product_id"`
	Description     *string `json:"description,omitempty" db:"description"`
	Quantity        float64 `json:"quantity" db:"quantity"`
	UOM             string  `json:"uom" db:"uom"`
	UnitPrice       float64 `json:"unit_price" db:"unit_price"`
	DiscountPercent float64 `json:"discount_percent" db:"discount_percent"`
	DiscountAmount  float64 `json:"discount_amount" db:"discount_amount"`
	TaxRatePercent  float64 `json:"tax_rate" db:"tax_rate"`
	TaxAmount       float64 `json:"tax_amount" db:"tax_amount"`
	LineTotal       float64 `json:"line_total" db:"line_total"`
	LineOrder       int     `json:"line_order" db:"line_order"`
}

// Revision records one version transition and the mandatory comment that
// explains it.
type Revision struct {
	ID          int64     `json:"id" db:"id"`
	QuotationID int64     `json:"quotation_id" db:"quotation_id"`
	Version     string    `json:"version" db:"version"`
	Comment     string    `json:"comment" db:"comment"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

type FollowupType string

const (
	FollowupTypeCall  FollowupType = "CALL"
	FollowupTypeEmail FollowupType = "EMAIL"
	FollowupTypeVisit FollowupType = "VISIT"
)

type Followup struct {
	ID          int64        `json:"id" db:"id"`
	QuotationID int64        `json:"quotation_id" db:"quotation_id"`
	Type        FollowupType `json:"type" db:"type"`
	DueDate     time.Time    `json:"due_date" db:"due_date"`
	Done        bool         `json:"done" db:"done"`
	CompletedAt *time.Time   `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
}
