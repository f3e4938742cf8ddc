package quotes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/currency"

	"github.com/quotedesk/quotedesk/internal/platform/cache"
	"github.com/quotedesk/quotedesk/internal/platform/httpx"
	"github.com/quotedesk/quotedesk/internal/pricing"
)

var (
	// ErrCommentRequired rejects a version-changing save without a comment.
	ErrCommentRequired = errors.New("change comment required")
	// ErrQuotationExpired rejects in-place edits to an expired quotation.
	ErrQuotationExpired = errors.New("quotation expired, reissue instead of editing")
	// ErrNotExpired rejects reissuing a quotation that is still alive.
	ErrNotExpired = errors.New("only expired quotations can be reissued")
	// ErrVersionConflict indicates a concurrent editor won the save.
	ErrVersionConflict = errors.New("quotation was modified concurrently")
	// ErrTerminalStatus rejects edits to won or lost quotations.
	ErrTerminalStatus = errors.New("quotation is closed")
	// ErrItemsNotNormalized rejects reissuing a legacy row whose items still
	// live in the raw import payload.
	ErrItemsNotNormalized = errors.New("quotation items await normalization, run recompute first")
)

const (
	summaryCacheKey = "quotes:summary"
	reissueModule   = "quotes.reissue"
)

// IdempotencyChecker guards retried mutating operations. Delete releases a
// key recorded for an operation that subsequently failed.
type IdempotencyChecker interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// ServiceConfig holds lifecycle policy knobs.
type ServiceConfig struct {
	Policy              ValidityPolicy
	DefaultValidityDays int
}

type Service struct {
	repo   Repository
	idem   IdempotencyChecker
	cache  *cache.JSONCache
	logger *slog.Logger
	cfg    ServiceConfig
	now    func() time.Time
}

func NewService(repo Repository, idem IdempotencyChecker, summaryCache *cache.JSONCache, logger *slog.Logger, cfg ServiceConfig) *Service {
	if cfg.Policy.DueWindowDays == 0 {
		cfg.Policy = DefaultValidityPolicy
	}
	if cfg.DefaultValidityDays == 0 {
		cfg.DefaultValidityDays = 30
	}
	return &Service{
		repo:   repo,
		idem:   idem,
		cache:  summaryCache,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) view(q *Quotation) *QuotationView {
	return &QuotationView{
		Quotation: *q,
		State:     s.cfg.Policy.Derive(q.QuoteDate, q.ValidityDays, s.now()),
		ExpiresOn: ExpiresOn(q.QuoteDate, q.ValidityDays),
	}
}

// ComputeLine values one line without persisting anything.
func (s *Service) ComputeLine(in pricing.LineInput) (pricing.LineResult, error) {
	return pricing.ComputeLine(in)
}

// ComputeTotals aggregates lines without persisting anything.
func (s *Service) ComputeTotals(items []pricing.LineInput) (pricing.Totals, error) {
	return pricing.ComputeTotals(items)
}

func (s *Service) Get(ctx context.Context, id int64) (*QuotationView, error) {
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(q), nil
}

func (s *Service) List(ctx context.Context, req ListQuotationsRequest) ([]QuotationView, int, error) {
	if req.Limit <= 0 {
		req.Limit = 50
	}
	quotations, total, err := s.repo.List(ctx, req)
	if err != nil {
		return nil, 0, err
	}
	views := make([]QuotationView, 0, len(quotations))
	for i := range quotations {
		views = append(views, *s.view(&quotations[i]))
	}
	return views, total, nil
}

func (s *Service) Revisions(ctx context.Context, id int64) ([]Revision, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListRevisions(ctx, id)
}

// Create opens a new draft quotation at the initial version, capturing the
// customer snapshot as of now.
func (s *Service) Create(ctx context.Context, req CreateQuotationRequest) (*QuotationView, error) {
	if _, err := currency.ParseISO(req.Currency); err != nil {
		return nil, fmt.Errorf("%w: unknown currency %q", httpx.ErrValidation, req.Currency)
	}

	snapshot, err := s.repo.GetCustomerSnapshot(ctx, req.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("capture customer snapshot: %w", err)
	}

	quoteDate := req.QuoteDate
	if quoteDate.IsZero() {
		quoteDate = s.now()
	}
	validityDays := req.ValidityDays
	if validityDays == 0 {
		validityDays = s.cfg.DefaultValidityDays
	}

	lines, totals, err := buildLines(req.Lines)
	if err != nil {
		return nil, err
	}

	quotation := Quotation{
		Customer:      *snapshot,
		QuoteDate:     quoteDate,
		ValidityDays:  validityDays,
		PaymentTerms:  req.PaymentTerms,
		Notes:         req.Notes,
		Status:        QuotationStatusDraft,
		Version:       InitialVersion,
		Currency:      req.Currency,
		Subtotal:      totals.Subtotal,
		DiscountTotal: totals.DiscountTotal,
		TaxTotal:      totals.TaxTotal,
		GrandTotal:    totals.GrandTotal,
	}

	var id int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		docNumber, err := repo.GenerateNumber(ctx, quoteDate)
		if err != nil {
			return fmt.Errorf("generate doc number: %w", err)
		}
		quotation.DocNumber = docNumber

		id, err = repo.Create(ctx, quotation)
		if err != nil {
			return fmt.Errorf("create quotation: %w", err)
		}
		return repo.ReplaceLines(ctx, id, lines)
	})
	if err != nil {
		return nil, err
	}

	s.invalidateSummary(ctx)
	return s.Get(ctx, id)
}

// Save applies an in-place edit. Content changes bump the version and demand
// a comment; a payload identical to the stored state is a no-op. The version
// check on write makes concurrent editors fail loudly instead of silently
// overwriting each other.
func (s *Service) Save(ctx context.Context, id int64, req SaveQuotationRequest) (*QuotationView, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if existing.Status.Terminal() {
		return nil, ErrTerminalStatus
	}
	if s.cfg.Policy.Derive(existing.QuoteDate, existing.ValidityDays, s.now()) == StateExpired {
		return nil, ErrQuotationExpired
	}

	if !changesContent(existing, req) {
		return s.view(existing), nil
	}

	newVersion := BumpVersion(existing.Version)
	if RequiresComment(existing.Version, newVersion) && strings.TrimSpace(req.Comment) == "" {
		return nil, ErrCommentRequired
	}

	var (
		lines  []LineItem
		totals pricing.Totals
	)
	if req.Lines != nil {
		lines, totals, err = buildLines(*req.Lines)
	} else {
		// Re-derive totals from the stored items so any drift heals on save.
		totals, err = pricing.ComputeTotals(lineInputs(existing.Lines))
	}
	if err != nil {
		return nil, err
	}

	updates := map[string]any{
		"version":        newVersion,
		"subtotal":       totals.Subtotal,
		"discount_total": totals.DiscountTotal,
		"tax_total":      totals.TaxTotal,
		"grand_total":    totals.GrandTotal,
	}
	if req.QuoteDate != nil {
		updates["quote_date"] = *req.QuoteDate
	}
	if req.ValidityDays != nil {
		updates["validity_days"] = *req.ValidityDays
	}
	if req.PaymentTerms != nil {
		updates["payment_terms"] = *req.PaymentTerms
	}
	if req.Notes != nil {
		updates["notes"] = *req.Notes
	}
	if req.Status != nil {
		updates["status"] = *req.Status
	}
	if req.Lines != nil && existing.ItemsRaw != nil {
		updates["items_raw"] = nil
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		ok, err := repo.UpdateHeader(ctx, id, existing.Version, updates)
		if err != nil {
			return fmt.Errorf("update quotation: %w", err)
		}
		if !ok {
			return ErrVersionConflict
		}
		if req.Lines != nil {
			if err := repo.ReplaceLines(ctx, id, lines); err != nil {
				return fmt.Errorf("replace lines: %w", err)
			}
		}
		return repo.InsertRevision(ctx, Revision{
			QuotationID: id,
			Version:     newVersion,
			Comment:     strings.TrimSpace(req.Comment),
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidateSummary(ctx)
	return s.Get(ctx, id)
}

// Reissue creates a fresh draft from an expired quotation. The source row is
// never touched; the new row carries a back-reference to it. Legacy rows
// whose items have not been normalized out of items_raw yet are rejected,
// otherwise the copy would silently drop them.
func (s *Service) Reissue(ctx context.Context, sourceID int64, req ReissueRequest) (*ReissueResult, error) {
	source, err := s.repo.Get(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	if s.cfg.Policy.Derive(source.QuoteDate, source.ValidityDays, s.now()) != StateExpired {
		return nil, ErrNotExpired
	}
	if len(source.Lines) == 0 && len(source.ItemsRaw) > 0 {
		return nil, ErrItemsNotNormalized
	}

	validityDays := source.ValidityDays
	if req.ValidityDays != nil {
		validityDays = *req.ValidityDays
	}

	now := s.now()
	totals, err := pricing.ComputeTotals(lineInputs(source.Lines))
	if err != nil {
		return nil, err
	}

	// The key commits before the transaction and is released again if the
	// transaction fails, so a retry after a rollback runs cleanly instead of
	// hitting a poisoned key.
	keyRecorded := false
	if s.idem != nil && req.IdempotencyKey != "" {
		if err := s.idem.CheckAndInsert(ctx, req.IdempotencyKey, reissueModule); err != nil {
			return nil, err
		}
		keyRecorded = true
	}

	var result ReissueResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		docNumber, err := repo.GenerateNumber(ctx, now)
		if err != nil {
			return fmt.Errorf("generate doc number: %w", err)
		}

		sourceRef := source.ID
		id, err := repo.Create(ctx, Quotation{
			DocNumber:         docNumber,
			Customer:          source.Customer,
			QuoteDate:         now,
			ValidityDays:      validityDays,
			PaymentTerms:      source.PaymentTerms,
			Notes:             source.Notes,
			Status:            QuotationStatusDraft,
			Version:           InitialVersion,
			Currency:          source.Currency,
			Subtotal:          totals.Subtotal,
			DiscountTotal:     totals.DiscountTotal,
			TaxTotal:          totals.TaxTotal,
			GrandTotal:        totals.GrandTotal,
			SourceQuotationID: &sourceRef,
		})
		if err != nil {
			return fmt.Errorf("create reissued quotation: %w", err)
		}

		copied := make([]LineItem, len(source.Lines))
		copy(copied, source.Lines)
		for i := range copied {
			copied[i].ID = 0
			copied[i].QuotationID = id
		}
		if err := repo.ReplaceLines(ctx, id, copied); err != nil {
			return fmt.Errorf("copy lines: %w", err)
		}

		result = ReissueResult{NewQuotationID: id, DocNumber: docNumber}
		return nil
	})
	if err != nil {
		if keyRecorded {
			if delErr := s.idem.Delete(ctx, req.IdempotencyKey, reissueModule); delErr != nil && s.logger != nil {
				s.logger.Warn("release idempotency key",
					slog.String("key", req.IdempotencyKey), slog.Any("error", delErr))
			}
		}
		return nil, err
	}

	s.invalidateSummary(ctx)
	return &result, nil
}

// Summary counts open quotations by derived validity state, cached briefly.
func (s *Service) Summary(ctx context.Context) (*ValiditySummary, error) {
	var summary ValiditySummary
	err := s.cache.Fetch(ctx, summaryCacheKey, &summary, func(ctx context.Context) (interface{}, error) {
		open, err := s.repo.ListOpen(ctx)
		if err != nil {
			return nil, err
		}
		var out ValiditySummary
		now := s.now()
		for i := range open {
			switch s.cfg.Policy.Derive(open[i].QuoteDate, open[i].ValidityDays, now) {
			case StateValid:
				out.Valid++
			case StateDue:
				out.Due++
			case StateOverdue:
				out.Overdue++
			case StateExpired:
				out.Expired++
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

func (s *Service) invalidateSummary(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, summaryCacheKey); err != nil && s.logger != nil {
		s.logger.Warn("invalidate summary cache", slog.Any("error", err))
	}
}

func (s *Service) CreateFollowup(ctx context.Context, quotationID int64, req CreateFollowupRequest) (*Followup, error) {
	if _, err := s.repo.Get(ctx, quotationID); err != nil {
		return nil, err
	}
	f := Followup{
		QuotationID: quotationID,
		Type:        req.Type,
		DueDate:     req.DueDate,
	}
	id, err := s.repo.InsertFollowup(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("insert followup: %w", err)
	}
	f.ID = id
	return &f, nil
}

func (s *Service) CompleteFollowup(ctx context.Context, followupID int64) error {
	now := s.now()
	return s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		quotationID, err := repo.CompleteFollowup(ctx, followupID, now)
		if err != nil {
			return err
		}
		return repo.TouchLastFollowup(ctx, quotationID, now)
	})
}

func (s *Service) DueFollowups(ctx context.Context) ([]Followup, error) {
	return s.repo.ListDueFollowups(ctx, s.now())
}

// EnsureFollowups opens a follow-up for every quotation that entered the due
// or overdue window without one. Returns the number created.
func (s *Service) EnsureFollowups(ctx context.Context) (int, error) {
	open, err := s.repo.ListOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("list open quotations: %w", err)
	}

	now := s.now()
	created := 0
	for i := range open {
		state := s.cfg.Policy.Derive(open[i].QuoteDate, open[i].ValidityDays, now)
		if state != StateDue && state != StateOverdue {
			continue
		}
		exists, err := s.repo.HasOpenFollowup(ctx, open[i].ID)
		if err != nil {
			return created, err
		}
		if exists {
			continue
		}
		_, err = s.repo.InsertFollowup(ctx, Followup{
			QuotationID: open[i].ID,
			Type:        FollowupTypeCall,
			DueDate:     now,
		})
		if err != nil {
			return created, fmt.Errorf("insert followup: %w", err)
		}
		created++
	}
	return created, nil
}

// buildLines valuates request lines into persistable items plus totals.
func buildLines(reqs []LineItemReq) ([]LineItem, pricing.Totals, error) {
	lines := make([]LineItem, 0, len(reqs))
	inputs := make([]pricing.LineInput, 0, len(reqs))
	for i, lr := range reqs {
		res, err := pricing.ComputeLine(lr.Input())
		if err != nil {
			return nil, pricing.Totals{}, err
		}
		line := LineItem{
			ProductID:       lr.ProductID,
			Description:     lr.Description,
			Quantity:        lr.Quantity,
			UOM:             lr.UOM,
			UnitPrice:       lr.UnitPrice,
			DiscountPercent: lr.DiscountPercent,
			DiscountAmount:  res.DiscountAmount,
			TaxRatePercent:  lr.TaxRatePercent,
			TaxAmount:       res.TaxAmount,
			LineTotal:       res.LineTotal,
			LineOrder:       lr.LineOrder,
		}
		if line.LineOrder == 0 {
			line.LineOrder = i + 1
		}
		lines = append(lines, line)
		inputs = append(inputs, lr.Input())
	}
	totals, err := pricing.ComputeTotals(inputs)
	if err != nil {
		return nil, pricing.Totals{}, err
	}
	return lines, totals, nil
}

func lineInputs(lines []LineItem) []pricing.LineInput {
	inputs := make([]pricing.LineInput, 0, len(lines))
	for _, l := range lines {
		inputs = append(inputs, pricing.LineInput{
			Quantity:        l.Quantity,
			UnitPrice:       l.UnitPrice,
			DiscountPercent: l.DiscountPercent,
			TaxRatePercent:  l.TaxRatePercent,
		})
	}
	return inputs
}

// changesContent reports whether the save payload differs from stored state.
// Unchanged payloads skip the version bump and the comment requirement.
func changesContent(existing *Quotation, req SaveQuotationRequest) bool {
	if req.QuoteDate != nil && !sameDay(*req.QuoteDate, existing.QuoteDate) {
		return true
	}
	if req.ValidityDays != nil && *req.ValidityDays != existing.ValidityDays {
		return true
	}
	if req.PaymentTerms != nil && !sameText(req.PaymentTerms, existing.PaymentTerms) {
		return true
	}
	if req.Notes != nil && !sameText(req.Notes, existing.Notes) {
		return true
	}
	if req.Status != nil && *req.Status != existing.Status {
		return true
	}
	if req.Lines != nil && !sameLines(*req.Lines, existing.Lines) {
		return true
	}
	return false
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func sameText(a, b *string) bool {
	switch {
	case a == nil && b == nil:
		return true
	case a == nil || b == nil:
		return false
	default:
		return *a == *b
	}
}

func sameInt64(a, b *int64) bool {
	switch {
	case a == nil && b == nil:
		return true
	case a == nil || b == nil:
		return false
	default:
		return *a == *b
	}
}

func sameLines(reqs []LineItemReq, lines []LineItem) bool {
	if len(reqs) != len(lines) {
		return false
	}
	for i, lr := range reqs {
		l := lines[i]
		order := lr.LineOrder
		if order == 0 {
			order = i + 1
		}
		if !sameInt64(lr.ProductID, l.ProductID) ||
			!sameText(lr.Description, l.Description) ||
			lr.Quantity != l.Quantity ||
			lr.UOM != l.UOM ||
			lr.UnitPrice != l.UnitPrice ||
			lr.DiscountPercent != l.DiscountPercent ||
			lr.TaxRatePercent != l.TaxRatePercent ||
			order != l.LineOrder {
			return false
		}
	}
	return true
}
