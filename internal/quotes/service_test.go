package quotes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotedesk/quotedesk/internal/platform/cache"
	"github.com/quotedesk/quotedesk/internal/pricing"
	"github.com/quotedesk/quotedesk/internal/shared"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockRepository struct {
	quotations    map[int64]*Quotation
	lines         map[int64][]LineItem
	revisions     map[int64][]Revision
	followups     map[int64]*Followup
	customers     map[int64]*CustomerSnapshot
	nextID        int64
	nextFollowup  int64
	seq           int64
	updateRefused bool
	createErr     error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		quotations:   make(map[int64]*Quotation),
		lines:        make(map[int64][]LineItem),
		revisions:    make(map[int64][]Revision),
		followups:    make(map[int64]*Followup),
		customers:    make(map[int64]*CustomerSnapshot),
		nextID:       1,
		nextFollowup: 1,
	}
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, m)
}

func (m *mockRepository) Get(ctx context.Context, id int64) (*Quotation, error) {
	q, ok := m.quotations[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *q
	out.Lines = append([]LineItem(nil), m.lines[id]...)
	return &out, nil
}

func (m *mockRepository) List(ctx context.Context, req ListQuotationsRequest) ([]Quotation, int, error) {
	var out []Quotation
	for id, q := range m.quotations {
		if req.Status != nil && q.Status != *req.Status {
			continue
		}
		cp := *q
		cp.Lines = append([]LineItem(nil), m.lines[id]...)
		out = append(out, cp)
	}
	return out, len(out), nil
}

func (m *mockRepository) ListOpen(ctx context.Context) ([]Quotation, error) {
	var out []Quotation
	for _, q := range m.quotations {
		if !q.Status.Terminal() {
			out = append(out, *q)
		}
	}
	return out, nil
}

func (m *mockRepository) Create(ctx context.Context, q Quotation) (int64, error) {
	if m.createErr != nil {
		return 0, m.createErr
	}
	id := m.nextID
	m.nextID++
	q.ID = id
	q.CreatedAt = time.Now()
	q.UpdatedAt = q.CreatedAt
	m.quotations[id] = &q
	return id, nil
}

func (m *mockRepository) UpdateHeader(ctx context.Context, id int64, expectedVersion string, updates map[string]any) (bool, error) {
	q, ok := m.quotations[id]
	if !ok || q.Version != expectedVersion || m.updateRefused {
		return false, nil
	}
	if v, ok := updates["version"]; ok {
		q.Version = v.(string)
	}
	if v, ok := updates["quote_date"]; ok {
		q.QuoteDate = v.(time.Time)
	}
	if v, ok := updates["validity_days"]; ok {
		q.ValidityDays = v.(int)
	}
	if v, ok := updates["payment_terms"]; ok {
		s := v.(string)
		q.PaymentTerms = &s
	}
	if v, ok := updates["notes"]; ok {
		s := v.(string)
		q.Notes = &s
	}
	if v, ok := updates["status"]; ok {
		q.Status = v.(QuotationStatus)
	}
	if v, ok := updates["subtotal"]; ok {
		q.Subtotal = v.(float64)
	}
	if v, ok := updates["discount_total"]; ok {
		q.DiscountTotal = v.(float64)
	}
	if v, ok := updates["tax_total"]; ok {
		q.TaxTotal = v.(float64)
	}
	if v, ok := updates["grand_total"]; ok {
		q.GrandTotal = v.(float64)
	}
	if _, ok := updates["items_raw"]; ok {
		q.ItemsRaw = nil
	}
	q.UpdatedAt = time.Now()
	return true, nil
}

func (m *mockRepository) ReplaceLines(ctx context.Context, quotationID int64, lines []LineItem) error {
	for i := range lines {
		lines[i].QuotationID = quotationID
	}
	m.lines[quotationID] = append([]LineItem(nil), lines...)
	return nil
}

func (m *mockRepository) InsertRevision(ctx context.Context, rev Revision) error {
	rev.CreatedAt = time.Now()
	m.revisions[rev.QuotationID] = append(m.revisions[rev.QuotationID], rev)
	return nil
}

func (m *mockRepository) ListRevisions(ctx context.Context, quotationID int64) ([]Revision, error) {
	return m.revisions[quotationID], nil
}

func (m *mockRepository) GenerateNumber(ctx context.Context, date time.Time) (string, error) {
	m.seq++
	return fmt.Sprintf("QT-%s-%04d", date.Format("0601"), m.seq), nil
}

func (m *mockRepository) GetCustomerSnapshot(ctx context.Context, customerID int64) (*CustomerSnapshot, error) {
	snap, ok := m.customers[customerID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *snap
	return &out, nil
}

func (m *mockRepository) InsertFollowup(ctx context.Context, f Followup) (int64, error) {
	id := m.nextFollowup
	m.nextFollowup++
	f.ID = id
	f.CreatedAt = time.Now()
	m.followups[id] = &f
	return id, nil
}

func (m *mockRepository) TouchLastFollowup(ctx context.Context, quotationID int64, at time.Time) error {
	if q, ok := m.quotations[quotationID]; ok {
		q.LastFollowupAt = &at
	}
	return nil
}

func (m *mockRepository) CompleteFollowup(ctx context.Context, id int64, at time.Time) (int64, error) {
	f, ok := m.followups[id]
	if !ok || f.Done {
		return 0, ErrNotFound
	}
	f.Done = true
	f.CompletedAt = &at
	return f.QuotationID, nil
}

func (m *mockRepository) ListDueFollowups(ctx context.Context, by time.Time) ([]Followup, error) {
	var out []Followup
	for _, f := range m.followups {
		if !f.Done && !f.DueDate.After(by) {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (m *mockRepository) HasOpenFollowup(ctx context.Context, quotationID int64) (bool, error) {
	for _, f := range m.followups {
		if f.QuotationID == quotationID && !f.Done {
			return true, nil
		}
	}
	return false, nil
}

type mockIdem struct {
	seen map[string]bool
}

func (m *mockIdem) CheckAndInsert(ctx context.Context, key, module string) error {
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	composite := module + "/" + key
	if m.seen[composite] {
		return shared.ErrIdempotencyConflict
	}
	m.seen[composite] = true
	return nil
}

func (m *mockIdem) Delete(ctx context.Context, key, module string) error {
	delete(m.seen, module+"/"+key)
	return nil
}

// ============================================================================
// FIXTURES
// ============================================================================

var testNow = time.Date(2024, time.February, 10, 12, 0, 0, 0, time.UTC)

func newTestService(repo *mockRepository) *Service {
	svc := NewService(repo, &mockIdem{}, cache.NewJSONCache(nil, 0), slog.Default(), ServiceConfig{
		Policy:              ValidityPolicy{DueWindowDays: 2},
		DefaultValidityDays: 30,
	})
	return svc.WithClock(func() time.Time { return testNow })
}

func seedQuotation(repo *mockRepository, quoteDate time.Time, validityDays int) int64 {
	id := repo.nextID
	repo.nextID++
	notes := "initial terms"
	repo.quotations[id] = &Quotation{
		ID:           id,
		DocNumber:    fmt.Sprintf("QT-2402-%04d", id),
		Customer:     CustomerSnapshot{CustomerID: 7, CustomerName: "Acme Works", Location: "North Plant", ContactName: "Dana", ContactEmail: "dana@acme.test"},
		QuoteDate:    quoteDate,
		ValidityDays: validityDays,
		Notes:        &notes,
		Status:       QuotationStatusDraft,
		Version:      "0.1",
		Currency:     "USD",
	}
	repo.lines[id] = []LineItem{{
		ID: 1, QuotationID: id, Quantity: 2, UOM: "pcs", UnitPrice: 100,
		DiscountPercent: 10, DiscountAmount: 20, TaxRatePercent: 18,
		TaxAmount: 32.4, LineTotal: 212.4, LineOrder: 1,
	}}
	repo.quotations[id].Subtotal = 200
	repo.quotations[id].DiscountTotal = 20
	repo.quotations[id].TaxTotal = 32.4
	repo.quotations[id].GrandTotal = 212.4
	return id
}

func linesReq(lines ...LineItemReq) *[]LineItemReq {
	return &lines
}

// ============================================================================
// CREATE
// ============================================================================

func TestCreateCapturesSnapshotAndTotals(t *testing.T) {
	repo := newMockRepository()
	repo.customers[7] = &CustomerSnapshot{CustomerID: 7, CustomerName: "Acme Works", Location: "North Plant"}
	svc := newTestService(repo)

	view, err := svc.Create(context.Background(), CreateQuotationRequest{
		CustomerID: 7,
		Currency:   "USD",
		Lines: []LineItemReq{
			{Quantity: 2, UnitPrice: 100, DiscountPercent: 10, TaxRatePercent: 18, UOM: "pcs"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "Acme Works", view.Customer.CustomerName)
	assert.Equal(t, InitialVersion, view.Version)
	assert.Equal(t, QuotationStatusDraft, view.Status)
	assert.Equal(t, 30, view.ValidityDays)
	assert.Equal(t, StateValid, view.State)
	assert.Equal(t, 212.4, view.GrandTotal)
	assert.NotEmpty(t, view.DocNumber)

	// Later customer edits must not leak into the stored snapshot.
	repo.customers[7].CustomerName = "Acme Renamed"
	reread, err := svc.Get(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Works", reread.Customer.CustomerName)
}

func TestCreateRejectsUnknownCurrency(t *testing.T) {
	repo := newMockRepository()
	repo.customers[7] = &CustomerSnapshot{CustomerID: 7, CustomerName: "Acme"}
	svc := newTestService(repo)

	_, err := svc.Create(context.Background(), CreateQuotationRequest{CustomerID: 7, Currency: "ZZZ"})
	require.Error(t, err)
}

func TestCreateRejectsInvalidLine(t *testing.T) {
	repo := newMockRepository()
	repo.customers[7] = &CustomerSnapshot{CustomerID: 7, CustomerName: "Acme"}
	svc := newTestService(repo)

	_, err := svc.Create(context.Background(), CreateQuotationRequest{
		CustomerID: 7,
		Currency:   "USD",
		Lines:      []LineItemReq{{Quantity: -1, UnitPrice: 10}},
	})
	require.Error(t, err)
	var verr *pricing.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "quantity", verr.Field)
}

// ============================================================================
// SAVE
// ============================================================================

func TestSaveBumpsVersionAndRecordsRevision(t *testing.T) {
	repo := newMockRepository()
	id := seedQuotation(repo, testNow.AddDate(0, 0, -5), 30)
	svc := newTestService(repo)

	notes := "updated delivery schedule"
	view, err := svc.Save(context.Background(), id, SaveQuotationRequest{
		Notes:   &notes,
		Comment: "customer asked for staged delivery",
	})
	require.NoError(t, err)

	assert.Equal(t, "0.2", view.Version)
	require.Len(t, repo.revisions[id], 1)
	assert.Equal(t, "0.2", repo.revisions[id][0].Version)
	assert.Equal(t, "customer asked for staged delivery", repo.revisions[id][0].Comment)
}

func TestSaveWithoutCommentBlocked(t *testing.T) {
	repo := newMockRepository()
	id := seedQuotation(repo, testNow.AddDate(0, 0, -5), 30)
	svc := newTestService(repo)

	notes := "changed"
	_, err := svc.Save(context.Background(), id, SaveQuotationRequest{Notes: &notes})
	require.ErrorIs(t, err, ErrCommentRequired)

	// Nothing persisted: version, notes and revisions all untouched.
	q, _ := repo.Get(context.Background(), id)
	assert.Equal(t, "0.1", q.Version)
	assert.Equal(t, "initial terms", *q.Notes)
	assert.Empty(t, repo.revisions[id])
}

func TestSaveNoOpSkipsVersionBump(t *testing.T) {
	repo := newMockRepository()
	id := seedQuotation(repo, testNow.AddDate(0, 0, -5), 30)
	svc := newTestService(repo)

	notes := "initial terms"
	view, err := svc.Save(context.Background(), id, SaveQuotationRequest{
		Notes: &notes,
		Lines: linesReq(LineItemReq{
			Quantity: 2, UnitPrice: 100, DiscountPercent: 10,
			TaxRatePercent: 18, UOM: "pcs", LineOrder: 1,
		}),
	})
	require.NoError(t, err)

	assert.Equal(t, "0.1", view.Version)
	assert.Empty(t, repo.revisions[id])
}

func TestSaveRecomputesTotalsFromLines(t *testing.T) {
	repo := newMockRepository()
	id := seedQuotation(repo, testNow.AddDate(0, 0, -5), 30)
	svc := newTestService(repo)

	view, err := svc.Save(context.Background(), id, SaveQuotationRequest{
		Lines: linesReq(
			LineItemReq{Quantity: 2, UnitPrice: 100, DiscountPercent: 10, TaxRatePercent: 18, UOM: "pcs"},
			LineItemReq{Quantity: 1, UnitPrice: 50, UOM: "pcs"},
		),
		Comment: "added installation kit",
	})
	require.NoError(t, err)

	assert.Equal(t, 250.0, view.Subtotal)
	assert.Equal(t, 262.4, view.GrandTotal)
	assert.Len(t, view.Lines, 2)
}

func TestSaveExpiredRejected(t *testing.T) {
	repo := newMockRepository()
	id := seedQuotation(repo, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), 30)
	svc := newTestService(repo)

	days := 45
	_, err := svc.Save(context.Background(), id, SaveQuotationRequest{
		ValidityDays: &days,
		Comment:      "extend validity",
	})
	require.ErrorIs(t, err, ErrQuotationExpired)
}

func TestSaveTerminalStatusRejected(t *testing.T) {
	repo := newMockRepository()
	id := seedQuotation(repo, testNow.AddDate(0, 0, -5), 30)
	repo.quotations[id].Status = QuotationStatusWon
	svc := newTestService(repo)

	notes := "late edit"
	_, err := svc.Save(context.Background(), id, SaveQuotationRequest{Notes: &notes, Comment: "why"})
	require.ErrorIs(t, err, ErrTerminalStatus)
}

func TestSaveConcurrentEditConflict(t *testing.T) {
	repo := newMockRepository()
	id := seedQuotation(repo, testNow.AddDate(0, 0, -5), 30)
	repo.updateRefused = true
	svc := newTestService(repo)

	notes := "changed"
	_, err := svc.Save(context.Background(), id, SaveQuotationRequest{Notes: &notes, Comment: "race"})
	require.ErrorIs(t, err, ErrVersionConflict)
}

func TestSaveStatusTransition(t *testing.T) {
	repo := newMockRepository()
	id := seedQuotation(repo, testNow.AddDate(0, 0, -5), 30)
	svc := newTestService(repo)

	pending := QuotationStatusPending
	view, err := svc.Save(context.Background(), id, SaveQuotationRequest{
		Status:  &pending,
		Comment: "sent to customer",
	})
	require.NoError(t, err)
	assert.Equal(t, QuotationStatusPending, view.Status)
	assert.Equal(t, "0.2", view.Version)
}

// ============================================================================
// REISSUE
// ============================================================================

func TestReissueCreatesFreshDraft(t *testing.T) {
	repo := newMockRepository()
	sourceID := seedQuotation(repo, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), 30)
	repo.quotations[sourceID].Version = "1.3"
	svc := newTestService(repo)

	before, _ := repo.Get(context.Background(), sourceID)

	days := 15
	result, err := svc.Reissue(context.Background(), sourceID, ReissueRequest{ValidityDays: &days})
	require.NoError(t, err)
	require.NotEqual(t, sourceID, result.NewQuotationID)

	// Source is an immutable historical record.
	after, _ := repo.Get(context.Background(), sourceID)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.ValidityDays, after.ValidityDays)
	assert.Equal(t, before.Lines, after.Lines)

	issued, err := svc.Get(context.Background(), result.NewQuotationID)
	require.NoError(t, err)
	assert.Equal(t, InitialVersion, issued.Version)
	assert.Equal(t, QuotationStatusDraft, issued.Status)
	assert.Equal(t, 15, issued.ValidityDays)
	assert.Equal(t, StateValid, issued.State)
	require.NotNil(t, issued.SourceQuotationID)
	assert.Equal(t, sourceID, *issued.SourceQuotationID)
	assert.Equal(t, before.GrandTotal, issued.GrandTotal)
	assert.Len(t, issued.Lines, len(before.Lines))
}

func TestReissueCarriesValidityForward(t *testing.T) {
	repo := newMockRepository()
	sourceID := seedQuotation(repo, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), 30)
	svc := newTestService(repo)

	result, err := svc.Reissue(context.Background(), sourceID, ReissueRequest{})
	require.NoError(t, err)

	issued, _ := svc.Get(context.Background(), result.NewQuotationID)
	assert.Equal(t, 30, issued.ValidityDays)
}

func TestReissueRejectsLiveQuotation(t *testing.T) {
	repo := newMockRepository()
	sourceID := seedQuotation(repo, testNow.AddDate(0, 0, -5), 30)
	svc := newTestService(repo)

	_, err := svc.Reissue(context.Background(), sourceID, ReissueRequest{})
	require.ErrorIs(t, err, ErrNotExpired)
}

func TestReissueIdempotencyKeyGuardsRetries(t *testing.T) {
	repo := newMockRepository()
	sourceID := seedQuotation(repo, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), 30)
	svc := newTestService(repo)

	first, err := svc.Reissue(context.Background(), sourceID, ReissueRequest{IdempotencyKey: "retry-1"})
	require.NoError(t, err)
	require.NotZero(t, first.NewQuotationID)

	_, err = svc.Reissue(context.Background(), sourceID, ReissueRequest{IdempotencyKey: "retry-1"})
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
}

func TestReissueReleasesKeyWhenTransactionFails(t *testing.T) {
	repo := newMockRepository()
	sourceID := seedQuotation(repo, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), 30)
	repo.createErr = errors.New("insert failed")
	svc := newTestService(repo)

	_, err := svc.Reissue(context.Background(), sourceID, ReissueRequest{IdempotencyKey: "retry-2"})
	require.Error(t, err)
	require.NotErrorIs(t, err, shared.ErrIdempotencyConflict)

	// The failed attempt must not poison the key: the retry runs cleanly.
	repo.createErr = nil
	result, err := svc.Reissue(context.Background(), sourceID, ReissueRequest{IdempotencyKey: "retry-2"})
	require.NoError(t, err)
	assert.NotZero(t, result.NewQuotationID)
}

func TestReissueRejectsUnnormalizedLegacyItems(t *testing.T) {
	repo := newMockRepository()
	sourceID := seedQuotation(repo, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), 30)
	repo.lines[sourceID] = nil
	repo.quotations[sourceID].ItemsRaw = []byte(`[{"qty":2,"rate":100}]`)
	svc := newTestService(repo)

	_, err := svc.Reissue(context.Background(), sourceID, ReissueRequest{})
	require.ErrorIs(t, err, ErrItemsNotNormalized)
}

// ============================================================================
// SUMMARY & FOLLOW-UPS
// ============================================================================

func TestSummaryCountsDerivedStates(t *testing.T) {
	repo := newMockRepository()
	seedQuotation(repo, testNow.AddDate(0, 0, -5), 30)  // valid
	seedQuotation(repo, testNow.AddDate(0, 0, -29), 30) // due
	seedQuotation(repo, testNow.AddDate(0, 0, -30), 30) // overdue
	seedQuotation(repo, testNow.AddDate(0, 0, -60), 30) // expired
	svc := newTestService(repo)

	summary, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &ValiditySummary{Valid: 1, Due: 1, Overdue: 1, Expired: 1}, summary)
}

func TestEnsureFollowupsCreatesForDueWindow(t *testing.T) {
	repo := newMockRepository()
	seedQuotation(repo, testNow.AddDate(0, 0, -5), 30)            // valid, no reminder
	dueID := seedQuotation(repo, testNow.AddDate(0, 0, -29), 30)  // due
	overID := seedQuotation(repo, testNow.AddDate(0, 0, -30), 30) // overdue
	seedQuotation(repo, testNow.AddDate(0, 0, -60), 30)           // expired, no reminder
	svc := newTestService(repo)

	created, err := svc.EnsureFollowups(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	has, _ := repo.HasOpenFollowup(context.Background(), dueID)
	assert.True(t, has)
	has, _ = repo.HasOpenFollowup(context.Background(), overID)
	assert.True(t, has)

	// A second scan must not duplicate reminders.
	created, err = svc.EnsureFollowups(context.Background())
	require.NoError(t, err)
	assert.Zero(t, created)
}

func TestCompleteFollowupStampsQuotation(t *testing.T) {
	repo := newMockRepository()
	id := seedQuotation(repo, testNow.AddDate(0, 0, -29), 30)
	svc := newTestService(repo)

	f, err := svc.CreateFollowup(context.Background(), id, CreateFollowupRequest{
		Type:    FollowupTypeEmail,
		DueDate: testNow,
	})
	require.NoError(t, err)

	require.NoError(t, svc.CompleteFollowup(context.Background(), f.ID))

	q, _ := repo.Get(context.Background(), id)
	require.NotNil(t, q.LastFollowupAt)
	assert.Equal(t, testNow, *q.LastFollowupAt)

	err = svc.CompleteFollowup(context.Background(), f.ID)
	require.ErrorIs(t, err, ErrNotFound)
}
