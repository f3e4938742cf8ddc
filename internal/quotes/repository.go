package quotes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quotedesk/quotedesk/internal/platform/db"
)

var ErrNotFound = errors.New("quotation not found")

type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error

	Get(ctx context.Context, id int64) (*Quotation, error)
	List(ctx context.Context, req ListQuotationsRequest) ([]Quotation, int, error)
	ListOpen(ctx context.Context) ([]Quotation, error)
	Create(ctx context.Context, q Quotation) (int64, error)
	UpdateHeader(ctx context.Context, id int64, expectedVersion string, updates map[string]any) (bool, error)
	ReplaceLines(ctx context.Context, quotationID int64, lines []LineItem) error
	InsertRevision(ctx context.Context, rev Revision) error
	ListRevisions(ctx context.Context, quotationID int64) ([]Revision, error)
	GenerateNumber(ctx context.Context, date time.Time) (string, error)
	GetCustomerSnapshot(ctx context.Context, customerID int64) (*CustomerSnapshot, error)

	InsertFollowup(ctx context.Context, f Followup) (int64, error)
	TouchLastFollowup(ctx context.Context, quotationID int64, at time.Time) error
	CompleteFollowup(ctx context.Context, id int64, at time.Time) (int64, error)
	ListDueFollowups(ctx context.Context, by time.Time) ([]Followup, error)
	HasOpenFollowup(ctx context.Context, quotationID int64) (bool, error)
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

const quotationColumns = `
	q.id, q.doc_number, q.customer_id, q.customer_name, q.location,
	q.contact_name, q.contact_email, q.quote_date, q.validity_days,
	q.payment_terms, q.notes, q.status, q.version, q.currency,
	q.subtotal, q.discount_total, q.tax_total, q.grand_total,
	q.source_quotation_id, q.last_followup_at, q.items_raw,
	q.created_at, q.updated_at`

func scanQuotation(row pgx.Row) (*Quotation, error) {
	var q Quotation
	err := row.Scan(
		&q.ID, &q.DocNumber, &q.Customer.CustomerID, &q.Customer.CustomerName,
		&q.Customer.Location, &q.Customer.ContactName, &q.Customer.ContactEmail,
		&q.QuoteDate, &q.ValidityDays, &q.PaymentTerms, &q.Notes, &q.Status,
		&q.Version, &q.Currency, &q.Subtotal, &q.DiscountTotal, &q.TaxTotal,
		&q.GrandTotal, &q.SourceQuotationID, &q.LastFollowupAt, &q.ItemsRaw,
		&q.CreatedAt, &q.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &q, nil
}

func (r *repository) Get(ctx context.Context, id int64) (*Quotation, error) {
	q, err := scanQuotation(r.db.QueryRow(ctx,
		`SELECT`+quotationColumns+` FROM quotations q WHERE q.id = $1`, id))
	if err != nil {
		return nil, err
	}
	lines, err := r.getLines(ctx, id)
	if err != nil {
		return nil, err
	}
	q.Lines = lines
	return q, nil
}

func (r *repository) getLines(ctx context.Context, quotationID int64) ([]LineItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, quotation_id, product_id, description, quantity, uom,
		       unit_price, discount_percent, discount_amount, tax_rate,
		       tax_amount, line_total, line_order
		FROM quotation_lines
		WHERE quotation_id = $1
		ORDER BY line_order, id
	`, quotationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []LineItem
	for rows.Next() {
		var l LineItem
		if err := rows.Scan(
			&l.ID, &l.QuotationID, &l.ProductID, &l.Description, &l.Quantity,
			&l.UOM, &l.UnitPrice, &l.DiscountPercent, &l.DiscountAmount,
			&l.TaxRatePercent, &l.TaxAmount, &l.LineTotal, &l.LineOrder,
		); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *repository) List(ctx context.Context, req ListQuotationsRequest) ([]Quotation, int, error) {
	conditions := []string{"1=1"}
	var args []interface{}
	argPos := 1

	if req.CustomerID != nil {
		conditions = append(conditions, fmt.Sprintf("q.customer_id = $%d", argPos))
		args = append(args, *req.CustomerID)
		argPos++
	}
	if req.Status != nil {
		conditions = append(conditions, fmt.Sprintf("q.status = $%d", argPos))
		args = append(args, *req.Status)
		argPos++
	}
	if req.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("q.quote_date >= $%d", argPos))
		args = append(args, *req.DateFrom)
		argPos++
	}
	if req.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("q.quote_date <= $%d", argPos))
		args = append(args, *req.DateTo)
		argPos++
	}

	whereClause := "WHERE " + conditions[0]
	for i := 1; i < len(conditions); i++ {
		whereClause += " AND " + conditions[i]
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM quotations q %s", whereClause)
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT%s FROM quotations q %s ORDER BY q.quote_date DESC, q.id DESC LIMIT $%d OFFSET $%d`,
		quotationColumns, whereClause, argPos, argPos+1)
	args = append(args, req.Limit, req.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var quotations []Quotation
	for rows.Next() {
		q, err := scanQuotation(rows)
		if err != nil {
			return nil, 0, err
		}
		quotations = append(quotations, *q)
	}
	return quotations, total, rows.Err()
}

// ListOpen returns header rows for all non-terminal quotations. Lines are not
// loaded; callers only derive lifecycle state.
func (r *repository) ListOpen(ctx context.Context) ([]Quotation, error) {
	rows, err := r.db.Query(ctx,
		`SELECT`+quotationColumns+` FROM quotations q WHERE q.status IN ($1, $2) ORDER BY q.id`,
		QuotationStatusDraft, QuotationStatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quotations []Quotation
	for rows.Next() {
		q, err := scanQuotation(rows)
		if err != nil {
			return nil, err
		}
		quotations = append(quotations, *q)
	}
	return quotations, rows.Err()
}

func (r *repository) Create(ctx context.Context, q Quotation) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO quotations (
			doc_number, customer_id, customer_name, location, contact_name,
			contact_email, quote_date, validity_days, payment_terms, notes,
			status, version, currency, subtotal, discount_total, tax_total,
			grand_total, source_quotation_id, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,NOW(),NOW())
		RETURNING id
	`,
		q.DocNumber, q.Customer.CustomerID, q.Customer.CustomerName,
		q.Customer.Location, q.Customer.ContactName, q.Customer.ContactEmail,
		q.QuoteDate, q.ValidityDays, q.PaymentTerms, q.Notes, q.Status,
		q.Version, q.Currency, q.Subtotal, q.DiscountTotal, q.TaxTotal,
		q.GrandTotal, q.SourceQuotationID,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// UpdateHeader applies the given column updates guarded by an optimistic
// version check. It reports whether a row was actually updated.
func (r *repository) UpdateHeader(ctx context.Context, id int64, expectedVersion string, updates map[string]any) (bool, error) {
	query := "UPDATE quotations SET updated_at = NOW()"
	var args []interface{}
	argPos := 1

	for _, col := range []string{
		"quote_date", "validity_days", "payment_terms", "notes", "status",
		"version", "subtotal", "discount_total", "tax_total", "grand_total",
		"last_followup_at", "items_raw",
	} {
		if v, ok := updates[col]; ok {
			query += fmt.Sprintf(", %s = $%d", col, argPos)
			args = append(args, v)
			argPos++
		}
	}

	query += fmt.Sprintf(" WHERE id = $%d AND version = $%d", argPos, argPos+1)
	args = append(args, id, expectedVersion)

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) ReplaceLines(ctx context.Context, quotationID int64, lines []LineItem) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM quotation_lines WHERE quotation_id = $1`, quotationID); err != nil {
		return err
	}
	for _, l := range lines {
		_, err := r.db.Exec(ctx, `
			INSERT INTO quotation_lines (
				quotation_id, product_id, description, quantity, uom,
				unit_price, discount_percent, discount_amount, tax_rate,
				tax_amount, line_total, line_order
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`,
			quotationID, l.ProductID, l.Description, l.Quantity, l.UOM,
			l.UnitPrice, l.DiscountPercent, l.DiscountAmount,
			l.TaxRatePercent, l.TaxAmount, l.LineTotal, l.LineOrder,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repository) InsertRevision(ctx context.Context, rev Revision) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO quotation_revisions (quotation_id, version, comment, created_at)
		VALUES ($1, $2, $3, NOW())
	`, rev.QuotationID, rev.Version, rev.Comment)
	return err
}

func (r *repository) ListRevisions(ctx context.Context, quotationID int64) ([]Revision, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, quotation_id, version, comment, created_at
		FROM quotation_revisions
		WHERE quotation_id = $1
		ORDER BY id
	`, quotationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var revisions []Revision
	for rows.Next() {
		var rev Revision
		if err := rows.Scan(&rev.ID, &rev.QuotationID, &rev.Version, &rev.Comment, &rev.CreatedAt); err != nil {
			return nil, err
		}
		revisions = append(revisions, rev)
	}
	return revisions, rows.Err()
}

// GenerateNumber issues the next QT-{YYMM}-{SEQ} document number.
func (r *repository) GenerateNumber(ctx context.Context, date time.Time) (string, error) {
	var seq int64
	period := date.Format("200601")
	err := r.db.QueryRow(ctx, `
		INSERT INTO document_sequences (doc_type, period, seq)
		VALUES ($1, $2, 1)
		ON CONFLICT (doc_type, period)
		DO UPDATE SET seq = document_sequences.seq + 1
		RETURNING seq
	`, "QT", period).Scan(&seq)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("QT-%s-%04d", date.Format("0601"), seq), nil
}

func (r *repository) GetCustomerSnapshot(ctx context.Context, customerID int64) (*CustomerSnapshot, error) {
	var snap CustomerSnapshot
	err := r.db.QueryRow(ctx, `
		SELECT id, name, COALESCE(location, ''), COALESCE(contact_name, ''), COALESCE(contact_email, '')
		FROM customers
		WHERE id = $1
	`, customerID).Scan(&snap.CustomerID, &snap.CustomerName, &snap.Location, &snap.ContactName, &snap.ContactEmail)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &snap, nil
}

func (r *repository) InsertFollowup(ctx context.Context, f Followup) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO followups (quotation_id, type, due_date, done, created_at)
		VALUES ($1, $2, $3, FALSE, NOW())
		RETURNING id
	`, f.QuotationID, f.Type, f.DueDate).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// TouchLastFollowup stamps the quotation's last follow-up time without
// bumping the version; follow-up activity is not a content change.
func (r *repository) TouchLastFollowup(ctx context.Context, quotationID int64, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE quotations SET last_followup_at = $2, updated_at = NOW() WHERE id = $1`,
		quotationID, at)
	return err
}

// CompleteFollowup marks a follow-up done and returns its quotation id.
func (r *repository) CompleteFollowup(ctx context.Context, id int64, at time.Time) (int64, error) {
	var quotationID int64
	err := r.db.QueryRow(ctx, `
		UPDATE followups SET done = TRUE, completed_at = $2
		WHERE id = $1 AND NOT done
		RETURNING quotation_id
	`, id, at).Scan(&quotationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return quotationID, nil
}

func (r *repository) ListDueFollowups(ctx context.Context, by time.Time) ([]Followup, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, quotation_id, type, due_date, done, completed_at, created_at
		FROM followups
		WHERE NOT done AND due_date <= $1
		ORDER BY due_date, id
	`, by)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var followups []Followup
	for rows.Next() {
		var f Followup
		if err := rows.Scan(&f.ID, &f.QuotationID, &f.Type, &f.DueDate, &f.Done, &f.CompletedAt, &f.CreatedAt); err != nil {
			return nil, err
		}
		followups = append(followups, f)
	}
	return followups, rows.Err()
}

func (r *repository) HasOpenFollowup(ctx context.Context, quotationID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM followups WHERE quotation_id = $1 AND NOT done)`,
		quotationID).Scan(&exists)
	return exists, err
}
