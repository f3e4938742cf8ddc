// Package recompute re-derives stored quotation totals from stored items,
// healing drift left behind by pricing-rule changes or partial writes.
package recompute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/quotedesk/quotedesk/internal/platform/db"
	"github.com/quotedesk/quotedesk/internal/pricing"
	"github.com/quotedesk/quotedesk/internal/quotes"
)

// Report summarises one batch run.
type Report struct {
	Checked   int `json:"checked"`
	Corrected int `json:"corrected"`
	Skipped   int `json:"skipped"`
}

type Service struct {
	pool     *pgxpool.Pool
	logger   *slog.Logger
	parallel int
}

func New(pool *pgxpool.Pool, logger *slog.Logger, parallel int) *Service {
	if parallel <= 0 {
		parallel = 4
	}
	return &Service{pool: pool, logger: logger, parallel: parallel}
}

// Run processes every stored quotation. Records are independent: a record
// that cannot be parsed is logged and counted as skipped, never fatal.
func (s *Service) Run(ctx context.Context) (Report, error) {
	runID := uuid.NewString()
	ids, err := s.listIDs(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("recompute: list quotations: %w", err)
	}

	var checked, corrected, skipped atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallel)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			changed, err := s.recomputeOne(gctx, id)
			checked.Add(1)
			if err != nil {
				skipped.Add(1)
				s.logger.Warn("recompute record skipped",
					slog.String("run_id", runID),
					slog.Int64("quotation_id", id),
					slog.Any("error", err),
				)
				return nil
			}
			if changed {
				corrected.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	report := Report{
		Checked:   int(checked.Load()),
		Corrected: int(corrected.Load()),
		Skipped:   int(skipped.Load()),
	}
	s.logger.Info("recompute finished",
		slog.String("run_id", runID),
		slog.Int("checked", report.Checked),
		slog.Int("corrected", report.Corrected),
		slog.Int("skipped", report.Skipped),
	)
	return report, nil
}

func (s *Service) listIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM quotations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// recomputeOne repairs a single quotation in its own transaction so a crash
// mid-batch leaves at most partially-migrated, never corrupted, data.
func (s *Service) recomputeOne(ctx context.Context, id int64) (bool, error) {
	var changed bool
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var (
			storedTotal float64
			itemsRaw    []byte
		)
		if err := tx.QueryRow(ctx,
			`SELECT grand_total, items_raw FROM quotations WHERE id = $1 FOR UPDATE`, id,
		).Scan(&storedTotal, &itemsRaw); err != nil {
			return err
		}

		lines, err := readLines(ctx, tx, id)
		if err != nil {
			return err
		}

		normalized := false
		if len(lines) == 0 && len(itemsRaw) > 0 {
			records, err := ParseRawItems(itemsRaw)
			if err != nil {
				return fmt.Errorf("parse legacy items: %w", err)
			}
			lines, err = LinesFromRecords(records)
			if err != nil {
				return err
			}
			if err := writeLines(ctx, tx, id, lines); err != nil {
				return err
			}
			normalized = true
		}

		totals, err := pricing.ComputeTotals(inputs(lines))
		if err != nil {
			return err
		}

		drifted := math.Abs(totals.GrandTotal-storedTotal) >= 0.01
		if !drifted && !normalized {
			return nil
		}

		_, err = tx.Exec(ctx, `
			UPDATE quotations
			SET subtotal = $2, discount_total = $3, tax_total = $4,
			    grand_total = $5, items_raw = NULL, updated_at = NOW()
			WHERE id = $1
		`, id, totals.Subtotal, totals.DiscountTotal, totals.TaxTotal, totals.GrandTotal)
		if err != nil {
			return err
		}
		changed = drifted
		return nil
	})
	return changed, err
}

func readLines(ctx context.Context, tx pgx.Tx, quotationID int64) ([]quotes.LineItem, error) {
	rows, err := tx.Query(ctx, `
		SELECT quantity, unit_price, discount_percent, tax_rate
		FROM quotation_lines
		WHERE quotation_id = $1
		ORDER BY line_order, id
	`, quotationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []quotes.LineItem
	for rows.Next() {
		var l quotes.LineItem
		if err := rows.Scan(&l.Quantity, &l.UnitPrice, &l.DiscountPercent, &l.TaxRatePercent); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func writeLines(ctx context.Context, tx pgx.Tx, quotationID int64, lines []quotes.LineItem) error {
	for i, l := range lines {
		_, err := tx.Exec(ctx, `
			INSERT INTO quotation_lines (
				quotation_id, product_id, description, quantity, uom,
				unit_price, discount_percent, discount_amount, tax_rate,
				tax_amount, line_total, line_order
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`,
			quotationID, l.ProductID, l.Description, l.Quantity, l.UOM,
			l.UnitPrice, l.DiscountPercent, l.DiscountAmount,
			l.TaxRatePercent, l.TaxAmount, l.LineTotal, i+1,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// ParseRawItems decodes a legacy serialized item list. It tolerates a
// double-encoded JSON string; null or empty payloads become an empty list.
func ParseRawItems(raw []byte) ([]map[string]any, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if nested, ok := v.(string); ok {
		if strings.TrimSpace(nested) == "" || strings.TrimSpace(nested) == "null" {
			return nil, nil
		}
		dec = json.NewDecoder(strings.NewReader(nested))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
	}
	if v == nil {
		return nil, nil
	}

	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("items payload is %T, want array", v)
	}
	records := make([]map[string]any, 0, len(arr))
	for _, el := range arr {
		m, ok := el.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("item entry is %T, want object", el)
		}
		records = append(records, m)
	}
	return records, nil
}

// LinesFromRecords valuates loosely-typed legacy records into line items.
func LinesFromRecords(records []map[string]any) ([]quotes.LineItem, error) {
	lines := make([]quotes.LineItem, 0, len(records))
	for i, rec := range records {
		in := pricing.LineFromRecord(rec)
		res, err := pricing.ComputeLine(in)
		if err != nil {
			return nil, err
		}
		line := quotes.LineItem{
			Quantity:        in.Quantity,
			UnitPrice:       in.UnitPrice,
			DiscountPercent: in.DiscountPercent,
			DiscountAmount:  res.DiscountAmount,
			TaxRatePercent:  in.TaxRatePercent,
			TaxAmount:       res.TaxAmount,
			LineTotal:       res.LineTotal,
			LineOrder:       i + 1,
		}
		if desc, ok := rec["description"].(string); ok && desc != "" {
			line.Description = &desc
		}
		if uom, ok := rec["uom"].(string); ok {
			line.UOM = uom
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func inputs(lines []quotes.LineItem) []pricing.LineInput {
	out := make([]pricing.LineInput, 0, len(lines))
	for _, l := range lines {
		out = append(out, pricing.LineInput{
			Quantity:        l.Quantity,
			UnitPrice:       l.UnitPrice,
			DiscountPercent: l.DiscountPercent,
			TaxRatePercent:  l.TaxRatePercent,
		})
	}
	return out
}
