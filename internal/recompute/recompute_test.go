package recompute

import (
	"testing"
)

func TestParseRawItemsNullVariants(t *testing.T) {
	for _, raw := range []string{"", "null", `"null"`, `""`} {
		records, err := ParseRawItems([]byte(raw))
		if err != nil {
			t.Fatalf("ParseRawItems(%q) returned error: %v", raw, err)
		}
		if len(records) != 0 {
			t.Fatalf("ParseRawItems(%q) = %v, want empty", raw, records)
		}
	}
}

func TestParseRawItemsArray(t *testing.T) {
	records, err := ParseRawItems([]byte(`[{"qty": 2, "rate": 100}, {"quantity": "1", "unit_price": 50}]`))
	if err != nil {
		t.Fatalf("ParseRawItems returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records got %d", len(records))
	}
}

func TestParseRawItemsDoubleEncoded(t *testing.T) {
	records, err := ParseRawItems([]byte(`"[{\"qty\": 3, \"rate\": 10}]"`))
	if err != nil {
		t.Fatalf("ParseRawItems returned error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record got %d", len(records))
	}
}

func TestParseRawItemsRejectsNonArray(t *testing.T) {
	if _, err := ParseRawItems([]byte(`{"qty": 1}`)); err == nil {
		t.Fatalf("expected error for object payload")
	}
	if _, err := ParseRawItems([]byte(`[1, 2]`)); err == nil {
		t.Fatalf("expected error for scalar entries")
	}
	if _, err := ParseRawItems([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for malformed payload")
	}
}

func TestLinesFromRecordsValuates(t *testing.T) {
	records, err := ParseRawItems([]byte(`[{"qty": 2, "rate": 100, "discount": 10, "tax": 18, "description": "widget", "uom": "pcs"}]`))
	if err != nil {
		t.Fatalf("ParseRawItems returned error: %v", err)
	}
	lines, err := LinesFromRecords(records)
	if err != nil {
		t.Fatalf("LinesFromRecords returned error: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected 1 line got %d", len(lines))
	}
	l := lines[0]
	if l.LineTotal != 212.4 {
		t.Fatalf("expected line total 212.40 got %.2f", l.LineTotal)
	}
	if l.DiscountAmount != 20 || l.TaxAmount != 32.4 {
		t.Fatalf("unexpected breakdown: discount %.2f tax %.2f", l.DiscountAmount, l.TaxAmount)
	}
	if l.Description == nil || *l.Description != "widget" {
		t.Fatalf("expected description to carry over")
	}
	if l.UOM != "pcs" || l.LineOrder != 1 {
		t.Fatalf("unexpected uom/order: %q %d", l.UOM, l.LineOrder)
	}
}

func TestLinesFromRecordsRejectsOutOfRange(t *testing.T) {
	records := []map[string]any{{"qty": 1.0, "rate": 10.0, "discount": 250.0}}
	if _, err := LinesFromRecords(records); err == nil {
		t.Fatalf("expected validation error for out-of-range discount")
	}
}

func TestLinesFromRecordsMissingFieldsAreZero(t *testing.T) {
	lines, err := LinesFromRecords([]map[string]any{{"description": "custom"}})
	if err != nil {
		t.Fatalf("LinesFromRecords returned error: %v", err)
	}
	if lines[0].LineTotal != 0 {
		t.Fatalf("expected zero total got %.2f", lines[0].LineTotal)
	}
}
