package pricing

import (
	"encoding/json"
	"testing"
)

func TestNumPermissive(t *testing.T) {
	cases := []struct {
		in   any
		want float64
	}{
		{nil, 0},
		{12.5, 12.5},
		{3, 3},
		{json.Number("7.25"), 7.25},
		{"  18 ", 18},
		{"12.75", 12.75},
		{"abc", 0},
		{"", 0},
		{true, 0},
		{map[string]any{}, 0},
	}
	for _, tc := range cases {
		if got := Num(tc.in); got != tc.want {
			t.Fatalf("Num(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestLineFromRecordAliases(t *testing.T) {
	line := LineFromRecord(map[string]any{
		"qty":      "2",
		"rate":     100,
		"discount": 10.0,
		"tax":      json.Number("18"),
	})
	want := LineInput{Quantity: 2, UnitPrice: 100, DiscountPercent: 10, TaxRatePercent: 18}
	if line != want {
		t.Fatalf("LineFromRecord = %+v, want %+v", line, want)
	}
}

func TestLineFromRecordMissingFields(t *testing.T) {
	line := LineFromRecord(map[string]any{"description": "custom work"})
	if line != (LineInput{}) {
		t.Fatalf("expected zeroed line got %+v", line)
	}
}
