package pricing

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Num parses loosely-typed numeric input coming from half-filled forms or
// legacy serialized rows. Missing or non-numeric values become 0; it never
// returns an error.
func Num(v any) float64 {
	switch n := v.(type) {
	case nil:
		return 0
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0
		}
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// lookup returns the first present key from the record.
func lookup(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}

// LineFromRecord builds a LineInput from a loosely-typed item record,
// tolerating the field aliases seen in legacy data.
func LineFromRecord(m map[string]any) LineInput {
	return LineInput{
		Quantity:        Num(lookup(m, "quantity", "qty")),
		UnitPrice:       Num(lookup(m, "unit_price", "rate", "price")),
		DiscountPercent: Num(lookup(m, "discount_percent", "discount")),
		TaxRatePercent:  Num(lookup(m, "tax_rate", "tax_percent", "tax")),
	}
}
