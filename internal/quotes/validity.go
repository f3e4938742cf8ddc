package quotes

import "time"

// ValidityState is derived from the quotation date and validity window on
// every read. It is never persisted; a stored copy could go stale overnight.
type ValidityState string

const (
	StateValid   ValidityState = "valid"
	StateDue     ValidityState = "due"
	StateOverdue ValidityState = "overdue"
	StateExpired ValidityState = "expired"
)

// ValidityPolicy holds the lifecycle thresholds. DueWindowDays is the
// lookahead inside which a quotation is flagged as approaching expiry.
type ValidityPolicy struct {
	DueWindowDays int
}

// DefaultValidityPolicy mirrors the stock two-day lookahead.
var DefaultValidityPolicy = ValidityPolicy{DueWindowDays: 2}

// ExpiresOn returns the calendar day on which the validity window closes.
func ExpiresOn(quoteDate time.Time, validityDays int) time.Time {
	return atMidnight(quoteDate).AddDate(0, 0, validityDays)
}

// Derive computes the lifecycle state from the quotation date, validity
// window and current time. Expired is terminal; the only way forward from it
// is reissuing a fresh quotation.
func (p ValidityPolicy) Derive(quoteDate time.Time, validityDays int, now time.Time) ValidityState {
	expiry := ExpiresOn(quoteDate, validityDays)
	remaining := int(expiry.Sub(atMidnight(now)).Hours() / 24)
	switch {
	case remaining < 0:
		return StateExpired
	case remaining == 0:
		return StateOverdue
	case remaining <= p.DueWindowDays:
		return StateDue
	default:
		return StateValid
	}
}

// atMidnight truncates to the UTC calendar day. Quote dates scan from DATE
// columns as UTC midnight while now is server-local; normalizing both sides
// keeps the day difference an exact multiple of 24h in any wall clock.
func atMidnight(t time.Time) time.Time {
	u := t.In(time.UTC)
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
