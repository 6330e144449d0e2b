// Package window implements the WhatsApp 24-hour session window rule:
// free-form replies are only permitted within 24 hours of the customer's
// last inbound message; outside the window only pre-approved templates may
// be sent.
package window

import (
	"time"
)

// Duration is the provider-defined customer service window.
const Duration = 24 * time.Hour

// IsOpen reports whether free-form replies are currently permitted.
//
// It returns false when the conversation has never received an inbound
// customer message, and true iff now-last < 24h. The boundary at exactly
// 24h is closed. Pure and side-effect free; callers must re-evaluate it on
// every send attempt rather than cache the result.
func IsOpen(lastCustomerMessageAt *time.Time, now time.Time) bool {
	if lastCustomerMessageAt == nil {
		return false
	}
	return now.Sub(*lastCustomerMessageAt) < Duration
}

// ClosesAt returns the instant the window closes, or the zero time when no
// inbound message has ever been received.
func ClosesAt(lastCustomerMessageAt *time.Time) time.Time {
	if lastCustomerMessageAt == nil {
		return time.Time{}
	}
	return lastCustomerMessageAt.Add(Duration)
}
