package model

// EventType names an inbound business event.
type EventType string

const (
	EventBookingConfirmed EventType = "booking-confirmed"
	EventPaymentPending   EventType = "payment-pending"
	EventPaymentReceived  EventType = "payment-received"
	EventTripReminder     EventType = "trip-reminder"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventBookingConfirmed, EventPaymentPending, EventPaymentReceived, EventTripReminder:
		return true
	}
	return false
}

// EventPayload carries the union of fields across business event types.
// Which fields are required depends on the event type.
type EventPayload struct {
	Phone string `json:"phone"`

	// booking-confirmed
	BookingID   string `json:"booking_id,omitempty"`
	TripName    string `json:"trip_name,omitempty"`
	Destination string `json:"destination,omitempty"`
	StartDate   string `json:"start_date,omitempty"`

	// payment-pending / payment-received
	InvoiceID string `json:"invoice_id,omitempty"`
	Amount    string `json:"amount,omitempty"`
	Currency  string `json:"currency,omitempty"`
	DueDate   string `json:"due_date,omitempty"`
	ReceiptID string `json:"receipt_id,omitempty"`
}

// IdempotencyKey derives the natural dedup key for the payload, or "" when
// the event type defines none. payment-received and trip-reminder carry no
// natural key and are never deduplicated; every delivery re-sends.
func (p *EventPayload) IdempotencyKey(t EventType) string {
	switch t {
	case EventBookingConfirmed:
		return p.BookingID
	case EventPaymentPending:
		return p.InvoiceID
	}
	return ""
}

// EventResponse is the wire response for the event intake endpoint.
type EventResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// EventResult reports what the reconciler did with an event.
type EventResult struct {
	Accepted bool
	Outcome  Outcome
	Detail   string
}
