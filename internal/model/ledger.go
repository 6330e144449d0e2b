package model

import (
	"time"
)

// Outcome is the result recorded for a processed business event.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
	OutcomeSkipped Outcome = "SKIPPED"
)

// IdempotencyRecord is one append-only ledger row. For a given
// (key, event_type) at most one SUCCESS row may exist; a SUCCESS row makes
// every later delivery of the same key a SKIPPED no-op.
type IdempotencyRecord struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	EventType   string    `json:"event_type"`
	Outcome     Outcome   `json:"outcome"`
	Detail      string    `json:"detail,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
}
