// Package store defines the persistence contracts for the inbox and their
// implementations. Services depend on the interfaces only; the MySQL
// implementation backs production and the in-memory one backs tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/wanderlynx/whatsapp-inbox/internal/model"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateSuccess is returned by AppendRecord when a SUCCESS row for the
// same (key, event_type) already exists. The unique index turns the narrow
// check-then-act race into this detectable conflict, which callers treat as
// SKIPPED.
var ErrDuplicateSuccess = errors.New("success record already exists")

// ConversationFilter narrows conversation listings.
type ConversationFilter struct {
	State         model.ConversationState
	AssignedAgent string
	Limit         int
	Offset        int
}

// ConversationStore handles conversation persistence.
type ConversationStore interface {
	// GetConversation returns the conversation or ErrNotFound.
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)

	// GetOrCreateConversation returns the conversation owning the phone
	// number, creating an open one for unknown senders.
	GetOrCreateConversation(ctx context.Context, phone, contactName string) (*model.Conversation, error)

	// UpdateConversation replaces the stored row. Last write wins.
	UpdateConversation(ctx context.Context, conv *model.Conversation) error

	// ListConversations returns conversations matching the filter, pinned
	// first, most recently updated next, plus the unfiltered match count.
	ListConversations(ctx context.Context, f ConversationFilter) ([]model.Conversation, int, error)

	// DeleteConversation removes the conversation and cascades to its
	// messages.
	DeleteConversation(ctx context.Context, id string) error
}

// MessageStore handles message persistence.
type MessageStore interface {
	InsertMessage(ctx context.Context, msg *model.Message) error

	// GetMessage returns the message or ErrNotFound.
	GetMessage(ctx context.Context, id string) (*model.Message, error)

	// GetMessageByProviderID matches a delivery receipt to a local message.
	GetMessageByProviderID(ctx context.Context, providerID string) (*model.Message, error)

	// UpdateMessage replaces the stored row.
	UpdateMessage(ctx context.Context, msg *model.Message) error

	// ListMessages returns a conversation's messages in createdAt order.
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error)
}

// LedgerStore handles the append-only idempotency ledger.
type LedgerStore interface {
	// HasSuccess reports whether a SUCCESS row exists for (key, eventType).
	HasSuccess(ctx context.Context, key, eventType string) (bool, error)

	// AppendRecord appends one ledger row. Appending a second SUCCESS for
	// the same (key, eventType) returns ErrDuplicateSuccess.
	AppendRecord(ctx context.Context, rec *model.IdempotencyRecord) error

	// TrimBefore deletes ledger rows processed before the cutoff and
	// returns how many were removed. Retention housekeeping only.
	TrimBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store aggregates all persistence contracts.
type Store interface {
	ConversationStore
	MessageStore
	LedgerStore
}
