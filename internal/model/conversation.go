// Package model defines data structures for the WhatsApp inbox.
package model

import (
	"time"
)

// ConversationState represents a conversation's lifecycle state.
type ConversationState string

const (
	StateOpen     ConversationState = "open"
	StatePending  ConversationState = "pending"
	StateResolved ConversationState = "resolved"
)

// Valid reports whether s is a known conversation state.
func (s ConversationState) Valid() bool {
	switch s {
	case StateOpen, StatePending, StateResolved:
		return true
	}
	return false
}

// Conversation represents the message thread with one customer contact.
// There is exactly one conversation per contact phone number.
type Conversation struct {
	ID                    string            `json:"id"`
	ContactPhone          string            `json:"contact_phone"`
	ContactName           string            `json:"contact_name,omitempty"`
	State                 ConversationState `json:"state"`
	AssignedAgentID       string            `json:"assigned_agent_id,omitempty"`
	LastCustomerMessageAt *time.Time        `json:"last_customer_message_at,omitempty"`
	LastAgentMessageAt    *time.Time        `json:"last_agent_message_at,omitempty"`
	UnreadCount           int               `json:"unread_count"`
	Pinned                bool              `json:"pinned"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
}

// ConversationAction is an agent-initiated conversation mutation.
type ConversationAction string

const (
	ActionAssign  ConversationAction = "assign"
	ActionStatus  ConversationAction = "status"
	ActionResolve ConversationAction = "resolve"
	ActionReopen  ConversationAction = "reopen"
	ActionRead    ConversationAction = "read"
	ActionPin     ConversationAction = "pin"
)

// ActionRequest is the request body for the conversation mutation endpoint.
type ActionRequest struct {
	Action ConversationAction `json:"action"`
	Value  string             `json:"value,omitempty"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
	HasMore       bool           `json:"has_more"`
}
