package model

import (
	"time"
)

// Direction indicates who produced a message.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// MessageKind classifies message content.
type MessageKind string

const (
	KindFreeform MessageKind = "freeform"
	KindTemplate MessageKind = "template"
	// KindNote is an internal agent note. Notes are never transmitted to the
	// provider and never affect session-window bookkeeping.
	KindNote MessageKind = "note"
)

// DeliveryStatus is the outbound message delivery state. Inbound messages
// carry no delivery status.
type DeliveryStatus string

const (
	DeliveryQueued    DeliveryStatus = "queued"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
	DeliveryFailed    DeliveryStatus = "failed"
)

// deliveryRank orders the forward-only status lattice. Failed sits above
// everything so a late success receipt never resurrects a failed message.
var deliveryRank = map[DeliveryStatus]int{
	DeliveryQueued:    0,
	DeliverySent:      1,
	DeliveryDelivered: 2,
	DeliveryRead:      3,
	DeliveryFailed:    4,
}

// Advances reports whether moving from cur to next is a forward transition.
// Receipts that would regress or repeat a status are no-ops.
func (next DeliveryStatus) Advances(cur DeliveryStatus) bool {
	return deliveryRank[next] > deliveryRank[cur]
}

// Message represents a single inbox message.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`

	Direction Direction   `json:"direction"`
	Kind      MessageKind `json:"kind"`
	Body      string      `json:"body"`

	// TemplateName and Variables are set for kind=template outbound
	// messages. Variables are kept so a retry re-sends the identical
	// template parameters.
	TemplateName string   `json:"template_name,omitempty"`
	Variables    []string `json:"variables,omitempty"`

	// ProviderMessageID is the id assigned by the WhatsApp Cloud API.
	// Delivery receipts are matched against it.
	ProviderMessageID string `json:"provider_message_id,omitempty"`

	DeliveryStatus DeliveryStatus `json:"delivery_status,omitempty"`
	FailureReason  string         `json:"failure_reason,omitempty"`

	// SupersededByID links a failed message to the retry that replaced it.
	// The failed row is kept so history shows both attempts.
	SupersededByID string `json:"superseded_by_id,omitempty"`

	AgentID   string    `json:"agent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Public reports whether the message is visible to the customer. Internal
// notes are not.
func (m *Message) Public() bool {
	return m.Kind != KindNote
}

// SendMessageRequest is the request to send an outbound message.
type SendMessageRequest struct {
	Content      string      `json:"content,omitempty"`
	Kind         MessageKind `json:"kind,omitempty"`
	TemplateName string      `json:"template_name,omitempty"`
	// Variables fill the template's positional body parameters in order.
	Variables []string `json:"variables,omitempty"`
}

// SendMessageResponse is the response after sending a message.
type SendMessageResponse struct {
	Message *Message `json:"message"`
}

// ListMessagesResponse is the response for listing a conversation's messages.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}
