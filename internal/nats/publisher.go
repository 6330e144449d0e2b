package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/wanderlynx/whatsapp-inbox/internal/model"
)

const (
	// StreamName is the name of the inbox updates stream.
	StreamName = "INBOX"

	// SubjectPrefix is the prefix for all inbox subjects.
	SubjectPrefix = "inbox"
)

// Publisher publishes inbox updates to JetStream so dashboard clients can
// follow conversations live.
type Publisher struct {
	client *Client
}

// NewPublisher creates a publisher on an existing client.
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// EnsureStream ensures the inbox stream exists.
func (p *Publisher) EnsureStream(ctx context.Context) error {
	js := p.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Description: "Inbox message and delivery-receipt updates",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// MessageSubject returns the subject for a message update.
func MessageSubject(conversationID string, direction model.Direction) string {
	return fmt.Sprintf("%s.%s.msg.%s", SubjectPrefix, conversationID, direction)
}

// ReceiptSubject returns the subject for a delivery receipt update.
func ReceiptSubject(conversationID string) string {
	return fmt.Sprintf("%s.%s.receipt", SubjectPrefix, conversationID)
}

// PublishMessage publishes a recorded message.
func (p *Publisher) PublishMessage(ctx context.Context, msg *model.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	_, err = p.client.JetStream().Publish(ctx, MessageSubject(msg.ConversationID, msg.Direction), data)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// ReceiptUpdate is the payload published when a delivery receipt advances a
// message's status.
type ReceiptUpdate struct {
	ConversationID string               `json:"conversation_id"`
	MessageID      string               `json:"message_id"`
	Status         model.DeliveryStatus `json:"status"`
	At             time.Time            `json:"at"`
}

// PublishReceipt publishes a delivery status advance.
func (p *Publisher) PublishReceipt(ctx context.Context, update ReceiptUpdate) error {
	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt: %w", err)
	}

	_, err = p.client.JetStream().Publish(ctx, ReceiptSubject(update.ConversationID), data)
	if err != nil {
		return fmt.Errorf("failed to publish receipt: %w", err)
	}
	return nil
}
