package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wanderlynx/whatsapp-inbox/internal/model"
	natsclient "github.com/wanderlynx/whatsapp-inbox/internal/nats"
	"github.com/wanderlynx/whatsapp-inbox/internal/store"
	"github.com/wanderlynx/whatsapp-inbox/internal/wa"
	"github.com/wanderlynx/whatsapp-inbox/internal/window"
	"github.com/wanderlynx/whatsapp-inbox/pkg/errs"
	"github.com/wanderlynx/whatsapp-inbox/pkg/logger"
	"github.com/wanderlynx/whatsapp-inbox/pkg/metrics"
)

// UpdatePublisher pushes inbox updates to live consumers. Implementations
// may drop updates; delivery of dashboard refreshes is best effort.
type UpdatePublisher interface {
	PublishMessage(ctx context.Context, msg *model.Message) error
	PublishReceipt(ctx context.Context, update natsclient.ReceiptUpdate) error
}

// MessageService is the delivery tracker: it dispatches outbound messages,
// persists their lifecycle and applies asynchronous delivery receipts.
type MessageService struct {
	store     store.Store
	convSvc   *ConversationService
	client    wa.Client
	publisher UpdatePublisher
	logger    *logger.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewMessageService creates a message service. publisher may be nil.
func NewMessageService(
	st store.Store,
	convSvc *ConversationService,
	client wa.Client,
	publisher UpdatePublisher,
	log *logger.Logger,
) *MessageService {
	return &MessageService{
		store:     st,
		convSvc:   convSvc,
		client:    client,
		publisher: publisher,
		logger:    log,
		now:       time.Now,
	}
}

// Send dispatches an agent message. Freeform sends consult the session
// window first: a closed window aborts with WindowClosed before any
// provider call or persisted record. Template sends are always permitted.
// Internal notes are persisted without touching the provider.
//
// A provider dispatch failure does not roll anything back: the message is
// persisted with deliveryStatus=failed and may be retried explicitly.
func (s *MessageService) Send(ctx context.Context, actor model.Agent, conversationID string, req *model.SendMessageRequest) (*model.Message, error) {
	if !actor.Role.CanWrite() {
		return nil, errs.PermissionDenied("read-only role cannot send messages")
	}

	kind := req.Kind
	if kind == "" {
		kind = model.KindFreeform
	}

	switch kind {
	case model.KindFreeform, model.KindNote:
		if req.Content == "" {
			return nil, errs.InvalidArg("content is required")
		}
	case model.KindTemplate:
		if req.TemplateName == "" {
			return nil, errs.InvalidArg("template_name is required")
		}
	default:
		return nil, errs.InvalidArg("unknown message kind")
	}

	conv, err := s.convSvc.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	now := s.now()

	if kind == model.KindFreeform && !window.IsOpen(conv.LastCustomerMessageAt, now) {
		metrics.WindowRejectionsTotal.Inc()
		return nil, errs.WindowClosed("session window is closed; send a template message instead")
	}

	msg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		Direction:      model.DirectionOutbound,
		Kind:           kind,
		Body:           req.Content,
		TemplateName:   req.TemplateName,
		Variables:      req.Variables,
		AgentID:        actor.ID,
		CreatedAt:      now,
	}

	if kind == model.KindNote {
		if err := s.store.InsertMessage(ctx, msg); err != nil {
			return nil, errs.Internal("failed to persist note", err)
		}
		metrics.MessagesTotal.WithLabelValues(string(msg.Direction), string(msg.Kind)).Inc()
		return msg, nil
	}

	s.dispatch(ctx, conv.ContactPhone, msg, req.Variables)

	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, errs.Internal("failed to persist message", err)
	}

	if err := s.convSvc.NoteOutbound(ctx, conv.ID, now, true); err != nil {
		s.logger.Warn("failed to record outbound side effects",
			zap.Error(err), zap.String("conversation_id", conv.ID))
	}

	s.publishMessage(ctx, msg)
	metrics.MessagesTotal.WithLabelValues(string(msg.Direction), string(msg.Kind)).Inc()

	return msg, nil
}

// SendSystemTemplate dispatches a template triggered by a business event
// rather than an agent. The message is recorded against the contact's
// conversation so it shows in the thread and its receipts are tracked.
func (s *MessageService) SendSystemTemplate(ctx context.Context, phone, templateName string, variables []string, body string) (*model.Message, error) {
	conv, err := s.convSvc.GetOrCreateByPhone(ctx, phone, "")
	if err != nil {
		return nil, err
	}

	now := s.now()
	msg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		Direction:      model.DirectionOutbound,
		Kind:           model.KindTemplate,
		Body:           body,
		TemplateName:   templateName,
		Variables:      variables,
		CreatedAt:      now,
	}

	s.dispatch(ctx, phone, msg, variables)

	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, errs.Internal("failed to persist message", err)
	}

	if err := s.convSvc.NoteOutbound(ctx, conv.ID, now, true); err != nil {
		s.logger.Warn("failed to record outbound side effects",
			zap.Error(err), zap.String("conversation_id", conv.ID))
	}

	s.publishMessage(ctx, msg)
	metrics.MessagesTotal.WithLabelValues(string(msg.Direction), string(msg.Kind)).Inc()

	if msg.DeliveryStatus == model.DeliveryFailed {
		return msg, errs.Provider("template dispatch failed", errors.New(msg.FailureReason))
	}
	return msg, nil
}

// dispatch performs the provider call and stamps the message with the
// resulting status. It never returns an error: failure is state, not an
// exception.
func (s *MessageService) dispatch(ctx context.Context, phone string, msg *model.Message, variables []string) {
	var providerID string
	var err error

	if msg.Kind == model.KindTemplate {
		providerID, err = s.client.SendTemplate(ctx, phone, msg.TemplateName, variables)
	} else {
		providerID, err = s.client.SendText(ctx, phone, msg.Body)
	}

	if err != nil {
		s.logger.Warn("provider dispatch failed",
			zap.Error(err),
			zap.String("message_id", msg.ID),
			zap.String("conversation_id", msg.ConversationID),
		)
		msg.DeliveryStatus = model.DeliveryFailed
		msg.FailureReason = err.Error()
		return
	}

	msg.ProviderMessageID = providerID
	msg.DeliveryStatus = model.DeliverySent
}

// Retry re-attempts a failed outbound message with identical content under a
// new message id. The failed row is kept and linked, not mutated in place,
// so history shows both attempts.
func (s *MessageService) Retry(ctx context.Context, actor model.Agent, messageID string) (*model.Message, error) {
	if !actor.Role.CanWrite() {
		return nil, errs.PermissionDenied("read-only role cannot retry messages")
	}

	failed, err := s.store.GetMessage(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errs.NotFound("message not found")
	}
	if err != nil {
		return nil, errs.Internal("failed to load message", err)
	}

	if failed.Direction != model.DirectionOutbound || failed.DeliveryStatus != model.DeliveryFailed {
		return nil, errs.InvalidArg("only failed outbound messages can be retried")
	}
	if failed.SupersededByID != "" {
		retry, err := s.store.GetMessage(ctx, failed.SupersededByID)
		if err == nil {
			// Repeating the retry is a no-op; return the existing attempt.
			return retry, nil
		}
	}

	retry, err := s.Send(ctx, actor, failed.ConversationID, &model.SendMessageRequest{
		Content:      failed.Body,
		Kind:         failed.Kind,
		TemplateName: failed.TemplateName,
		Variables:    failed.Variables,
	})
	if err != nil {
		return nil, err
	}

	failed.SupersededByID = retry.ID
	if err := s.store.UpdateMessage(ctx, failed); err != nil {
		s.logger.Warn("failed to link superseded message",
			zap.Error(err), zap.String("message_id", failed.ID))
	}

	return retry, nil
}

// ApplyReceipt applies an asynchronous delivery receipt from the provider.
// Status only advances along sent -> delivered -> read, or jumps to failed;
// stale receipts are ignored. An unmatched provider id is logged and
// dropped, not an error.
func (s *MessageService) ApplyReceipt(ctx context.Context, providerID string, status model.DeliveryStatus, at time.Time) error {
	msg, err := s.store.GetMessageByProviderID(ctx, providerID)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("delivery receipt for unknown message",
			zap.String("provider_message_id", providerID),
			zap.String("status", string(status)),
		)
		metrics.DeliveryReceiptsTotal.WithLabelValues(string(status), "unmatched").Inc()
		return nil
	}
	if err != nil {
		return errs.Internal("failed to match receipt", err)
	}

	if !status.Advances(msg.DeliveryStatus) {
		metrics.DeliveryReceiptsTotal.WithLabelValues(string(status), "ignored").Inc()
		return nil
	}

	msg.DeliveryStatus = status
	if err := s.store.UpdateMessage(ctx, msg); err != nil {
		return errs.Internal("failed to apply receipt", err)
	}

	metrics.DeliveryReceiptsTotal.WithLabelValues(string(status), "applied").Inc()

	if s.publisher != nil {
		if err := s.publisher.PublishReceipt(ctx, natsclient.ReceiptUpdate{
			ConversationID: msg.ConversationID,
			MessageID:      msg.ID,
			Status:         status,
			At:             at,
		}); err != nil {
			s.logger.Warn("failed to publish receipt update", zap.Error(err))
		}
	}
	return nil
}

// RecordInbound persists an inbound customer message delivered by webhook,
// creating the conversation for unknown senders. Redelivered webhook
// batches are deduplicated on the provider message id.
func (s *MessageService) RecordInbound(ctx context.Context, phone, contactName, providerID, body string, at time.Time) (*model.Message, error) {
	if existing, err := s.store.GetMessageByProviderID(ctx, providerID); err == nil {
		return existing, nil
	}

	conv, err := s.convSvc.GetOrCreateByPhone(ctx, phone, contactName)
	if err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:                uuid.Must(uuid.NewV7()).String(),
		ConversationID:    conv.ID,
		Direction:         model.DirectionInbound,
		Kind:              model.KindFreeform,
		Body:              body,
		ProviderMessageID: providerID,
		CreatedAt:         at,
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, errs.Internal("failed to persist inbound message", err)
	}

	if err := s.convSvc.NoteInbound(ctx, conv.ID, at); err != nil {
		s.logger.Warn("failed to record inbound side effects",
			zap.Error(err), zap.String("conversation_id", conv.ID))
	}

	s.publishMessage(ctx, msg)
	metrics.MessagesTotal.WithLabelValues(string(msg.Direction), string(msg.Kind)).Inc()

	return msg, nil
}

// List returns a conversation's messages in createdAt order.
func (s *MessageService) List(ctx context.Context, conversationID string, limit, offset int) (*model.ListMessagesResponse, error) {
	if _, err := s.convSvc.Get(ctx, conversationID); err != nil {
		return nil, err
	}

	msgs, err := s.store.ListMessages(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, errs.Internal("failed to list messages", err)
	}
	return &model.ListMessagesResponse{
		Messages: msgs,
		HasMore:  limit > 0 && len(msgs) == limit,
	}, nil
}

func (s *MessageService) publishMessage(ctx context.Context, msg *model.Message) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishMessage(ctx, msg); err != nil {
		s.logger.Warn("failed to publish message update",
			zap.Error(err), zap.String("message_id", msg.ID))
	}
}
