package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/wanderlynx/whatsapp-inbox/internal/ledger"
	"github.com/wanderlynx/whatsapp-inbox/internal/model"
	"github.com/wanderlynx/whatsapp-inbox/internal/store"
	"github.com/wanderlynx/whatsapp-inbox/pkg/errs"
	"github.com/wanderlynx/whatsapp-inbox/pkg/logger"
	"github.com/wanderlynx/whatsapp-inbox/pkg/metrics"
)

var phonePattern = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// EventService is the intake reconciler for third-party business events. It
// validates payloads, applies the idempotency ledger, dispatches the
// notification template and records the outcome unconditionally.
type EventService struct {
	ledger   *ledger.Ledger
	messages *MessageService
	logger   *logger.Logger
}

// NewEventService creates an event service.
func NewEventService(led *ledger.Ledger, messages *MessageService, log *logger.Logger) *EventService {
	return &EventService{
		ledger:   led,
		messages: messages,
		logger:   log,
	}
}

// HandleEvent processes one inbound business event.
//
// Validation failures return an error before the ledger is touched.
// Everything after validation is accept-and-log: duplicates are acknowledged
// as SKIPPED so the producer stops retrying, and a failed downstream
// dispatch is recorded as FAILURE but still acknowledged, because retrying
// would not help the producer and risks duplicate sends once the cause
// clears. Only a failing ledger lookup propagates as an internal error.
func (s *EventService) HandleEvent(ctx context.Context, eventType model.EventType, payload *model.EventPayload) (*model.EventResult, error) {
	if err := validatePayload(eventType, payload); err != nil {
		return nil, err
	}

	key := payload.IdempotencyKey(eventType)
	if key != "" {
		processed, err := s.ledger.HasProcessed(ctx, key, string(eventType))
		if err != nil {
			return nil, err
		}
		if processed {
			return s.skip(ctx, key, eventType)
		}
	}

	templateName, variables, body := composeNotification(eventType, payload)

	_, dispatchErr := s.messages.SendSystemTemplate(ctx, payload.Phone, templateName, variables, body)

	if key == "" {
		// No natural idempotency key for this event type; every delivery
		// re-sends and nothing is recorded against the ledger.
		outcome := model.OutcomeSuccess
		detail := "Notification sent"
		if dispatchErr != nil {
			outcome = model.OutcomeFailure
			detail = "Notification dispatch failed; see message log"
		}
		metrics.EventsTotal.WithLabelValues(string(eventType), string(outcome)).Inc()
		return &model.EventResult{Accepted: true, Outcome: outcome, Detail: detail}, nil
	}

	if dispatchErr != nil {
		s.logger.Warn("event dispatch failed",
			zap.Error(dispatchErr),
			zap.String("event_type", string(eventType)),
			zap.String("key", key),
		)
		if err := s.ledger.Record(ctx, key, string(eventType), model.OutcomeFailure, dispatchErr.Error()); err != nil {
			s.logger.Error("failed to record FAILURE outcome",
				zap.Error(err), zap.String("key", key))
		}
		metrics.EventsTotal.WithLabelValues(string(eventType), string(model.OutcomeFailure)).Inc()
		return &model.EventResult{
			Accepted: true,
			Outcome:  model.OutcomeFailure,
			Detail:   "Event received; notification dispatch failed and was logged",
		}, nil
	}

	err := s.ledger.Record(ctx, key, string(eventType), model.OutcomeSuccess, "Notification sent")
	if errors.Is(err, store.ErrDuplicateSuccess) {
		// Lost the race against a concurrent delivery of the same key; the
		// other delivery's SUCCESS stands and this one is recorded SKIPPED.
		return s.skip(ctx, key, eventType)
	}
	if err != nil {
		s.logger.Error("failed to record SUCCESS outcome",
			zap.Error(err), zap.String("key", key))
	}

	metrics.EventsTotal.WithLabelValues(string(eventType), string(model.OutcomeSuccess)).Inc()
	return &model.EventResult{
		Accepted: true,
		Outcome:  model.OutcomeSuccess,
		Detail:   "Event processed and notification sent",
	}, nil
}

func (s *EventService) skip(ctx context.Context, key string, eventType model.EventType) (*model.EventResult, error) {
	if err := s.ledger.Record(ctx, key, string(eventType), model.OutcomeSkipped, "Duplicate delivery"); err != nil {
		s.logger.Warn("failed to record SKIPPED outcome",
			zap.Error(err), zap.String("key", key))
	}
	metrics.EventsTotal.WithLabelValues(string(eventType), string(model.OutcomeSkipped)).Inc()
	return &model.EventResult{
		Accepted: true,
		Outcome:  model.OutcomeSkipped,
		Detail:   fmt.Sprintf("Duplicate event %s. Already processed", key),
	}, nil
}

// validatePayload enforces each event type's required fields. Rejections
// happen before the ledger is touched.
func validatePayload(eventType model.EventType, p *model.EventPayload) error {
	if !eventType.Valid() {
		return errs.InvalidArg(fmt.Sprintf("unknown event type %q", eventType))
	}
	if !phonePattern.MatchString(p.Phone) {
		return errs.InvalidArg("phone must be E.164, e.g. +5215512345678")
	}

	var missing []string
	require := func(name, value string) {
		if value == "" {
			missing = append(missing, name)
		}
	}

	switch eventType {
	case model.EventBookingConfirmed:
		require("booking_id", p.BookingID)
		require("trip_name", p.TripName)
		require("destination", p.Destination)
		require("start_date", p.StartDate)
	case model.EventPaymentPending:
		require("invoice_id", p.InvoiceID)
		require("amount", p.Amount)
		require("currency", p.Currency)
		require("due_date", p.DueDate)
	case model.EventPaymentReceived:
		require("amount", p.Amount)
		require("currency", p.Currency)
	case model.EventTripReminder:
		require("trip_name", p.TripName)
		require("start_date", p.StartDate)
		require("destination", p.Destination)
	}

	if len(missing) > 0 {
		return errs.InvalidArg("missing required fields: " + strings.Join(missing, ", "))
	}
	return nil
}

// composeNotification maps an event to its pre-approved template and a
// display body recorded in the conversation thread.
func composeNotification(eventType model.EventType, p *model.EventPayload) (string, []string, string) {
	switch eventType {
	case model.EventBookingConfirmed:
		return "booking_confirmed",
			[]string{p.TripName, p.Destination, p.StartDate},
			fmt.Sprintf("Your booking for %s (%s) starting %s is confirmed!", p.TripName, p.Destination, p.StartDate)

	case model.EventPaymentPending:
		return "payment_pending",
			[]string{p.Amount, p.Currency, p.InvoiceID, p.DueDate},
			fmt.Sprintf("Payment of %s %s for invoice %s is due by %s.", p.Amount, p.Currency, p.InvoiceID, p.DueDate)

	case model.EventPaymentReceived:
		vars := []string{p.Amount, p.Currency}
		body := fmt.Sprintf("We received your payment of %s %s. Thank you!", p.Amount, p.Currency)
		if p.ReceiptID != "" {
			vars = append(vars, p.ReceiptID)
			body = fmt.Sprintf("We received your payment of %s %s (receipt %s). Thank you!", p.Amount, p.Currency, p.ReceiptID)
		}
		return "payment_received", vars, body

	case model.EventTripReminder:
		return "trip_reminder",
			[]string{p.TripName, p.StartDate, p.Destination},
			fmt.Sprintf("Reminder: your trip %s to %s starts on %s.", p.TripName, p.Destination, p.StartDate)
	}
	return "", nil, ""
}
