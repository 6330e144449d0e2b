package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wanderlynx/whatsapp-inbox/internal/ledger"
	"github.com/wanderlynx/whatsapp-inbox/internal/model"
	"github.com/wanderlynx/whatsapp-inbox/internal/store"
	"github.com/wanderlynx/whatsapp-inbox/pkg/errs"
	"github.com/wanderlynx/whatsapp-inbox/pkg/logger"
)

type eventFixture struct {
	store    *store.Memory
	provider *fakeProvider
	events   *EventService
}

func newEventFixture(t *testing.T) *eventFixture {
	t.Helper()
	st := store.NewMemory()
	log := logger.NewNop()
	convSvc := NewConversationService(st, log)
	provider := &fakeProvider{}
	msgSvc := NewMessageService(st, convSvc, provider, nil, log)
	led := ledger.New(st, nil, time.Hour, log)

	return &eventFixture{
		store:    st,
		provider: provider,
		events:   NewEventService(led, msgSvc, log),
	}
}

func bookingPayload() *model.EventPayload {
	return &model.EventPayload{
		Phone:       "+5215512345678",
		BookingID:   "BK-1",
		TripName:    "Patagonia Trek",
		Destination: "El Chaltén",
		StartDate:   "2025-09-01",
	}
}

func TestHandleEvent_ValidationRejectsBeforeLedger(t *testing.T) {
	ctx := context.Background()
	f := newEventFixture(t)

	payload := bookingPayload()
	payload.BookingID = ""
	payload.StartDate = ""

	_, err := f.events.HandleEvent(ctx, model.EventBookingConfirmed, payload)
	assert.True(t, errs.Is(err, errs.CodeInvalidArgument))
	assert.Contains(t, err.Error(), "booking_id")
	assert.Empty(t, f.store.LedgerRecords(), "validation failures must not touch the ledger")
	assert.Equal(t, 0, f.provider.templateCalls)
}

func TestHandleEvent_RejectsBadPhone(t *testing.T) {
	f := newEventFixture(t)

	payload := bookingPayload()
	payload.Phone = "5512345678"

	_, err := f.events.HandleEvent(context.Background(), model.EventBookingConfirmed, payload)
	assert.True(t, errs.Is(err, errs.CodeInvalidArgument))
}

func TestHandleEvent_DuplicateIsSkipped(t *testing.T) {
	ctx := context.Background()
	f := newEventFixture(t)

	first, err := f.events.HandleEvent(ctx, model.EventBookingConfirmed, bookingPayload())
	require.NoError(t, err)
	assert.True(t, first.Accepted)
	assert.Equal(t, model.OutcomeSuccess, first.Outcome)
	assert.Equal(t, 1, f.provider.templateCalls)

	second, err := f.events.HandleEvent(ctx, model.EventBookingConfirmed, bookingPayload())
	require.NoError(t, err)
	assert.True(t, second.Accepted, "duplicates are acknowledged to stop producer retries")
	assert.Equal(t, model.OutcomeSkipped, second.Outcome)
	assert.Contains(t, second.Detail, "Duplicate event")
	assert.Contains(t, second.Detail, "Already processed")
	assert.Equal(t, 1, f.provider.templateCalls, "no second dispatch")

	// Audit continuity: SUCCESS then SKIPPED both on the ledger.
	recs := f.store.LedgerRecords()
	require.Len(t, recs, 2)
	assert.Equal(t, model.OutcomeSuccess, recs[0].Outcome)
	assert.Equal(t, model.OutcomeSkipped, recs[1].Outcome)
}

func TestHandleEvent_DispatchFailureIsAcceptedAndLogged(t *testing.T) {
	ctx := context.Background()
	f := newEventFixture(t)
	f.provider.err = errors.New("template not approved")

	res, err := f.events.HandleEvent(ctx, model.EventBookingConfirmed, bookingPayload())
	require.NoError(t, err, "provider failure must not propagate to the event producer")
	assert.True(t, res.Accepted)
	assert.Equal(t, model.OutcomeFailure, res.Outcome)

	recs := f.store.LedgerRecords()
	require.Len(t, recs, 1)
	assert.Equal(t, model.OutcomeFailure, recs[0].Outcome)

	// A FAILURE does not block a later redelivery from succeeding.
	f.provider.err = nil
	res, err = f.events.HandleEvent(ctx, model.EventBookingConfirmed, bookingPayload())
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSuccess, res.Outcome)
}

func TestHandleEvent_KeylessTypeAlwaysDispatches(t *testing.T) {
	ctx := context.Background()
	f := newEventFixture(t)

	payload := &model.EventPayload{
		Phone:    "+5215512345678",
		Amount:   "1200.00",
		Currency: "USD",
	}

	for i := 0; i < 2; i++ {
		res, err := f.events.HandleEvent(ctx, model.EventPaymentReceived, payload)
		require.NoError(t, err)
		assert.True(t, res.Accepted)
		assert.Equal(t, model.OutcomeSuccess, res.Outcome)
	}

	// payment-received has no natural key: every delivery re-sends.
	assert.Equal(t, 2, f.provider.templateCalls)
	assert.Empty(t, f.store.LedgerRecords())
}

func TestHandleEvent_RecordsMessageInConversation(t *testing.T) {
	ctx := context.Background()
	f := newEventFixture(t)

	_, err := f.events.HandleEvent(ctx, model.EventBookingConfirmed, bookingPayload())
	require.NoError(t, err)

	conv, err := f.store.GetOrCreateConversation(ctx, "+5215512345678", "")
	require.NoError(t, err)
	msgs, err := f.store.ListMessages(ctx, conv.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.KindTemplate, msgs[0].Kind)
	assert.Equal(t, "booking_confirmed", msgs[0].TemplateName)
	assert.Contains(t, msgs[0].Body, "Patagonia Trek")
}

func TestHandleEvent_UnknownType(t *testing.T) {
	f := newEventFixture(t)

	_, err := f.events.HandleEvent(context.Background(), model.EventType("unknown"), bookingPayload())
	assert.True(t, errs.Is(err, errs.CodeInvalidArgument))
}
