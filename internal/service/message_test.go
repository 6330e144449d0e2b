package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wanderlynx/whatsapp-inbox/internal/model"
	"github.com/wanderlynx/whatsapp-inbox/internal/store"
	"github.com/wanderlynx/whatsapp-inbox/pkg/errs"
	"github.com/wanderlynx/whatsapp-inbox/pkg/logger"
)

// fakeProvider is a wa.Client test double.
type fakeProvider struct {
	textCalls     int
	templateCalls int
	lastVariables []string
	err           error
	nextID        string
}

func (f *fakeProvider) SendText(ctx context.Context, to, body string) (string, error) {
	f.textCalls++
	if f.err != nil {
		return "", f.err
	}
	return f.provID(), nil
}

func (f *fakeProvider) SendTemplate(ctx context.Context, to, templateName string, variables []string) (string, error) {
	f.templateCalls++
	f.lastVariables = variables
	if f.err != nil {
		return "", f.err
	}
	return f.provID(), nil
}

func (f *fakeProvider) provID() string {
	if f.nextID != "" {
		return f.nextID
	}
	return "wamid.TEST"
}

type msgFixture struct {
	store    *store.Memory
	provider *fakeProvider
	convSvc  *ConversationService
	msgSvc   *MessageService
	conv     *model.Conversation
}

func newMsgFixture(t *testing.T) *msgFixture {
	t.Helper()
	st := store.NewMemory()
	log := logger.NewNop()
	convSvc := NewConversationService(st, log)
	provider := &fakeProvider{}
	msgSvc := NewMessageService(st, convSvc, provider, nil, log)

	conv, err := st.GetOrCreateConversation(context.Background(), "+5215512345678", "Carlos")
	require.NoError(t, err)

	return &msgFixture{store: st, provider: provider, convSvc: convSvc, msgSvc: msgSvc, conv: conv}
}

func (f *msgFixture) openWindow(t *testing.T) {
	t.Helper()
	require.NoError(t, f.convSvc.NoteInbound(context.Background(), f.conv.ID, time.Now().Add(-time.Hour)))
}

func TestSend_FreeformInsideWindow(t *testing.T) {
	ctx := context.Background()
	f := newMsgFixture(t)
	f.openWindow(t)

	msg, err := f.msgSvc.Send(ctx, support, f.conv.ID, &model.SendMessageRequest{Content: "hola"})
	require.NoError(t, err)
	assert.Equal(t, model.DeliverySent, msg.DeliveryStatus)
	assert.Equal(t, "wamid.TEST", msg.ProviderMessageID)
	assert.Equal(t, 1, f.provider.textCalls)
}

func TestSend_FreeformClosedWindow(t *testing.T) {
	ctx := context.Background()
	f := newMsgFixture(t)
	// Last inbound 30 hours ago: window closed.
	require.NoError(t, f.convSvc.NoteInbound(ctx, f.conv.ID, time.Now().Add(-30*time.Hour)))

	_, err := f.msgSvc.Send(ctx, support, f.conv.ID, &model.SendMessageRequest{Content: "hola"})
	assert.True(t, errs.Is(err, errs.CodeWindowClosed))

	// No provider call and no persisted record.
	assert.Equal(t, 0, f.provider.textCalls)
	msgs, err := f.store.ListMessages(ctx, f.conv.ID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSend_TemplateAllowedOutsideWindow(t *testing.T) {
	ctx := context.Background()
	f := newMsgFixture(t)

	msg, err := f.msgSvc.Send(ctx, support, f.conv.ID, &model.SendMessageRequest{
		Kind:         model.KindTemplate,
		TemplateName: "booking_confirmed",
		Variables:    []string{"Patagonia Trek"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.DeliverySent, msg.DeliveryStatus)
	assert.Equal(t, 1, f.provider.templateCalls)
}

func TestSend_NoteSkipsProviderAndWindow(t *testing.T) {
	ctx := context.Background()
	f := newMsgFixture(t)

	msg, err := f.msgSvc.Send(ctx, support, f.conv.ID, &model.SendMessageRequest{
		Content: "customer prefers email",
		Kind:    model.KindNote,
	})
	require.NoError(t, err)
	assert.Equal(t, model.KindNote, msg.Kind)
	assert.Empty(t, msg.ProviderMessageID)
	assert.Equal(t, 0, f.provider.textCalls)

	conv, err := f.convSvc.Get(ctx, f.conv.ID)
	require.NoError(t, err)
	assert.Nil(t, conv.LastAgentMessageAt, "notes must not affect window bookkeeping")
}

func TestSend_ProviderFailurePersistsFailedMessage(t *testing.T) {
	ctx := context.Background()
	f := newMsgFixture(t)
	f.openWindow(t)
	f.provider.err = errors.New("connection timeout")

	msg, err := f.msgSvc.Send(ctx, support, f.conv.ID, &model.SendMessageRequest{Content: "hola"})
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryFailed, msg.DeliveryStatus)
	assert.Contains(t, msg.FailureReason, "timeout")

	stored, err := f.store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryFailed, stored.DeliveryStatus)
}

func TestRetry_CreatesNewMessageAndKeepsOriginal(t *testing.T) {
	ctx := context.Background()
	f := newMsgFixture(t)
	f.openWindow(t)

	f.provider.err = errors.New("provider outage")
	failed, err := f.msgSvc.Send(ctx, support, f.conv.ID, &model.SendMessageRequest{Content: "hola"})
	require.NoError(t, err)

	f.provider.err = nil
	retry, err := f.msgSvc.Retry(ctx, support, failed.ID)
	require.NoError(t, err)

	assert.NotEqual(t, failed.ID, retry.ID)
	assert.Equal(t, failed.Body, retry.Body)
	assert.Equal(t, model.DeliverySent, retry.DeliveryStatus)

	original, err := f.store.GetMessage(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryFailed, original.DeliveryStatus)
	assert.Equal(t, retry.ID, original.SupersededByID)

	// Repeating the retry returns the existing attempt instead of sending again.
	again, err := f.msgSvc.Retry(ctx, support, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, retry.ID, again.ID)
	assert.Equal(t, 2, f.provider.textCalls)
}

func TestRetry_TemplateKeepsVariables(t *testing.T) {
	ctx := context.Background()
	f := newMsgFixture(t)
	variables := []string{"Patagonia Trek", "El Chalten", "2025-09-01"}

	f.provider.err = errors.New("provider outage")
	failed, err := f.msgSvc.Send(ctx, support, f.conv.ID, &model.SendMessageRequest{
		Kind:         model.KindTemplate,
		TemplateName: "booking_confirmed",
		Variables:    variables,
	})
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryFailed, failed.DeliveryStatus)

	f.provider.err = nil
	f.provider.lastVariables = nil
	retry, err := f.msgSvc.Retry(ctx, support, failed.ID)
	require.NoError(t, err)

	assert.Equal(t, model.DeliverySent, retry.DeliveryStatus)
	assert.Equal(t, "booking_confirmed", retry.TemplateName)
	assert.Equal(t, variables, retry.Variables)
	assert.Equal(t, variables, f.provider.lastVariables,
		"retry must re-send the original template parameters")
}

func TestRetry_OnlyFailedOutbound(t *testing.T) {
	ctx := context.Background()
	f := newMsgFixture(t)
	f.openWindow(t)

	sent, err := f.msgSvc.Send(ctx, support, f.conv.ID, &model.SendMessageRequest{Content: "hola"})
	require.NoError(t, err)

	_, err = f.msgSvc.Retry(ctx, support, sent.ID)
	assert.True(t, errs.Is(err, errs.CodeInvalidArgument))
}

func TestApplyReceipt_ForwardOnlyLattice(t *testing.T) {
	ctx := context.Background()
	f := newMsgFixture(t)
	f.openWindow(t)

	msg, err := f.msgSvc.Send(ctx, support, f.conv.ID, &model.SendMessageRequest{Content: "hola"})
	require.NoError(t, err)

	require.NoError(t, f.msgSvc.ApplyReceipt(ctx, msg.ProviderMessageID, model.DeliveryDelivered, time.Now()))
	got, err := f.store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryDelivered, got.DeliveryStatus)

	// A late "sent" receipt after "delivered" is a no-op, not an error.
	require.NoError(t, f.msgSvc.ApplyReceipt(ctx, msg.ProviderMessageID, model.DeliverySent, time.Now()))
	got, err = f.store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryDelivered, got.DeliveryStatus)

	require.NoError(t, f.msgSvc.ApplyReceipt(ctx, msg.ProviderMessageID, model.DeliveryRead, time.Now()))
	got, err = f.store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryRead, got.DeliveryStatus)
}

func TestApplyReceipt_UnmatchedIsDropped(t *testing.T) {
	f := newMsgFixture(t)

	err := f.msgSvc.ApplyReceipt(context.Background(), "wamid.UNKNOWN", model.DeliveryDelivered, time.Now())
	assert.NoError(t, err, "unmatched receipts are logged and dropped")
}

func TestRecordInbound_DedupsOnProviderID(t *testing.T) {
	ctx := context.Background()
	f := newMsgFixture(t)

	first, err := f.msgSvc.RecordInbound(ctx, "+5215599999999", "Lucia", "wamid.IN1", "hola!", time.Now())
	require.NoError(t, err)
	second, err := f.msgSvc.RecordInbound(ctx, "+5215599999999", "Lucia", "wamid.IN1", "hola!", time.Now())
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	conv, err := f.convSvc.GetOrCreateByPhone(ctx, "+5215599999999", "")
	require.NoError(t, err)
	assert.Equal(t, 1, conv.UnreadCount, "redelivered webhook must not double count")
}

func TestSend_ReadOnlyRoleDenied(t *testing.T) {
	f := newMsgFixture(t)
	f.openWindow(t)

	_, err := f.msgSvc.Send(context.Background(), marketing, f.conv.ID, &model.SendMessageRequest{Content: "hola"})
	assert.True(t, errs.Is(err, errs.CodePermissionDenied))
}
