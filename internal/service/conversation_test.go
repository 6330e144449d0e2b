package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wanderlynx/whatsapp-inbox/internal/model"
	"github.com/wanderlynx/whatsapp-inbox/internal/store"
	"github.com/wanderlynx/whatsapp-inbox/pkg/errs"
	"github.com/wanderlynx/whatsapp-inbox/pkg/logger"
)

var (
	admin     = model.Agent{ID: "agent-admin", DisplayName: "Ana", Role: model.RoleAdmin}
	support   = model.Agent{ID: "agent-support", DisplayName: "Sam", Role: model.RoleSupport}
	marketing = model.Agent{ID: "agent-mkt", DisplayName: "Mia", Role: model.RoleMarketing}
)

func newConvFixture(t *testing.T) (*ConversationService, *model.Conversation) {
	t.Helper()
	st := store.NewMemory()
	svc := NewConversationService(st, logger.NewNop())

	conv, err := st.GetOrCreateConversation(context.Background(), "+5215512345678", "Carlos")
	require.NoError(t, err)
	return svc, conv
}

func TestApply_ResolveAndAdminReopen(t *testing.T) {
	ctx := context.Background()
	svc, conv := newConvFixture(t)

	got, err := svc.Apply(ctx, support, conv.ID, model.ActionRequest{Action: model.ActionResolve})
	require.NoError(t, err)
	assert.Equal(t, model.StateResolved, got.State)

	got, err = svc.Apply(ctx, admin, conv.ID, model.ActionRequest{Action: model.ActionReopen})
	require.NoError(t, err)
	assert.Equal(t, model.StateOpen, got.State)
}

func TestApply_NonAdminReopenDenied(t *testing.T) {
	ctx := context.Background()
	svc, conv := newConvFixture(t)

	_, err := svc.Apply(ctx, admin, conv.ID, model.ActionRequest{Action: model.ActionResolve})
	require.NoError(t, err)

	for _, actor := range []model.Agent{support, marketing} {
		_, err = svc.Apply(ctx, actor, conv.ID, model.ActionRequest{Action: model.ActionReopen})
		assert.True(t, errs.Is(err, errs.CodePermissionDenied), "role %s must not reopen", actor.Role)

		got, err := svc.Get(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StateResolved, got.State, "state must be unchanged after denial")
	}
}

func TestApply_ReadOnlyRoleCannotMutate(t *testing.T) {
	ctx := context.Background()
	svc, conv := newConvFixture(t)

	for _, action := range []model.ConversationAction{model.ActionAssign, model.ActionResolve, model.ActionPin} {
		_, err := svc.Apply(ctx, marketing, conv.ID, model.ActionRequest{Action: action, Value: "x"})
		assert.True(t, errs.Is(err, errs.CodePermissionDenied), "action %s", action)
	}
}

func TestApply_ReadOnlyRoleCannotReopenPending(t *testing.T) {
	ctx := context.Background()
	svc, conv := newConvFixture(t)

	_, err := svc.Apply(ctx, support, conv.ID, model.ActionRequest{Action: model.ActionStatus, Value: "pending"})
	require.NoError(t, err)

	_, err = svc.Apply(ctx, marketing, conv.ID, model.ActionRequest{Action: model.ActionReopen})
	assert.True(t, errs.Is(err, errs.CodePermissionDenied))

	got, err := svc.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatePending, got.State)
}

func TestApply_OpenPendingFreelySettable(t *testing.T) {
	ctx := context.Background()
	svc, conv := newConvFixture(t)

	got, err := svc.Apply(ctx, support, conv.ID, model.ActionRequest{Action: model.ActionStatus, Value: "pending"})
	require.NoError(t, err)
	assert.Equal(t, model.StatePending, got.State)

	got, err = svc.Apply(ctx, support, conv.ID, model.ActionRequest{Action: model.ActionStatus, Value: "open"})
	require.NoError(t, err)
	assert.Equal(t, model.StateOpen, got.State)
}

func TestApply_Idempotent(t *testing.T) {
	ctx := context.Background()
	svc, conv := newConvFixture(t)

	first, err := svc.Apply(ctx, support, conv.ID, model.ActionRequest{Action: model.ActionAssign, Value: support.ID})
	require.NoError(t, err)
	second, err := svc.Apply(ctx, support, conv.ID, model.ActionRequest{Action: model.ActionAssign, Value: support.ID})
	require.NoError(t, err)
	assert.Equal(t, first.AssignedAgentID, second.AssignedAgentID)

	_, err = svc.Apply(ctx, support, conv.ID, model.ActionRequest{Action: model.ActionResolve})
	require.NoError(t, err)
	got, err := svc.Apply(ctx, support, conv.ID, model.ActionRequest{Action: model.ActionResolve})
	require.NoError(t, err, "repeating resolve must be a no-op, not a denied transition")
	assert.Equal(t, model.StateResolved, got.State)
}

func TestApply_NotFound(t *testing.T) {
	svc, _ := newConvFixture(t)

	_, err := svc.Apply(context.Background(), admin, "missing", model.ActionRequest{Action: model.ActionResolve})
	assert.True(t, errs.Is(err, errs.CodeNotFound))
}

func TestNoteInbound_UnreadAndMonotonicTimestamp(t *testing.T) {
	ctx := context.Background()
	svc, conv := newConvFixture(t)

	later := time.Now()
	earlier := later.Add(-time.Minute)

	require.NoError(t, svc.NoteInbound(ctx, conv.ID, later))
	require.NoError(t, svc.NoteInbound(ctx, conv.ID, earlier))

	got, err := svc.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.UnreadCount)
	assert.True(t, got.LastCustomerMessageAt.Equal(later),
		"lastCustomerMessageAt must not move backwards")

	_, err = svc.Apply(ctx, support, conv.ID, model.ActionRequest{Action: model.ActionRead})
	require.NoError(t, err)
	got, err = svc.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.UnreadCount)
}

func TestNoteOutbound_AutoReopensResolvedOnPublicOnly(t *testing.T) {
	ctx := context.Background()
	svc, conv := newConvFixture(t)

	_, err := svc.Apply(ctx, support, conv.ID, model.ActionRequest{Action: model.ActionResolve})
	require.NoError(t, err)

	// Internal note: no reopen, no lastAgentMessageAt.
	require.NoError(t, svc.NoteOutbound(ctx, conv.ID, time.Now(), false))
	got, err := svc.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateResolved, got.State)
	assert.Nil(t, got.LastAgentMessageAt)

	// Public outbound reopens regardless of actor role.
	require.NoError(t, svc.NoteOutbound(ctx, conv.ID, time.Now(), true))
	got, err = svc.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateOpen, got.State)
	assert.NotNil(t, got.LastAgentMessageAt)
}
