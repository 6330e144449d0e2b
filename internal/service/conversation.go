// Package service provides the inbox business logic.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wanderlynx/whatsapp-inbox/internal/model"
	"github.com/wanderlynx/whatsapp-inbox/internal/store"
	"github.com/wanderlynx/whatsapp-inbox/pkg/errs"
	"github.com/wanderlynx/whatsapp-inbox/pkg/logger"
)

// ConversationService owns the conversation state machine: Open, Pending and
// Resolved, plus assignment, unread counters and pinning.
type ConversationService struct {
	store  store.ConversationStore
	logger *logger.Logger
}

// NewConversationService creates a conversation service.
func NewConversationService(st store.ConversationStore, log *logger.Logger) *ConversationService {
	return &ConversationService{
		store:  st,
		logger: log,
	}
}

// Get retrieves a conversation by id.
func (s *ConversationService) Get(ctx context.Context, id string) (*model.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errs.NotFound("conversation not found")
	}
	if err != nil {
		return nil, errs.Internal("failed to load conversation", err)
	}
	return conv, nil
}

// List retrieves conversations matching the filter, pinned first.
func (s *ConversationService) List(ctx context.Context, f store.ConversationFilter) (*model.ListConversationsResponse, error) {
	convs, total, err := s.store.ListConversations(ctx, f)
	if err != nil {
		return nil, errs.Internal("failed to list conversations", err)
	}
	return &model.ListConversationsResponse{
		Conversations: convs,
		Total:         total,
		HasMore:       f.Offset+len(convs) < total,
	}, nil
}

// Apply performs an agent-initiated conversation action. Repeating the same
// action with the same value is a no-op equivalent to applying it once.
func (s *ConversationService) Apply(ctx context.Context, actor model.Agent, conversationID string, req model.ActionRequest) (*model.Conversation, error) {
	conv, err := s.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	switch req.Action {
	case model.ActionAssign:
		if !actor.Role.CanWrite() {
			return nil, errs.PermissionDenied("read-only role cannot assign conversations")
		}
		// First claim wins at the human level; concurrent claims are
		// last-write-wins at the storage layer.
		conv.AssignedAgentID = req.Value

	case model.ActionStatus:
		if !actor.Role.CanWrite() {
			return nil, errs.PermissionDenied("read-only role cannot change conversation status")
		}
		next := model.ConversationState(req.Value)
		if !next.Valid() {
			return nil, errs.InvalidArg(fmt.Sprintf("unknown state %q", req.Value))
		}
		return s.transition(ctx, actor, conv, next)

	case model.ActionResolve:
		if !actor.Role.CanWrite() {
			return nil, errs.PermissionDenied("read-only role cannot resolve conversations")
		}
		return s.transition(ctx, actor, conv, model.StateResolved)

	case model.ActionReopen:
		if !actor.Role.CanWrite() {
			return nil, errs.PermissionDenied("read-only role cannot reopen conversations")
		}
		return s.transition(ctx, actor, conv, model.StateOpen)

	case model.ActionRead:
		conv.UnreadCount = 0

	case model.ActionPin:
		if !actor.Role.CanWrite() {
			return nil, errs.PermissionDenied("read-only role cannot pin conversations")
		}
		conv.Pinned = req.Value != "false"

	default:
		return nil, errs.InvalidArg(fmt.Sprintf("unknown action %q", req.Action))
	}

	if err := s.save(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// transition applies an explicit state change, enforcing the reopen
// restriction: only an admin may move Resolved back to Open by hand.
func (s *ConversationService) transition(ctx context.Context, actor model.Agent, conv *model.Conversation, next model.ConversationState) (*model.Conversation, error) {
	if conv.State == next {
		return conv, nil
	}

	if conv.State == model.StateResolved && actor.Role != model.RoleAdmin {
		return nil, errs.PermissionDenied("only an admin can reopen a resolved conversation")
	}

	s.logger.Info("conversation state change",
		zap.String("conversation_id", conv.ID),
		zap.String("from", string(conv.State)),
		zap.String("to", string(next)),
		zap.String("agent_id", actor.ID),
	)

	conv.State = next
	if err := s.save(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// NoteInbound records the bookkeeping side effects of an inbound customer
// message: the unread counter increments and lastCustomerMessageAt advances
// monotonically.
func (s *ConversationService) NoteInbound(ctx context.Context, conversationID string, at time.Time) error {
	conv, err := s.Get(ctx, conversationID)
	if err != nil {
		return err
	}

	conv.UnreadCount++
	if conv.LastCustomerMessageAt == nil || at.After(*conv.LastCustomerMessageAt) {
		conv.LastCustomerMessageAt = &at
	}
	return s.save(ctx, conv)
}

// NoteOutbound records the side effects of an outbound message. Public
// messages advance lastAgentMessageAt and unconditionally reopen a Resolved
// conversation regardless of actor role; internal notes do neither.
func (s *ConversationService) NoteOutbound(ctx context.Context, conversationID string, at time.Time, public bool) error {
	if !public {
		return nil
	}

	conv, err := s.Get(ctx, conversationID)
	if err != nil {
		return err
	}

	if conv.LastAgentMessageAt == nil || at.After(*conv.LastAgentMessageAt) {
		conv.LastAgentMessageAt = &at
	}
	if conv.State == model.StateResolved {
		s.logger.Info("auto-reopening resolved conversation",
			zap.String("conversation_id", conv.ID),
		)
		conv.State = model.StateOpen
	}
	return s.save(ctx, conv)
}

// GetOrCreateByPhone returns the conversation owning a phone number,
// creating one for unknown senders.
func (s *ConversationService) GetOrCreateByPhone(ctx context.Context, phone, contactName string) (*model.Conversation, error) {
	conv, err := s.store.GetOrCreateConversation(ctx, phone, contactName)
	if err != nil {
		return nil, errs.Internal("failed to upsert conversation", err)
	}
	return conv, nil
}

func (s *ConversationService) save(ctx context.Context, conv *model.Conversation) error {
	if err := s.store.UpdateConversation(ctx, conv); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errs.NotFound("conversation not found")
		}
		return errs.Internal("failed to update conversation", err)
	}
	return nil
}
