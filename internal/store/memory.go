package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wanderlynx/whatsapp-inbox/internal/model"
)

// Memory is an in-memory Store used by tests and local development.
type Memory struct {
	mu            sync.RWMutex
	conversations map[string]*model.Conversation
	messages      map[string]*model.Message
	ledger        []model.IdempotencyRecord
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		conversations: make(map[string]*model.Conversation),
		messages:      make(map[string]*model.Message),
	}
}

func (m *Memory) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *conv
	return &cp, nil
}

func (m *Memory) GetOrCreateConversation(ctx context.Context, phone, contactName string) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, conv := range m.conversations {
		if conv.ContactPhone == phone {
			if contactName != "" && conv.ContactName == "" {
				conv.ContactName = contactName
			}
			cp := *conv
			return &cp, nil
		}
	}

	now := time.Now()
	conv := &model.Conversation{
		ID:           uuid.Must(uuid.NewV7()).String(),
		ContactPhone: phone,
		ContactName:  contactName,
		State:        model.StateOpen,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.conversations[conv.ID] = conv
	cp := *conv
	return &cp, nil
}

func (m *Memory) UpdateConversation(ctx context.Context, conv *model.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[conv.ID]; !ok {
		return ErrNotFound
	}
	cp := *conv
	cp.UpdatedAt = time.Now()
	m.conversations[conv.ID] = &cp
	return nil
}

func (m *Memory) ListConversations(ctx context.Context, f ConversationFilter) ([]model.Conversation, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var convs []model.Conversation
	for _, conv := range m.conversations {
		if f.State != "" && conv.State != f.State {
			continue
		}
		if f.AssignedAgent != "" && conv.AssignedAgentID != f.AssignedAgent {
			continue
		}
		convs = append(convs, *conv)
	}

	sort.Slice(convs, func(i, j int) bool {
		if convs[i].Pinned != convs[j].Pinned {
			return convs[i].Pinned
		}
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})

	total := len(convs)
	start := f.Offset
	if start > total {
		start = total
	}
	end := total
	if f.Limit > 0 && start+f.Limit < end {
		end = start + f.Limit
	}

	return convs[start:end], total, nil
}

func (m *Memory) DeleteConversation(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(m.conversations, id)
	for msgID, msg := range m.messages {
		if msg.ConversationID == id {
			delete(m.messages, msgID)
		}
	}
	return nil
}

func (m *Memory) InsertMessage(ctx context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *msg
	m.messages[msg.ID] = &cp
	return nil
}

func (m *Memory) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

func (m *Memory) GetMessageByProviderID(ctx context.Context, providerID string) (*model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, msg := range m.messages {
		if msg.ProviderMessageID == providerID {
			cp := *msg
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) UpdateMessage(ctx context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.messages[msg.ID]; !ok {
		return ErrNotFound
	}
	cp := *msg
	m.messages[msg.ID] = &cp
	return nil
}

func (m *Memory) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var msgs []model.Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			msgs = append(msgs, *msg)
		}
	}
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})

	total := len(msgs)
	start := offset
	if start > total {
		start = total
	}
	end := total
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	return msgs[start:end], nil
}

func (m *Memory) HasSuccess(ctx context.Context, key, eventType string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, rec := range m.ledger {
		if rec.Key == key && rec.EventType == eventType && rec.Outcome == model.OutcomeSuccess {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) AppendRecord(ctx context.Context, rec *model.IdempotencyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.Outcome == model.OutcomeSuccess {
		for _, existing := range m.ledger {
			if existing.Key == rec.Key && existing.EventType == rec.EventType && existing.Outcome == model.OutcomeSuccess {
				return ErrDuplicateSuccess
			}
		}
	}
	m.ledger = append(m.ledger, *rec)
	return nil
}

func (m *Memory) TrimBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var kept []model.IdempotencyRecord
	var removed int64
	for _, rec := range m.ledger {
		if rec.ProcessedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	m.ledger = kept
	return removed, nil
}

// LedgerRecords returns a copy of the ledger rows, oldest first. Test helper.
func (m *Memory) LedgerRecords() []model.IdempotencyRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.IdempotencyRecord, len(m.ledger))
	copy(out, m.ledger)
	return out
}
