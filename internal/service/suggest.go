package service

import (
	"context"
	"strings"

	"github.com/wanderlynx/whatsapp-inbox/internal/llm"
	"github.com/wanderlynx/whatsapp-inbox/internal/model"
	"github.com/wanderlynx/whatsapp-inbox/pkg/errs"
	"github.com/wanderlynx/whatsapp-inbox/pkg/logger"
)

const suggestPrompt = "You are a support agent for a travel company replying on WhatsApp. " +
	"Draft a short, friendly reply to the customer's latest message. " +
	"Reply with the message text only."

// SuggestService drafts reply suggestions from conversation history.
type SuggestService struct {
	messages *MessageService
	client   llm.Client
	logger   *logger.Logger
}

// NewSuggestService creates a suggestion service. client may be nil when no
// LLM provider is configured.
func NewSuggestService(messages *MessageService, client llm.Client, log *logger.Logger) *SuggestService {
	return &SuggestService{
		messages: messages,
		client:   client,
		logger:   log,
	}
}

// Suggest drafts a reply for the conversation's recent history. Internal
// notes are excluded from the prompt.
func (s *SuggestService) Suggest(ctx context.Context, conversationID string) (string, error) {
	if s.client == nil {
		return "", errs.InvalidArg("no LLM provider configured")
	}

	resp, err := s.messages.List(ctx, conversationID, 50, 0)
	if err != nil {
		return "", err
	}

	chat := []llm.ChatMessage{{Role: "user", Content: suggestPrompt}}
	for _, msg := range resp.Messages {
		if !msg.Public() {
			continue
		}
		role := "assistant"
		if msg.Direction == model.DirectionInbound {
			role = "user"
		}
		chat = append(chat, llm.ChatMessage{Role: role, Content: msg.Body})
	}

	if len(chat) == 1 {
		return "", errs.InvalidArg("conversation has no messages to draft from")
	}

	completion, err := s.client.Complete(ctx, &llm.CompletionRequest{
		Messages:  chat,
		MaxTokens: 512,
	})
	if err != nil {
		return "", errs.Provider("reply suggestion failed", err)
	}

	return strings.TrimSpace(completion.Content), nil
}
