package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wanderlynx/whatsapp-inbox/internal/model"
	"github.com/wanderlynx/whatsapp-inbox/internal/service"
	"github.com/wanderlynx/whatsapp-inbox/pkg/logger"
)

// maxWebhookBody caps webhook payload reads. Meta batches are small; anything
// beyond this is not a legitimate delivery.
const maxWebhookBody = 1 << 20

// WebhookHandler receives WhatsApp Cloud API webhook deliveries.
type WebhookHandler struct {
	messages    *service.MessageService
	verifyToken string
	appSecret   string
	logger      *logger.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(messages *service.MessageService, verifyToken, appSecret string, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		messages:    messages,
		verifyToken: verifyToken,
		appSecret:   appSecret,
		logger:      log,
	}
}

// Verify handles GET /webhook, Meta's subscription handshake.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode != "subscribe" || token != h.verifyToken {
		h.logger.Warn("webhook verification rejected", zap.String("mode", mode))
		w.WriteHeader(http.StatusForbidden)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

// Receive handles POST /webhook.
//
// Meta retries deliveries that do not get a 200, so everything past signature
// and shape validation is accept-and-log: a receipt for an unknown message or
// an unparseable change must not fail the whole batch.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if !h.validSignature(r.Header.Get("X-Hub-Signature-256"), body) {
		h.logger.Warn("webhook signature mismatch")
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var payload model.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	ctx := r.Context()
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			h.processValue(ctx, &change.Value)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

func (h *WebhookHandler) processValue(ctx context.Context, value *model.WebhookValue) {
	names := make(map[string]string, len(value.Contacts))
	for _, c := range value.Contacts {
		names[c.WaID] = c.Profile.Name
	}

	for _, msg := range value.Messages {
		if msg.Type != "text" || msg.Text == nil {
			h.logger.Info("skipping unsupported inbound message type",
				zap.String("type", msg.Type),
				zap.String("provider_message_id", msg.ID))
			continue
		}
		phone := msg.From
		if !strings.HasPrefix(phone, "+") {
			phone = "+" + phone
		}
		at := parseWebhookTimestamp(msg.Timestamp)
		if _, err := h.messages.RecordInbound(ctx, phone, names[msg.From], msg.ID, msg.Text.Body, at); err != nil {
			h.logger.Error("failed to record inbound message",
				zap.String("provider_message_id", msg.ID),
				zap.Error(err))
		}
	}

	for _, status := range value.Statuses {
		st := model.DeliveryStatus(status.Status)
		switch st {
		case model.DeliverySent, model.DeliveryDelivered, model.DeliveryRead, model.DeliveryFailed:
		default:
			h.logger.Warn("dropping unknown delivery status", zap.String("status", status.Status))
			continue
		}
		at := parseWebhookTimestamp(status.Timestamp)
		if err := h.messages.ApplyReceipt(ctx, status.ID, st, at); err != nil {
			h.logger.Error("failed to apply delivery receipt",
				zap.String("provider_message_id", status.ID),
				zap.Error(err))
		}
	}
}

func (h *WebhookHandler) validSignature(header string, body []byte) bool {
	if h.appSecret == "" {
		// Signature checking disabled, typically in local development.
		return true
	}
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	expected, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.appSecret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

// parseWebhookTimestamp reads Meta's unix-second string timestamps, falling
// back to the current time when the field is missing or garbled.
func parseWebhookTimestamp(s string) time.Time {
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil || secs <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(secs, 0).UTC()
}
