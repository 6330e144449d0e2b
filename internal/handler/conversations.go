package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wanderlynx/whatsapp-inbox/internal/middleware"
	"github.com/wanderlynx/whatsapp-inbox/internal/model"
	"github.com/wanderlynx/whatsapp-inbox/internal/service"
	"github.com/wanderlynx/whatsapp-inbox/internal/store"
	"github.com/wanderlynx/whatsapp-inbox/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	service *service.ConversationService
	suggest *service.SuggestService
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.ConversationService, suggest *service.SuggestService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: svc,
		suggest: suggest,
		logger:  log,
	}
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	f := store.ConversationFilter{Limit: 20}

	if state := r.URL.Query().Get("state"); state != "" {
		s := model.ConversationState(state)
		if !s.Valid() {
			writeError(w, http.StatusBadRequest, "invalid state filter")
			return
		}
		f.State = s
	}
	f.AssignedAgent = r.URL.Query().Get("assigned")

	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			f.Limit = parsed
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			f.Offset = parsed
		}
	}

	resp, err := h.service.List(ctx, f)
	if err != nil {
		h.logger.Error("failed to list conversations")
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/conversations/:id
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.service.Get(r.Context(), conversationID)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Action handles POST /api/v1/conversations/:id/actions
func (h *ConversationHandler) Action(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	agent := middleware.GetAgent(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conv, err := h.service.Apply(ctx, agent, conversationID, req)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Suggest handles GET /api/v1/conversations/:id/suggest
func (h *ConversationHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	draft, err := h.suggest.Suggest(r.Context(), conversationID)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"suggestion": draft})
}
