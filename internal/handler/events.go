package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/wanderlynx/whatsapp-inbox/internal/model"
	"github.com/wanderlynx/whatsapp-inbox/internal/service"
	"github.com/wanderlynx/whatsapp-inbox/pkg/errs"
	"github.com/wanderlynx/whatsapp-inbox/pkg/logger"
)

// EventHandler receives booking-system events and hands them to the reconciler.
type EventHandler struct {
	service *service.EventService
	logger  *logger.Logger
}

// NewEventHandler creates a new event handler.
func NewEventHandler(svc *service.EventService, log *logger.Logger) *EventHandler {
	return &EventHandler{
		service: svc,
		logger:  log,
	}
}

// Handle handles POST /api/v1/events/:type
//
// A malformed or unexpected payload must never take the intake endpoint down,
// so processing failures are caught here and reported as a plain 500.
func (h *EventHandler) Handle(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("panic while processing event", zap.Any("panic", rec))
			writeJSON(w, http.StatusInternalServerError, &model.EventResponse{
				Success: false,
				Message: "internal error while processing event",
			})
		}
	}()

	eventType := model.EventType(chi.URLParam(r, "type"))
	if !eventType.Valid() {
		writeJSON(w, http.StatusBadRequest, &model.EventResponse{
			Success: false,
			Message: "unknown event type",
		})
		return
	}

	var payload model.EventPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, &model.EventResponse{
			Success: false,
			Message: "invalid request body",
		})
		return
	}

	result, err := h.service.HandleEvent(r.Context(), eventType, &payload)
	if err != nil {
		if errs.CodeOf(err) == errs.CodeInvalidArgument {
			writeJSON(w, http.StatusBadRequest, &model.EventResponse{
				Success: false,
				Message: err.Error(),
			})
			return
		}
		h.logger.Error("event processing failed", zap.String("event_type", string(eventType)), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, &model.EventResponse{
			Success: false,
			Message: "internal error while processing event",
		})
		return
	}

	writeJSON(w, http.StatusOK, &model.EventResponse{
		Success: true,
		Message: result.Detail,
	})
}
