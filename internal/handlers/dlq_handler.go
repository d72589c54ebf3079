package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/maestro/internal/broker"
)

// DLQHandler exposes the dead-letter queue for operators.
type DLQHandler struct {
	broker *broker.Broker
	logger arbor.ILogger
}

// NewDLQHandler creates the DLQ handler.
func NewDLQHandler(b *broker.Broker, logger arbor.ILogger) *DLQHandler {
	return &DLQHandler{broker: b, logger: logger}
}

// ListDLQHandler handles GET /api/dlq: dead-lettered messages, newest first.
func (h *DLQHandler) ListDLQHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	if _, ok := requireIdentity(w, r); !ok {
		return
	}

	entries, err := h.broker.ListDLQ(r.Context())
	if err != nil {
		WriteErr(w, err)
		return
	}
	if entries == nil {
		entries = []broker.DLQEntry{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"messages": entries,
		"count":    len(entries),
	})
}

// ReplayDLQHandler handles POST /api/dlq/{id}/replay: re-enqueue the message
// on its original queue with a reset delivery history.
func (h *DLQHandler) ReplayDLQHandler(w http.ResponseWriter, r *http.Request, messageID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if _, ok := requireIdentity(w, r); !ok {
		return
	}

	if err := h.broker.ReplayDLQ(r.Context(), messageID); err != nil {
		WriteErr(w, err)
		return
	}
	h.logger.Info().Str("message_id", messageID).Msg("DLQ message replayed")
	WriteSuccess(w, "message replayed")
}

// DeleteDLQHandler handles DELETE /api/dlq/{id}.
func (h *DLQHandler) DeleteDLQHandler(w http.ResponseWriter, r *http.Request, messageID string) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}
	if _, ok := requireIdentity(w, r); !ok {
		return
	}

	if err := h.broker.DeleteDLQ(r.Context(), messageID); err != nil {
		WriteErr(w, err)
		return
	}
	WriteSuccess(w, "message discarded")
}
