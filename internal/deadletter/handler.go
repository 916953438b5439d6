package deadletter

import (
	"encoding/json"
	"net/http"
	"strconv"

	"pulse/internal/logger"
)

// Handler serves the archive inspection surface. The archiver runs on a plain
// mux, so this is a net/http handler rather than a gin one.
type Handler struct {
	service *Service
	logger  logger.Logger
}

func NewHandler(service *Service, log logger.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  log,
	}
}

func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var limit int64
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	docs, err := h.service.List(r.Context(), limit)
	if err != nil {
		h.logger.ErrorwCtx(r.Context(), "Failed to list dead letters",
			"error", err,
		)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "dead letter archive unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":        len(docs),
		"dead_letters": docs,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
