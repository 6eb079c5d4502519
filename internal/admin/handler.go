package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/NordCoder/notifyd/internal/domain/notify"
)

const defaultOlderThan = 10 * time.Minute

// Handler exposes operator endpoints for the durable queue.
type Handler struct {
	Log        *zap.Logger
	Queue      notify.Queue
	StuckAfter time.Duration
}

// Mount registers the routes under /queue.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/queue", func(r chi.Router) {
		r.Get("/stats", h.stats)
		r.Post("/reset-stuck", h.resetStuck)
	})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stuckAfter := h.StuckAfter
	if stuckAfter <= 0 {
		stuckAfter = defaultOlderThan
	}
	st, err := h.Queue.Stats(r.Context(), stuckAfter)
	if err != nil {
		h.Log.Warn("admin stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type resetResponse struct {
	Reset     int64  `json:"reset"`
	OlderThan string `json:"olderThan"`
}

func (h *Handler) resetStuck(w http.ResponseWriter, r *http.Request) {
	olderThan := defaultOlderThan
	if v := r.URL.Query().Get("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "older_than must be a positive duration")
			return
		}
		olderThan = d
	}

	n, err := h.Queue.ResetStuck(r.Context(), olderThan)
	if err != nil {
		h.Log.Warn("admin reset stuck", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "reset failed")
		return
	}
	h.Log.Info("stuck messages reset", zap.Int64("count", n), zap.Duration("older_than", olderThan))
	writeJSON(w, http.StatusOK, resetResponse{Reset: n, OlderThan: olderThan.String()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
