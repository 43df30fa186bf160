package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/user/threatmap/internal/domain"
	"github.com/user/threatmap/internal/usecase"
)

const (
	defaultRecentLimit = 100
	maxRecentLimit     = 1000
)

// QueryHandler serves the on-demand history and stats endpoints.
type QueryHandler struct {
	history domain.HistoryRepository
	stats   *usecase.StatsAggregator
	logger  *slog.Logger
}

// NewQueryHandler creates the handler backing /api/events and /api/stats.
func NewQueryHandler(history domain.HistoryRepository, stats *usecase.StatsAggregator, logger *slog.Logger) *QueryHandler {
	return &QueryHandler{history: history, stats: stats, logger: logger}
}

type recentResponse struct {
	Events []domain.ThreatEvent `json:"events"`
	Count  int                  `json:"count"`
}

// Recent returns the most recent retained events, newest first. Query
// params: limit (default 100, capped at 1000) and risk (exact risk type).
func (h *QueryHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	events := h.history.Recent(limit, r.URL.Query().Get("risk"))
	if events == nil {
		events = []domain.ThreatEvent{}
	}

	h.writeJSON(w, recentResponse{Events: events, Count: len(events)})
}

// Stats returns the current stats snapshot.
func (h *QueryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.stats.Snapshot())
}

func (h *QueryHandler) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
