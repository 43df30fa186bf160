package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/user/threatmap/internal/adapter/api/handler"
	"github.com/user/threatmap/internal/domain"
	"github.com/user/threatmap/internal/usecase"
)

// NewRouter creates and configures the public HTTP router: live stream,
// history query, stats query, and health.
func NewRouter(
	logger *slog.Logger,
	history domain.HistoryRepository,
	stats *usecase.StatsAggregator,
	broadcaster *usecase.Broadcaster,
	geoCacheLen func() int,
) http.Handler {
	mux := http.NewServeMux()

	queryHandler := handler.NewQueryHandler(history, stats, logger)
	streamHandler := handler.NewStreamHandler(broadcaster, logger)

	mux.Handle("GET /stream", streamHandler)
	mux.HandleFunc("GET /api/events", queryHandler.Recent)
	mux.HandleFunc("GET /api/stats", queryHandler.Stats)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok":          true,
			"events":      history.Len(),
			"subscribers": broadcaster.SubscriberCount(),
			"cache_size":  geoCacheLen(),
		})
	})

	return mux
}
