package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/user/threatmap/internal/domain"
	"github.com/user/threatmap/internal/usecase"
)

// StreamHandler serves the live event stream over SSE. Each connection gets
// its own subscription; the broadcaster's per-subscriber buffering and drop
// policy keep one slow client from affecting the rest.
type StreamHandler struct {
	broadcaster *usecase.Broadcaster
	logger      *slog.Logger
}

// NewStreamHandler creates the SSE handler.
func NewStreamHandler(b *usecase.Broadcaster, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{broadcaster: b, logger: logger}
}

// ServeHTTP streams threat events until the client disconnects or the
// subscription is closed.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	sub := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(sub.ID)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, open := <-sub.C:
			if !open {
				// Dropped by the broadcaster or shutting down.
				return
			}
			switch msg.Kind {
			case domain.KindEvent:
				payload, err := json.Marshal(msg.Event)
				if err != nil {
					h.logger.Error("failed to marshal threat event", "error", err, "event_id", msg.Event.ID)
					continue
				}
				fmt.Fprintf(w, "data: %s\n\n", payload)
			case domain.KindKeepAlive:
				fmt.Fprintf(w, ": keep-alive %d\n\n", time.Now().Unix())
			}
			flusher.Flush()
		}
	}
}
