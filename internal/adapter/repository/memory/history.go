package memory

import (
	"sync"

	"github.com/user/threatmap/internal/domain"
)

// HistoryBuffer is a fixed-capacity, insertion-ordered ring of the most
// recent threat events. Appends evict strictly FIFO once at capacity; reads
// return copies and never observe a partially-evicted state.
type HistoryBuffer struct {
	mu       sync.RWMutex
	events   []domain.ThreatEvent
	head     int // index of the oldest retained event
	size     int
	capacity int
}

// NewHistoryBuffer creates a buffer retaining up to capacity events.
func NewHistoryBuffer(capacity int) *HistoryBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &HistoryBuffer{
		events:   make([]domain.ThreatEvent, capacity),
		capacity: capacity,
	}
}

// Append stores ev. Once at capacity it evicts and returns the single oldest
// retained event; otherwise it returns nil.
func (h *HistoryBuffer) Append(ev domain.ThreatEvent) *domain.ThreatEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	var evicted *domain.ThreatEvent
	if h.size == h.capacity {
		old := h.events[h.head]
		evicted = &old
		h.events[h.head] = ev
		h.head = (h.head + 1) % h.capacity
		return evicted
	}

	h.events[(h.head+h.size)%h.capacity] = ev
	h.size++
	return nil
}

// Recent returns up to limit events newest-first. A non-empty riskType
// restricts the result to that risk. The buffer is not mutated.
func (h *HistoryBuffer) Recent(limit int, riskType string) []domain.ThreatEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if limit <= 0 || limit > h.size {
		limit = h.size
	}

	out := make([]domain.ThreatEvent, 0, limit)
	for i := h.size - 1; i >= 0 && len(out) < limit; i-- {
		ev := h.events[(h.head+i)%h.capacity]
		if riskType != "" && ev.RiskType != riskType {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Len reports the number of retained events.
func (h *HistoryBuffer) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}
