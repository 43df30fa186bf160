package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/threatmap/internal/adapter/metrics"
	"github.com/user/threatmap/internal/domain"
)

type subscriber struct {
	id          string
	connectedAt time.Time
	ch          chan domain.StreamMessage
}

// Broadcaster fans every published event out to all open subscriptions.
// Each subscription has its own bounded buffer; a consumer that lets it fill
// is force-closed and removed, so one slow subscriber never blocks the
// publisher or its peers. Idle channels receive periodic keep-alives so the
// transport can detect dead connections.
type Broadcaster struct {
	logger    *slog.Logger
	metrics   *metrics.PipelineMetrics
	buffer    int
	keepAlive time.Duration

	mu          sync.RWMutex
	subs        map[string]*subscriber
	closed      bool
	lastPublish time.Time
}

// NewBroadcaster creates a broadcaster with per-subscriber buffers of the
// given size. m may be nil in tests.
func NewBroadcaster(buffer int, keepAlive time.Duration, logger *slog.Logger, m *metrics.PipelineMetrics) *Broadcaster {
	if buffer < 1 {
		buffer = 1
	}
	return &Broadcaster{
		logger:    logger.With("component", "broadcaster"),
		metrics:   m,
		buffer:    buffer,
		keepAlive: keepAlive,
		subs:      make(map[string]*subscriber),
	}
}

// Subscribe opens a new subscription. The caller owns only the receive side
// of the channel; the broadcaster closes it on removal.
func (b *Broadcaster) Subscribe() *domain.Subscription {
	sub := &subscriber{
		id:          uuid.NewString(),
		connectedAt: time.Now(),
		ch:          make(chan domain.StreamMessage, b.buffer),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return &domain.Subscription{ID: sub.id, ConnectedAt: sub.connectedAt, C: sub.ch}
	}
	b.subs[sub.id] = sub
	b.mu.Unlock()

	b.metrics.SubscriberDelta(1)
	b.logger.Info("subscriber connected", "subscription_id", sub.id)
	return &domain.Subscription{ID: sub.id, ConnectedAt: sub.connectedAt, C: sub.ch}
}

// Unsubscribe removes a subscription and closes its channel. It is
// idempotent: unknown IDs are ignored.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()

	if ok {
		close(sub.ch)
		b.metrics.SubscriberDelta(-1)
		b.logger.Info("subscriber disconnected", "subscription_id", id)
	}
}

// Publish delivers ev to every currently open subscription, at most once
// each. Subscribers whose buffers are full are dropped.
func (b *Broadcaster) Publish(ev domain.ThreatEvent) {
	b.mu.Lock()
	b.lastPublish = time.Now()
	b.mu.Unlock()

	b.send(domain.StreamMessage{Kind: domain.KindEvent, Event: &ev})
}

// Run emits keep-alives on idle channels until ctx is cancelled, then closes
// all subscriptions.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.Close()
			return
		case <-ticker.C:
			b.mu.RLock()
			idle := time.Since(b.lastPublish) >= b.keepAlive
			b.mu.RUnlock()
			if idle {
				b.send(domain.StreamMessage{Kind: domain.KindKeepAlive})
			}
		}
	}
}

// Close removes and closes every subscription. Publishing after Close is a
// no-op.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]*subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.ch)
		b.metrics.SubscriberDelta(-1)
	}
	b.logger.Info("broadcaster closed", "subscribers", len(subs))
}

// SubscriberCount reports the number of open subscriptions.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broadcaster) send(msg domain.StreamMessage) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	var stalled []string
	for id, sub := range b.subs {
		select {
		case sub.ch <- msg:
		default:
			// Buffer full: the consumer is too slow to keep even a
			// heartbeat. Drop it rather than stall the pipeline.
			stalled = append(stalled, id)
		}
	}
	b.mu.RUnlock()

	for _, id := range stalled {
		b.drop(id)
	}
}

func (b *Broadcaster) drop(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()

	if ok {
		close(sub.ch)
		b.metrics.SubscriberDelta(-1)
		b.metrics.SubscriberDropped()
		b.logger.Warn("dropped slow subscriber", "subscription_id", id)
	}
}
