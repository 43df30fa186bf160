package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/user/threatmap/internal/adapter/metrics"
	"github.com/user/threatmap/internal/domain"
)

const dispatchBuffer = 1024

// Scheduler drives the ingestion pipeline: one independent timer per feed,
// enrichment through the resolver, and a single dispatch loop that assigns
// the global event order and fans each event out to history, stats, and the
// broadcaster. A failing or slow feed only ever delays its own cycles.
type Scheduler struct {
	feeds       []domain.FeedSpec
	fetcher     domain.FeedFetcher
	resolver    domain.GeoResolver
	history     domain.HistoryRepository
	stats       *StatsAggregator
	broadcaster *Broadcaster
	interval    time.Duration
	logger      *slog.Logger
	metrics     *metrics.PipelineMetrics

	events chan domain.ThreatEvent
	nextID uint64 // touched only by the dispatch loop
}

// NewScheduler wires the pipeline together. m may be nil in tests.
func NewScheduler(
	feeds []domain.FeedSpec,
	fetcher domain.FeedFetcher,
	resolver domain.GeoResolver,
	history domain.HistoryRepository,
	stats *StatsAggregator,
	broadcaster *Broadcaster,
	interval time.Duration,
	logger *slog.Logger,
	m *metrics.PipelineMetrics,
) *Scheduler {
	return &Scheduler{
		feeds:       feeds,
		fetcher:     fetcher,
		resolver:    resolver,
		history:     history,
		stats:       stats,
		broadcaster: broadcaster,
		interval:    interval,
		logger:      logger.With("component", "scheduler"),
		metrics:     m,
		events:      make(chan domain.ThreatEvent, dispatchBuffer),
	}
}

// Run starts the per-feed timers and the dispatch loop and blocks until ctx
// is cancelled and all of them have drained.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.dispatch(ctx)
	}()

	for _, feed := range s.feeds {
		wg.Add(1)
		go func(feed domain.FeedSpec) {
			defer wg.Done()
			s.feedLoop(ctx, feed)
		}(feed)
	}

	wg.Wait()
	s.logger.Info("scheduler stopped")
}

// feedLoop runs one feed's cycles: an immediate first fetch, then one per
// interval.
func (s *Scheduler) feedLoop(ctx context.Context, feed domain.FeedSpec) {
	s.runCycle(ctx, feed)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCycle(ctx, feed)
		}
	}
}

// runCycle performs one fetch-enrich-dispatch pass for one feed. Fetch and
// resolution failures are contained here; they never abort the loop.
func (s *Scheduler) runCycle(ctx context.Context, feed domain.FeedSpec) {
	indicators, err := s.fetcher.Fetch(ctx, feed)
	if err != nil {
		s.metrics.FeedFetch(feed.Name, "error")
		s.logger.Warn("feed fetch failed, skipping cycle", "feed", feed.Name, "error", err)
		return
	}
	s.metrics.FeedFetch(feed.Name, "ok")
	s.metrics.FeedIndicators(feed.Name, len(indicators))
	s.logger.Debug("feed cycle fetched", "feed", feed.Name, "indicators", len(indicators))

	for _, ind := range indicators {
		if ctx.Err() != nil {
			return
		}

		var locp *domain.GeoLocation
		loc, err := s.resolver.Resolve(ctx, ind.IP)
		switch {
		case err == nil:
			locp = &loc
		case ctx.Err() != nil:
			// The scheduler itself is shutting down.
			return
		default:
			// Any resolution failure, including a per-lookup timeout, only
			// means unknown location; the event still counts toward history
			// and stats.
		}

		select {
		case s.events <- domain.NewThreatEvent(ind, locp):
		case <-ctx.Done():
			return
		}
	}
}

// dispatch is the single consumer of enriched events. It assigns the
// strictly increasing event ID and hands each event to the history buffer,
// the stats aggregator, and the broadcaster in that order, retiring evicted
// events from the stats window as it goes.
func (s *Scheduler) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			s.nextID++
			ev.ID = s.nextID

			evicted := s.history.Append(ev)
			s.stats.Record(ev)
			if evicted != nil {
				s.stats.Retire(*evicted)
			}
			s.broadcaster.Publish(ev)

			s.metrics.EventIngested(ev.RiskType)
			s.metrics.SetHistorySize(s.history.Len())
		}
	}
}
