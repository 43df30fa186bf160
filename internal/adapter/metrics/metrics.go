package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Geo lookup outcomes.
const (
	GeoCacheHit     = "cache_hit"
	GeoSharedHit    = "shared_hit"
	GeoLookup       = "lookup"
	GeoError        = "error"
	GeoUnresolvable = "unresolvable"
	GeoRateLimited  = "rate_limited"
)

// PipelineMetrics holds all Prometheus metrics for the ingestion pipeline.
// A nil *PipelineMetrics is valid and records nothing, so unit tests can
// construct components without touching the default registry.
type PipelineMetrics struct {
	feedFetchesTotal    *prometheus.CounterVec
	feedIndicatorsTotal *prometheus.CounterVec
	eventsIngestedTotal *prometheus.CounterVec
	geoLookupsTotal     *prometheus.CounterVec
	sseSubscribers      prometheus.Gauge
	sseDroppedTotal     prometheus.Counter
	historySize         prometheus.Gauge
}

// NewPipelineMetrics initializes and registers the Prometheus metrics.
func NewPipelineMetrics() *PipelineMetrics {
	return &PipelineMetrics{
		feedFetchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threatmap",
			Subsystem: "feed",
			Name:      "fetches_total",
			Help:      "Total number of feed fetch cycles by feed and status.",
		}, []string{"feed", "status"}), // status: ok, error
		feedIndicatorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threatmap",
			Subsystem: "feed",
			Name:      "indicators_total",
			Help:      "Total number of deduplicated indicators produced per feed.",
		}, []string{"feed"}),
		eventsIngestedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threatmap",
			Subsystem: "pipeline",
			Name:      "events_ingested_total",
			Help:      "Total number of threat events dispatched by risk type.",
		}, []string{"risk"}),
		geoLookupsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threatmap",
			Subsystem: "geo",
			Name:      "lookups_total",
			Help:      "Total number of geolocation resolutions by outcome.",
		}, []string{"outcome"}),
		sseSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "threatmap",
			Subsystem: "stream",
			Name:      "subscribers",
			Help:      "Number of currently connected live-stream subscribers.",
		}),
		sseDroppedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "threatmap",
			Subsystem: "stream",
			Name:      "dropped_subscribers_total",
			Help:      "Total number of subscribers force-closed for falling behind.",
		}),
		historySize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "threatmap",
			Subsystem: "history",
			Name:      "size",
			Help:      "Number of events currently retained in the history buffer.",
		}),
	}
}

// FeedFetch records the outcome of one fetch cycle.
func (m *PipelineMetrics) FeedFetch(feed, status string) {
	if m == nil {
		return
	}
	m.feedFetchesTotal.WithLabelValues(feed, status).Inc()
}

// FeedIndicators records the indicator count of one fetch cycle.
func (m *PipelineMetrics) FeedIndicators(feed string, count int) {
	if m == nil {
		return
	}
	m.feedIndicatorsTotal.WithLabelValues(feed).Add(float64(count))
}

// EventIngested records one dispatched threat event.
func (m *PipelineMetrics) EventIngested(risk string) {
	if m == nil {
		return
	}
	m.eventsIngestedTotal.WithLabelValues(risk).Inc()
}

// GeoOutcome records the outcome of one resolution.
func (m *PipelineMetrics) GeoOutcome(outcome string) {
	if m == nil {
		return
	}
	m.geoLookupsTotal.WithLabelValues(outcome).Inc()
}

// SubscriberDelta adjusts the connected-subscriber gauge.
func (m *PipelineMetrics) SubscriberDelta(delta float64) {
	if m == nil {
		return
	}
	m.sseSubscribers.Add(delta)
}

// SubscriberDropped records one force-closed subscriber.
func (m *PipelineMetrics) SubscriberDropped() {
	if m == nil {
		return
	}
	m.sseDroppedTotal.Inc()
}

// SetHistorySize updates the retained-history gauge.
func (m *PipelineMetrics) SetHistorySize(n int) {
	if m == nil {
		return
	}
	m.historySize.Set(float64(n))
}
