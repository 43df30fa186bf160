package domain

import "time"

// RawIndicator is a single IP reported by one feed during one fetch cycle.
// It is produced once per (feed, cycle) per unique IP and discarded after
// enrichment.
type RawIndicator struct {
	IP         string    `json:"ip"`
	FeedName   string    `json:"feed_name"`
	RiskType   string    `json:"risk_type"`
	ObservedAt time.Time `json:"observed_at"`
}

// GeoLocation is the resolved geographic origin of an IP. Immutable once
// created; identity is the IP string.
type GeoLocation struct {
	IP         string    `json:"ip"`
	Country    string    `json:"country"`
	Latitude   float64   `json:"lat"`
	Longitude  float64   `json:"lon"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// ThreatEvent is a RawIndicator merged with its GeoLocation. IDs are assigned
// in a single strictly increasing sequence as events are dispatched, so every
// consumer observes the same total order.
type ThreatEvent struct {
	ID         uint64    `json:"id"`
	IP         string    `json:"ip"`
	FeedName   string    `json:"feed_name"`
	RiskType   string    `json:"risk_type"`
	Country    string    `json:"country,omitempty"`
	Latitude   float64   `json:"lat"`
	Longitude  float64   `json:"lon"`
	Located    bool      `json:"located"`
	ObservedAt time.Time `json:"observed_at"`
}

// NewThreatEvent combines an indicator with a resolved location. A nil
// location yields the unknown-location sentinel: the event is still produced,
// since absence of a location is itself informative.
func NewThreatEvent(ind RawIndicator, loc *GeoLocation) ThreatEvent {
	ev := ThreatEvent{
		IP:         ind.IP,
		FeedName:   ind.FeedName,
		RiskType:   ind.RiskType,
		ObservedAt: ind.ObservedAt,
	}
	if loc != nil {
		ev.Country = loc.Country
		ev.Latitude = loc.Latitude
		ev.Longitude = loc.Longitude
		ev.Located = true
	}
	return ev
}

// StatsSnapshot is a point-in-time, internally consistent view of the running
// counters. CountByRisk and TotalFlows cover the retained history window;
// TotalEvents is lifetime.
type StatsSnapshot struct {
	TotalEvents   uint64           `json:"total_events"`
	TotalFlows    int              `json:"total_flows"`
	RatePerMinute int              `json:"rate_per_minute"`
	CountByRisk   map[string]int   `json:"count_by_risk"`
}
