package domain

import (
	"context"
	"errors"
)

// ErrUnresolvable marks an IP the resolver will never locate (private,
// loopback, reserved). Never cached; no outbound quota is spent on it.
var ErrUnresolvable = errors.New("ip address is not resolvable")

// ErrBudgetExhausted is returned when the outbound rate budget is spent and
// the configured backpressure policy answers the request with unknown.
var ErrBudgetExhausted = errors.New("geolocation rate budget exhausted")

// GeoResolver resolves an IP to a location. A non-nil error means the caller
// should treat the location as unknown; the event is still produced.
type GeoResolver interface {
	Resolve(ctx context.Context, ip string) (GeoLocation, error)
}

// GeoProvider is the outbound per-IP lookup against the external geolocation
// service. Implementations return an error for lookup failures and for
// addresses the provider reports as unresolvable.
type GeoProvider interface {
	Lookup(ctx context.Context, ip string) (GeoLocation, error)
}

// GeoCache is an optional shared second-level cache for resolved locations,
// consulted between the in-process cache and the outbound provider. A miss is
// (zero, false, nil); errors are advisory and must not fail resolution.
type GeoCache interface {
	Get(ctx context.Context, ip string) (GeoLocation, bool, error)
	Set(ctx context.Context, loc GeoLocation) error
}

// FeedFetcher performs one retrieval of one feed and returns the cycle's
// deduplicated indicators. Fetch-level failures are returned as the error
// alongside an empty slice; they are cycle data, never fatal to the scheduler.
type FeedFetcher interface {
	Fetch(ctx context.Context, feed FeedSpec) ([]RawIndicator, error)
}

// HistoryRepository is the bounded, insertion-ordered store of recent events.
type HistoryRepository interface {
	// Append stores the event, evicting and returning the oldest retained
	// event once at capacity (nil otherwise).
	Append(ev ThreatEvent) *ThreatEvent
	// Recent returns up to limit events newest-first, optionally restricted
	// to one risk type (empty string means all).
	Recent(limit int, riskType string) []ThreatEvent
	Len() int
}
