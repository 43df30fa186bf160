package geo

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/user/threatmap/internal/adapter/metrics"
	"github.com/user/threatmap/internal/domain"
)

// Backpressure policies applied when the outbound rate budget is exhausted.
const (
	PolicyQueue = "queue"
	PolicyDrop  = "drop"
)

// Options configures a Resolver.
type Options struct {
	CacheSize     int
	CacheTTL      time.Duration
	RateBudget    int           // outbound lookups per window
	RateWindow    time.Duration
	QueueSize     int           // bounded waiter queue for PolicyQueue
	Policy        string        // PolicyQueue or PolicyDrop
	LookupTimeout time.Duration // per outbound request
}

// Resolver resolves IPs to locations through a capacity-bounded TTL cache, an
// optional shared cache, and a rate-limited outbound provider. Concurrent
// misses for the same IP are coalesced into a single outbound call; failures
// are never cached so a later cycle can retry.
type Resolver struct {
	provider domain.GeoProvider
	shared   domain.GeoCache // optional, may be nil
	cache    *expirable.LRU[string, domain.GeoLocation]
	limiter  *rate.Limiter
	flight   singleflight.Group
	opts     Options
	logger   *slog.Logger
	metrics  *metrics.PipelineMetrics

	qmu     sync.Mutex
	waiters []*budgetWaiter

	sharedDown bool // logged once per outage
	sharedMu   sync.Mutex
}

type budgetWaiter struct {
	cancel context.CancelFunc
}

// NewResolver creates a Resolver. shared may be nil when no second-level
// cache is configured; m may be nil in tests.
func NewResolver(provider domain.GeoProvider, shared domain.GeoCache, opts Options, logger *slog.Logger, m *metrics.PipelineMetrics) *Resolver {
	if opts.Policy == "" {
		opts.Policy = PolicyQueue
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	return &Resolver{
		provider: provider,
		shared:   shared,
		cache:    expirable.NewLRU[string, domain.GeoLocation](opts.CacheSize, nil, opts.CacheTTL),
		limiter:  rate.NewLimiter(rate.Every(opts.RateWindow/time.Duration(opts.RateBudget)), opts.RateBudget),
		opts:     opts,
		logger:   logger.With("component", "geo_resolver"),
		metrics:  m,
	}
}

// CacheLen reports the number of live cached locations.
func (r *Resolver) CacheLen() int {
	return r.cache.Len()
}

// Resolve returns the location for ip, or an error meaning "unknown".
func (r *Resolver) Resolve(ctx context.Context, ip string) (domain.GeoLocation, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil || !routable(addr) {
		r.metrics.GeoOutcome(metrics.GeoUnresolvable)
		return domain.GeoLocation{}, domain.ErrUnresolvable
	}

	if loc, ok := r.cache.Get(ip); ok {
		r.metrics.GeoOutcome(metrics.GeoCacheHit)
		return loc, nil
	}

	v, err, _ := r.flight.Do(ip, func() (interface{}, error) {
		return r.resolveMiss(ctx, ip)
	})
	if err != nil {
		return domain.GeoLocation{}, err
	}
	return v.(domain.GeoLocation), nil
}

// resolveMiss runs once per in-flight IP; every coalesced caller receives its
// result.
func (r *Resolver) resolveMiss(ctx context.Context, ip string) (domain.GeoLocation, error) {
	// A coalesced caller may arrive just after the previous flight finished.
	if loc, ok := r.cache.Get(ip); ok {
		r.metrics.GeoOutcome(metrics.GeoCacheHit)
		return loc, nil
	}

	if loc, ok := r.sharedGet(ctx, ip); ok {
		r.cache.Add(ip, loc)
		r.metrics.GeoOutcome(metrics.GeoSharedHit)
		return loc, nil
	}

	if err := r.waitBudget(ctx); err != nil {
		if errors.Is(err, domain.ErrBudgetExhausted) {
			r.metrics.GeoOutcome(metrics.GeoRateLimited)
		}
		return domain.GeoLocation{}, err
	}

	lctx, cancel := context.WithTimeout(ctx, r.opts.LookupTimeout)
	defer cancel()

	loc, err := r.provider.Lookup(lctx, ip)
	if err != nil {
		if errors.Is(err, domain.ErrUnresolvable) {
			r.metrics.GeoOutcome(metrics.GeoUnresolvable)
		} else {
			r.metrics.GeoOutcome(metrics.GeoError)
			r.logger.Warn("geolocation lookup failed", "ip", ip, "error", err)
		}
		// Not cached: a future cycle may retry.
		return domain.GeoLocation{}, err
	}

	r.cache.Add(ip, loc)
	r.sharedSet(ctx, loc)
	r.metrics.GeoOutcome(metrics.GeoLookup)
	return loc, nil
}

// waitBudget applies the configured backpressure policy to one outbound call.
func (r *Resolver) waitBudget(ctx context.Context) error {
	if r.limiter.Allow() {
		return nil
	}
	if r.opts.Policy == PolicyDrop {
		return domain.ErrBudgetExhausted
	}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := &budgetWaiter{cancel: cancel}
	r.enqueue(w)
	defer r.dequeue(w)

	if err := r.limiter.Wait(wctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Cancelled by queue overflow: this request resolves as unknown.
		return domain.ErrBudgetExhausted
	}
	return nil
}

// enqueue registers a budget waiter; when the queue is full the oldest waiter
// is cancelled to make room.
func (r *Resolver) enqueue(w *budgetWaiter) {
	r.qmu.Lock()
	defer r.qmu.Unlock()
	if len(r.waiters) >= r.opts.QueueSize {
		oldest := r.waiters[0]
		r.waiters = r.waiters[1:]
		oldest.cancel()
	}
	r.waiters = append(r.waiters, w)
}

func (r *Resolver) dequeue(w *budgetWaiter) {
	r.qmu.Lock()
	defer r.qmu.Unlock()
	for i, x := range r.waiters {
		if x == w {
			r.waiters = append(r.waiters[:i], r.waiters[i+1:]...)
			return
		}
	}
}

func (r *Resolver) sharedGet(ctx context.Context, ip string) (domain.GeoLocation, bool) {
	if r.shared == nil {
		return domain.GeoLocation{}, false
	}
	loc, ok, err := r.shared.Get(ctx, ip)
	if err != nil {
		r.noteSharedError(err)
		return domain.GeoLocation{}, false
	}
	r.noteSharedRecovered()
	return loc, ok
}

func (r *Resolver) sharedSet(ctx context.Context, loc domain.GeoLocation) {
	if r.shared == nil {
		return
	}
	if err := r.shared.Set(ctx, loc); err != nil {
		r.noteSharedError(err)
	}
}

func (r *Resolver) noteSharedError(err error) {
	r.sharedMu.Lock()
	defer r.sharedMu.Unlock()
	if !r.sharedDown {
		r.sharedDown = true
		r.logger.Warn("shared geo cache unavailable, continuing without it", "error", err)
	}
}

func (r *Resolver) noteSharedRecovered() {
	r.sharedMu.Lock()
	defer r.sharedMu.Unlock()
	if r.sharedDown {
		r.sharedDown = false
		r.logger.Info("shared geo cache recovered")
	}
}

// routable reports whether an address is worth an outbound lookup.
func routable(addr netip.Addr) bool {
	if !addr.Is4() {
		return false
	}
	return !(addr.IsPrivate() ||
		addr.IsLoopback() ||
		addr.IsMulticast() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsUnspecified())
}
