package usecase

import (
	"sync"
	"time"

	"github.com/user/threatmap/internal/domain"
)

// StatsAggregator maintains O(1)-amortized running counters over the event
// stream. Windowed counters (flows, per-risk counts) cover exactly the
// retained history: the dispatcher calls Record for every appended event and
// Retire for every event the history buffer evicts, keeping the two
// referentially consistent.
type StatsAggregator struct {
	mu          sync.Mutex
	totalEvents uint64
	countByRisk map[string]int
	ipCounts    map[string]int
	rateWindow  time.Duration
	stamps      []time.Time
	head        int
	now         func() time.Time
}

// NewStatsAggregator creates an aggregator whose rate counter covers
// rateWindow (the reported figure is normalized to per-minute).
func NewStatsAggregator(rateWindow time.Duration) *StatsAggregator {
	if rateWindow <= 0 {
		rateWindow = time.Minute
	}
	return &StatsAggregator{
		countByRisk: make(map[string]int),
		ipCounts:    make(map[string]int),
		rateWindow:  rateWindow,
		now:         time.Now,
	}
}

// Record consumes one newly dispatched event.
func (s *StatsAggregator) Record(ev domain.ThreatEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalEvents++
	s.countByRisk[ev.RiskType]++
	s.ipCounts[ev.IP]++
	s.stamps = append(s.stamps, s.now())
	s.evictStamps()
}

// Retire rolls off the contribution of an event evicted from retained
// history. Lifetime totals are unaffected.
func (s *StatsAggregator) Retire(ev domain.ThreatEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := s.countByRisk[ev.RiskType]; n <= 1 {
		delete(s.countByRisk, ev.RiskType)
	} else {
		s.countByRisk[ev.RiskType] = n - 1
	}
	if n := s.ipCounts[ev.IP]; n <= 1 {
		delete(s.ipCounts, ev.IP)
	} else {
		s.ipCounts[ev.IP] = n - 1
	}
}

// Snapshot returns a point-in-time, internally consistent copy of the
// counters.
func (s *StatsAggregator) Snapshot() domain.StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictStamps()

	byRisk := make(map[string]int, len(s.countByRisk))
	for risk, n := range s.countByRisk {
		byRisk[risk] = n
	}

	inWindow := len(s.stamps) - s.head
	rate := int(float64(inWindow) * float64(time.Minute) / float64(s.rateWindow))

	return domain.StatsSnapshot{
		TotalEvents:   s.totalEvents,
		TotalFlows:    len(s.ipCounts),
		RatePerMinute: rate,
		CountByRisk:   byRisk,
	}
}

// evictStamps advances past timestamps older than the rate window and
// compacts the backing slice once half of it is dead. Callers hold s.mu.
func (s *StatsAggregator) evictStamps() {
	cutoff := s.now().Add(-s.rateWindow)
	for s.head < len(s.stamps) && s.stamps[s.head].Before(cutoff) {
		s.head++
	}
	if s.head > 0 && s.head*2 >= len(s.stamps) {
		s.stamps = append([]time.Time{}, s.stamps[s.head:]...)
		s.head = 0
	}
}
