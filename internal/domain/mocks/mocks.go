package mocks

import (
	"context"
	"sync"

	"github.com/user/threatmap/internal/domain"
)

// MockGeoProvider is a mock implementation of domain.GeoProvider for testing.
type MockGeoProvider struct {
	mu        sync.Mutex
	Locations map[string]domain.GeoLocation
	LookupErr error
	Calls     []string
	// Delay, when non-nil, is closed by the test to release in-flight lookups.
	Delay chan struct{}
}

func (m *MockGeoProvider) Lookup(ctx context.Context, ip string) (domain.GeoLocation, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, ip)
	delay := m.Delay
	m.mu.Unlock()

	if delay != nil {
		select {
		case <-delay:
		case <-ctx.Done():
			return domain.GeoLocation{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LookupErr != nil {
		return domain.GeoLocation{}, m.LookupErr
	}
	if loc, ok := m.Locations[ip]; ok {
		return loc, nil
	}
	return domain.GeoLocation{}, domain.ErrUnresolvable
}

// CallCount reports how many outbound lookups were made.
func (m *MockGeoProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// MockGeoResolver is a mock implementation of domain.GeoResolver for testing.
type MockGeoResolver struct {
	mu          sync.Mutex
	Locations   map[string]domain.GeoLocation
	ResolveErr  error
	ResolveErrs map[string]error // per-IP errors, take precedence over ResolveErr
	Calls       []string
}

func (m *MockGeoResolver) Resolve(ctx context.Context, ip string) (domain.GeoLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, ip)
	if err, ok := m.ResolveErrs[ip]; ok && err != nil {
		return domain.GeoLocation{}, err
	}
	if m.ResolveErr != nil {
		return domain.GeoLocation{}, m.ResolveErr
	}
	if loc, ok := m.Locations[ip]; ok {
		return loc, nil
	}
	return domain.GeoLocation{}, domain.ErrUnresolvable
}

// MockFeedFetcher is a mock implementation of domain.FeedFetcher for testing.
type MockFeedFetcher struct {
	mu         sync.Mutex
	Indicators map[string][]domain.RawIndicator
	FetchErr   map[string]error
	Fetches    []string
}

func (m *MockFeedFetcher) Fetch(ctx context.Context, feed domain.FeedSpec) ([]domain.RawIndicator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Fetches = append(m.Fetches, feed.Name)
	if err, ok := m.FetchErr[feed.Name]; ok && err != nil {
		return nil, err
	}
	return m.Indicators[feed.Name], nil
}

// FetchCount reports how many cycles ran for the named feed.
func (m *MockFeedFetcher) FetchCount(feed string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, f := range m.Fetches {
		if f == feed {
			n++
		}
	}
	return n
}

// MockGeoCache is an in-memory domain.GeoCache for testing the shared layer.
type MockGeoCache struct {
	mu      sync.Mutex
	Entries map[string]domain.GeoLocation
	GetErr  error
	SetErr  error
	Gets    int
	Sets    int
}

func (m *MockGeoCache) Get(ctx context.Context, ip string) (domain.GeoLocation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Gets++
	if m.GetErr != nil {
		return domain.GeoLocation{}, false, m.GetErr
	}
	loc, ok := m.Entries[ip]
	return loc, ok, nil
}

func (m *MockGeoCache) Set(ctx context.Context, loc domain.GeoLocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sets++
	if m.SetErr != nil {
		return m.SetErr
	}
	if m.Entries == nil {
		m.Entries = make(map[string]domain.GeoLocation)
	}
	m.Entries[loc.IP] = loc
	return nil
}
