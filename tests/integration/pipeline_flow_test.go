package integration

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/user/threatmap/internal/adapter/api"
	"github.com/user/threatmap/internal/adapter/feed"
	"github.com/user/threatmap/internal/adapter/geo"
	"github.com/user/threatmap/internal/adapter/repository/memory"
	"github.com/user/threatmap/internal/domain"
	"github.com/user/threatmap/internal/usecase"
)

// The full pipeline against fake upstreams: two HTTP feeds and an
// ip-api-style geolocation service, wired exactly as cmd/server does,
// queried through the public router.

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFeedServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/iplist", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "# compromised hosts\n203.0.113.10\n203.0.113.11\n203.0.113.10\nnot-an-ip\n")
	})
	mux.HandleFunc("/csv", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "# Feodo Tracker\nfirst_seen,dst_ip,dst_port\n2026-01-01 00:00:00,198.51.100.20,447\n")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newGeoServer(t *testing.T) (*httptest.Server, func() int) {
	t.Helper()
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()

		ip := strings.TrimPrefix(r.URL.Path, "/")
		if ip == "198.51.100.20" {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status": "fail", "message": "reserved range", "query": ip,
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "success", "country": "Testland",
			"lat": 52.1, "lon": 4.3, "query": ip,
		})
	}))
	t.Cleanup(srv.Close)
	return srv, func() int { mu.Lock(); defer mu.Unlock(); return calls }
}

func TestPipelineEndToEnd(t *testing.T) {
	logger := discardLogger()
	feedSrv := newFeedServer(t)
	geoSrv, geoCalls := newGeoServer(t)

	feeds := []domain.FeedSpec{
		{Name: "list-feed", URL: feedSrv.URL + "/iplist", Format: domain.FormatIPList, RiskType: "compromised-host"},
		{Name: "c2-feed", URL: feedSrv.URL + "/csv", Format: domain.FormatCSV, RiskType: "botnet-c2"},
	}

	resolver := geo.NewResolver(
		geo.NewIPAPIClient(geoSrv.URL, time.Second),
		nil,
		geo.Options{
			CacheSize:     128,
			CacheTTL:      time.Minute,
			RateBudget:    50,
			RateWindow:    time.Minute,
			QueueSize:     16,
			Policy:        geo.PolicyQueue,
			LookupTimeout: time.Second,
		},
		logger,
		nil,
	)
	history := memory.NewHistoryBuffer(100)
	stats := usecase.NewStatsAggregator(time.Minute)
	broadcaster := usecase.NewBroadcaster(64, 50*time.Millisecond, logger, nil)
	fetcher := feed.NewHTTPFetcher(2*time.Second, logger)
	scheduler := usecase.NewScheduler(feeds, fetcher, resolver, history, stats, broadcaster, time.Hour, logger, nil)

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); broadcaster.Run(runCtx) }()
	go func() { defer wg.Done(); scheduler.Run(runCtx) }()

	apiSrv := httptest.NewServer(api.NewRouter(logger, history, stats, broadcaster, resolver.CacheLen))
	t.Cleanup(apiSrv.Close)

	// Subscribe over SSE before the events land so we observe live delivery.
	streamResp, err := http.Get(apiSrv.URL + "/stream")
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	t.Cleanup(func() { streamResp.Body.Close() })

	streamed := make(chan domain.ThreatEvent, 16)
	go func() {
		scanner := bufio.NewScanner(streamResp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var ev domain.ThreatEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err == nil {
				streamed <- ev
			}
		}
	}()

	// Three unique indicators across both feeds.
	waitFor(t, "all events ingested", func() bool { return history.Len() == 3 })

	t.Run("Recent Events Via API", func(t *testing.T) {
		var resp struct {
			Events []domain.ThreatEvent `json:"events"`
			Count  int                  `json:"count"`
		}
		getJSON(t, apiSrv.URL+"/api/events", &resp)

		if resp.Count != 3 {
			t.Fatalf("expected 3 events, got %d", resp.Count)
		}
		byIP := make(map[string]domain.ThreatEvent)
		for _, ev := range resp.Events {
			byIP[ev.IP] = ev
		}
		located, ok := byIP["203.0.113.10"]
		if !ok || !located.Located || located.Country != "Testland" {
			t.Errorf("expected a located event for 203.0.113.10, got %+v", located)
		}
		unknown, ok := byIP["198.51.100.20"]
		if !ok {
			t.Fatal("unresolvable ip missing from history")
		}
		if unknown.Located || unknown.RiskType != "botnet-c2" {
			t.Errorf("unexpected event for unresolvable ip: %+v", unknown)
		}
	})

	t.Run("Risk Filter Via API", func(t *testing.T) {
		var resp struct {
			Events []domain.ThreatEvent `json:"events"`
			Count  int                  `json:"count"`
		}
		getJSON(t, apiSrv.URL+"/api/events?risk=botnet-c2", &resp)
		if resp.Count != 1 || resp.Events[0].IP != "198.51.100.20" {
			t.Errorf("unexpected filtered response: %+v", resp)
		}
	})

	t.Run("Stats Via API", func(t *testing.T) {
		var snap domain.StatsSnapshot
		getJSON(t, apiSrv.URL+"/api/stats", &snap)
		if snap.TotalEvents != 3 || snap.TotalFlows != 3 {
			t.Errorf("unexpected snapshot: %+v", snap)
		}
		if snap.CountByRisk["compromised-host"] != 2 || snap.CountByRisk["botnet-c2"] != 1 {
			t.Errorf("unexpected risk breakdown: %v", snap.CountByRisk)
		}
	})

	t.Run("SSE Delivery", func(t *testing.T) {
		got := make(map[string]bool)
		for len(got) < 3 {
			select {
			case ev := <-streamed:
				got[ev.IP] = true
			case <-time.After(2 * time.Second):
				t.Fatalf("only streamed %v", got)
			}
		}
	})

	t.Run("Geo Lookups Deduplicated", func(t *testing.T) {
		// Three unique IPs, each looked up exactly once; the in-payload
		// duplicate of 203.0.113.10 never reached the provider.
		if n := geoCalls(); n != 3 {
			t.Errorf("expected 3 outbound geo lookups, got %d", n)
		}
		if resolver.CacheLen() != 2 {
			t.Errorf("expected 2 cached locations (failure not cached), got %d", resolver.CacheLen())
		}
	})

	t.Run("Health", func(t *testing.T) {
		var health struct {
			OK          bool `json:"ok"`
			Events      int  `json:"events"`
			Subscribers int  `json:"subscribers"`
		}
		getJSON(t, apiSrv.URL+"/healthz", &health)
		if !health.OK || health.Events != 3 {
			t.Errorf("unexpected health payload: %+v", health)
		}
		if health.Subscribers != 1 {
			t.Errorf("expected 1 live subscriber, got %d", health.Subscribers)
		}
	})

	stop()
	wg.Wait()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func getJSON(t *testing.T, url string, v interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s returned %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("GET %s: invalid json: %v", url, err)
	}
}
