package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/user/threatmap/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ServerAddr != ":8080" {
		t.Errorf("unexpected server addr %q", cfg.ServerAddr)
	}
	if cfg.RefreshInterval != 5*time.Minute {
		t.Errorf("unexpected refresh interval %v", cfg.RefreshInterval)
	}
	if cfg.HistoryCapacity != 1200 {
		t.Errorf("unexpected history capacity %d", cfg.HistoryCapacity)
	}
	if cfg.GeoBackpressure != "queue" {
		t.Errorf("unexpected backpressure policy %q", cfg.GeoBackpressure)
	}
	if len(cfg.Feeds) != 3 {
		t.Fatalf("expected 3 built-in feeds, got %d", len(cfg.Feeds))
	}
	for _, f := range cfg.Feeds {
		if f.Name == "" || f.URL == "" || f.RiskType == "" {
			t.Errorf("incomplete built-in feed: %+v", f)
		}
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":9999")
	t.Setenv("REFRESH_INTERVAL", "30s")
	t.Setenv("GEO_RATE_BUDGET", "10")
	t.Setenv("GEO_BACKPRESSURE", "drop")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ServerAddr != ":9999" {
		t.Errorf("env override ignored: %q", cfg.ServerAddr)
	}
	if cfg.RefreshInterval != 30*time.Second {
		t.Errorf("env override ignored: %v", cfg.RefreshInterval)
	}
	if cfg.GeoRateBudget != 10 {
		t.Errorf("env override ignored: %d", cfg.GeoRateBudget)
	}
	if cfg.GeoBackpressure != "drop" {
		t.Errorf("env override ignored: %q", cfg.GeoBackpressure)
	}
}

func TestLoadRejectsNonPositiveKnobs(t *testing.T) {
	cases := map[string]string{
		"HISTORY_CAPACITY":   "0",
		"GEO_CACHE_SIZE":     "-5",
		"GEO_RATE_BUDGET":    "0",
		"GEO_QUEUE_SIZE":     "0",
		"SUBSCRIBER_BUFFER":  "0",
		"REFRESH_INTERVAL":   "0s",
		"FETCH_TIMEOUT":      "-1s",
		"GEO_CACHE_TTL":      "0s",
		"GEO_RATE_WINDOW":    "0s",
		"GEO_LOOKUP_TIMEOUT": "0s",
		"SSE_KEEPALIVE":      "0s",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected an error for %s=%s", key, val)
			}
		})
	}
}

func TestLoadInvalidBackpressure(t *testing.T) {
	t.Setenv("GEO_BACKPRESSURE", "reject")

	if _, err := Load(); err == nil {
		t.Fatal("expected an error for an unknown backpressure policy")
	}
}

func writeFeedsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feeds.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFeedsFile(t *testing.T) {
	path := writeFeedsFile(t, `
feeds:
  - name: custom-list
    url: https://example.com/ips.txt
    format: iplist
    risk: abusive-source
  - name: custom-c2
    url: https://example.com/c2.csv
    format: csv
    risk: botnet-c2
`)
	t.Setenv("FEEDS_CONFIG_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Feeds) != 2 {
		t.Fatalf("expected 2 feeds, got %d", len(cfg.Feeds))
	}
	if cfg.Feeds[0].Name != "custom-list" || cfg.Feeds[0].Format != domain.FormatIPList {
		t.Errorf("unexpected first feed: %+v", cfg.Feeds[0])
	}
	if cfg.Feeds[1].RiskType != "botnet-c2" {
		t.Errorf("unexpected second feed: %+v", cfg.Feeds[1])
	}
}

func TestLoadFeedsFileErrors(t *testing.T) {
	t.Run("Missing File", func(t *testing.T) {
		t.Setenv("FEEDS_CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))
		if _, err := Load(); err == nil {
			t.Fatal("expected an error for a missing feeds file")
		}
	})

	t.Run("Empty Feed List", func(t *testing.T) {
		t.Setenv("FEEDS_CONFIG_PATH", writeFeedsFile(t, "feeds: []\n"))
		if _, err := Load(); err == nil {
			t.Fatal("expected an error for an empty feed list")
		}
	})

	t.Run("Unknown Format", func(t *testing.T) {
		t.Setenv("FEEDS_CONFIG_PATH", writeFeedsFile(t, `
feeds:
  - name: bad
    url: https://example.com/x
    format: xml
    risk: a
`))
		if _, err := Load(); err == nil {
			t.Fatal("expected an error for an unknown feed format")
		}
	})

	t.Run("Missing URL", func(t *testing.T) {
		t.Setenv("FEEDS_CONFIG_PATH", writeFeedsFile(t, `
feeds:
  - name: bad
    format: iplist
    risk: a
`))
		if _, err := Load(); err == nil {
			t.Fatal("expected an error for a feed without a url")
		}
	})
}
