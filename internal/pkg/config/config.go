package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/user/threatmap/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ServerAddr      string        `env:"SERVER_ADDR" envDefault:":8080"`
	AdminAddr       string        `env:"ADMIN_ADDR" envDefault:":9091"`
	FeedsConfigPath string        `env:"FEEDS_CONFIG_PATH"`
	RefreshInterval time.Duration `env:"REFRESH_INTERVAL" envDefault:"5m"`
	FetchTimeout    time.Duration `env:"FETCH_TIMEOUT" envDefault:"25s"`
	HistoryCapacity int           `env:"HISTORY_CAPACITY" envDefault:"1200"`

	GeoCacheTTL      time.Duration `env:"GEO_CACHE_TTL" envDefault:"10m"`
	GeoCacheSize     int           `env:"GEO_CACHE_SIZE" envDefault:"20000"`
	GeoRateBudget    int           `env:"GEO_RATE_BUDGET" envDefault:"45"`
	GeoRateWindow    time.Duration `env:"GEO_RATE_WINDOW" envDefault:"1m"`
	GeoQueueSize     int           `env:"GEO_QUEUE_SIZE" envDefault:"256"`
	GeoBackpressure  string        `env:"GEO_BACKPRESSURE" envDefault:"queue"` // queue or drop
	GeoLookupTimeout time.Duration `env:"GEO_LOOKUP_TIMEOUT" envDefault:"10s"`
	GeoAPIURL        string        `env:"GEO_API_URL" envDefault:"http://ip-api.com/json"`

	RedisAddr string `env:"REDIS_ADDR"`

	SSEKeepAlive     time.Duration `env:"SSE_KEEPALIVE" envDefault:"15s"`
	SubscriberBuffer int           `env:"SUBSCRIBER_BUFFER" envDefault:"64"`

	Feeds []domain.FeedSpec `env:"-"`
}

// feedsFile is the on-disk shape of FEEDS_CONFIG_PATH.
type feedsFile struct {
	Feeds []domain.FeedSpec `yaml:"feeds"`
}

// defaultFeeds are the public no-API-key feeds used when no feeds file is
// configured.
func defaultFeeds() []domain.FeedSpec {
	return []domain.FeedSpec{
		{
			Name:     "EmergingThreats",
			URL:      "https://rules.emergingthreats.net/blockrules/compromised-ips.txt",
			Format:   domain.FormatIPList,
			RiskType: "compromised-host",
		},
		{
			Name:     "Blocklist.de",
			URL:      "https://lists.blocklist.de/lists/all.txt",
			Format:   domain.FormatIPList,
			RiskType: "abusive-source",
		},
		{
			Name:     "FeodoTracker",
			URL:      "https://feodotracker.abuse.ch/downloads/ipblocklist.csv",
			Format:   domain.FormatCSV,
			RiskType: "botnet-c2",
		},
	}
}

// Load reads configuration from environment variables and, when configured,
// the feeds YAML file. An empty feed list is a fatal misconfiguration.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if cfg.GeoBackpressure != "queue" && cfg.GeoBackpressure != "drop" {
		return nil, fmt.Errorf("invalid GEO_BACKPRESSURE %q: must be queue or drop", cfg.GeoBackpressure)
	}

	// The limiter and tickers built from these panic on non-positive values;
	// reject them at startup instead.
	counts := map[string]int{
		"HISTORY_CAPACITY":  cfg.HistoryCapacity,
		"GEO_CACHE_SIZE":    cfg.GeoCacheSize,
		"GEO_RATE_BUDGET":   cfg.GeoRateBudget,
		"GEO_QUEUE_SIZE":    cfg.GeoQueueSize,
		"SUBSCRIBER_BUFFER": cfg.SubscriberBuffer,
	}
	for name, v := range counts {
		if v < 1 {
			return nil, fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	durations := map[string]time.Duration{
		"REFRESH_INTERVAL":   cfg.RefreshInterval,
		"FETCH_TIMEOUT":      cfg.FetchTimeout,
		"GEO_CACHE_TTL":      cfg.GeoCacheTTL,
		"GEO_RATE_WINDOW":    cfg.GeoRateWindow,
		"GEO_LOOKUP_TIMEOUT": cfg.GeoLookupTimeout,
		"SSE_KEEPALIVE":      cfg.SSEKeepAlive,
	}
	for name, d := range durations {
		if d <= 0 {
			return nil, fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if cfg.FeedsConfigPath != "" {
		feeds, err := loadFeedsFile(cfg.FeedsConfigPath)
		if err != nil {
			return nil, err
		}
		cfg.Feeds = feeds
	} else {
		cfg.Feeds = defaultFeeds()
	}

	if len(cfg.Feeds) == 0 {
		return nil, errors.New("no feeds configured")
	}
	for _, f := range cfg.Feeds {
		if f.Name == "" || f.URL == "" {
			return nil, fmt.Errorf("feed entry missing name or url: %+v", f)
		}
		switch f.Format {
		case domain.FormatIPList, domain.FormatKeyValue, domain.FormatCSV:
		default:
			return nil, fmt.Errorf("feed %s: unknown format %q", f.Name, f.Format)
		}
	}

	return cfg, nil
}

func loadFeedsFile(path string) ([]domain.FeedSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read feeds config: %w", err)
	}
	var ff feedsFile
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("failed to parse feeds config: %w", err)
	}
	return ff.Feeds, nil
}
