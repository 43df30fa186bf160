package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/user/threatmap/internal/adapter/api"
	"github.com/user/threatmap/internal/adapter/api/middleware"
	"github.com/user/threatmap/internal/adapter/feed"
	"github.com/user/threatmap/internal/adapter/geo"
	"github.com/user/threatmap/internal/adapter/metrics"
	"github.com/user/threatmap/internal/adapter/repository/memory"
	redisrepo "github.com/user/threatmap/internal/adapter/repository/redis"
	"github.com/user/threatmap/internal/domain"
	"github.com/user/threatmap/internal/pkg/config"
	"github.com/user/threatmap/internal/pkg/logger"
	"github.com/user/threatmap/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)
	log.Info("starting threat map pipeline", "feeds", len(cfg.Feeds), "refresh", cfg.RefreshInterval.String())

	m := metrics.NewPipelineMetrics()

	// --- Graceful Shutdown Context ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Optional shared geo cache ---
	var sharedCache *redisrepo.GeoCache
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("could not connect to redis, proceeding with in-process cache only", "error", err)
		}
		sharedCache = redisrepo.NewGeoCache(redisClient, cfg.GeoCacheTTL, log)
	}

	// --- Pipeline components ---
	provider := geo.NewIPAPIClient(cfg.GeoAPIURL, cfg.GeoLookupTimeout)
	resolver := geo.NewResolver(provider, sharedOrNil(sharedCache), geo.Options{
		CacheSize:     cfg.GeoCacheSize,
		CacheTTL:      cfg.GeoCacheTTL,
		RateBudget:    cfg.GeoRateBudget,
		RateWindow:    cfg.GeoRateWindow,
		QueueSize:     cfg.GeoQueueSize,
		Policy:        cfg.GeoBackpressure,
		LookupTimeout: cfg.GeoLookupTimeout,
	}, log, m)

	history := memory.NewHistoryBuffer(cfg.HistoryCapacity)
	stats := usecase.NewStatsAggregator(time.Minute)
	broadcaster := usecase.NewBroadcaster(cfg.SubscriberBuffer, cfg.SSEKeepAlive, log, m)
	fetcher := feed.NewHTTPFetcher(cfg.FetchTimeout, log)

	scheduler := usecase.NewScheduler(
		cfg.Feeds, fetcher, resolver, history, stats, broadcaster,
		cfg.RefreshInterval, log, m,
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		broadcaster.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()

	// --- Admin & Metrics Server ---
	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", promhttp.Handler())
	adminMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	adminServer := &http.Server{
		Addr:    cfg.AdminAddr,
		Handler: adminMux,
	}
	go func() {
		log.Info("starting admin & metrics server", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("admin & metrics server failed", "error", err)
		}
	}()

	// --- Public API Server ---
	router := api.NewRouter(log, history, stats, broadcaster, resolver.CacheLen)
	publicServer := &http.Server{
		Addr:        cfg.ServerAddr,
		Handler:     middleware.Logging(log)(router),
		ReadTimeout: 5 * time.Second,
		// No WriteTimeout: /stream responses are long-lived.
		IdleTimeout: 30 * time.Second,
	}
	go func() {
		log.Info("starting public server", "addr", publicServer.Addr)
		if err := publicServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("public server failed", "error", err)
			stop()
		}
	}()

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	log.Info("shutting down...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := publicServer.Shutdown(shutdownCtx); err != nil {
		log.Error("public server shutdown failed", "error", err)
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		log.Error("admin server shutdown failed", "error", err)
	}

	wg.Wait()
	log.Info("shut down gracefully")
}

// sharedOrNil keeps a typed-nil *GeoCache from becoming a non-nil interface.
func sharedOrNil(c *redisrepo.GeoCache) domain.GeoCache {
	if c == nil {
		return nil
	}
	return c
}
