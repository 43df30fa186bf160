package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/threatmap/internal/domain"
)

const geoKeyPrefix = "geo:"

// GeoCache implements domain.GeoCache on Redis, letting multiple pipeline
// instances share one geolocation cache and one provider quota. Entries expire
// server-side via the same TTL the in-process cache uses.
type GeoCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewGeoCache creates a Redis-backed shared geo cache.
func NewGeoCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *GeoCache {
	return &GeoCache{
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "redis_geo_cache"),
	}
}

// Get fetches a cached location. A missing key is a plain miss, not an error.
func (c *GeoCache) Get(ctx context.Context, ip string) (domain.GeoLocation, bool, error) {
	payload, err := c.client.Get(ctx, geoKeyPrefix+ip).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.GeoLocation{}, false, nil
		}
		return domain.GeoLocation{}, false, fmt.Errorf("failed to GET geo entry: %w", err)
	}

	var loc domain.GeoLocation
	if err := json.Unmarshal(payload, &loc); err != nil {
		// A corrupt entry is treated as a miss so the resolver refreshes it.
		c.logger.Warn("discarding malformed geo cache entry", "ip", ip, "error", err)
		return domain.GeoLocation{}, false, nil
	}
	return loc, true, nil
}

// Set stores a resolved location with the cache TTL.
func (c *GeoCache) Set(ctx context.Context, loc domain.GeoLocation) error {
	payload, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("failed to marshal geo entry: %w", err)
	}
	if err := c.client.Set(ctx, geoKeyPrefix+loc.IP, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to SET geo entry: %w", err)
	}
	return nil
}
