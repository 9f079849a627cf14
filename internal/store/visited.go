package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/scraper-service/pkg/utils"
)

// VisitedCache remembers recently scraped URLs in Redis so re-submitted
// batches can short-circuit before fetching. Entries expire after the
// configured TTL; the cache is advisory, the stores stay authoritative.
type VisitedCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewVisitedCache wraps an existing Redis client.
func NewVisitedCache(client *redis.Client, ttl time.Duration) *VisitedCache {
	return &VisitedCache{client: client, ttl: ttl}
}

func (c *VisitedCache) key(url string) string {
	return "visited:" + utils.HashURL(url)
}

// Mark records url as scraped.
func (c *VisitedCache) Mark(ctx context.Context, url string) {
	if err := c.client.Set(ctx, c.key(url), time.Now().UTC().Format(time.RFC3339), c.ttl).Err(); err != nil {
		slog.Warn("visited cache write failed", "url", url, "error", err)
	}
}

// Seen reports whether url was scraped within the TTL window. Cache errors
// degrade to "not seen" so Redis outages never block scraping.
func (c *VisitedCache) Seen(ctx context.Context, url string) bool {
	err := c.client.Get(ctx, c.key(url)).Err()
	if err == nil {
		return true
	}
	if !errors.Is(err, redis.Nil) {
		slog.Warn("visited cache read failed", "url", url, "error", err)
	}
	return false
}

// Forget drops url from the cache, used after deletions so the URL can be
// scraped again immediately.
func (c *VisitedCache) Forget(ctx context.Context, url string) {
	if err := c.client.Del(ctx, c.key(url)).Err(); err != nil {
		slog.Warn("visited cache delete failed", "url", url, "error", err)
	}
}
