package store

import (
	"context"
	"fmt"

	"landpub/internal/log"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const recentErrorCap = 20

// ErrorCache keeps short-lived operator-facing state in Redis: a capped list
// of recent per-item error messages per batch, and a per-platform set of
// already-published listing ids as a fast dedup path in front of the SQL
// check. Both are caches; Postgres stays authoritative.
type ErrorCache struct {
	client *redis.Client
	logger *log.Logger
}

func NewErrorCache(client *redis.Client, logger *log.Logger) *ErrorCache {
	return &ErrorCache{client: client, logger: logger}
}

func (c *ErrorCache) PushError(ctx context.Context, batchID, message string) {
	key := fmt.Sprintf("landpub:errors:%s", batchID)
	pipe := c.client.Pipeline()
	pipe.LPush(ctx, key, message)
	pipe.LTrim(ctx, key, 0, recentErrorCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		// Cache only; losing a message never fails the pass.
		c.logger.Warn("Failed to cache error message", zap.Error(err), zap.String("batch_id", batchID))
	}
}

func (c *ErrorCache) RecentErrors(ctx context.Context, batchID string) []string {
	key := fmt.Sprintf("landpub:errors:%s", batchID)
	msgs, err := c.client.LRange(ctx, key, 0, recentErrorCap-1).Result()
	if err != nil {
		c.logger.Warn("Failed to read cached errors", zap.Error(err), zap.String("batch_id", batchID))
		return nil
	}
	return msgs
}

func (c *ErrorCache) MarkPublished(ctx context.Context, platform string, listingID int64) {
	key := fmt.Sprintf("landpub:published:%s", platform)
	if err := c.client.SAdd(ctx, key, listingID).Err(); err != nil {
		c.logger.Warn("Failed to cache published listing", zap.Error(err), zap.Int64("listing_id", listingID))
	}
}

func (c *ErrorCache) IsPublished(ctx context.Context, platform string, listingID int64) bool {
	key := fmt.Sprintf("landpub:published:%s", platform)
	ok, err := c.client.SIsMember(ctx, key, listingID).Result()
	if err != nil {
		return false
	}
	return ok
}

func (c *ErrorCache) UnmarkPublished(ctx context.Context, platform string, listingID int64) {
	key := fmt.Sprintf("landpub:published:%s", platform)
	if err := c.client.SRem(ctx, key, listingID).Err(); err != nil {
		c.logger.Warn("Failed to evict published listing from cache", zap.Error(err), zap.Int64("listing_id", listingID))
	}
}
