package redis

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/unlock-gateway/internal/domain/notification"
)

// DefaultUnreadCountTTL bounds staleness when an invalidation is lost.
const DefaultUnreadCountTTL = 2 * time.Minute

// generationTTL must outlive any in-flight refill.
const generationTTL = 24 * time.Hour

// refillScript stores the counter only if the user's generation is still the
// one observed before the store was read. ARGV[1] is "" when no generation existed.
var refillScript = redis.NewScript(`
local gen = redis.call("GET", KEYS[1]) or ""
if gen ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
return 1
`)

// UnreadCountCache decorates a notification.Store with a cached unread counter.
//
// Every write through the decorator bumps a per-user generation and drops the
// counter. A read that misses records the generation, reads the store and
// refills only if no write happened in between, so a count read before a
// concurrent Create is never cached.
type UnreadCountCache struct {
	notification.Store

	cache  *Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewUnreadCountCache wraps store.
func NewUnreadCountCache(store notification.Store, cache *Cache, ttl time.Duration, logger *slog.Logger) *UnreadCountCache {
	if ttl <= 0 {
		ttl = DefaultUnreadCountTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UnreadCountCache{
		Store:  store,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With("component", "unread_count_cache"),
	}
}

// GetUnreadCount reads through the cache. Redis failures fall back to the store.
func (c *UnreadCountCache) GetUnreadCount(ctx context.Context, userID string) (int, error) {
	countKey := UnreadCountKey(userID)
	genKey := UnreadGenerationKey(userID)

	var (
		gen       string
		canRefill bool
	)
	vals, err := c.cache.client.MGet(ctx, countKey, genKey).Result()
	if err != nil {
		c.logger.Warn("unread count cache read failed", "user_id", userID, "error", err)
	} else {
		if s, ok := vals[0].(string); ok {
			if n, convErr := strconv.Atoi(s); convErr == nil {
				return n, nil
			}
		}
		gen, _ = vals[1].(string)
		canRefill = true
	}

	count, err := c.Store.GetUnreadCount(ctx, userID)
	if err != nil {
		return 0, err
	}

	if canRefill {
		err := refillScript.Run(ctx, c.cache.client,
			[]string{genKey, countKey},
			gen, count, c.ttl.Milliseconds(),
		).Err()
		if err != nil {
			c.logger.Warn("unread count cache write failed", "user_id", userID, "error", err)
		}
	}
	return count, nil
}

// Create stores the notification and invalidates the counter.
func (c *UnreadCountCache) Create(ctx context.Context, n *notification.Notification) error {
	if err := c.Store.Create(ctx, n); err != nil {
		return err
	}
	c.invalidate(ctx, n.UserID)
	return nil
}

// MarkAsReadBulk marks notifications read and invalidates the counter.
func (c *UnreadCountCache) MarkAsReadBulk(ctx context.Context, userID string, ids []string, at time.Time) (int, error) {
	n, err := c.Store.MarkAsReadBulk(ctx, userID, ids, at)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.invalidate(ctx, userID)
	}
	return n, nil
}

// DeleteNotifications deletes notifications and invalidates the counter.
func (c *UnreadCountCache) DeleteNotifications(ctx context.Context, userID string, ids []string) (int, error) {
	n, err := c.Store.DeleteNotifications(ctx, userID, ids)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.invalidate(ctx, userID)
	}
	return n, nil
}

func (c *UnreadCountCache) invalidate(ctx context.Context, userID string) {
	genKey := UnreadGenerationKey(userID)
	_, err := c.cache.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, genKey)
		p.Expire(ctx, genKey, generationTTL)
		p.Del(ctx, UnreadCountKey(userID))
		return nil
	})
	if err != nil {
		c.logger.Warn("unread count cache invalidation failed", "user_id", userID, "error", err)
	}
}
