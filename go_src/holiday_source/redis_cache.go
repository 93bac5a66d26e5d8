package holiday_source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/wenjunxiao/trade-calendar/go_src/calendar"
)

const DefaultCacheTTL = 12 * time.Hour

// RedisClient is the part of *redis.Client the cache uses.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// NewRedisClient connects to addr and pings it.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}
	return client, nil
}

// RedisCache memoizes another source per requested range. Redis failures fall
// through to the wrapped source; errors of the wrapped source are never cached.
type RedisCache struct {
	client RedisClient
	inner  calendar.HolidaySource
	prefix string
	ttl    time.Duration
}

func NewRedisCache(client RedisClient, inner calendar.HolidaySource, prefix string, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, inner: inner, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) key(start, end int64) string {
	return fmt.Sprintf("trade-calendar:holidays:%s:%d:%d", c.prefix, start, end)
}

func (c *RedisCache) Fetch(ctx context.Context, start, end int64) ([]calendar.HolidayInterval, error) {
	key := c.key(start, end)
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached []calendar.HolidayInterval
		jsonErr := json.Unmarshal(raw, &cached)
		if jsonErr == nil {
			return cached, nil
		}
		logrus.Warnf("Discarding undecodable cached holidays under %s: %v", key, jsonErr)
	case errors.Is(err, redis.Nil):
	default:
		logrus.Warnf("Redis lookup for %s failed, using source directly: %v", key, err)
	}

	holidays, err := c.inner.Fetch(ctx, start, end)
	if err != nil {
		return nil, err
	}
	if holidays == nil {
		holidays = []calendar.HolidayInterval{}
	}
	payload, err := json.Marshal(holidays)
	if err != nil {
		return holidays, nil
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		logrus.Warnf("Failed to cache holidays under %s: %v", key, err)
	}
	return holidays, nil
}
