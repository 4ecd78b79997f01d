package cache

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// PageCache is the short-lived read cache for anonymous list queries. Keys
// are derived from the canonicalized query string, entries carry a fixed TTL
// and every write to a resource type invalidates that resource's prefix
// eagerly. It sits outside the correctness boundary: only anonymous pages
// are ever stored, so it can never serve privileged or owner-scoped data.
type PageCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewPageCache constructs a PageCache with the given entry lifetime.
func NewPageCache(client *redis.Client, ttl time.Duration) *PageCache {
	return &PageCache{client: client, ttl: ttl}
}

// ListKey builds a cache key for a list query. url.Values.Encode sorts by
// key, so equivalent queries collide regardless of parameter order.
func ListKey(resource string, query url.Values) string {
	return "page:" + resource + ":" + query.Encode()
}

// Fetch returns the cached page for key into dst, or computes, stores and
// returns it. Concurrent misses for the same key are collapsed through
// singleflight so a hot anonymous query hits the store once.
func (c *PageCache) Fetch(ctx context.Context, key string, dst any, compute func() (any, error)) error {
	if c == nil || c.client == nil {
		value, err := compute()
		if err != nil {
			return err
		}
		return recode(value, dst)
	}

	if data, err := c.client.Get(ctx, key).Bytes(); err == nil {
		if json.Unmarshal(data, dst) == nil {
			return nil
		}
		// Undecodable entry, drop it and fall through to compute.
		c.client.Del(ctx, key)
	}

	data, err, _ := c.group.Do(key, func() (any, error) {
		if cached, err := c.client.Get(ctx, key).Bytes(); err == nil {
			return cached, nil
		}
		value, err := compute()
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		c.client.Set(ctx, key, encoded, c.ttl)
		return encoded, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(data.([]byte), dst)
}

// Invalidate synchronously removes every cached page of a resource type.
// Called on create/update/delete before the write is acknowledged.
func (c *PageCache) Invalidate(ctx context.Context, resource string) error {
	if c == nil || c.client == nil {
		return nil
	}
	var cursor uint64
	pattern := "page:" + resource + ":*"
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func recode(src, dst any) error {
	data, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
