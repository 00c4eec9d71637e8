package attributes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Resolver is the lookup consumed by the error classifier.
type Resolver interface {
	ResolveAttribute(ctx context.Context, workspaceID int64, attributeType, destinationID string) (string, error)
}

// CachedResolver fronts a Resolver with redis. Hits skip Postgres entirely;
// misses collapse through singleflight so a burst of identical failures does
// not fan out into identical lookups. Unresolvable references are never
// cached: once a later dimension sync lands, retranslation must see them.
type CachedResolver struct {
	next   Resolver
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCachedResolver constructs the read-through resolver.
func NewCachedResolver(next Resolver, client *redis.Client, ttl time.Duration) *CachedResolver {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedResolver{next: next, client: client, ttl: ttl}
}

func cacheKey(workspaceID int64, attributeType, destinationID string) string {
	return fmt.Sprintf("attr:%d:%s:%s", workspaceID, attributeType, destinationID)
}

// ResolveAttribute implements Resolver.
func (c *CachedResolver) ResolveAttribute(ctx context.Context, workspaceID int64, attributeType, destinationID string) (string, error) {
	key := cacheKey(workspaceID, attributeType, destinationID)

	if c.client != nil {
		value, err := c.client.Get(ctx, key).Result()
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, redis.Nil) {
			// Cache trouble degrades to a direct lookup.
			return c.next.ResolveAttribute(ctx, workspaceID, attributeType, destinationID)
		}
	}

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		value, err := c.next.ResolveAttribute(ctx, workspaceID, attributeType, destinationID)
		if err != nil {
			return "", err
		}
		if c.client != nil {
			_ = c.client.Set(ctx, key, value, c.ttl).Err()
		}
		return value, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Invalidate drops the cached value for one reference, used after a
// dimension sync rewrites it.
func (c *CachedResolver) Invalidate(ctx context.Context, workspaceID int64, attributeType, destinationID string) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, cacheKey(workspaceID, attributeType, destinationID)).Err()
}
