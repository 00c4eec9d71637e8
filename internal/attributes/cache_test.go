package attributes

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type countingResolver struct {
	values map[string]string
	calls  int
}

func (r *countingResolver) ResolveAttribute(ctx context.Context, workspaceID int64, attributeType, destinationID string) (string, error) {
	r.calls++
	value, ok := r.values[attributeType+"/"+destinationID]
	if !ok {
		return "", ErrAttributeNotFound
	}
	return value, nil
}

func TestCachedResolverReadThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	next := &countingResolver{values: map[string]string{"CATEGORY/123": "Travel"}}
	resolver := NewCachedResolver(next, redisClient, time.Minute)

	ctx := context.Background()

	value, err := resolver.ResolveAttribute(ctx, 1, "CATEGORY", "123")
	require.NoError(t, err)
	require.Equal(t, "Travel", value)
	require.Equal(t, 1, next.calls)

	// Second lookup is served from redis.
	value, err = resolver.ResolveAttribute(ctx, 1, "CATEGORY", "123")
	require.NoError(t, err)
	require.Equal(t, "Travel", value)
	require.Equal(t, 1, next.calls)
}

func TestCachedResolverNeverCachesMisses(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	next := &countingResolver{values: map[string]string{}}
	resolver := NewCachedResolver(next, redisClient, time.Minute)

	ctx := context.Background()

	_, err := resolver.ResolveAttribute(ctx, 1, "EMPLOYEE", "456")
	require.ErrorIs(t, err, ErrAttributeNotFound)

	// A later dimension sync lands the value; the next lookup must see it.
	next.values["EMPLOYEE/456"] = "Jane Doe"
	value, err := resolver.ResolveAttribute(ctx, 1, "EMPLOYEE", "456")
	require.NoError(t, err)
	require.Equal(t, "Jane Doe", value)
	require.Equal(t, 2, next.calls)
}

func TestCachedResolverInvalidate(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	next := &countingResolver{values: map[string]string{"VENDOR/7": "Old Name"}}
	resolver := NewCachedResolver(next, redisClient, time.Minute)

	ctx := context.Background()

	_, err := resolver.ResolveAttribute(ctx, 1, "VENDOR", "7")
	require.NoError(t, err)

	next.values["VENDOR/7"] = "New Name"
	require.NoError(t, resolver.Invalidate(ctx, 1, "VENDOR", "7"))

	value, err := resolver.ResolveAttribute(ctx, 1, "VENDOR", "7")
	require.NoError(t, err)
	require.Equal(t, "New Name", value)
}

func TestCachedResolverFallsBackWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	next := &countingResolver{values: map[string]string{"ACCOUNT/9": "Meals"}}
	resolver := NewCachedResolver(next, redisClient, time.Minute)

	mr.Close()

	value, err := resolver.ResolveAttribute(context.Background(), 1, "ACCOUNT", "9")
	require.NoError(t, err)
	require.Equal(t, "Meals", value)
	require.Equal(t, 1, next.calls)
}
