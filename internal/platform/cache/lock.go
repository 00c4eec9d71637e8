package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ExportLockKey builds the redis key guarding one workspace's export cycle.
func ExportLockKey(workspaceID int64) string {
	return fmt.Sprintf("export:workspace:%d:lock", workspaceID)
}

// Lock is a best-effort mutex over redis. Two workers draining the same
// queue must not run overlapping export cycles for one workspace; the task
// ledger would serialize the writes anyway, but the second cycle would burn
// ledger API quota re-attempting groups the first is already exporting.
type Lock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLock constructs a lock manager. The ttl bounds how long a crashed
// worker can hold a workspace hostage.
func NewLock(client *redis.Client, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Lock{client: client, ttl: ttl}
}

// Acquire takes the workspace lock, reporting false when another holder has
// it. Redis trouble fails open: losing mutual exclusion is cheaper than
// halting exports.
func (l *Lock) Acquire(ctx context.Context, key string) (bool, error) {
	if l.client == nil {
		return true, nil
	}
	ok, err := l.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), l.ttl).Result()
	if err != nil {
		return true, err
	}
	return ok, nil
}

// Release drops the lock.
func (l *Lock) Release(ctx context.Context, key string) error {
	if l.client == nil {
		return nil
	}
	return l.client.Del(ctx, key).Err()
}
