package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// WarmupLockKey builds the redis key guarding a cache warmup run.
func WarmupLockKey(name string) string {
	return fmt.Sprintf("commission:warmup:%s:lock", name)
}

// TryLock takes a best-effort advisory lock with a TTL. It returns false
// when another holder owns the key.
func TryLock(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (bool, error) {
	if client == nil {
		return true, nil
	}
	return client.SetNX(ctx, key, 1, ttl).Result()
}

// Unlock releases an advisory lock.
func Unlock(ctx context.Context, client *redis.Client, key string) error {
	if client == nil {
		return nil
	}
	return client.Del(ctx, key).Err()
}
