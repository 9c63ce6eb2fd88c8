package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestTryLockIsExclusive(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	key := WarmupLockKey("closings")

	acquired, err := TryLock(ctx, client, key, time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	again, err := TryLock(ctx, client, key, time.Minute)
	require.NoError(t, err)
	require.False(t, again)

	require.NoError(t, Unlock(ctx, client, key))
	released, err := TryLock(ctx, client, key, time.Minute)
	require.NoError(t, err)
	require.True(t, released)
}

func TestTryLockWithoutClient(t *testing.T) {
	acquired, err := TryLock(context.Background(), nil, "any", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
	require.NoError(t, Unlock(context.Background(), nil, "any"))
}
