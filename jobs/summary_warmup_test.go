package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/petshop-erp/petshop-erp/internal/commission"
	"github.com/petshop-erp/petshop-erp/internal/shared"
)

func TestSummaryWarmupSkipsWhenLockHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	acquired, err := shared.TryLock(ctx, client, shared.WarmupLockKey("closings"), time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	// The repository is nil on purpose: a held lock must return before any
	// cache work happens.
	svc := commission.NewService(nil, nil, nil, nil, nil, nil, nil)
	job := NewSummaryWarmupJob(svc, client, nil, nil)

	task, err := NewSummaryWarmupTask(SummaryWarmupPayload{Reference: "2026-03"})
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))
}

func TestSummaryWarmupRejectsBadPayload(t *testing.T) {
	svc := commission.NewService(nil, nil, nil, nil, nil, nil, nil)
	job := NewSummaryWarmupJob(svc, nil, nil, nil)

	badRef, err := NewSummaryWarmupTask(SummaryWarmupPayload{Reference: "march"})
	require.NoError(t, err)
	err = job.Handle(context.Background(), badRef)
	require.ErrorIs(t, err, asynq.SkipRetry)

	garbage := asynq.NewTask(TaskTypeSummaryWarmup, []byte("{"))
	err = job.Handle(context.Background(), garbage)
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestClosingNotifyRejectsBadPayload(t *testing.T) {
	job := NewClosingNotifyJob(nil, nil)

	garbage := asynq.NewTask(TaskTypeClosingNotify, []byte("{"))
	err := job.Handle(context.Background(), garbage)
	require.ErrorIs(t, err, asynq.SkipRetry)

	missingID, err := NewClosingNotifyTask(ClosingNotifyPayload{})
	require.NoError(t, err)
	err = job.Handle(context.Background(), missingID)
	require.ErrorIs(t, err, asynq.SkipRetry)
}
