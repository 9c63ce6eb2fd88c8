package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/petshop-erp/petshop-erp/internal/commission"
	jobmetrics "github.com/petshop-erp/petshop-erp/internal/jobs"
	"github.com/petshop-erp/petshop-erp/internal/shared"
)

// SummaryWarmupJob pre-populates the closing history cache so the first
// dashboard hit of the month does not pay the aggregation cost.
type SummaryWarmupJob struct {
	Service *commission.Service
	Redis   *redis.Client
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewSummaryWarmupJob wires dependencies for the warmup handler.
func NewSummaryWarmupJob(svc *commission.Service, redisClient *redis.Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *SummaryWarmupJob {
	return &SummaryWarmupJob{
		Service: svc,
		Redis:   redisClient,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes summary warmup tasks.
func (j *SummaryWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("summary warmup: handler not configured")
	}
	var payload SummaryWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	ref := j.now()
	if payload.Reference != "" {
		parsed, err := time.Parse("2006-01", payload.Reference)
		if err != nil {
			return asynq.SkipRetry
		}
		ref = parsed
	}

	tracker := j.metrics().Track(TaskTypeSummaryWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	lockKey := shared.WarmupLockKey("closings")
	acquired, err := shared.TryLock(ctx, j.Redis, lockKey, 5*time.Minute)
	if err != nil {
		resultErr = err
		return resultErr
	}
	if !acquired {
		j.logger().Info("warmup already running, skipping")
		return resultErr
	}
	defer func() {
		if err := shared.Unlock(context.WithoutCancel(ctx), j.Redis, lockKey); err != nil {
			j.logger().Warn("release warmup lock", slog.Any("error", err))
		}
	}()

	warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := j.now()
	if err := j.Service.WarmClosings(warmCtx, ref); err != nil {
		resultErr = err
		j.logger().Error("warm closings", slog.String("reference", ref.Format("2006-01")), slog.Any("error", err))
		return resultErr
	}
	j.logger().Info("completed closings warmup",
		slog.String("reference", ref.Format("2006-01")),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *SummaryWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskTypeSummaryWarmup))
	}
	return slog.Default().With(slog.String("job", TaskTypeSummaryWarmup))
}

func (j *SummaryWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *SummaryWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
