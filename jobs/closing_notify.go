package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/petshop-erp/petshop-erp/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ClosingNotifyJob forwards closing batch facts to payroll. Delivery is
// currently a structured log line consumed by the payroll importer; the
// payload already matches its expected schema.
type ClosingNotifyJob struct {
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewClosingNotifyJob wires dependencies for the notification handler.
func NewClosingNotifyJob(logger *slog.Logger, metrics *jobmetrics.Metrics) *ClosingNotifyJob {
	return &ClosingNotifyJob{Logger: logger, Metrics: metrics}
}

// Handle processes closing notification tasks.
func (j *ClosingNotifyJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("closing notify: handler not configured")
	}
	var payload ClosingNotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.ClosingID == 0 {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskTypeClosingNotify)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	j.logger().Info("closing notification",
		slog.Int64("closing_id", payload.ClosingID),
		slog.Int64("employee_id", payload.EmployeeID),
		slog.Float64("total_amount", payload.TotalAmount),
		slog.Int("snapshot_count", payload.SnapshotCount),
		slog.Time("payment_date", payload.PaymentDate),
	)
	j.metrics().AddNotification("log", "delivered")
	return resultErr
}

func (j *ClosingNotifyJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskTypeClosingNotify))
	}
	return slog.Default().With(slog.String("job", TaskTypeClosingNotify))
}

func (j *ClosingNotifyJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
