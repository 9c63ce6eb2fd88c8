package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeClosingNotify is emitted after a closing batch is written so
	// payroll systems can pick it up.
	TaskTypeClosingNotify = "commission:closing_notify"
	// TaskTypeSummaryWarmup refreshes the closing history cache for the
	// current month on a schedule.
	TaskTypeSummaryWarmup = "commission:summary_warmup"
)

// ClosingNotifyPayload carries the closing batch facts payroll needs.
type ClosingNotifyPayload struct {
	ClosingID     int64     `json:"closing_id"`
	EmployeeID    int64     `json:"employee_id"`
	TotalAmount   float64   `json:"total_amount"`
	SnapshotCount int       `json:"snapshot_count"`
	PaymentDate   time.Time `json:"payment_date"`
}

// NewClosingNotifyTask constructs an Asynq task for a closing notification.
func NewClosingNotifyTask(payload ClosingNotifyPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeClosingNotify, data), nil
}

// SummaryWarmupPayload selects which month to warm. Reference uses the
// 2006-01 layout; empty means the current month.
type SummaryWarmupPayload struct {
	Reference string `json:"reference,omitempty"`
}

// NewSummaryWarmupTask constructs an Asynq task for a cache warmup run.
func NewSummaryWarmupTask(payload SummaryWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSummaryWarmup, data), nil
}
