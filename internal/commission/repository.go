package commission

import (
	"context"
	"time"
)

// RepositoryPort defines data access for the commission engine.
type RepositoryPort interface {
	// CreateSnapshot persists a snapshot; it returns ErrDuplicateSnapshot
	// when a record already exists for the same (sale line, installment).
	CreateSnapshot(ctx context.Context, snap CommissionSnapshot) (*CommissionSnapshot, error)
	GetSnapshot(ctx context.Context, id int64) (*CommissionSnapshot, error)
	// ListPendingForEmployee returns pending snapshots ordered by sale date
	// ascending, oldest debt first.
	ListPendingForEmployee(ctx context.Context, employeeID int64, from, to *time.Time) ([]CommissionSnapshot, error)
	ListClosings(ctx context.Context, filter ClosingFilter) ([]ClosingBatch, int, error)
	// SummarizeClosings aggregates totals over every batch matching the
	// filter, ignoring pagination.
	SummarizeClosings(ctx context.Context, filter ClosingFilter) (ClosingSummary, error)
	GetClosing(ctx context.Context, id int64) (*ClosingBatch, error)
	// WithTx wraps fn in a single transaction; the snapshot mutations and
	// closing insert inside succeed or fail together.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
}

// TxRepository exposes the transactional operations used by closing and
// reversal. Lock methods take row locks so concurrent calls touching the
// same snapshots serialize at the storage layer.
type TxRepository interface {
	LockSnapshots(ctx context.Context, ids []int64) ([]CommissionSnapshot, error)
	LockSnapshot(ctx context.Context, id int64) (*CommissionSnapshot, error)
	MarkPaid(ctx context.Context, ids []int64, closingID int64, paymentDate time.Time, payoutMethod string) error
	MarkReversed(ctx context.Context, id int64, at time.Time, reason string) error
	InsertClosing(ctx context.Context, batch ClosingBatch) (int64, error)
}
