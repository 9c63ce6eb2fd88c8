package commission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/petshop-erp/petshop-erp/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for the engine.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const snapshotColumns = `id, sale_id, product_line_id, installment_number, employee_id,
sale_date, quantity, sale_value, cost_value,
acquirer_fee_amount, acquirer_fee_percent, installment_count, payment_method,
tax_amount, tax_percent, delivery_cost, discount, delivery_fee_revenue, base_clamped,
base_value, commission_percent, commission_type, full_amount, paid_percent, generated_amount,
status, paid_amount, payment_date, payout_method, remaining_balance, closing_id, reversed_at, reversal_reason, note, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*CommissionSnapshot, error) {
	var snap CommissionSnapshot
	err := row.Scan(
		&snap.ID, &snap.SaleID, &snap.ProductLineID, &snap.InstallmentNumber, &snap.EmployeeID,
		&snap.SaleDate, &snap.Quantity, &snap.SaleValue, &snap.CostValue,
		&snap.AcquirerFeeAmount, &snap.AcquirerFeePercent, &snap.InstallmentCount, &snap.PaymentMethod,
		&snap.TaxAmount, &snap.TaxPercent, &snap.DeliveryCost, &snap.Discount, &snap.DeliveryFeeRevenue, &snap.BaseClampedToZero,
		&snap.Base, &snap.CommissionPercent, &snap.CommissionType, &snap.FullAmount, &snap.PaidPercent, &snap.GeneratedAmount,
		&snap.Status, &snap.PaidAmount, &snap.PaymentDate, &snap.PayoutMethod, &snap.RemainingBalance, &snap.ClosingID, &snap.ReversedAt, &snap.ReversalReason, &snap.Note, &snap.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// CreateSnapshot inserts a snapshot in PENDING state. The unique constraint
// on (product_line_id, installment_number) enforces at-most-once creation
// even under concurrent attempts.
func (r *Repository) CreateSnapshot(ctx context.Context, snap CommissionSnapshot) (*CommissionSnapshot, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO commission_snapshots (
sale_id, product_line_id, installment_number, employee_id,
sale_date, quantity, sale_value, cost_value,
acquirer_fee_amount, acquirer_fee_percent, installment_count, payment_method,
tax_amount, tax_percent, delivery_cost, discount, delivery_fee_revenue, base_clamped,
base_value, commission_percent, commission_type, full_amount, paid_percent, generated_amount,
status, remaining_balance, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28)
RETURNING `+snapshotColumns,
		snap.SaleID, snap.ProductLineID, snap.InstallmentNumber, snap.EmployeeID,
		snap.SaleDate, snap.Quantity, snap.SaleValue, snap.CostValue,
		snap.AcquirerFeeAmount, snap.AcquirerFeePercent, snap.InstallmentCount, snap.PaymentMethod,
		snap.TaxAmount, snap.TaxPercent, snap.DeliveryCost, snap.Discount, snap.DeliveryFeeRevenue, snap.BaseClampedToZero,
		snap.Base, snap.CommissionPercent, snap.CommissionType, snap.FullAmount, snap.PaidPercent, snap.GeneratedAmount,
		StatusPending, snap.RemainingBalance, snap.Note, snap.CreatedAt,
	)
	created, err := scanSnapshot(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateSnapshot
		}
		return nil, fmt.Errorf("commission: create snapshot: %w", err)
	}
	return created, nil
}

// GetSnapshot loads a snapshot by id.
func (r *Repository) GetSnapshot(ctx context.Context, id int64) (*CommissionSnapshot, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM commission_snapshots WHERE id=$1`, id)
	snap, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("commission: get snapshot: %w", err)
	}
	return snap, nil
}

// ListPendingForEmployee returns pending snapshots ordered by sale date
// ascending.
func (r *Repository) ListPendingForEmployee(ctx context.Context, employeeID int64, from, to *time.Time) ([]CommissionSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM commission_snapshots WHERE employee_id=$1 AND status=$2`
	args := []any{employeeID, StatusPending}
	if from != nil {
		args = append(args, *from)
		query += fmt.Sprintf(" AND sale_date >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		query += fmt.Sprintf(" AND sale_date <= $%d", len(args))
	}
	query += " ORDER BY sale_date ASC, id ASC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("commission: list pending: %w", err)
	}
	defer rows.Close()
	var snaps []CommissionSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("commission: list pending: %w", err)
		}
		snaps = append(snaps, *snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("commission: list pending: %w", err)
	}
	return snaps, nil
}

func closingFilterClause(filter ClosingFilter, args *[]any) string {
	clause := " WHERE 1=1"
	if filter.EmployeeID != 0 {
		*args = append(*args, filter.EmployeeID)
		clause += fmt.Sprintf(" AND employee_id = $%d", len(*args))
	}
	if filter.From != nil {
		*args = append(*args, *filter.From)
		clause += fmt.Sprintf(" AND payment_date >= $%d", len(*args))
	}
	if filter.To != nil {
		*args = append(*args, *filter.To)
		clause += fmt.Sprintf(" AND payment_date <= $%d", len(*args))
	}
	return clause
}

// ListClosings returns a page of closing batches plus the total match count.
func (r *Repository) ListClosings(ctx context.Context, filter ClosingFilter) ([]ClosingBatch, int, error) {
	var args []any
	clause := closingFilterClause(filter, &args)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM commission_closings`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("commission: count closings: %w", err)
	}

	query := `SELECT id, employee_id, total_amount, payment_date, closed_at, note FROM commission_closings` + clause + ` ORDER BY payment_date DESC, id DESC`
	if filter.PerPage > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		args = append(args, filter.PerPage)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
		args = append(args, (page-1)*filter.PerPage)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("commission: list closings: %w", err)
	}
	defer rows.Close()
	var batches []ClosingBatch
	for rows.Next() {
		var b ClosingBatch
		if err := rows.Scan(&b.ID, &b.EmployeeID, &b.TotalAmount, &b.PaymentDate, &b.ClosedAt, &b.Note); err != nil {
			return nil, 0, fmt.Errorf("commission: list closings: %w", err)
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("commission: list closings: %w", err)
	}
	if err := r.attachSnapshotIDs(ctx, batches); err != nil {
		return nil, 0, err
	}
	return batches, total, nil
}

func (r *Repository) attachSnapshotIDs(ctx context.Context, batches []ClosingBatch) error {
	if len(batches) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(batches))
	index := make(map[int64]*ClosingBatch, len(batches))
	for i := range batches {
		ids = append(ids, batches[i].ID)
		index[batches[i].ID] = &batches[i]
	}
	rows, err := r.pool.Query(ctx, `SELECT id, closing_id FROM commission_snapshots WHERE closing_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return fmt.Errorf("commission: load closing members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var snapID, closingID int64
		if err := rows.Scan(&snapID, &closingID); err != nil {
			return fmt.Errorf("commission: load closing members: %w", err)
		}
		if b, ok := index[closingID]; ok {
			b.SnapshotIDs = append(b.SnapshotIDs, snapID)
		}
	}
	return rows.Err()
}

// SummarizeClosings aggregates batch totals and member counts over the
// whole filtered set.
func (r *Repository) SummarizeClosings(ctx context.Context, filter ClosingFilter) (ClosingSummary, error) {
	var args []any
	clause := closingFilterClause(filter, &args)
	var summary ClosingSummary
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(total_amount), 0),
COALESCE((SELECT COUNT(*) FROM commission_snapshots s WHERE s.closing_id IN (SELECT id FROM commission_closings`+clause+`)), 0)
FROM commission_closings`+clause, args...).Scan(&summary.TotalClosings, &summary.TotalAmount, &summary.TotalCount)
	if err != nil {
		return ClosingSummary{}, fmt.Errorf("commission: summarize closings: %w", err)
	}
	return summary, nil
}

// GetClosing loads one closing batch with its member ids.
func (r *Repository) GetClosing(ctx context.Context, id int64) (*ClosingBatch, error) {
	var b ClosingBatch
	err := r.pool.QueryRow(ctx, `SELECT id, employee_id, total_amount, payment_date, closed_at, note FROM commission_closings WHERE id=$1`, id).
		Scan(&b.ID, &b.EmployeeID, &b.TotalAmount, &b.PaymentDate, &b.ClosedAt, &b.Note)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("commission: get closing: %w", err)
	}
	batches := []ClosingBatch{b}
	if err := r.attachSnapshotIDs(ctx, batches); err != nil {
		return nil, err
	}
	return &batches[0], nil
}

// WithTx wraps fn in a read-committed transaction. Lock acquisitions inside
// see state committed while they waited, so the status re-checks in the
// service catch a concurrent close or reversal.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

type txRepo struct {
	tx pgx.Tx
}

// LockSnapshots takes row locks on the given ids. Rows are returned ordered
// by id; missing ids simply do not appear.
func (t *txRepo) LockSnapshots(ctx context.Context, ids []int64) ([]CommissionSnapshot, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+snapshotColumns+` FROM commission_snapshots WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, fmt.Errorf("commission: lock snapshots: %w", err)
	}
	defer rows.Close()
	var snaps []CommissionSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("commission: lock snapshots: %w", err)
		}
		snaps = append(snaps, *snap)
	}
	return snaps, rows.Err()
}

func (t *txRepo) LockSnapshot(ctx context.Context, id int64) (*CommissionSnapshot, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM commission_snapshots WHERE id=$1 FOR UPDATE`, id)
	snap, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("commission: lock snapshot: %w", err)
	}
	return snap, nil
}

func (t *txRepo) MarkPaid(ctx context.Context, ids []int64, closingID int64, paymentDate time.Time, payoutMethod string) error {
	tag, err := t.tx.Exec(ctx, `UPDATE commission_snapshots
SET status=$1, payment_date=$2, closing_id=$3, payout_method=$4, paid_amount=generated_amount, remaining_balance=0
WHERE id = ANY($5) AND status=$6`, StatusPaid, paymentDate, closingID, payoutMethod, ids, StatusPending)
	if err != nil {
		return fmt.Errorf("commission: mark paid: %w", err)
	}
	if int(tag.RowsAffected()) != len(ids) {
		return ErrInvalidBatchMember
	}
	return nil
}

func (t *txRepo) MarkReversed(ctx context.Context, id int64, at time.Time, reason string) error {
	tag, err := t.tx.Exec(ctx, `UPDATE commission_snapshots
SET status=$1, reversed_at=$2, reversal_reason=$3
WHERE id=$4 AND status IN ($5, $6)`, StatusReversed, at, reason, id, StatusPending, StatusPaid)
	if err != nil {
		return fmt.Errorf("commission: mark reversed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

func (t *txRepo) InsertClosing(ctx context.Context, batch ClosingBatch) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO commission_closings (employee_id, total_amount, payment_date, closed_at, note)
VALUES ($1,$2,$3,$4,$5) RETURNING id`, batch.EmployeeID, batch.TotalAmount, batch.PaymentDate, batch.ClosedAt, batch.Note).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("commission: insert closing: %w", err)
	}
	return id, nil
}
