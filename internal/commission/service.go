package commission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/petshop-erp/petshop-erp/internal/shared"
)

// ClosingNotifier is implemented by the jobs client; a successful close
// enqueues a payroll notification.
type ClosingNotifier interface {
	NotifyClosing(ctx context.Context, batch ClosingBatch) error
}

// Service orchestrates snapshot creation, closing, reversal, and history
// reads. All clock access goes through the injected now func so the
// calculation core never reads wall time implicitly.
type Service struct {
	repo     RepositoryPort
	cfg      *DeductionConfig
	audit    *shared.AuditLogger
	idem     *shared.IdempotencyStore
	cache    *Cache
	notifier ClosingNotifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs a Service. Audit, idempotency, cache, notifier, and
// logger may be nil; the service degrades gracefully without them.
func NewService(repo RepositoryPort, cfg *DeductionConfig, audit *shared.AuditLogger, idem *shared.IdempotencyStore, cache *Cache, notifier ClosingNotifier, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		cfg:      cfg,
		audit:    audit,
		idem:     idem,
		cache:    cache,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// EventKey derives a deterministic idempotency key for a payment event, so
// transport-level replays of the exact same event are rejected before any
// computation. Callers may supply their own key instead.
func EventKey(ev PaymentEvent) string {
	seed := fmt.Sprintf("payment:%d:%d:%d:%s:%.4f",
		ev.SaleID, ev.ProductLineID, ev.InstallmentNumber, ev.PaymentDate.UTC().Format(time.RFC3339), ev.PaidAmount)
	return uuid.NewSHA1(uuid.Nil, []byte(seed)).String()
}

// ProcessPayment turns a payment event into an immutable commission
// snapshot. Creation is at-most-once per (sale line, installment); a
// duplicate attempt fails with ErrDuplicateSnapshot and writes nothing.
func (s *Service) ProcessPayment(ctx context.Context, ev PaymentEvent, idemKey string) (*CommissionSnapshot, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	if idemKey == "" {
		idemKey = EventKey(ev)
	}
	if err := s.idem.CheckAndInsert(ctx, idemKey, "commission"); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			return nil, ErrDuplicateEvent
		}
		return nil, err
	}

	bd, err := ResolveDeductions(ev, s.cfg)
	if err != nil {
		s.releaseKey(ctx, idemKey)
		return nil, err
	}
	rule, err := s.cfg.CommissionFor(ev.ProductLineID)
	if err != nil {
		s.releaseKey(ctx, idemKey)
		return nil, err
	}
	result := Compute(bd, rule, ev.PaidAmount, ev.InstallmentTotal)

	snap := buildSnapshot(ev, bd, result, s.now())
	created, err := s.repo.CreateSnapshot(ctx, snap)
	if err != nil {
		s.releaseKey(ctx, idemKey)
		return nil, err
	}
	return created, nil
}

// buildSnapshot freezes the computation into the persisted record. Monetary
// values are rounded half-up to two decimals here, at the persistence
// boundary, and nowhere earlier.
func buildSnapshot(ev PaymentEvent, bd DeductionBreakdown, result CommissionResult, createdAt time.Time) CommissionSnapshot {
	full := Round2(result.FullAmount)
	generated := Round2(result.GeneratedAmount)
	return CommissionSnapshot{
		SaleID:            ev.SaleID,
		ProductLineID:     ev.ProductLineID,
		InstallmentNumber: ev.InstallmentNumber,
		EmployeeID:        ev.EmployeeID,

		SaleDate:  ev.SaleDate,
		Quantity:  ev.Quantity,
		SaleValue: ev.SaleValue,
		CostValue: ev.CostValue,

		AcquirerFeeAmount:  Round2(bd.AcquirerFeeAmount),
		AcquirerFeePercent: bd.AcquirerFeePercent,
		InstallmentCount:   bd.InstallmentCount,
		PaymentMethod:      bd.PaymentMethod,
		TaxAmount:          Round2(bd.TaxAmount),
		TaxPercent:         bd.TaxPercent,
		DeliveryCost:       Round2(bd.DeliveryCost),
		Discount:           Round2(bd.Discount),
		DeliveryFeeRevenue: Round2(bd.DeliveryFeeRevenue),
		BaseClampedToZero:  bd.BaseClampedToZero,

		Base:              Round2(result.Base),
		CommissionPercent: result.CommissionPercent,
		CommissionType:    result.CommissionType,
		FullAmount:        full,
		PaidPercent:       Round2(result.PaidPercent),
		GeneratedAmount:   generated,

		Status:           StatusPending,
		RemainingBalance: Round2(full - generated),
		CreatedAt:        createdAt,
	}
}

// GetSnapshot returns one snapshot by id.
func (s *Service) GetSnapshot(ctx context.Context, id int64) (*CommissionSnapshot, error) {
	return s.repo.GetSnapshot(ctx, id)
}

// PendingList is the per-employee conference view.
type PendingList struct {
	EmployeeID  int64
	Commissions []CommissionSnapshot
	TotalAmount float64
}

// ListPending returns the employee's pending snapshots, oldest sale first,
// with the summed generated amount.
func (s *Service) ListPending(ctx context.Context, employeeID int64, from, to *time.Time) (PendingList, error) {
	if employeeID == 0 {
		return PendingList{}, invalidf("employee id required")
	}
	snaps, err := s.repo.ListPendingForEmployee(ctx, employeeID, from, to)
	if err != nil {
		return PendingList{}, err
	}
	var total float64
	for _, snap := range snaps {
		total += snap.GeneratedAmount
	}
	return PendingList{EmployeeID: employeeID, Commissions: snaps, TotalAmount: Round2(total)}, nil
}

// CloseInput bundles parameters for closing a batch of snapshots.
type CloseInput struct {
	EmployeeID   int64
	SnapshotIDs  []int64
	PaymentDate  time.Time
	PayoutMethod string
	Note         string
	ActorID      int64
}

// ClosingResult is the outcome of a successful close. Settled lists members
// whose commission was fully realized, Partial those generated from partial
// installment payments.
type ClosingResult struct {
	Batch   ClosingBatch
	Settled []CommissionSnapshot
	Partial []CommissionSnapshot
}

// Close transitions every listed snapshot to PAID and records one closing
// batch, atomically. If any id is missing, not pending, or owned by another
// employee the whole call fails with ErrInvalidBatchMember and no snapshot
// is mutated. This is the only pending-to-paid path.
func (s *Service) Close(ctx context.Context, in CloseInput) (ClosingResult, error) {
	if in.EmployeeID == 0 {
		return ClosingResult{}, invalidf("employee id required")
	}
	if len(in.SnapshotIDs) == 0 {
		return ClosingResult{}, invalidf("at least one snapshot id required")
	}
	if in.PaymentDate.IsZero() {
		return ClosingResult{}, invalidf("payment date required")
	}
	seen := make(map[int64]struct{}, len(in.SnapshotIDs))
	for _, id := range in.SnapshotIDs {
		if _, dup := seen[id]; dup {
			return ClosingResult{}, invalidf("snapshot id %d listed twice", id)
		}
		seen[id] = struct{}{}
	}

	var result ClosingResult
	closedAt := s.now()
	payoutMethod := strings.TrimSpace(in.PayoutMethod)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		snaps, err := tx.LockSnapshots(ctx, in.SnapshotIDs)
		if err != nil {
			return err
		}
		if len(snaps) != len(in.SnapshotIDs) {
			return ErrInvalidBatchMember
		}
		var total float64
		for _, snap := range snaps {
			if snap.Status != StatusPending || snap.EmployeeID != in.EmployeeID {
				return ErrInvalidBatchMember
			}
			total += snap.GeneratedAmount
		}
		batch := ClosingBatch{
			EmployeeID:  in.EmployeeID,
			SnapshotIDs: in.SnapshotIDs,
			TotalAmount: Round2(total),
			PaymentDate: in.PaymentDate,
			ClosedAt:    closedAt,
			Note:        strings.TrimSpace(in.Note),
		}
		id, err := tx.InsertClosing(ctx, batch)
		if err != nil {
			return err
		}
		batch.ID = id
		if err := tx.MarkPaid(ctx, in.SnapshotIDs, id, in.PaymentDate, payoutMethod); err != nil {
			return err
		}
		result.Batch = batch
		for _, snap := range snaps {
			closed := snap
			closed.Status = StatusPaid
			paid := closed.GeneratedAmount
			closed.PaidAmount = &paid
			paymentDate := in.PaymentDate
			closed.PaymentDate = &paymentDate
			closed.PayoutMethod = payoutMethod
			closed.ClosingID = &id
			closed.RemainingBalance = 0
			if closed.PaidPercent >= 100 {
				result.Settled = append(result.Settled, closed)
			} else {
				result.Partial = append(result.Partial, closed)
			}
		}
		return nil
	})
	if err != nil {
		return ClosingResult{}, err
	}

	s.recordAudit(ctx, shared.AuditLog{
		ActorID:  in.ActorID,
		Action:   shared.AuditActionClose,
		Entity:   "commission_closing",
		EntityID: strconv.FormatInt(result.Batch.ID, 10),
		Meta: map[string]any{
			"employee_id":  in.EmployeeID,
			"snapshot_ids": in.SnapshotIDs,
			"total_amount": result.Batch.TotalAmount,
		},
		At: closedAt,
	})
	if err := s.cache.Bump(ctx); err != nil {
		s.warn(ctx, "bump closings cache", err)
	}
	if s.notifier != nil {
		if err := s.notifier.NotifyClosing(ctx, result.Batch); err != nil {
			s.warn(ctx, "enqueue closing notification", err)
		}
	}
	return result, nil
}

// Reverse cancels a snapshot's commission effect with a mandatory reason.
// Pending and paid snapshots may be reversed; a reversed one may not. The
// originating closing batch, if any, keeps its historical total.
func (s *Service) Reverse(ctx context.Context, id int64, reason string, actorID int64) (*CommissionSnapshot, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, invalidf("reversal reason required")
	}
	reversedAt := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		snap, err := tx.LockSnapshot(ctx, id)
		if err != nil {
			return err
		}
		if snap.Status != StatusPending && snap.Status != StatusPaid {
			return ErrInvalidState
		}
		return tx.MarkReversed(ctx, id, reversedAt, reason)
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   shared.AuditActionReverse,
		Entity:   "commission_snapshot",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     map[string]any{"reason": reason},
		At:       reversedAt,
	})
	return s.repo.GetSnapshot(ctx, id)
}

// ClosingHistory is the closing-history screen payload.
type ClosingHistory struct {
	Closings   []ClosingBatch    `json:"closings"`
	Summary    ClosingSummary    `json:"summary"`
	Pagination shared.Pagination `json:"pagination"`
}

// ListClosings returns the audit trail of closing batches with aggregated
// totals. Results are cached per filter under a versioned key; any close
// invalidates them.
func (s *Service) ListClosings(ctx context.Context, filter ClosingFilter) (ClosingHistory, error) {
	if filter.PerPage <= 0 {
		filter.PerPage = 20
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	key, err := s.cache.BuildKey(ctx, "commission:closings", closingFilterKey(filter))
	if err != nil {
		return ClosingHistory{}, err
	}
	var history ClosingHistory
	err = s.cache.FetchJSON(ctx, key, &history, func(ctx context.Context) (any, error) {
		batches, total, err := s.repo.ListClosings(ctx, filter)
		if err != nil {
			return nil, err
		}
		summary, err := s.repo.SummarizeClosings(ctx, filter)
		if err != nil {
			return nil, err
		}
		return ClosingHistory{
			Closings:   batches,
			Summary:    summary,
			Pagination: shared.NewPagination(filter.Page, filter.PerPage, total),
		}, nil
	})
	if err != nil {
		return ClosingHistory{}, err
	}
	return history, nil
}

// WarmClosings pre-populates the closing history cache for the month
// containing ref. The background worker calls this on a schedule.
func (s *Service) WarmClosings(ctx context.Context, ref time.Time) error {
	from := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0).Add(-time.Nanosecond)
	_, err := s.ListClosings(ctx, ClosingFilter{From: &from, To: &to})
	return err
}

func closingFilterKey(filter ClosingFilter) string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(filter.EmployeeID, 10))
	b.WriteByte(':')
	if filter.From != nil {
		b.WriteString(filter.From.UTC().Format("20060102"))
	}
	b.WriteByte(':')
	if filter.To != nil {
		b.WriteString(filter.To.UTC().Format("20060102"))
	}
	b.WriteString(fmt.Sprintf(":%d:%d", filter.Page, filter.PerPage))
	return b.String()
}

func (s *Service) recordAudit(ctx context.Context, log shared.AuditLog) {
	if err := s.audit.Record(ctx, log); err != nil {
		s.warn(ctx, "record audit log", err)
	}
}

func (s *Service) releaseKey(ctx context.Context, key string) {
	if err := s.idem.Delete(ctx, key); err != nil {
		s.warn(ctx, "release idempotency key", err)
	}
}

func (s *Service) warn(ctx context.Context, msg string, err error) {
	if s.logger != nil {
		s.logger.WarnContext(ctx, msg, slog.Any("error", err))
	}
}
