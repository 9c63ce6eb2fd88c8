package commission

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SnapshotStatus enumerates commission snapshot lifecycle states.
type SnapshotStatus string

const (
	StatusPending  SnapshotStatus = "PENDING"
	StatusPaid     SnapshotStatus = "PAID"
	StatusReversed SnapshotStatus = "REVERSED"
)

// CommissionType selects how the commission amount is derived from the base.
type CommissionType string

const (
	TypePercentage CommissionType = "PERCENTAGE"
	TypeFixed      CommissionType = "FIXED"
)

// PaymentEvent is the input produced by the payment subsystem when an
// installment of a sale line is paid. The engine is invoked synchronously
// with this payload; it never polls.
type PaymentEvent struct {
	SaleID            int64
	ProductLineID     int64
	InstallmentNumber int
	EmployeeID        int64

	PaidAmount       float64
	InstallmentTotal float64
	PaymentMethod    string
	InstallmentCount int
	PaymentDate      time.Time

	SaleDate  time.Time
	Quantity  int
	SaleValue float64
	CostValue float64

	DeliveryCost       float64
	DeliveryFeeRevenue float64
	Discount           float64
}

// Validate checks the structural requirements of a payment event.
func (e PaymentEvent) Validate() error {
	switch {
	case e.SaleID == 0 || e.ProductLineID == 0:
		return invalidf("sale id and product line id required")
	case e.EmployeeID == 0:
		return invalidf("employee id required")
	case e.InstallmentNumber < 1:
		return invalidf("installment number must be >= 1")
	case e.InstallmentCount < 1:
		return invalidf("installment count must be >= 1")
	case strings.TrimSpace(e.PaymentMethod) == "":
		return invalidf("payment method required")
	case e.PaidAmount < 0:
		return invalidf("paid amount cannot be negative")
	case e.InstallmentTotal <= 0:
		return invalidf("installment total must be positive")
	case e.PaymentDate.IsZero():
		return invalidf("payment date required")
	}
	return nil
}

// DeductionBreakdown records every component applied to a paid amount before
// the commission percentage. All amounts keep full precision; rounding
// happens only when a snapshot is written.
type DeductionBreakdown struct {
	PaidAmount         float64
	DeliveryFeeRevenue float64
	AcquirerFeePercent float64
	AcquirerFeeAmount  float64
	PaymentMethod      string
	InstallmentCount   int
	TaxPercent         float64
	TaxAmount          float64
	DeliveryCost       float64
	Discount           float64

	Base              float64
	BaseClampedToZero bool
}

// CommissionResult is the frozen outcome of one commission computation.
type CommissionResult struct {
	Base              float64
	CommissionType    CommissionType
	CommissionPercent float64
	FullAmount        float64
	PaidPercent       float64
	GeneratedAmount   float64
}

// CommissionSnapshot is the immutable financial record created once per
// (sale line, installment). Only the status block below the marker comment
// ever changes after creation; corrections require a reversal plus a new
// snapshot, never an edit.
type CommissionSnapshot struct {
	ID                int64
	SaleID            int64
	ProductLineID     int64
	InstallmentNumber int
	EmployeeID        int64

	SaleDate  time.Time
	Quantity  int
	SaleValue float64
	CostValue float64

	AcquirerFeeAmount  float64
	AcquirerFeePercent float64
	InstallmentCount   int
	PaymentMethod      string
	TaxAmount          float64
	TaxPercent         float64
	DeliveryCost       float64
	Discount           float64
	DeliveryFeeRevenue float64
	BaseClampedToZero  bool

	Base              float64
	CommissionPercent float64
	CommissionType    CommissionType
	FullAmount        float64
	PaidPercent       float64
	GeneratedAmount   float64

	// Mutable status block. PayoutMethod is how the employee was paid,
	// distinct from the sale's PaymentMethod above; it is empty until the
	// snapshot is closed.
	Status           SnapshotStatus
	PaidAmount       *float64
	PaymentDate      *time.Time
	PayoutMethod     string
	RemainingBalance float64
	ClosingID        *int64
	ReversedAt       *time.Time
	ReversalReason   string
	Note             string

	CreatedAt time.Time
}

// ClosingBatch groups snapshots marked paid together on one date. Once
// written it is a historical fact: reversing a member later does not change
// the stored total.
type ClosingBatch struct {
	ID          int64
	EmployeeID  int64
	SnapshotIDs []int64
	TotalAmount float64
	PaymentDate time.Time
	ClosedAt    time.Time
	Note        string
}

// ClosingFilter narrows closing history queries.
type ClosingFilter struct {
	EmployeeID int64
	From       *time.Time
	To         *time.Time
	Page       int
	PerPage    int
}

// ClosingSummary aggregates totals over a set of closing batches.
type ClosingSummary struct {
	TotalClosings int     `json:"total_closings"`
	TotalAmount   float64 `json:"total_amount"`
	TotalCount    int     `json:"total_count"`
}

// ErrConfigurationMissing is returned when no acquirer fee rule matches a
// payment method and installment count. The engine never defaults to zero.
var ErrConfigurationMissing = errors.New("commission: no acquirer fee configured for payment method and installment count")

// ErrDuplicateSnapshot indicates a snapshot already exists for the same
// (sale line, installment) pair.
var ErrDuplicateSnapshot = errors.New("commission: snapshot already exists for sale line and installment")

// ErrNotFound indicates an unknown snapshot or closing id.
var ErrNotFound = errors.New("commission: not found")

// ErrInvalidBatchMember is returned when a close call references a snapshot
// that is missing, not pending, or belongs to another employee. The whole
// call fails and nothing is mutated.
var ErrInvalidBatchMember = errors.New("commission: closing batch member is not a pending snapshot of this employee")

// ErrInvalidState indicates an illegal status transition, such as reversing
// an already reversed snapshot.
var ErrInvalidState = errors.New("commission: illegal status transition")

// ErrDuplicateEvent indicates a payment event carrying an idempotency key
// that was already processed.
var ErrDuplicateEvent = errors.New("commission: payment event already processed")

// ErrValidation wraps structurally invalid input.
var ErrValidation = errors.New("commission: invalid input")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}
