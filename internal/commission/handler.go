package commission

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/petshop-erp/petshop-erp/internal/platform/httpx"
	"github.com/petshop-erp/petshop-erp/internal/shared"
)

// Handler exposes the commission engine as a JSON API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers commission routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/events", h.createFromEvent)
	r.Post("/close", h.closeBatch)
	r.Get("/closings", h.listClosings)
	r.Get("/pending/{employeeID}", h.listPending)
	r.Get("/{id}", h.getSnapshot)
	r.Post("/{id}/reverse", h.reverseSnapshot)
}

type paymentEventRequest struct {
	SaleID             int64   `json:"sale_id" validate:"required"`
	ProductLineID      int64   `json:"product_line_id" validate:"required"`
	InstallmentNumber  int     `json:"installment_number" validate:"required,min=1"`
	EmployeeID         int64   `json:"employee_id" validate:"required"`
	PaidAmount         float64 `json:"paid_amount" validate:"gte=0"`
	InstallmentTotal   float64 `json:"installment_total" validate:"required,gt=0"`
	PaymentMethod      string  `json:"payment_method" validate:"required"`
	InstallmentCount   int     `json:"installment_count" validate:"required,min=1"`
	PaymentDate        string  `json:"payment_date" validate:"required"`
	SaleDate           string  `json:"sale_date"`
	Quantity           int     `json:"quantity"`
	SaleValue          float64 `json:"sale_value"`
	CostValue          float64 `json:"cost_value"`
	DeliveryCost       float64 `json:"delivery_cost" validate:"gte=0"`
	DeliveryFeeRevenue float64 `json:"delivery_fee_revenue" validate:"gte=0"`
	Discount           float64 `json:"discount" validate:"gte=0"`
}

func (h *Handler) createFromEvent(w http.ResponseWriter, r *http.Request) {
	var req paymentEventRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	paymentDate, err := parseDate(req.PaymentDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "payment_date must be YYYY-MM-DD or RFC3339")
		return
	}
	saleDate := paymentDate
	if req.SaleDate != "" {
		if saleDate, err = parseDate(req.SaleDate); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "sale_date must be YYYY-MM-DD or RFC3339")
			return
		}
	}

	event := PaymentEvent{
		SaleID:             req.SaleID,
		ProductLineID:      req.ProductLineID,
		InstallmentNumber:  req.InstallmentNumber,
		EmployeeID:         req.EmployeeID,
		PaidAmount:         req.PaidAmount,
		InstallmentTotal:   req.InstallmentTotal,
		PaymentMethod:      req.PaymentMethod,
		InstallmentCount:   req.InstallmentCount,
		PaymentDate:        paymentDate,
		SaleDate:           saleDate,
		Quantity:           req.Quantity,
		SaleValue:          req.SaleValue,
		CostValue:          req.CostValue,
		DeliveryCost:       req.DeliveryCost,
		DeliveryFeeRevenue: req.DeliveryFeeRevenue,
		Discount:           req.Discount,
	}
	snap, err := h.service.ProcessPayment(r.Context(), event, r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.respondError(w, r, "process payment event", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, snapshotPayload(*snap))
}

func (h *Handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid snapshot id")
		return
	}
	snap, err := h.service.GetSnapshot(r.Context(), id)
	if err != nil {
		h.respondError(w, r, "get snapshot", err)
		return
	}
	httpx.JSON(w, http.StatusOK, snapshotPayload(*snap))
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	employeeID, err := strconv.ParseInt(chi.URLParam(r, "employeeID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid employee id")
		return
	}
	from, to, err := parseDateRange(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	pending, err := h.service.ListPending(r.Context(), employeeID, from, to)
	if err != nil {
		h.respondError(w, r, "list pending", err)
		return
	}
	commissions := make([]map[string]any, 0, len(pending.Commissions))
	for _, snap := range pending.Commissions {
		commissions = append(commissions, snapshotPayload(snap))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"employee":     pending.EmployeeID,
		"commissions":  commissions,
		"total_amount": pending.TotalAmount,
	})
}

type closeRequest struct {
	EmployeeID    int64   `json:"employee_id" validate:"required"`
	CommissionIDs []int64 `json:"commission_ids" validate:"required,min=1"`
	PaymentDate   string  `json:"payment_date" validate:"required"`
	PaymentMethod string  `json:"payment_method"`
	Note          string  `json:"note"`
}

func (h *Handler) closeBatch(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	paymentDate, err := parseDate(req.PaymentDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "payment_date must be YYYY-MM-DD or RFC3339")
		return
	}

	result, err := h.service.Close(r.Context(), CloseInput{
		EmployeeID:   req.EmployeeID,
		SnapshotIDs:  req.CommissionIDs,
		PaymentDate:  paymentDate,
		PayoutMethod: req.PaymentMethod,
		Note:         req.Note,
		ActorID:      shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, r, "close batch", err)
		return
	}

	settled := make([]map[string]any, 0, len(result.Settled))
	for _, snap := range result.Settled {
		settled = append(settled, snapshotPayload(snap))
	}
	partial := make([]map[string]any, 0, len(result.Partial))
	for _, snap := range result.Partial {
		partial = append(partial, snapshotPayload(snap))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"closing_id":   result.Batch.ID,
		"closed_count": len(result.Batch.SnapshotIDs),
		"total_amount": result.Batch.TotalAmount,
		"payment_date": result.Batch.PaymentDate.Format("2006-01-02"),
		"quitados":     settled,
		"parciais":     partial,
	})
}

type reverseRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) reverseSnapshot(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid snapshot id")
		return
	}
	var req reverseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	snap, err := h.service.Reverse(r.Context(), id, req.Reason, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, r, "reverse snapshot", err)
		return
	}
	httpx.JSON(w, http.StatusOK, snapshotPayload(*snap))
}

func (h *Handler) listClosings(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseDateRange(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	filter := ClosingFilter{From: from, To: to}
	if v := r.URL.Query().Get("employee_id"); v != "" {
		filter.EmployeeID, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid employee id")
			return
		}
	}
	filter.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	filter.PerPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))

	history, err := h.service.ListClosings(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, "list closings", err)
		return
	}
	closings := make([]map[string]any, 0, len(history.Closings))
	for _, batch := range history.Closings {
		closings = append(closings, closingPayload(batch))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"closings":   closings,
		"summary":    history.Summary,
		"pagination": history.Pagination,
	})
}

// respondError maps engine errors onto problem responses. Business-rule
// failures surface verbatim; everything unexpected is a 500 without detail.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicateSnapshot), errors.Is(err, ErrDuplicateEvent):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrInvalidBatchMember):
		httpx.Problem(w, http.StatusConflict, "Invalid Batch Member", err.Error())
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, ErrConfigurationMissing):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Configuration Missing", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err), slog.String("path", r.URL.Path))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// snapshotPayload renders the breakdown + calculation + status blocks.
func snapshotPayload(snap CommissionSnapshot) map[string]any {
	status := map[string]any{
		"status":            snap.Status,
		"remaining_balance": snap.RemainingBalance,
		"note":              snap.Note,
	}
	if snap.PaidAmount != nil {
		status["paid_amount"] = *snap.PaidAmount
	}
	if snap.PaymentDate != nil {
		status["payment_date"] = snap.PaymentDate.Format("2006-01-02")
	}
	if snap.PayoutMethod != "" {
		status["payment_method"] = snap.PayoutMethod
	}
	if snap.ClosingID != nil {
		status["closing_id"] = *snap.ClosingID
	}
	if snap.ReversedAt != nil {
		status["reversed_at"] = snap.ReversedAt.UTC().Format(time.RFC3339)
		status["reversal_reason"] = snap.ReversalReason
	}
	return map[string]any{
		"id":                 snap.ID,
		"sale_id":            snap.SaleID,
		"product_line_id":    snap.ProductLineID,
		"installment_number": snap.InstallmentNumber,
		"employee_id":        snap.EmployeeID,
		"sale_date":          snap.SaleDate.Format("2006-01-02"),
		"quantity":           snap.Quantity,
		"sale_value":         snap.SaleValue,
		"cost_value":         snap.CostValue,
		"deductions": map[string]any{
			"acquirer_fee_amount":  snap.AcquirerFeeAmount,
			"acquirer_fee_percent": snap.AcquirerFeePercent,
			"installment_count":    snap.InstallmentCount,
			"payment_method":       snap.PaymentMethod,
			"tax_amount":           snap.TaxAmount,
			"tax_percent":          snap.TaxPercent,
			"delivery_cost":        snap.DeliveryCost,
			"discount":             snap.Discount,
			"delivery_fee_revenue": snap.DeliveryFeeRevenue,
			"base_clamped_to_zero": snap.BaseClampedToZero,
		},
		"calculation": map[string]any{
			"base_value":         snap.Base,
			"commission_percent": snap.CommissionPercent,
			"commission_type":    snap.CommissionType,
			"full_amount":        snap.FullAmount,
			"paid_percent":       snap.PaidPercent,
			"generated_amount":   snap.GeneratedAmount,
		},
		"status": status,
	}
}

func closingPayload(batch ClosingBatch) map[string]any {
	return map[string]any{
		"id":           batch.ID,
		"employee_id":  batch.EmployeeID,
		"snapshot_ids": batch.SnapshotIDs,
		"total_amount": batch.TotalAmount,
		"payment_date": batch.PaymentDate.Format("2006-01-02"),
		"closed_at":    batch.ClosedAt.UTC().Format(time.RFC3339),
		"note":         batch.Note,
	}
}

func parseDate(value string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}

// parseDateRange reads date_start/date_end query params. The end boundary
// is inclusive, extended to the end of its day.
func parseDateRange(r *http.Request) (*time.Time, *time.Time, error) {
	var from, to *time.Time
	if v := r.URL.Query().Get("date_start"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			return nil, nil, errors.New("date_start must be YYYY-MM-DD")
		}
		from = &t
	}
	if v := r.URL.Query().Get("date_end"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			return nil, nil, errors.New("date_end must be YYYY-MM-DD")
		}
		end := t.Add(24*time.Hour - time.Nanosecond)
		to = &end
	}
	if from != nil && to != nil && from.After(*to) {
		return nil, nil, errors.New("date_start cannot be after date_end")
	}
	return from, to, nil
}
