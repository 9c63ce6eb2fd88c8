package commission

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *memoryRepo) {
	t.Helper()
	repo := newMemoryRepo()
	svc := newTestService(repo)
	handler := NewHandler(slog.New(slog.NewTextHandler(os.Stderr, nil)), svc)

	r := chi.NewRouter()
	r.Route("/commissions", handler.MountRoutes)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, repo
}

func postJSON(t *testing.T, url string, body map[string]any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return payload
}

func eventBody(line int64, installment int) map[string]any {
	return map[string]any{
		"sale_id":            1,
		"product_line_id":    line,
		"installment_number": installment,
		"employee_id":        42,
		"paid_amount":        100.0,
		"installment_total":  200.0,
		"payment_method":     "credit_card",
		"installment_count":  3,
		"payment_date":       "2026-03-10",
		"sale_date":          "2026-03-01",
	}
}

func TestHandlerCreateSnapshotFromEvent(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/commissions/events", eventBody(5001, 1))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	payload := decodeBody(t, resp)
	calc := payload["calculation"].(map[string]any)
	require.InDelta(t, 89.50, calc["base_value"].(float64), 1e-9)
	require.InDelta(t, 8.95, calc["full_amount"].(float64), 1e-9)
	require.InDelta(t, 4.48, calc["generated_amount"].(float64), 1e-9)

	status := payload["status"].(map[string]any)
	require.Equal(t, "PENDING", status["status"])
}

func TestHandlerDuplicateEventConflicts(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/commissions/events", eventBody(5001, 1))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	dup := eventBody(5001, 1)
	dup["paid_amount"] = 77.0
	resp = postJSON(t, srv.URL+"/commissions/events", dup)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestHandlerMissingConfigurationIsUnprocessable(t *testing.T) {
	srv, _ := newTestServer(t)

	body := eventBody(5001, 1)
	body["installment_count"] = 12
	resp := postJSON(t, srv.URL+"/commissions/events", body)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	payload := decodeBody(t, resp)
	require.Equal(t, "Configuration Missing", payload["title"])
}

func TestHandlerRejectsMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/commissions/events", "application/json", bytes.NewReader([]byte("{")))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/commissions/events", map[string]any{"sale_id": 1})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestHandlerPendingAndCloseFlow(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/commissions/events", eventBody(5001, 1))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
	resp = postJSON(t, srv.URL+"/commissions/events", eventBody(5001, 2))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(srv.URL + "/commissions/pending/42")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pending := decodeBody(t, resp)
	require.Len(t, pending["commissions"].([]any), 2)
	require.InDelta(t, 8.96, pending["total_amount"].(float64), 1e-9)

	resp = postJSON(t, srv.URL+"/commissions/close", map[string]any{
		"employee_id":    42,
		"commission_ids": []int64{1, 2},
		"payment_date":   "2026-03-20",
		"payment_method": "bank_transfer",
		"note":           "march payout",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	closed := decodeBody(t, resp)
	require.EqualValues(t, 2, closed["closed_count"])
	require.InDelta(t, 8.96, closed["total_amount"].(float64), 1e-9)
	require.Equal(t, "2026-03-20", closed["payment_date"])
	require.Len(t, closed["parciais"].([]any), 2)
	memberStatus := closed["parciais"].([]any)[0].(map[string]any)["status"].(map[string]any)
	require.Equal(t, "bank_transfer", memberStatus["payment_method"])

	// Closed snapshots are no longer pending.
	resp, err = http.Get(srv.URL + "/commissions/pending/42")
	require.NoError(t, err)
	pending = decodeBody(t, resp)
	require.Empty(t, pending["commissions"])

	// Closing history reflects the batch.
	resp, err = http.Get(srv.URL + "/commissions/closings?employee_id=42")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := decodeBody(t, resp)
	require.Len(t, history["closings"].([]any), 1)
	summary := history["summary"].(map[string]any)
	require.EqualValues(t, 1, summary["total_closings"])
	require.EqualValues(t, 2, summary["total_count"])
}

func TestHandlerCloseWithInvalidMemberConflicts(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/commissions/events", eventBody(5001, 1))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/commissions/close", map[string]any{
		"employee_id":    42,
		"commission_ids": []int64{1, 999},
		"payment_date":   "2026-03-20",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	payload := decodeBody(t, resp)
	require.Equal(t, "Invalid Batch Member", payload["title"])
}

func TestHandlerReverseFlow(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/commissions/events", eventBody(5001, 1))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody(t, resp)
	id := int64(created["id"].(float64))

	resp = postJSON(t, fmt.Sprintf("%s/commissions/%d/reverse", srv.URL, id), map[string]any{
		"reason": "returned merchandise",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reversed := decodeBody(t, resp)
	status := reversed["status"].(map[string]any)
	require.Equal(t, "REVERSED", status["status"])
	require.Equal(t, "returned merchandise", status["reversal_reason"])

	// Reversal is terminal, reported under its own problem title.
	resp = postJSON(t, fmt.Sprintf("%s/commissions/%d/reverse", srv.URL, id), map[string]any{
		"reason": "again",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	conflict := decodeBody(t, resp)
	require.Equal(t, "Invalid State", conflict["title"])

	// Missing reason fails validation.
	resp = postJSON(t, fmt.Sprintf("%s/commissions/%d/reverse", srv.URL, id), map[string]any{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestHandlerGetSnapshotNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/commissions/404")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}
