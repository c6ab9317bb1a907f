package pos

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*chi.Mux, *Service) {
	t.Helper()
	svc := newTestService(newFakeRepo(), &recordingBus{})
	h := &Handler{Svc: svc}

	r := chi.NewRouter()
	r.Route("/api/v1/pos", func(p chi.Router) {
		p.Post("/sessions", h.OpenSession)
		p.Get("/sessions/current", h.CurrentSession)
		p.Get("/sessions/history", h.SessionHistory)
		p.Post("/sessions/{id}/suspend", h.SuspendSession)
		p.Post("/sessions/{id}/resume", h.ResumeSession)
		p.Post("/sessions/{id}/end", h.EndSession)
		p.Post("/sessions/{id}/cash-movements", h.CashMovement)
		p.Post("/cart/calculate", h.CalculateCart)
		p.Post("/transactions", h.RecordTransaction)
		p.Post("/refunds", h.RecordRefund)
		p.Get("/receipts/{id}", h.GetReceipt)
	})
	return r, svc
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func openViaHTTP(t *testing.T, r http.Handler, register string) string {
	t.Helper()
	rec := doJSON(t, r, http.MethodPost, "/api/v1/pos/sessions", map[string]any{
		"locationId":   "loc-1",
		"registerId":   register,
		"employeeId":   "emp-1",
		"openingFloat": 10000,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]any)
	return data["id"].(string)
}

func TestOpenSessionEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	id := openViaHTTP(t, r, "reg-1")
	require.NotEmpty(t, id)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/pos/sessions", map[string]any{
		"locationId":   "loc-1",
		"registerId":   "reg-1",
		"employeeId":   "emp-2",
		"openingFloat": 5000,
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "SESSION_ALREADY_OPEN")
}

func TestOpenSessionValidation(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodPost, "/api/v1/pos/sessions", map[string]any{
		"registerId": "reg-1",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "VALIDATION_FAILED")
}

func TestCalculateCartEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodPost, "/api/v1/pos/cart/calculate", map[string]any{
		"items": []map[string]any{
			{
				"variantId": uuid.NewString(),
				"qty":       3,
				"unitPrice": 33,
				"discounts": []map[string]any{},
			},
		},
		"taxRateBps": 825,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]any)
	require.Equal(t, float64(99), data["subtotal"])
	require.Equal(t, float64(8), data["tax"])
	require.Equal(t, float64(107), data["total"])
}

func TestCalculateCartTaxRateDefaulting(t *testing.T) {
	r, _ := newTestRouter(t)

	// Absent taxRateBps falls back to the configured store rate.
	rec := doJSON(t, r, http.MethodPost, "/api/v1/pos/cart/calculate", map[string]any{
		"items": []map[string]any{
			{"variantId": uuid.NewString(), "qty": 1, "unitPrice": 4750},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]any)
	require.Equal(t, float64(392), data["tax"])
	require.Equal(t, float64(5142), data["total"])

	// An explicit zero is a tax-exempt cart, not a request for the default.
	rec = doJSON(t, r, http.MethodPost, "/api/v1/pos/cart/calculate", map[string]any{
		"items": []map[string]any{
			{"variantId": uuid.NewString(), "qty": 1, "unitPrice": 4750},
		},
		"taxRateBps": 0,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	data = decodeBody(t, rec)["data"].(map[string]any)
	require.Equal(t, float64(0), data["tax"])
	require.Equal(t, float64(4750), data["total"])
}

func TestCalculateCartRejectsBadDiscount(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodPost, "/api/v1/pos/cart/calculate", map[string]any{
		"items": []map[string]any{
			{
				"variantId": uuid.NewString(),
				"qty":       1,
				"unitPrice": 1000,
				"discounts": []map[string]any{{"kind": "percent", "bps": 12000}},
			},
		},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "INVALID_DISCOUNT")
}

func TestTransactionEndpointFullFlow(t *testing.T) {
	r, _ := newTestRouter(t)
	sessionID := openViaHTTP(t, r, "reg-1")

	txnID := uuid.NewString()
	payload := map[string]any{
		"transactionId": txnID,
		"sessionId":     sessionID,
		"cart": map[string]any{
			"items": []map[string]any{
				{"variantId": uuid.NewString(), "qty": 1, "unitPrice": 4750},
			},
			"taxRateBps": 825,
		},
		"tenders": []map[string]any{
			{"method": "cash", "amount": 6000},
		},
	}
	rec := doJSON(t, r, http.MethodPost, "/api/v1/pos/transactions", payload)
	require.Equal(t, http.StatusCreated, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]any)
	require.Equal(t, float64(5142), data["total"])
	require.Equal(t, float64(858), data["changeDue"])
	receiptNumber := data["receiptNumber"].(string)
	require.NotEmpty(t, receiptNumber)

	// Replay returns 200 with the stored result.
	rec = doJSON(t, r, http.MethodPost, "/api/v1/pos/transactions", payload)
	require.Equal(t, http.StatusOK, rec.Code)
	replay := decodeBody(t, rec)["data"].(map[string]any)
	require.Equal(t, true, replay["duplicate"])
	require.Equal(t, receiptNumber, replay["receiptNumber"])

	// Receipt is resolvable by transaction id and by number.
	rec = doJSON(t, r, http.MethodGet, "/api/v1/pos/receipts/"+txnID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, r, http.MethodGet, "/api/v1/pos/receipts/"+receiptNumber, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestTransactionEndpointTaxExempt(t *testing.T) {
	r, _ := newTestRouter(t)
	sessionID := openViaHTTP(t, r, "reg-1")

	rec := doJSON(t, r, http.MethodPost, "/api/v1/pos/transactions", map[string]any{
		"sessionId": sessionID,
		"cart": map[string]any{
			"items":      []map[string]any{{"variantId": uuid.NewString(), "qty": 1, "unitPrice": 4750}},
			"taxRateBps": 0,
		},
		"tenders": []map[string]any{{"method": "cash", "amount": 4750}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]any)
	require.Equal(t, float64(4750), data["total"])
	require.Equal(t, float64(0), data["changeDue"])
}

func TestTransactionEndpointRejectsBadSessionID(t *testing.T) {
	r, _ := newTestRouter(t)

	body := map[string]any{
		"sessionId": "not-a-uuid",
		"cart": map[string]any{
			"items": []map[string]any{{"variantId": uuid.NewString(), "qty": 1, "unitPrice": 1000}},
		},
		"tenders": []map[string]any{{"method": "cash", "amount": 1000}},
	}
	rec := doJSON(t, r, http.MethodPost, "/api/v1/pos/transactions", body)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "VALIDATION_FAILED")

	rec = doJSON(t, r, http.MethodPost, "/api/v1/pos/refunds", body)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "VALIDATION_FAILED")
}

func TestTransactionEndpointShortfall(t *testing.T) {
	r, _ := newTestRouter(t)
	sessionID := openViaHTTP(t, r, "reg-1")

	rec := doJSON(t, r, http.MethodPost, "/api/v1/pos/transactions", map[string]any{
		"sessionId": sessionID,
		"cart": map[string]any{
			"items":      []map[string]any{{"variantId": uuid.NewString(), "qty": 1, "unitPrice": 4750}},
			"taxRateBps": 825,
		},
		"tenders": []map[string]any{{"method": "cash", "amount": 3000}},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "TENDER_INSUFFICIENT")
	require.Contains(t, rec.Body.String(), "2142")
}

func TestTransactionEndpointOverpaymentOnNonCash(t *testing.T) {
	r, _ := newTestRouter(t)
	sessionID := openViaHTTP(t, r, "reg-1")

	rec := doJSON(t, r, http.MethodPost, "/api/v1/pos/transactions", map[string]any{
		"sessionId": sessionID,
		"cart": map[string]any{
			"items":      []map[string]any{{"variantId": uuid.NewString(), "qty": 1, "unitPrice": 1000}},
			"taxRateBps": 0,
		},
		"tenders": []map[string]any{{"method": "card", "amount": 2000, "reference": "auth-9"}},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "TENDER_OVERPAYMENT")
}

func TestEndSessionEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	sessionID := openViaHTTP(t, r, "reg-1")

	rec := doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/v1/pos/sessions/%s/end", sessionID), map[string]any{
		"actualCashCount": 10000,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]any)
	reconciliation := data["reconciliation"].(map[string]any)
	require.Equal(t, float64(0), reconciliation["variance"])
	require.Equal(t, "balanced", reconciliation["status"])

	// Closed is terminal.
	rec = doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/v1/pos/sessions/%s/end", sessionID), map[string]any{
		"actualCashCount": 10000,
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "SESSION_CLOSED")
}

func TestSuspendResumeEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)
	sessionID := openViaHTTP(t, r, "reg-1")

	rec := doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/v1/pos/sessions/%s/suspend", sessionID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, r, http.MethodGet, "/api/v1/pos/sessions/current?registerId=reg-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "suspended")

	rec = doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/v1/pos/sessions/%s/resume", sessionID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Resuming an active session conflicts.
	rec = doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/v1/pos/sessions/%s/resume", sessionID), nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "SESSION_NOT_SUSPENDED")
}

func TestCashMovementEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	sessionID := openViaHTTP(t, r, "reg-1")

	rec := doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/v1/pos/sessions/%s/cash-movements", sessionID), map[string]any{
		"direction": "out",
		"amount":    2500,
		"reason":    "bank drop",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]any)
	require.Equal(t, float64(7500), data["expectedCash"])
}

func TestSessionHistoryEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	openViaHTTP(t, r, "reg-1")
	openViaHTTP(t, r, "reg-2")

	rec := doJSON(t, r, http.MethodGet, "/api/v1/pos/sessions/history?page=1&perPage=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Len(t, body["data"].([]any), 2)
	meta := body["meta"].(map[string]any)
	require.Equal(t, float64(2), meta["total"])
}

func TestReceiptNotFound(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodGet, "/api/v1/pos/receipts/"+uuid.NewString(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "NOT_FOUND")
}
