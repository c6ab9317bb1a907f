package pos

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-pos/internal/common"
	"github.com/noah-isme/backend-pos/internal/drawer"
	"github.com/noah-isme/backend-pos/internal/pricing"
	"github.com/noah-isme/backend-pos/internal/repo"
	"github.com/noah-isme/backend-pos/internal/tender"
)

var validate = validator.New()

// Handler exposes the POS service over HTTP.
type Handler struct {
	Svc *Service
}

type discountPayload struct {
	Kind   string `json:"kind" validate:"required,oneof=percent fixed loyalty"`
	Bps    int32  `json:"bps"`
	Amount int64  `json:"amount"`
	Points int64  `json:"points"`
	Code   string `json:"code"`
}

type linePayload struct {
	VariantID string            `json:"variantId" validate:"required,uuid"`
	Qty       int               `json:"qty" validate:"required,gt=0"`
	UnitPrice int64             `json:"unitPrice" validate:"gte=0"`
	Discounts []discountPayload `json:"discounts" validate:"dive"`
}

type cartPayload struct {
	Items          []linePayload     `json:"items" validate:"required,min=1,dive"`
	CartDiscounts  []discountPayload `json:"cartDiscounts" validate:"dive"`
	TaxRateBps     *int32            `json:"taxRateBps" validate:"omitempty,gte=0,lte=10000"`
	CustomerPoints int64             `json:"customerPoints" validate:"gte=0"`
}

type tenderPayload struct {
	Method    string `json:"method" validate:"required,oneof=cash card gift_card loyalty_points store_credit"`
	Amount    int64  `json:"amount" validate:"required,gt=0"`
	Reference string `json:"reference"`
}

type openSessionPayload struct {
	LocationID   string `json:"locationId" validate:"required"`
	RegisterID   string `json:"registerId" validate:"required"`
	EmployeeID   string `json:"employeeId" validate:"required"`
	OpeningFloat int64  `json:"openingFloat" validate:"gte=0"`
}

type endSessionPayload struct {
	ActualCashCount int64 `json:"actualCashCount" validate:"gte=0"`
}

type transactionPayload struct {
	TransactionID string          `json:"transactionId" validate:"omitempty,uuid"`
	SessionID     string          `json:"sessionId" validate:"required,uuid"`
	Cart          cartPayload     `json:"cart" validate:"required"`
	Tenders       []tenderPayload `json:"tenders" validate:"required,min=1,dive"`
	CustomerEmail string          `json:"customerEmail" validate:"omitempty,email"`
	Exchange      bool            `json:"exchange"`
}

type refundPayload struct {
	TransactionID string          `json:"transactionId" validate:"omitempty,uuid"`
	SessionID     string          `json:"sessionId" validate:"required,uuid"`
	Cart          cartPayload     `json:"cart" validate:"required"`
	Tenders       []tenderPayload `json:"tenders" validate:"required,min=1,dive"`
	CustomerEmail string          `json:"customerEmail" validate:"omitempty,email"`
}

type cashMovementPayload struct {
	TransactionID string `json:"transactionId" validate:"omitempty,uuid"`
	Direction     string `json:"direction" validate:"required,oneof=in out"`
	Amount        int64  `json:"amount" validate:"required,gt=0"`
	Reason        string `json:"reason"`
}

// OpenSession handles POST /pos/sessions.
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var payload openSessionPayload
	if !decode(w, r, &payload) {
		return
	}
	view, err := h.Svc.OpenSession(r.Context(), OpenSessionInput{
		LocationID:   payload.LocationID,
		RegisterID:   payload.RegisterID,
		EmployeeID:   payload.EmployeeID,
		OpeningFloat: pricing.Money(payload.OpeningFloat),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": view})
}

// CurrentSession handles GET /pos/sessions/current?registerId=.
func (h *Handler) CurrentSession(w http.ResponseWriter, r *http.Request) {
	registerID := strings.TrimSpace(r.URL.Query().Get("registerId"))
	if registerID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "registerId is required", nil)
		return
	}
	view, err := h.Svc.CurrentSession(r.Context(), registerID)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// SessionHistory handles GET /pos/sessions/history.
func (h *Handler) SessionHistory(w http.ResponseWriter, r *http.Request) {
	page, perPage := common.ParsePagination(r, 20)
	f := repo.SessionFilter{
		LocationID: strings.TrimSpace(r.URL.Query().Get("locationId")),
		EmployeeID: strings.TrimSpace(r.URL.Query().Get("employeeId")),
		Limit:      perPage,
		Offset:     (page - 1) * perPage,
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			f.From = ts
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			f.To = ts
		}
	}
	views, total, err := h.Svc.SessionHistory(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": views,
		"meta": map[string]any{"page": page, "perPage": perPage, "total": total},
	})
}

// SuspendSession handles POST /pos/sessions/{id}/suspend.
func (h *Handler) SuspendSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	view, err := h.Svc.SuspendSession(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// ResumeSession handles POST /pos/sessions/{id}/resume.
func (h *Handler) ResumeSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	view, err := h.Svc.ResumeSession(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// EndSession handles POST /pos/sessions/{id}/end.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var payload endSessionPayload
	if !decode(w, r, &payload) {
		return
	}
	out, err := h.Svc.CloseSession(r.Context(), id, pricing.Money(payload.ActualCashCount))
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}

// CalculateCart handles POST /pos/cart/calculate.
func (h *Handler) CalculateCart(w http.ResponseWriter, r *http.Request) {
	var payload cartPayload
	if !decode(w, r, &payload) {
		return
	}
	cart, err := toCart(payload, h.Svc.Cfg.TaxRateBps)
	if err != nil {
		writeError(w, err)
		return
	}
	priced, err := h.Svc.CalculateCart(r.Context(), cart, payload.CustomerPoints)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": priced})
}

// RecordTransaction handles POST /pos/transactions.
func (h *Handler) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	var payload transactionPayload
	if !decode(w, r, &payload) {
		return
	}
	cart, err := toCart(payload.Cart, h.Svc.Cfg.TaxRateBps)
	if err != nil {
		writeError(w, err)
		return
	}
	tenders, err := toTenders(payload.Tenders)
	if err != nil {
		writeError(w, err)
		return
	}
	sessionID, err := uuid.Parse(payload.SessionID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid session id", nil)
		return
	}
	in := SaleInput{
		TransactionID:  parseOptionalID(payload.TransactionID),
		SessionID:      sessionID,
		Cart:           cart,
		Tenders:        tenders,
		CustomerPoints: payload.Cart.CustomerPoints,
		CustomerEmail:  payload.CustomerEmail,
		Exchange:       payload.Exchange,
	}
	out, err := h.Svc.RecordSale(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusCreated
	if out.Duplicate {
		status = http.StatusOK
	}
	common.JSON(w, status, map[string]any{"data": out})
}

// RecordRefund handles POST /pos/refunds.
func (h *Handler) RecordRefund(w http.ResponseWriter, r *http.Request) {
	var payload refundPayload
	if !decode(w, r, &payload) {
		return
	}
	cart, err := toCart(payload.Cart, h.Svc.Cfg.TaxRateBps)
	if err != nil {
		writeError(w, err)
		return
	}
	tenders, err := toTenders(payload.Tenders)
	if err != nil {
		writeError(w, err)
		return
	}
	sessionID, err := uuid.Parse(payload.SessionID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid session id", nil)
		return
	}
	out, err := h.Svc.RecordRefund(r.Context(), RefundInput{
		TransactionID: parseOptionalID(payload.TransactionID),
		SessionID:     sessionID,
		Cart:          cart,
		Tenders:       tenders,
		CustomerEmail: payload.CustomerEmail,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusCreated
	if out.Duplicate {
		status = http.StatusOK
	}
	common.JSON(w, status, map[string]any{"data": out})
}

// CashMovement handles POST /pos/sessions/{id}/cash-movements.
func (h *Handler) CashMovement(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var payload cashMovementPayload
	if !decode(w, r, &payload) {
		return
	}
	view, err := h.Svc.RecordCashMovement(r.Context(), CashMovementInput{
		TransactionID: parseOptionalID(payload.TransactionID),
		SessionID:     id,
		Direction:     payload.Direction,
		Amount:        pricing.Money(payload.Amount),
		Reason:        payload.Reason,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": view})
}

// GetReceipt handles GET /pos/receipts/{id}. The id is a transaction uuid or
// a printed receipt number.
func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(chi.URLParam(r, "id"))
	if raw == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "receipt id is required", nil)
		return
	}
	if id, err := uuid.Parse(raw); err == nil {
		rcpt, err := h.Svc.GetReceipt(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		common.JSON(w, http.StatusOK, map[string]any{"data": rcpt})
		return
	}
	rcpt, err := h.Svc.GetReceiptByNumber(r.Context(), raw)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rcpt})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Namespace())
			}
			common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", "payload validation failed", map[string]any{"fields": fields})
			return false
		}
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", "payload validation failed", nil)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	id, err := uuid.Parse(raw)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid session id", nil)
		return uuid.Nil, false
	}
	return id, true
}

func parseOptionalID(raw string) uuid.UUID {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil
	}
	return id
}

// toCart maps the wire cart onto the pricing input. A missing taxRateBps
// means "use the store default"; an explicit 0 is a tax-exempt cart.
func toCart(payload cartPayload, defaultTaxBps int32) (pricing.Cart, error) {
	taxBps := defaultTaxBps
	if payload.TaxRateBps != nil {
		taxBps = *payload.TaxRateBps
	}
	cart := pricing.Cart{TaxRateBps: int(taxBps)}
	for _, item := range payload.Items {
		variantID, err := uuid.Parse(item.VariantID)
		if err != nil {
			return pricing.Cart{}, common.NewAppError("BAD_REQUEST", "invalid variant id", http.StatusBadRequest, err)
		}
		discounts, err := toDiscounts(item.Discounts)
		if err != nil {
			return pricing.Cart{}, err
		}
		cart.Items = append(cart.Items, pricing.LineItem{
			VariantID: variantID,
			Qty:       item.Qty,
			UnitPrice: pricing.Money(item.UnitPrice),
			Discounts: discounts,
		})
	}
	cartDiscounts, err := toDiscounts(payload.CartDiscounts)
	if err != nil {
		return pricing.Cart{}, err
	}
	cart.CartDiscounts = cartDiscounts
	return cart, nil
}

func toDiscounts(payloads []discountPayload) ([]pricing.Discount, error) {
	if len(payloads) == 0 {
		return nil, nil
	}
	out := make([]pricing.Discount, 0, len(payloads))
	for _, p := range payloads {
		var (
			d   pricing.Discount
			err error
		)
		switch p.Kind {
		case "percent":
			d, err = pricing.NewPercentDiscount(p.Bps)
		case "fixed":
			d, err = pricing.NewFixedDiscount(pricing.Money(p.Amount))
		case "loyalty":
			d, err = pricing.NewLoyaltyRedemption(p.Points, pricing.Money(p.Amount))
		default:
			err = pricing.ErrInvalidDiscount
		}
		if err != nil {
			return nil, err
		}
		d.Code = p.Code
		out = append(out, d)
	}
	return out, nil
}

func toTenders(payloads []tenderPayload) ([]tender.Tender, error) {
	out := make([]tender.Tender, 0, len(payloads))
	for _, p := range payloads {
		m := tender.Method(p.Method)
		if !m.Known() {
			return nil, tender.ErrInvalidTender
		}
		out = append(out, tender.Tender{Method: m, Amount: pricing.Money(p.Amount), Reference: p.Reference})
	}
	return out, nil
}

func writeError(w http.ResponseWriter, err error) {
	if err == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unknown error", nil)
		return
	}
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusBadRequest
		}
		common.JSONError(w, status, appErr.Code, appErr.Message, appErr.Details)
		return
	}
	var short *tender.ShortfallError
	if errors.As(err, &short) {
		common.JSONError(w, http.StatusUnprocessableEntity, "TENDER_INSUFFICIENT", short.Error(), map[string]any{"shortfall": short.Short})
		return
	}
	var over *tender.OverpaymentError
	if errors.As(err, &over) {
		common.JSONError(w, http.StatusUnprocessableEntity, "TENDER_OVERPAYMENT", over.Error(), map[string]any{"method": over.Method, "excess": over.Excess})
		return
	}
	switch {
	case errors.Is(err, pricing.ErrInsufficientPoints):
		common.JSONError(w, http.StatusUnprocessableEntity, "INSUFFICIENT_LOYALTY_POINTS", "customer does not hold enough loyalty points", nil)
	case errors.Is(err, pricing.ErrInvalidDiscount):
		common.JSONError(w, http.StatusUnprocessableEntity, "INVALID_DISCOUNT", "discount is not applicable to this cart", nil)
	case errors.Is(err, pricing.ErrInvalidLine):
		common.JSONError(w, http.StatusUnprocessableEntity, "INVALID_CART", "cart contains an invalid line", nil)
	case errors.Is(err, tender.ErrInvalidTender):
		common.JSONError(w, http.StatusUnprocessableEntity, "INVALID_TENDER", "tender list is invalid", nil)
	case errors.Is(err, drawer.ErrClosed):
		common.JSONError(w, http.StatusConflict, "SESSION_CLOSED", "session is closed", nil)
	case errors.Is(err, drawer.ErrSuspended):
		common.JSONError(w, http.StatusConflict, "SESSION_SUSPENDED", "session is suspended", nil)
	case errors.Is(err, drawer.ErrNotSuspended):
		common.JSONError(w, http.StatusConflict, "SESSION_NOT_SUSPENDED", "session is not suspended", nil)
	case errors.Is(err, repo.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unexpected error", nil)
	}
}
