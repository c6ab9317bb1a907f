package pos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-pos/internal/cache"
	"github.com/noah-isme/backend-pos/internal/common"
	"github.com/noah-isme/backend-pos/internal/drawer"
	"github.com/noah-isme/backend-pos/internal/events"
	"github.com/noah-isme/backend-pos/internal/obs"
	"github.com/noah-isme/backend-pos/internal/pricing"
	"github.com/noah-isme/backend-pos/internal/receipt"
	"github.com/noah-isme/backend-pos/internal/repo"
	"github.com/noah-isme/backend-pos/internal/tender"
)

// ErrRegisterBusy is returned when a register already has an open session.
var ErrRegisterBusy = errors.New("pos: register already has an open session")

// Repository is the persistence surface the service depends on.
type Repository interface {
	CreateSession(ctx context.Context, sess repo.Session) error
	GetSession(ctx context.Context, id uuid.UUID) (repo.Session, error)
	GetActiveSessionByRegister(ctx context.Context, registerID string) (repo.Session, error)
	UpdateSessionStatus(ctx context.Context, id uuid.UUID, status string) error
	CloseSession(ctx context.Context, id uuid.UUID, expected, actual, variance int64, closedAt time.Time) error
	ReopenSession(ctx context.Context, id uuid.UUID) error
	ListSessions(ctx context.Context, f repo.SessionFilter) ([]repo.Session, int64, error)
	RecordTransaction(ctx context.Context, tx repo.Transaction, expectedCash int64) (bool, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (repo.Transaction, error)
	GetTransactionByReceipt(ctx context.Context, receiptNumber string) (repo.Transaction, error)
	ListTransactionsBySession(ctx context.Context, sessionID uuid.UUID) ([]repo.Transaction, error)
}

// EventBus publishes domain events. Satisfied by *events.Bus.
type EventBus interface {
	Emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) (events.Event, error)
}

// Locker serializes register-scoped critical sections. Satisfied by lock.Locker.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Config carries the business knobs for the POS core.
type Config struct {
	TaxRateBps    int32
	CurrencyCode  string
	PointValue    pricing.Money
	ReceiptPrefix string
	LockTTL       time.Duration
	// VarianceAlert is the absolute drawer variance, in minor units, above
	// which a close emits a variance alert event. Zero disables alerting.
	VarianceAlert pricing.Money
}

// Service coordinates register sessions: pricing previews, transaction
// finalization, drawer ledgers and close-out reconciliation. Drawer ledgers
// live in memory keyed by session id and are rehydrated from the database
// after a restart.
type Service struct {
	Repo  Repository
	Bus   EventBus
	Lock  Locker
	Log   zerolog.Logger
	Cfg   Config
	Cache *cache.Cache

	mu      sync.Mutex
	ledgers map[uuid.UUID]*drawer.Session
}

// NewService builds a Service with an empty ledger cache.
func NewService(r Repository, bus EventBus, lk Locker, log zerolog.Logger, cfg Config) *Service {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Second
	}
	if cfg.CurrencyCode == "" {
		cfg.CurrencyCode = "USD"
	}
	return &Service{
		Repo:    r,
		Bus:     bus,
		Lock:    lk,
		Log:     log,
		Cfg:     cfg,
		ledgers: map[uuid.UUID]*drawer.Session{},
	}
}

// SessionView is the API projection of a register session.
type SessionView struct {
	ID           uuid.UUID     `json:"id"`
	LocationID   string        `json:"locationId"`
	RegisterID   string        `json:"registerId"`
	EmployeeID   string        `json:"employeeId"`
	OpeningFloat pricing.Money `json:"openingFloat"`
	ExpectedCash pricing.Money `json:"expectedCash"`
	Status       string        `json:"status"`
	OpenedAt     time.Time     `json:"openedAt"`
	ClosedAt     *time.Time    `json:"closedAt,omitempty"`
}

// OpenSessionInput opens a drawer session on a register.
type OpenSessionInput struct {
	LocationID   string
	RegisterID   string
	EmployeeID   string
	OpeningFloat pricing.Money
}

// SaleInput finalizes a sale or exchange against an open session.
type SaleInput struct {
	TransactionID  uuid.UUID
	SessionID      uuid.UUID
	Cart           pricing.Cart
	Tenders        []tender.Tender
	CustomerPoints int64
	CustomerEmail  string
	Exchange       bool
}

// RefundInput records a return. Tenders describe how the refund is paid out
// and must sum exactly to the priced total of the returned items.
type RefundInput struct {
	TransactionID uuid.UUID
	SessionID     uuid.UUID
	Cart          pricing.Cart
	Tenders       []tender.Tender
	CustomerEmail string
}

// CashMovementInput adds or removes cash outside of a sale.
type CashMovementInput struct {
	TransactionID uuid.UUID
	SessionID     uuid.UUID
	Direction     string // "in" or "out"
	Amount        pricing.Money
	Reason        string
}

// SaleResult is returned from RecordSale and RecordRefund.
type SaleResult struct {
	TransactionID uuid.UUID       `json:"transactionId"`
	ReceiptNumber string          `json:"receiptNumber"`
	Total         pricing.Money   `json:"total"`
	ChangeDue     pricing.Money   `json:"changeDue"`
	Receipt       receipt.Receipt `json:"receipt"`
	Duplicate     bool            `json:"duplicate,omitempty"`
}

// CloseResult is the close-out response: reconciliation plus session summary.
type CloseResult struct {
	Session        SessionView           `json:"session"`
	Reconciliation drawer.Reconciliation `json:"reconciliation"`
	Summary        drawer.Summary        `json:"summary"`
}

func registerKey(registerID string) string {
	return "pos:register:" + registerID
}

func (s *Service) withRegisterLock(ctx context.Context, registerID string, fn func(context.Context) error) error {
	if s.Lock == nil {
		return fn(ctx)
	}
	return s.Lock.WithLock(ctx, registerKey(registerID), s.Cfg.LockTTL, fn)
}

// OpenSession opens a new session for the register. At most one session per
// register may be open (active or suspended) at a time.
func (s *Service) OpenSession(ctx context.Context, in OpenSessionInput) (SessionView, error) {
	if in.OpeningFloat < 0 {
		return SessionView{}, common.NewAppError("INVALID_OPENING_FLOAT", "opening float must not be negative", http.StatusUnprocessableEntity, nil)
	}
	var view SessionView
	err := s.withRegisterLock(ctx, in.RegisterID, func(ctx context.Context) error {
		if _, err := s.Repo.GetActiveSessionByRegister(ctx, in.RegisterID); err == nil {
			return common.NewAppError("SESSION_ALREADY_OPEN", "register already has an open session", http.StatusConflict, ErrRegisterBusy)
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		now := time.Now().UTC()
		id := uuid.New()
		ledger := drawer.Open(id, in.LocationID, in.RegisterID, in.EmployeeID, in.OpeningFloat, now)
		if err := s.Repo.CreateSession(ctx, repo.Session{
			ID:           id,
			LocationID:   in.LocationID,
			RegisterID:   in.RegisterID,
			EmployeeID:   in.EmployeeID,
			OpeningFloat: int64(in.OpeningFloat),
			ExpectedCash: int64(in.OpeningFloat),
			Status:       string(drawer.StatusActive),
			OpenedAt:     now,
		}); err != nil {
			return err
		}
		s.mu.Lock()
		s.ledgers[id] = ledger
		s.mu.Unlock()
		if obs.SessionsOpen != nil {
			obs.SessionsOpen.Inc()
		}
		view = s.viewOf(ledger)
		s.emit(ctx, events.TopicSessionOpened, id, map[string]any{
			"sessionId":    id.String(),
			"registerId":   in.RegisterID,
			"locationId":   in.LocationID,
			"employeeId":   in.EmployeeID,
			"openingFloat": in.OpeningFloat,
		})
		return nil
	})
	if err != nil {
		return SessionView{}, err
	}
	return view, nil
}

// CurrentSession resolves the open session on a register.
func (s *Service) CurrentSession(ctx context.Context, registerID string) (SessionView, error) {
	row, err := s.Repo.GetActiveSessionByRegister(ctx, registerID)
	if err != nil {
		return SessionView{}, err
	}
	ledger, err := s.ledger(ctx, row.ID)
	if err != nil {
		return SessionView{}, err
	}
	return s.viewOf(ledger), nil
}

// SuspendSession pauses an active session.
func (s *Service) SuspendSession(ctx context.Context, id uuid.UUID) (SessionView, error) {
	ledger, err := s.ledger(ctx, id)
	if err != nil {
		return SessionView{}, err
	}
	err = s.withRegisterLock(ctx, ledger.RegisterID, func(ctx context.Context) error {
		if err := ledger.Suspend(); err != nil {
			return err
		}
		return s.Repo.UpdateSessionStatus(ctx, id, string(drawer.StatusSuspended))
	})
	if err != nil {
		return SessionView{}, err
	}
	s.emit(ctx, events.TopicSessionSuspended, id, map[string]any{"sessionId": id.String()})
	return s.viewOf(ledger), nil
}

// ResumeSession reactivates a suspended session.
func (s *Service) ResumeSession(ctx context.Context, id uuid.UUID) (SessionView, error) {
	ledger, err := s.ledger(ctx, id)
	if err != nil {
		return SessionView{}, err
	}
	err = s.withRegisterLock(ctx, ledger.RegisterID, func(ctx context.Context) error {
		if err := ledger.Resume(); err != nil {
			return err
		}
		return s.Repo.UpdateSessionStatus(ctx, id, string(drawer.StatusActive))
	})
	if err != nil {
		return SessionView{}, err
	}
	s.emit(ctx, events.TopicSessionResumed, id, map[string]any{"sessionId": id.String()})
	return s.viewOf(ledger), nil
}

// CloseSession reconciles the physical count against the ledger and closes
// the session. The database is the source of truth: if persisting the close
// fails, the in-memory transition is rolled back and the session stays open.
func (s *Service) CloseSession(ctx context.Context, id uuid.UUID, actualCash pricing.Money) (CloseResult, error) {
	ledger, err := s.ledger(ctx, id)
	if err != nil {
		return CloseResult{}, err
	}
	var out CloseResult
	err = s.withRegisterLock(ctx, ledger.RegisterID, func(ctx context.Context) error {
		now := time.Now().UTC()
		rec, err := ledger.Close(actualCash, now)
		if err != nil {
			return err
		}
		if err := s.Repo.CloseSession(ctx, id, int64(rec.ExpectedCash), int64(rec.ActualCash), int64(rec.Variance), now); err != nil {
			if rollbackErr := ledger.ReopenFromClose(); rollbackErr != nil {
				s.Log.Error().Err(rollbackErr).Str("session_id", id.String()).Msg("close rollback failed")
			}
			return fmt.Errorf("persist close: %w", err)
		}
		if obs.SessionsOpen != nil {
			obs.SessionsOpen.Dec()
		}
		if obs.DrawerVarianceTotal != nil {
			obs.DrawerVarianceTotal.WithLabelValues(string(rec.Status)).Inc()
		}
		out = CloseResult{
			Session:        s.viewOf(ledger),
			Reconciliation: rec,
			Summary:        ledger.Summary(),
		}
		s.emit(ctx, events.TopicSessionClosed, id, map[string]any{
			"sessionId":    id.String(),
			"registerId":   ledger.RegisterID,
			"expectedCash": rec.ExpectedCash,
			"actualCash":   rec.ActualCash,
			"variance":     rec.Variance,
			"status":       rec.Status,
		})
		if s.Cfg.VarianceAlert > 0 && rec.Exceeds(s.Cfg.VarianceAlert) {
			s.emit(ctx, events.TopicDrawerVarianceAlert, id, map[string]any{
				"sessionId":  id.String(),
				"registerId": ledger.RegisterID,
				"variance":   rec.Variance,
				"status":     rec.Status,
			})
		}
		return nil
	})
	if err != nil {
		return CloseResult{}, err
	}
	return out, nil
}

// CalculateCart prices a cart without touching any state. The cart's tax rate
// is taken as given, zero included; the transport layer resolves an absent
// rate to the configured default before the cart gets here.
func (s *Service) CalculateCart(ctx context.Context, cart pricing.Cart, customerPoints int64) (pricing.PricedCart, error) {
	priced, err := pricing.Price(cart, pricing.Options{
		PointValue:     s.Cfg.PointValue,
		CustomerPoints: customerPoints,
	})
	if err != nil {
		s.countPricingFailure(err)
		return pricing.PricedCart{}, err
	}
	return priced, nil
}

// RecordSale finalizes a sale: price, reconcile tenders, persist, then apply
// to the drawer ledger. Persistence is keyed on the transaction id; replaying
// the same id returns the original receipt without moving the drawer again.
func (s *Service) RecordSale(ctx context.Context, in SaleInput) (SaleResult, error) {
	ledger, err := s.ledger(ctx, in.SessionID)
	if err != nil {
		return SaleResult{}, err
	}
	var result SaleResult
	err = s.withRegisterLock(ctx, ledger.RegisterID, func(ctx context.Context) error {
		switch ledger.Snapshot().Status {
		case drawer.StatusClosed:
			return drawer.ErrClosed
		case drawer.StatusSuspended:
			return drawer.ErrSuspended
		}

		priced, err := s.CalculateCart(ctx, in.Cart, in.CustomerPoints)
		if err != nil {
			return err
		}
		rec, err := tender.Reconcile(priced.Total, in.Tenders)
		if err != nil {
			s.countTenderFailure(err)
			return err
		}

		txnType := drawer.TypeSale
		topic := events.TopicTransactionRecorded
		if in.Exchange {
			txnType = drawer.TypeExchange
		}
		now := time.Now().UTC()
		txnID := in.TransactionID
		if txnID == uuid.Nil {
			txnID = uuid.New()
		}
		number := receipt.Number(s.Cfg.ReceiptPrefix, txnID, now)

		dtx := drawer.Transaction{
			ID:           txnID,
			Type:         txnType,
			Total:        priced.Total,
			CashTendered: rec.CashTendered,
			ChangeGiven:  rec.ChangeDue,
			Tenders:      rec.Tenders,
			At:           now,
		}
		result, err = s.persistAndApply(ctx, ledger, dtx, priced, rec, number, topic, map[string]any{
			"receiptNumber": number,
			"customerEmail": in.CustomerEmail,
			"total":         priced.Total,
			"currency":      s.Cfg.CurrencyCode,
		})
		if err != nil {
			if obs.TransactionsTotal != nil {
				obs.TransactionsTotal.WithLabelValues(string(txnType), "error").Inc()
			}
			return err
		}
		if obs.TransactionsTotal != nil {
			obs.TransactionsTotal.WithLabelValues(string(txnType), "ok").Inc()
		}
		return nil
	})
	if err != nil {
		return SaleResult{}, err
	}
	return result, nil
}

// RecordRefund records a return against the session. Refund tenders must sum
// exactly to the priced total of the returned items; only the cash portion
// leaves the drawer.
func (s *Service) RecordRefund(ctx context.Context, in RefundInput) (SaleResult, error) {
	ledger, err := s.ledger(ctx, in.SessionID)
	if err != nil {
		return SaleResult{}, err
	}
	var result SaleResult
	err = s.withRegisterLock(ctx, ledger.RegisterID, func(ctx context.Context) error {
		switch ledger.Snapshot().Status {
		case drawer.StatusClosed:
			return drawer.ErrClosed
		case drawer.StatusSuspended:
			return drawer.ErrSuspended
		}

		priced, err := s.CalculateCart(ctx, in.Cart, 0)
		if err != nil {
			return err
		}
		var sum, cash pricing.Money
		for _, t := range in.Tenders {
			if !t.Method.Known() || t.Amount <= 0 {
				s.countTenderFailure(tender.ErrInvalidTender)
				return tender.ErrInvalidTender
			}
			sum += t.Amount
			if t.Method.Cash() {
				cash += t.Amount
			}
		}
		if sum != priced.Total {
			s.countTenderFailure(tender.ErrInvalidTender)
			return common.NewAppError("REFUND_TENDER_MISMATCH", "refund tenders must sum to the refund total", http.StatusUnprocessableEntity, tender.ErrInvalidTender)
		}

		now := time.Now().UTC()
		txnID := in.TransactionID
		if txnID == uuid.Nil {
			txnID = uuid.New()
		}
		number := receipt.Number(s.Cfg.ReceiptPrefix, txnID, now)
		dtx := drawer.Transaction{
			ID:           txnID,
			Type:         drawer.TypeReturn,
			Total:        priced.Total,
			CashRefunded: cash,
			Tenders:      in.Tenders,
			At:           now,
		}
		rec := tender.Reconciliation{Total: priced.Total, CashTendered: 0, NonCash: sum - cash, Tenders: in.Tenders}
		result, err = s.persistAndApply(ctx, ledger, dtx, priced, rec, number, events.TopicRefundRecorded, map[string]any{
			"receiptNumber": number,
			"customerEmail": in.CustomerEmail,
			"total":         priced.Total,
			"currency":      s.Cfg.CurrencyCode,
		})
		if err != nil {
			if obs.TransactionsTotal != nil {
				obs.TransactionsTotal.WithLabelValues(string(drawer.TypeReturn), "error").Inc()
			}
			return err
		}
		if obs.TransactionsTotal != nil {
			obs.TransactionsTotal.WithLabelValues(string(drawer.TypeReturn), "ok").Inc()
		}
		return nil
	})
	if err != nil {
		return SaleResult{}, err
	}
	return result, nil
}

// RecordCashMovement pays cash in or out of the drawer outside a sale.
func (s *Service) RecordCashMovement(ctx context.Context, in CashMovementInput) (SessionView, error) {
	if in.Amount <= 0 {
		return SessionView{}, common.NewAppError("INVALID_AMOUNT", "amount must be positive", http.StatusUnprocessableEntity, nil)
	}
	var txnType drawer.TransactionType
	switch in.Direction {
	case "in":
		txnType = drawer.TypeCashIn
	case "out":
		txnType = drawer.TypeCashOut
	default:
		return SessionView{}, common.NewAppError("INVALID_DIRECTION", "direction must be \"in\" or \"out\"", http.StatusUnprocessableEntity, nil)
	}
	ledger, err := s.ledger(ctx, in.SessionID)
	if err != nil {
		return SessionView{}, err
	}
	err = s.withRegisterLock(ctx, ledger.RegisterID, func(ctx context.Context) error {
		switch ledger.Snapshot().Status {
		case drawer.StatusClosed:
			return drawer.ErrClosed
		case drawer.StatusSuspended:
			return drawer.ErrSuspended
		}
		now := time.Now().UTC()
		txnID := in.TransactionID
		if txnID == uuid.Nil {
			txnID = uuid.New()
		}
		dtx := drawer.Transaction{
			ID:    txnID,
			Type:  txnType,
			Total: in.Amount,
			At:    now,
		}
		expectedAfter := ledger.Snapshot().ExpectedCash + dtx.CashEffect()
		inserted, err := s.Repo.RecordTransaction(ctx, repo.Transaction{
			ID:        txnID,
			SessionID: in.SessionID,
			Type:      string(txnType),
			Total:     int64(in.Amount),
			CreatedAt: now,
		}, int64(expectedAfter))
		if err != nil {
			return err
		}
		if inserted {
			if err := ledger.Record(dtx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return SessionView{}, err
	}
	return s.viewOf(ledger), nil
}

// GetReceipt rebuilds the customer receipt for a recorded transaction.
func (s *Service) GetReceipt(ctx context.Context, id uuid.UUID) (receipt.Receipt, error) {
	var cached receipt.Receipt
	if ok, err := s.Cache.GetJSON(ctx, cache.KeyReceipt(id.String()), &cached); err == nil && ok {
		return cached, nil
	}
	row, err := s.Repo.GetTransaction(ctx, id)
	if err != nil {
		return receipt.Receipt{}, err
	}
	rcpt, err := s.receiptFromRow(ctx, row)
	if err != nil {
		return receipt.Receipt{}, err
	}
	// Receipts are immutable once issued so a stale entry is impossible.
	if err := s.Cache.SetJSON(ctx, cache.KeyReceipt(id.String()), rcpt); err != nil {
		s.Log.Warn().Err(err).Msg("cache receipt")
	}
	return rcpt, nil
}

// GetReceiptByNumber resolves a receipt by its printed number.
func (s *Service) GetReceiptByNumber(ctx context.Context, number string) (receipt.Receipt, error) {
	var cached receipt.Receipt
	if ok, err := s.Cache.GetJSON(ctx, cache.KeyReceiptNumber(number), &cached); err == nil && ok {
		return cached, nil
	}
	row, err := s.Repo.GetTransactionByReceipt(ctx, number)
	if err != nil {
		return receipt.Receipt{}, err
	}
	rcpt, err := s.receiptFromRow(ctx, row)
	if err != nil {
		return receipt.Receipt{}, err
	}
	if err := s.Cache.SetJSON(ctx, cache.KeyReceiptNumber(number), rcpt); err != nil {
		s.Log.Warn().Err(err).Msg("cache receipt")
	}
	return rcpt, nil
}

// SessionHistory lists past and present sessions matching the filter.
func (s *Service) SessionHistory(ctx context.Context, f repo.SessionFilter) ([]SessionView, int64, error) {
	rows, total, err := s.Repo.ListSessions(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	views := make([]SessionView, 0, len(rows))
	for _, row := range rows {
		views = append(views, viewOfRow(row))
	}
	return views, total, nil
}

func (s *Service) persistAndApply(ctx context.Context, ledger *drawer.Session, dtx drawer.Transaction, priced pricing.PricedCart, rec tender.Reconciliation, number, topic string, payload map[string]any) (SaleResult, error) {
	cartJSON, err := json.Marshal(priced)
	if err != nil {
		return SaleResult{}, err
	}
	tendersJSON, err := json.Marshal(rec.Tenders)
	if err != nil {
		return SaleResult{}, err
	}
	expectedAfter := ledger.Snapshot().ExpectedCash + dtx.CashEffect()
	inserted, err := s.Repo.RecordTransaction(ctx, repo.Transaction{
		ID:            dtx.ID,
		SessionID:     ledger.ID,
		Type:          string(dtx.Type),
		Total:         int64(dtx.Total),
		CashTendered:  int64(dtx.CashTendered),
		ChangeGiven:   int64(dtx.ChangeGiven),
		CashRefunded:  int64(dtx.CashRefunded),
		Cart:          cartJSON,
		Tenders:       tendersJSON,
		ReceiptNumber: number,
		CreatedAt:     dtx.At,
	}, int64(expectedAfter))
	if err != nil {
		return SaleResult{}, err
	}
	if !inserted {
		// Replay of an already finalized transaction. Serve the stored result.
		row, err := s.Repo.GetTransaction(ctx, dtx.ID)
		if err != nil {
			return SaleResult{}, err
		}
		rcpt, err := s.receiptFromRow(ctx, row)
		if err != nil {
			return SaleResult{}, err
		}
		return SaleResult{
			TransactionID: row.ID,
			ReceiptNumber: row.ReceiptNumber,
			Total:         pricing.Money(row.Total),
			ChangeDue:     pricing.Money(row.ChangeGiven),
			Receipt:       rcpt,
			Duplicate:     true,
		}, nil
	}
	// Ledger only moves after the database acknowledged the transaction.
	if err := ledger.Record(dtx); err != nil {
		return SaleResult{}, err
	}
	s.emit(ctx, topic, dtx.ID, payload)
	rcpt := receipt.Build(number, dtx.ID, ledger.ID, ledger.RegisterID, string(dtx.Type), s.Cfg.CurrencyCode, priced, rec, dtx.At)
	return SaleResult{
		TransactionID: dtx.ID,
		ReceiptNumber: number,
		Total:         priced.Total,
		ChangeDue:     rec.ChangeDue,
		Receipt:       rcpt,
	}, nil
}

func (s *Service) receiptFromRow(ctx context.Context, row repo.Transaction) (receipt.Receipt, error) {
	var priced pricing.PricedCart
	if len(row.Cart) > 0 {
		if err := json.Unmarshal(row.Cart, &priced); err != nil {
			return receipt.Receipt{}, fmt.Errorf("decode cart snapshot: %w", err)
		}
	}
	var tenders []tender.Tender
	if len(row.Tenders) > 0 {
		if err := json.Unmarshal(row.Tenders, &tenders); err != nil {
			return receipt.Receipt{}, fmt.Errorf("decode tenders: %w", err)
		}
	}
	registerID := ""
	if sess, err := s.Repo.GetSession(ctx, row.SessionID); err == nil {
		registerID = sess.RegisterID
	}
	rec := tender.Reconciliation{
		Total:        pricing.Money(row.Total),
		CashTendered: pricing.Money(row.CashTendered),
		ChangeDue:    pricing.Money(row.ChangeGiven),
		Tenders:      tenders,
	}
	return receipt.Build(row.ReceiptNumber, row.ID, row.SessionID, registerID, row.Type, s.Cfg.CurrencyCode, priced, rec, row.CreatedAt), nil
}

// ledger returns the in-memory drawer ledger for the session, rehydrating it
// from persisted rows when the process does not hold it yet.
func (s *Service) ledger(ctx context.Context, id uuid.UUID) (*drawer.Session, error) {
	s.mu.Lock()
	if ledger, ok := s.ledgers[id]; ok {
		s.mu.Unlock()
		return ledger, nil
	}
	s.mu.Unlock()

	row, err := s.Repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	ledger := drawer.Open(row.ID, row.LocationID, row.RegisterID, row.EmployeeID, pricing.Money(row.OpeningFloat), row.OpenedAt)
	txns, err := s.Repo.ListTransactionsBySession(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, txn := range txns {
		dtx, err := drawerTxFromRow(txn)
		if err != nil {
			return nil, err
		}
		if err := ledger.Record(dtx); err != nil {
			return nil, err
		}
	}
	switch drawer.Status(row.Status) {
	case drawer.StatusSuspended:
		_ = ledger.Suspend()
	case drawer.StatusClosed:
		actual := pricing.Money(0)
		if row.ActualCash != nil {
			actual = pricing.Money(*row.ActualCash)
		}
		closedAt := time.Time{}
		if row.ClosedAt != nil {
			closedAt = *row.ClosedAt
		}
		_, _ = ledger.Close(actual, closedAt)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.ledgers[id]; ok {
		return existing, nil
	}
	s.ledgers[id] = ledger
	return ledger, nil
}

func drawerTxFromRow(row repo.Transaction) (drawer.Transaction, error) {
	var tenders []tender.Tender
	if len(row.Tenders) > 0 {
		if err := json.Unmarshal(row.Tenders, &tenders); err != nil {
			return drawer.Transaction{}, fmt.Errorf("decode tenders for %s: %w", row.ID, err)
		}
	}
	return drawer.Transaction{
		ID:           row.ID,
		Type:         drawer.TransactionType(row.Type),
		Total:        pricing.Money(row.Total),
		CashTendered: pricing.Money(row.CashTendered),
		ChangeGiven:  pricing.Money(row.ChangeGiven),
		CashRefunded: pricing.Money(row.CashRefunded),
		Tenders:      tenders,
		At:           row.CreatedAt,
	}, nil
}

func (s *Service) viewOf(ledger *drawer.Session) SessionView {
	snap := ledger.Snapshot()
	view := SessionView{
		ID:           ledger.ID,
		LocationID:   ledger.LocationID,
		RegisterID:   ledger.RegisterID,
		EmployeeID:   ledger.EmployeeID,
		OpeningFloat: ledger.OpeningFloat,
		ExpectedCash: snap.ExpectedCash,
		Status:       string(snap.Status),
		OpenedAt:     ledger.OpenedAt,
	}
	if !snap.ClosedAt.IsZero() {
		closed := snap.ClosedAt
		view.ClosedAt = &closed
	}
	return view
}

func viewOfRow(row repo.Session) SessionView {
	return SessionView{
		ID:           row.ID,
		LocationID:   row.LocationID,
		RegisterID:   row.RegisterID,
		EmployeeID:   row.EmployeeID,
		OpeningFloat: pricing.Money(row.OpeningFloat),
		ExpectedCash: pricing.Money(row.ExpectedCash),
		Status:       row.Status,
		OpenedAt:     row.OpenedAt,
		ClosedAt:     row.ClosedAt,
	}
}

func (s *Service) emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload map[string]any) {
	if s.Bus == nil {
		return
	}
	if _, err := s.Bus.Emit(ctx, topic, aggregateID, payload); err != nil {
		s.Log.Warn().Err(err).Str("topic", topic).Msg("emit event failed")
	}
}

func (s *Service) countPricingFailure(err error) {
	if obs.PricingFailuresTotal == nil {
		return
	}
	switch {
	case errors.Is(err, pricing.ErrInsufficientPoints):
		obs.PricingFailuresTotal.WithLabelValues("insufficient_points").Inc()
	case errors.Is(err, pricing.ErrInvalidDiscount):
		obs.PricingFailuresTotal.WithLabelValues("invalid_discount").Inc()
	case errors.Is(err, pricing.ErrInvalidLine):
		obs.PricingFailuresTotal.WithLabelValues("invalid_line").Inc()
	default:
		obs.PricingFailuresTotal.WithLabelValues("other").Inc()
	}
}

func (s *Service) countTenderFailure(err error) {
	if obs.TenderFailuresTotal == nil {
		return
	}
	switch {
	case errors.Is(err, tender.ErrInsufficient):
		obs.TenderFailuresTotal.WithLabelValues("shortfall").Inc()
	case errors.Is(err, tender.ErrOverpayment):
		obs.TenderFailuresTotal.WithLabelValues("overpayment").Inc()
	case errors.Is(err, tender.ErrInvalidTender):
		obs.TenderFailuresTotal.WithLabelValues("invalid").Inc()
	default:
		obs.TenderFailuresTotal.WithLabelValues("other").Inc()
	}
}
