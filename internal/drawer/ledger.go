package drawer

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-pos/internal/pricing"
	"github.com/noah-isme/backend-pos/internal/tender"
)

var (
	// ErrClosed is returned for any mutation of a closed session. The session
	// is terminal; the caller must open a new one.
	ErrClosed = errors.New("drawer: session closed")
	// ErrSuspended is returned when recording against a suspended session.
	// Resuming the session makes the operation recoverable.
	ErrSuspended = errors.New("drawer: session suspended")
	// ErrNotSuspended is returned when resuming a session that is not suspended.
	ErrNotSuspended = errors.New("drawer: session not suspended")
	// ErrNotClosed is returned when rolling back a close on a session that is
	// not closed.
	ErrNotClosed = errors.New("drawer: session not closed")
)

// Status is the session lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusClosed    Status = "closed"
)

// TransactionType discriminates ledger entries.
type TransactionType string

const (
	TypeSale     TransactionType = "sale"
	TypeReturn   TransactionType = "return"
	TypeExchange TransactionType = "exchange"
	TypeCashIn   TransactionType = "cash_in"
	TypeCashOut  TransactionType = "cash_out"
)

// Transaction is an immutable ledger entry. For sales and exchanges the cash
// effect is the cash physically received minus change handed back; returns
// remove the cash refunded; cash movements move their full amount.
type Transaction struct {
	ID           uuid.UUID
	Type         TransactionType
	Total        pricing.Money
	CashTendered pricing.Money
	ChangeGiven  pricing.Money
	CashRefunded pricing.Money
	Tenders      []tender.Tender
	At           time.Time
}

// CashEffect returns the signed amount this transaction moves through the
// physical drawer. Non-cash tender amounts never touch the drawer.
func (t Transaction) CashEffect() pricing.Money {
	switch t.Type {
	case TypeSale, TypeExchange:
		return t.CashTendered - t.ChangeGiven
	case TypeReturn:
		return -t.CashRefunded
	case TypeCashIn:
		return t.Total
	case TypeCashOut:
		return -t.Total
	}
	return 0
}

// VarianceStatus classifies a close-out count against the expected balance.
type VarianceStatus string

const (
	VarianceBalanced VarianceStatus = "balanced"
	VarianceOver     VarianceStatus = "over"
	VarianceShort    VarianceStatus = "short"
)

// Reconciliation is produced once, at session close. Variance is reported as
// counted, never auto-corrected.
type Reconciliation struct {
	ExpectedCash pricing.Money  `json:"expectedCash"`
	ActualCash   pricing.Money  `json:"actualCash"`
	Variance     pricing.Money  `json:"variance"`
	Status       VarianceStatus `json:"status"`
}

// Exceeds reports whether the absolute variance crosses the alert threshold.
func (r Reconciliation) Exceeds(threshold pricing.Money) bool {
	if threshold <= 0 {
		return false
	}
	v := r.Variance
	if v < 0 {
		v = -v
	}
	return v > threshold
}

// MethodTotals accumulates tendered count and amount for one payment method.
type MethodTotals struct {
	Method tender.Method `json:"method"`
	Count  int           `json:"count"`
	Amount pricing.Money `json:"amount"`
}

// Summary is the close-out report for a session.
type Summary struct {
	TotalSales         pricing.Money  `json:"totalSales"`
	TotalTransactions  int            `json:"totalTransactions"`
	AverageTransaction pricing.Money  `json:"averageTransaction"`
	PaymentMethods     []MethodTotals `json:"paymentMethods"`
}

// Session is the long-lived drawer ledger for one register. Its methods are
// safe for concurrent use; composite read-then-write flows (price, persist,
// record) are additionally serialized per register by the pos service.
// Concurrent readers should go through Snapshot rather than the mutable
// fields.
type Session struct {
	ID           uuid.UUID
	LocationID   string
	RegisterID   string
	EmployeeID   string
	OpeningFloat pricing.Money
	ExpectedCash pricing.Money
	Status       Status
	OpenedAt     time.Time
	ClosedAt     time.Time

	Transactions []Transaction

	mu          sync.Mutex
	applied     map[uuid.UUID]struct{}
	methodOrder []tender.Method
	byMethod    map[tender.Method]*MethodTotals
	salesTotal  pricing.Money
	salesCount  int
}

// View is a consistent read of a session's mutable state.
type View struct {
	Status       Status
	ExpectedCash pricing.Money
	ClosedAt     time.Time
}

// Snapshot returns the session's mutable state in one consistent read.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{Status: s.Status, ExpectedCash: s.ExpectedCash, ClosedAt: s.ClosedAt}
}

// Open starts a session with the given float already in the drawer.
func Open(id uuid.UUID, locationID, registerID, employeeID string, openingFloat pricing.Money, now time.Time) *Session {
	return &Session{
		ID:           id,
		LocationID:   locationID,
		RegisterID:   registerID,
		EmployeeID:   employeeID,
		OpeningFloat: openingFloat,
		ExpectedCash: openingFloat,
		Status:       StatusActive,
		OpenedAt:     now,
		applied:      map[uuid.UUID]struct{}{},
		byMethod:     map[tender.Method]*MethodTotals{},
	}
}

// Record applies a finalized transaction to the ledger. Recording the same
// transaction id twice is a no-op so at-least-once persistence retries cannot
// double-credit the drawer. Only active sessions accept entries.
func (s *Session) Record(tx Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.Status {
	case StatusClosed:
		return ErrClosed
	case StatusSuspended:
		return ErrSuspended
	}
	if _, done := s.applied[tx.ID]; done {
		return nil
	}
	s.applied[tx.ID] = struct{}{}
	s.Transactions = append(s.Transactions, tx)
	s.ExpectedCash += tx.CashEffect()

	if tx.Type == TypeSale || tx.Type == TypeExchange {
		s.salesTotal += tx.Total
		s.salesCount++
		for _, t := range tx.Tenders {
			totals, ok := s.byMethod[t.Method]
			if !ok {
				totals = &MethodTotals{Method: t.Method}
				s.byMethod[t.Method] = totals
				s.methodOrder = append(s.methodOrder, t.Method)
			}
			totals.Count++
			totals.Amount += t.Amount
		}
	}
	return nil
}

// Suspend pauses an active session.
func (s *Session) Suspend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.Status {
	case StatusClosed:
		return ErrClosed
	case StatusSuspended:
		return nil
	}
	s.Status = StatusSuspended
	return nil
}

// Resume reactivates a suspended session.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.Status {
	case StatusClosed:
		return ErrClosed
	case StatusActive:
		return ErrNotSuspended
	}
	s.Status = StatusActive
	return nil
}

// Close transitions the session to its terminal state and reconciles the
// physical count against the running expected balance. A second close fails
// with ErrClosed and leaves the first reconciliation untouched.
func (s *Session) Close(actualCash pricing.Money, now time.Time) (Reconciliation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status == StatusClosed {
		return Reconciliation{}, ErrClosed
	}
	s.Status = StatusClosed
	s.ClosedAt = now
	rec := Reconciliation{
		ExpectedCash: s.ExpectedCash,
		ActualCash:   actualCash,
		Variance:     actualCash - s.ExpectedCash,
	}
	switch {
	case rec.Variance == 0:
		rec.Status = VarianceBalanced
	case rec.Variance > 0:
		rec.Status = VarianceOver
	default:
		rec.Status = VarianceShort
	}
	return rec, nil
}

// ReopenFromClose rolls a Closed transition back to Active. The backend is
// the source of truth on close; when it rejects the remote call the local
// state must follow it back.
func (s *Session) ReopenFromClose() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status != StatusClosed {
		return ErrNotClosed
	}
	s.Status = StatusActive
	s.ClosedAt = time.Time{}
	return nil
}

// Summary reports session totals for the close-out receipt.
func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Summary{
		TotalSales:        s.salesTotal,
		TotalTransactions: s.salesCount,
	}
	if s.salesCount > 0 {
		out.AverageTransaction = s.salesTotal / pricing.Money(s.salesCount)
	}
	for _, method := range s.methodOrder {
		out.PaymentMethods = append(out.PaymentMethods, *s.byMethod[method])
	}
	return out
}
