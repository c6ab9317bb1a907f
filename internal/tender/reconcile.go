package tender

import (
	"errors"
	"fmt"

	"github.com/noah-isme/backend-pos/internal/pricing"
)

var (
	// ErrInvalidTender is returned for a tender with a non-positive amount or
	// an unknown method.
	ErrInvalidTender = errors.New("tender: invalid tender")
	// ErrInsufficient indicates the tendered amounts do not cover the total.
	ErrInsufficient = errors.New("tender: insufficient payment")
	// ErrOverpayment indicates a non-cash method was tendered beyond the total.
	// Only cash may exceed the total, since only cash yields change.
	ErrOverpayment = errors.New("tender: non-cash overpayment")
)

// Method identifies a payment instrument.
type Method string

const (
	MethodCash          Method = "cash"
	MethodCard          Method = "card"
	MethodGiftCard      Method = "gift_card"
	MethodLoyaltyPoints Method = "loyalty_points"
	MethodStoreCredit   Method = "store_credit"
)

// Known reports whether the method is one of the supported instruments.
func (m Method) Known() bool {
	switch m {
	case MethodCash, MethodCard, MethodGiftCard, MethodLoyaltyPoints, MethodStoreCredit:
		return true
	}
	return false
}

// Cash reports whether the method settles in physical cash.
func (m Method) Cash() bool { return m == MethodCash }

// Tender is a single payment instrument and amount offered toward a total.
// Gift-card and loyalty balances are validated upstream; by the time a tender
// reaches this package its amount is assumed authorized.
type Tender struct {
	Method    Method        `json:"method"`
	Amount    pricing.Money `json:"amount"`
	Reference string        `json:"reference,omitempty"`
}

// ShortfallError wraps ErrInsufficient with the exact amount still owed.
type ShortfallError struct {
	Short pricing.Money
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("tender: insufficient payment, short %d", e.Short)
}

func (e *ShortfallError) Unwrap() error { return ErrInsufficient }

// OverpaymentError wraps ErrOverpayment with the offending method and excess.
type OverpaymentError struct {
	Method Method
	Excess pricing.Money
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("tender: %s overpaid by %d", e.Method, e.Excess)
}

func (e *OverpaymentError) Unwrap() error { return ErrOverpayment }

// Reconciliation is the successful outcome of matching tenders to a total.
type Reconciliation struct {
	Total        pricing.Money `json:"total"`
	CashTendered pricing.Money `json:"cashTendered"`
	NonCash      pricing.Money `json:"nonCash"`
	ChangeDue    pricing.Money `json:"changeDue"`
	Tenders      []Tender      `json:"tenders"`
}

// Reconcile validates that the ordered tender set covers the total. Non-cash
// tenders are summed first and may never exceed the total, individually or
// together; change is only ever owed from cash.
func Reconcile(total pricing.Money, tenders []Tender) (Reconciliation, error) {
	if total < 0 {
		return Reconciliation{}, fmt.Errorf("%w: negative total", ErrInvalidTender)
	}
	var cashSum, nonCashSum pricing.Money
	for _, t := range tenders {
		if t.Amount <= 0 || !t.Method.Known() {
			return Reconciliation{}, fmt.Errorf("%w: %s %d", ErrInvalidTender, t.Method, t.Amount)
		}
		if t.Method.Cash() {
			cashSum += t.Amount
			continue
		}
		if nonCashSum+t.Amount > total {
			return Reconciliation{}, &OverpaymentError{Method: t.Method, Excess: nonCashSum + t.Amount - total}
		}
		nonCashSum += t.Amount
	}
	if cashSum+nonCashSum < total {
		return Reconciliation{}, &ShortfallError{Short: total - cashSum - nonCashSum}
	}
	change := cashSum - (total - nonCashSum)
	if change < 0 {
		change = 0
	}
	out := Reconciliation{
		Total:        total,
		CashTendered: cashSum,
		NonCash:      nonCashSum,
		ChangeDue:    change,
		Tenders:      append([]Tender(nil), tenders...),
	}
	return out, nil
}
