package receipt

import (
	"encoding/base32"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-pos/internal/pricing"
	"github.com/noah-isme/backend-pos/internal/tender"
)

var shortEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Number derives the human-readable receipt number for a transaction. The
// number is a pure function of the transaction id and business date, so
// replayed submissions of the same transaction always produce the same number.
func Number(prefix string, txnID uuid.UUID, at time.Time) string {
	if prefix == "" {
		prefix = "POS"
	}
	short := shortEncoding.EncodeToString(txnID[:])[:8]
	return fmt.Sprintf("%s-%s-%s", strings.ToUpper(prefix), at.Format("20060102"), short)
}

// Line is a single priced line on the printed receipt.
type Line struct {
	VariantID uuid.UUID     `json:"variantId"`
	Qty       int           `json:"qty"`
	UnitPrice pricing.Money `json:"unitPrice"`
	Gross     pricing.Money `json:"gross"`
	Discount  pricing.Money `json:"discount"`
	Net       pricing.Money `json:"net"`
}

// TenderLine reports how one payment method contributed to the total.
type TenderLine struct {
	Method    tender.Method `json:"method"`
	Amount    pricing.Money `json:"amount"`
	Reference string        `json:"reference,omitempty"`
}

// Receipt is the customer-facing projection of a recorded transaction.
type Receipt struct {
	Number        string        `json:"number"`
	TransactionID uuid.UUID     `json:"transactionId"`
	SessionID     uuid.UUID     `json:"sessionId"`
	RegisterID    string        `json:"registerId"`
	Type          string        `json:"type"`
	Currency      string        `json:"currency"`
	Lines         []Line        `json:"lines"`
	Subtotal      pricing.Money `json:"subtotal"`
	CartDiscount  pricing.Money `json:"cartDiscount"`
	Tax           pricing.Money `json:"tax"`
	Total         pricing.Money `json:"total"`
	Tenders       []TenderLine  `json:"tenders"`
	ChangeDue     pricing.Money `json:"changeDue"`
	PointsSpent   int64         `json:"pointsSpent,omitempty"`
	IssuedAt      time.Time     `json:"issuedAt"`
}

// Build projects a priced cart and its reconciled tenders into a receipt.
func Build(number string, txnID, sessionID uuid.UUID, registerID, txnType, currency string, priced pricing.PricedCart, rec tender.Reconciliation, issuedAt time.Time) Receipt {
	lines := make([]Line, 0, len(priced.Lines))
	for _, pl := range priced.Lines {
		lines = append(lines, Line{
			VariantID: pl.VariantID,
			Qty:       pl.Qty,
			UnitPrice: pl.UnitPrice,
			Gross:     pl.Gross,
			Discount:  pl.Discount,
			Net:       pl.Net,
		})
	}
	tenders := make([]TenderLine, 0, len(rec.Tenders))
	for _, t := range rec.Tenders {
		tenders = append(tenders, TenderLine{Method: t.Method, Amount: t.Amount, Reference: t.Reference})
	}
	return Receipt{
		Number:        number,
		TransactionID: txnID,
		SessionID:     sessionID,
		RegisterID:    registerID,
		Type:          txnType,
		Currency:      currency,
		Lines:         lines,
		Subtotal:      priced.Subtotal,
		CartDiscount:  priced.CartDiscount,
		Tax:           priced.Tax,
		Total:         priced.Total,
		Tenders:       tenders,
		ChangeDue:     rec.ChangeDue,
		PointsSpent:   priced.PointsSpent,
		IssuedAt:      issuedAt,
	}
}
