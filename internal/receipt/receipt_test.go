package receipt

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-pos/internal/pricing"
	"github.com/noah-isme/backend-pos/internal/tender"
)

func TestNumberIsStableForSameTransaction(t *testing.T) {
	id := uuid.New()
	at := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	a := Number("STORE1", id, at)
	b := Number("STORE1", id, at)
	if a != b {
		t.Fatalf("expected stable number, got %q and %q", a, b)
	}
	if want := "STORE1-20260314-"; a[:len(want)] != want {
		t.Fatalf("unexpected number prefix: %q", a)
	}
}

func TestNumberDiffersAcrossTransactions(t *testing.T) {
	at := time.Now()
	a := Number("POS", uuid.New(), at)
	b := Number("POS", uuid.New(), at)
	if a == b {
		t.Fatalf("expected distinct numbers, both %q", a)
	}
}

func TestBuildProjectsTotalsAndTenders(t *testing.T) {
	variant := uuid.New()
	priced := pricing.PricedCart{
		Lines: []pricing.PricedLine{
			{VariantID: variant, Qty: 2, UnitPrice: 2500, Gross: 5000, Discount: 500, Net: 4500},
		},
		Subtotal:      4500,
		TaxableAmount: 4500,
		Tax:           371,
		Total:         4871,
	}
	rec := tender.Reconciliation{
		Total:        4871,
		CashTendered: 5000,
		ChangeDue:    129,
		Tenders:      []tender.Tender{{Method: tender.MethodCash, Amount: 5000}},
	}
	txnID := uuid.New()
	sessionID := uuid.New()
	issued := time.Now()

	r := Build("POS-20260314-ABCDEFGH", txnID, sessionID, "reg-1", "sale", "USD", priced, rec, issued)

	if r.Total != 4871 || r.ChangeDue != 129 {
		t.Fatalf("unexpected totals: total=%d change=%d", r.Total, r.ChangeDue)
	}
	if len(r.Lines) != 1 || r.Lines[0].Net != 4500 {
		t.Fatalf("unexpected lines: %+v", r.Lines)
	}
	if len(r.Tenders) != 1 || r.Tenders[0].Method != tender.MethodCash {
		t.Fatalf("unexpected tenders: %+v", r.Tenders)
	}
	if r.SessionID != sessionID || r.TransactionID != txnID {
		t.Fatalf("identity fields not carried")
	}
}
