package pricing

import (
	"errors"
	"math/rand"
	"testing"
)

func mustPercent(t *testing.T, bps int32) Discount {
	t.Helper()
	d, err := NewPercentDiscount(bps)
	if err != nil {
		t.Fatalf("percent discount %d: %v", bps, err)
	}
	return d
}

func mustFixed(t *testing.T, amount Money) Discount {
	t.Helper()
	d, err := NewFixedDiscount(amount)
	if err != nil {
		t.Fatalf("fixed discount %d: %v", amount, err)
	}
	return d
}

func TestPriceEmptyCart(t *testing.T) {
	priced, err := Price(Cart{TaxRateBps: 825}, Options{})
	if err != nil {
		t.Fatalf("empty cart should price cleanly: %v", err)
	}
	if priced.Total != 0 || priced.Subtotal != 0 || priced.Tax != 0 {
		t.Fatalf("empty cart must total zero, got %+v", priced)
	}
}

func TestPercentDiscountsCompound(t *testing.T) {
	// Two sequential 10% discounts on a 100.00 line must produce 81.00,
	// not the 80.00 an additive interpretation would give.
	cart := Cart{
		Items: []LineItem{{
			Qty:       1,
			UnitPrice: 10_000,
			Discounts: []Discount{mustPercent(t, 1000), mustPercent(t, 1000)},
		}},
	}
	priced, err := Price(cart, Options{})
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if priced.Lines[0].Net != 8_100 {
		t.Fatalf("expected net 8100 after compounding, got %d", priced.Lines[0].Net)
	}
	if priced.Total != 8_100 {
		t.Fatalf("expected total 8100, got %d", priced.Total)
	}
}

func TestFixedDiscountFloorsLineAtZero(t *testing.T) {
	cart := Cart{
		Items: []LineItem{{
			Qty:       1,
			UnitPrice: 500,
			Discounts: []Discount{mustFixed(t, 2_000)},
		}},
	}
	priced, err := Price(cart, Options{})
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if priced.Lines[0].Net != 0 {
		t.Fatalf("line must floor at zero, got %d", priced.Lines[0].Net)
	}
}

func TestCartFixedDiscountExceedingSubtotalRejected(t *testing.T) {
	cart := Cart{
		Items:         []LineItem{{Qty: 1, UnitPrice: 1_000}},
		CartDiscounts: []Discount{mustFixed(t, 5_000)},
	}
	_, err := Price(cart, Options{})
	if !errors.Is(err, ErrInvalidDiscount) {
		t.Fatalf("expected ErrInvalidDiscount, got %v", err)
	}
}

func TestPercentOutOfRangeRejectedAtConstruction(t *testing.T) {
	if _, err := NewPercentDiscount(10_001); !errors.Is(err, ErrInvalidDiscount) {
		t.Fatalf("expected ErrInvalidDiscount for >100%%, got %v", err)
	}
	if _, err := NewPercentDiscount(-1); !errors.Is(err, ErrInvalidDiscount) {
		t.Fatalf("expected ErrInvalidDiscount for negative, got %v", err)
	}
}

func TestLoyaltyRedemption(t *testing.T) {
	redeem, err := NewLoyaltyRedemption(100, 1_000)
	if err != nil {
		t.Fatalf("build redemption: %v", err)
	}
	cart := Cart{
		Items: []LineItem{{Qty: 1, UnitPrice: 5_000, Discounts: []Discount{redeem}}},
	}

	priced, err := Price(cart, Options{PointValue: 10, CustomerPoints: 100})
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if priced.Lines[0].Net != 4_000 {
		t.Fatalf("expected net 4000 after redemption, got %d", priced.Lines[0].Net)
	}
	if priced.PointsSpent != 100 {
		t.Fatalf("expected 100 points spent, got %d", priced.PointsSpent)
	}

	_, err = Price(cart, Options{PointValue: 10, CustomerPoints: 50})
	if !errors.Is(err, ErrInsufficientPoints) {
		t.Fatalf("expected ErrInsufficientPoints, got %v", err)
	}

	// Redemption worth more than the points allow is a configuration bug.
	tooRich, _ := NewLoyaltyRedemption(10, 1_000)
	cart.Items[0].Discounts = []Discount{tooRich}
	_, err = Price(cart, Options{PointValue: 10, CustomerPoints: 100})
	if !errors.Is(err, ErrInvalidDiscount) {
		t.Fatalf("expected ErrInvalidDiscount for over-valued redemption, got %v", err)
	}
}

func TestInvalidLineRejected(t *testing.T) {
	_, err := Price(Cart{Items: []LineItem{{Qty: 0, UnitPrice: 100}}}, Options{})
	if !errors.Is(err, ErrInvalidLine) {
		t.Fatalf("expected ErrInvalidLine for zero qty, got %v", err)
	}
	_, err = Price(Cart{Items: []LineItem{{Qty: 1, UnitPrice: -1}}}, Options{})
	if !errors.Is(err, ErrInvalidLine) {
		t.Fatalf("expected ErrInvalidLine for negative price, got %v", err)
	}
}

func TestAggregateTaxRoundedHalfUpOnce(t *testing.T) {
	// Three 0.33 items at 8.25%: taxable 99, tax half-up(8.1675) = 8.
	cart := Cart{
		Items:      []LineItem{{Qty: 3, UnitPrice: 33}},
		TaxRateBps: 825,
	}
	first, err := Price(cart, Options{})
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if first.Tax != 8 {
		t.Fatalf("expected aggregate tax 8, got %d", first.Tax)
	}
	if first.Total != 107 {
		t.Fatalf("expected total 107, got %d", first.Total)
	}
	for i := 0; i < 50; i++ {
		again, err := Price(cart, Options{})
		if err != nil {
			t.Fatalf("price run %d: %v", i, err)
		}
		if again.Total != first.Total || again.Tax != first.Tax {
			t.Fatalf("pricing must be reproducible, run %d got %+v", i, again)
		}
	}
}

func TestRandomDiscountSequencesNeverGoNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 2_000; i++ {
		var items []LineItem
		for n := rng.Intn(5) + 1; n > 0; n-- {
			var discounts []Discount
			for m := rng.Intn(4); m > 0; m-- {
				if rng.Intn(2) == 0 {
					d, err := NewPercentDiscount(int32(rng.Intn(10_001)))
					if err != nil {
						t.Fatal(err)
					}
					discounts = append(discounts, d)
				} else {
					d, err := NewFixedDiscount(Money(rng.Intn(20_000)))
					if err != nil {
						t.Fatal(err)
					}
					discounts = append(discounts, d)
				}
			}
			items = append(items, LineItem{
				Qty:       rng.Intn(9) + 1,
				UnitPrice: Money(rng.Intn(10_000)),
				Discounts: discounts,
			})
		}
		priced, err := Price(Cart{Items: items, TaxRateBps: rng.Intn(2_000)}, Options{})
		if err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
		for _, line := range priced.Lines {
			if line.Net < 0 {
				t.Fatalf("iteration %d: negative line net %d", i, line.Net)
			}
		}
		if priced.Total < 0 || priced.TaxableAmount < 0 {
			t.Fatalf("iteration %d: negative totals %+v", i, priced)
		}
	}
}
