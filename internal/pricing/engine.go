package pricing

import (
	"errors"

	"github.com/google/uuid"
)

// Money represents a monetary value stored in minor units.
type Money = int64

// ErrInvalidLine is returned when a line item violates the quantity or price
// invariants.
var ErrInvalidLine = errors.New("pricing: invalid line item")

// LineItem describes a cart line with its own ordered discounts.
type LineItem struct {
	VariantID uuid.UUID
	Qty       int
	UnitPrice Money
	Discounts []Discount
}

// Cart is the pricing input: ordered lines, ordered cart-level discounts, and
// the tax rate in basis points. Carts are priced once and never mutated.
type Cart struct {
	Items         []LineItem
	CartDiscounts []Discount
	TaxRateBps    int
}

// Options carries the customer context needed to validate loyalty redemptions.
// PointValue is the worth of a single point in minor units.
type Options struct {
	PointValue     Money
	CustomerPoints int64
}

// PricedLine is the per-line pricing result.
type PricedLine struct {
	VariantID uuid.UUID `json:"variantId"`
	Qty       int       `json:"qty"`
	UnitPrice Money     `json:"unitPrice"`
	Gross     Money     `json:"gross"`
	Discount  Money     `json:"discount"`
	Net       Money     `json:"net"`
}

// PricedCart aggregates the full pricing breakdown.
type PricedCart struct {
	Lines         []PricedLine `json:"lines"`
	Subtotal      Money        `json:"subtotal"`
	CartDiscount  Money        `json:"cartDiscount"`
	TaxableAmount Money        `json:"taxableAmount"`
	Tax           Money        `json:"tax"`
	Total         Money        `json:"total"`
	PointsSpent   int64        `json:"pointsSpent,omitempty"`
}

// Price computes the deterministic, order-sensitive pricing breakdown for the
// cart. Line discounts compound sequentially against the running line amount;
// cart discounts apply in order against the subtotal that remains after line
// discounts. Tax is rounded half-up once on the aggregate taxable amount so
// repeated runs cannot drift.
func Price(cart Cart, opts Options) (PricedCart, error) {
	if cart.TaxRateBps < 0 || cart.TaxRateBps > 10000 {
		return PricedCart{}, ErrInvalidDiscount
	}

	var (
		out         PricedCart
		pointsSpent int64
	)
	out.Lines = make([]PricedLine, 0, len(cart.Items))

	for _, item := range cart.Items {
		if item.Qty <= 0 || item.UnitPrice < 0 {
			return PricedCart{}, ErrInvalidLine
		}
		gross := Money(item.Qty) * item.UnitPrice
		running := gross
		for _, d := range item.Discounts {
			if !d.valid() {
				return PricedCart{}, ErrInvalidDiscount
			}
			switch d.Kind {
			case KindPercent:
				running -= running * Money(d.PercentBps) / 10000
			case KindFixed:
				running -= d.Amount
				if running < 0 {
					running = 0
				}
			case KindLoyalty:
				if opts.PointValue <= 0 || d.Amount > d.Points*opts.PointValue {
					return PricedCart{}, ErrInvalidDiscount
				}
				if pointsSpent+d.Points > opts.CustomerPoints {
					return PricedCart{}, ErrInsufficientPoints
				}
				pointsSpent += d.Points
				running -= d.Amount
				if running < 0 {
					running = 0
				}
			}
		}
		out.Lines = append(out.Lines, PricedLine{
			VariantID: item.VariantID,
			Qty:       item.Qty,
			UnitPrice: item.UnitPrice,
			Gross:     gross,
			Discount:  gross - running,
			Net:       running,
		})
		out.Subtotal += running
	}

	running := out.Subtotal
	for _, d := range cart.CartDiscounts {
		if !d.valid() {
			return PricedCart{}, ErrInvalidDiscount
		}
		switch d.Kind {
		case KindPercent:
			running -= running * Money(d.PercentBps) / 10000
		case KindFixed, KindLoyalty:
			// A flat cart discount larger than what remains is a configuration
			// bug; reject it instead of clamping so the operator sees it.
			if d.Amount > running {
				return PricedCart{}, ErrInvalidDiscount
			}
			if d.Kind == KindLoyalty {
				if opts.PointValue <= 0 || d.Amount > d.Points*opts.PointValue {
					return PricedCart{}, ErrInvalidDiscount
				}
				if pointsSpent+d.Points > opts.CustomerPoints {
					return PricedCart{}, ErrInsufficientPoints
				}
				pointsSpent += d.Points
			}
			running -= d.Amount
		}
	}
	out.CartDiscount = out.Subtotal - running

	taxable := running
	if taxable < 0 {
		taxable = 0
	}
	out.TaxableAmount = taxable
	out.Tax = roundHalfUp(taxable*Money(cart.TaxRateBps), 10000)
	out.Total = taxable + out.Tax
	out.PointsSpent = pointsSpent
	return out, nil
}

// roundHalfUp divides num by den rounding half away from zero. Inputs are
// never negative on the pricing path.
func roundHalfUp(num, den Money) Money {
	return (num + den/2) / den
}
