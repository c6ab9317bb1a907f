package pricing

import "errors"

var (
	// ErrInvalidDiscount is returned when a discount configuration is out of range
	// or would drive an amount negative.
	ErrInvalidDiscount = errors.New("pricing: invalid discount")
	// ErrInsufficientPoints is returned when a loyalty redemption requests more
	// points than the customer has available.
	ErrInsufficientPoints = errors.New("pricing: insufficient loyalty points")
)

// Kind discriminates the discount variants.
type Kind string

const (
	KindPercent Kind = "percent"
	KindFixed   Kind = "fixed"
	KindLoyalty Kind = "loyalty_redemption"
)

// Discount is a tagged discount variant. Construct through the New* helpers so
// range checks happen at build time rather than at pricing time.
type Discount struct {
	Kind       Kind
	PercentBps int32
	Amount     Money
	Points     int64
	Code       string
}

// NewPercentDiscount builds a percentage discount expressed in basis points.
// Values outside [0, 10000] are rejected here, not during pricing.
func NewPercentDiscount(bps int32) (Discount, error) {
	if bps < 0 || bps > 10000 {
		return Discount{}, ErrInvalidDiscount
	}
	return Discount{Kind: KindPercent, PercentBps: bps}, nil
}

// NewFixedDiscount builds a flat amount discount in minor units.
func NewFixedDiscount(amount Money) (Discount, error) {
	if amount < 0 {
		return Discount{}, ErrInvalidDiscount
	}
	return Discount{Kind: KindFixed, Amount: amount}, nil
}

// NewLoyaltyRedemption builds a redemption of loyalty points worth the given
// amount. The conversion check against the point value happens during pricing
// because the rate is configuration, not part of the discount itself.
func NewLoyaltyRedemption(points int64, amount Money) (Discount, error) {
	if points <= 0 || amount < 0 {
		return Discount{}, ErrInvalidDiscount
	}
	return Discount{Kind: KindLoyalty, Points: points, Amount: amount}, nil
}

func (d Discount) valid() bool {
	switch d.Kind {
	case KindPercent:
		return d.PercentBps >= 0 && d.PercentBps <= 10000
	case KindFixed:
		return d.Amount >= 0
	case KindLoyalty:
		return d.Points > 0 && d.Amount >= 0
	default:
		return false
	}
}
