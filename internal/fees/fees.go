// Package fees computes the platform fee and provider payout for an
// agreed price. 10% platform fee capped at $5.00, all amounts in cents.
package fees

import (
	"errors"
	"fmt"
	"math"
)

const (
	FeeRate       = 0.10
	FeeCapCents   = 500
	MinPriceCents = 2000
	MaxPriceCents = 50000
)

var ErrInvalidPrice = errors.New("invalid price")

// Breakdown is the fee split for one agreed price. The parts always sum
// back to the total.
type Breakdown struct {
	TotalPrice     int64   `json:"total_price"`
	PlatformFee    int64   `json:"platform_fee"`
	ProviderPayout int64   `json:"provider_payout"`
	FeePercent     float64 `json:"fee_percent"`
}

// Calculate splits priceCents into platform fee and provider payout.
// Pure and deterministic; callers must run ValidatePrice first.
func Calculate(priceCents int64) Breakdown {
	rawFee := int64(math.Round(float64(priceCents) * FeeRate))
	fee := rawFee
	if fee > FeeCapCents {
		fee = FeeCapCents
	}
	payout := priceCents - fee
	pct := math.Round(float64(fee)/float64(priceCents)*1000) / 10
	return Breakdown{
		TotalPrice:     priceCents,
		PlatformFee:    fee,
		ProviderPayout: payout,
		FeePercent:     pct,
	}
}

// ValidatePrice enforces the global price bounds.
func ValidatePrice(priceCents int64) error {
	if priceCents < MinPriceCents {
		return fmt.Errorf("%w: minimum price is %d cents", ErrInvalidPrice, MinPriceCents)
	}
	if priceCents > MaxPriceCents {
		return fmt.Errorf("%w: maximum price is %d cents", ErrInvalidPrice, MaxPriceCents)
	}
	return nil
}

// Guidance is a suggested price band for a given tow distance.
type Guidance struct {
	Tier      string `json:"tier"`
	Min       int64  `json:"min"`
	Suggested int64  `json:"suggested"`
	Max       int64  `json:"max"`
}

// PriceGuidance returns the suggested price band for a tow of the given
// distance in miles.
func PriceGuidance(distanceMiles float64) Guidance {
	switch {
	case distanceMiles < 2:
		return Guidance{Tier: "short", Min: 3000, Suggested: 4000, Max: 5000}
	case distanceMiles < 5:
		return Guidance{Tier: "medium", Min: 4000, Suggested: 5500, Max: 7500}
	case distanceMiles < 10:
		return Guidance{Tier: "long", Min: 5000, Suggested: 7000, Max: 10000}
	default:
		return Guidance{Tier: "extended", Min: 7500, Suggested: 10000, Max: 20000}
	}
}
