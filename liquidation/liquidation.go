// Package liquidation sizes user liquidations.
package liquidation

import (
	"math"

	"github.com/textileio/auctioneer-bot/pool"
)

const (
	// LiquidatableHealthFactor is the health factor under which a user is liquidated.
	LiquidatableHealthFactor = 0.99
	// TargetHealthFactor is the health factor a liquidation restores.
	TargetHealthFactor = 1.1
)

// IsLiquidatable reports whether a position can be liquidated.
func IsLiquidatable(e pool.PositionsEstimate) bool {
	return e.TotalEffectiveLiabilities > 0 &&
		e.TotalEffectiveCollateral/e.TotalEffectiveLiabilities < LiquidatableHealthFactor
}

// IsBadDebt reports whether a position has liabilities and no collateral.
func IsBadDebt(e pool.PositionsEstimate) bool {
	return e.TotalEffectiveLiabilities > 0 &&
		e.TotalEffectiveCollateral/e.TotalEffectiveLiabilities <= 0
}

// Percent returns the share of a position, in [0, 100], to liquidate to
// bring it back to TargetHealthFactor.
func Percent(e pool.PositionsEstimate) uint32 {
	if e.TotalBorrowed <= 0 || e.TotalSupplied <= 0 {
		return 100
	}
	avgInverseLF := e.TotalEffectiveLiabilities / e.TotalBorrowed
	avgCF := e.TotalEffectiveCollateral / e.TotalSupplied
	estIncentive := 1 + (1-avgCF/avgInverseLF)/2

	num := e.TotalEffectiveLiabilities*TargetHealthFactor - e.TotalEffectiveCollateral
	den := avgInverseLF*TargetHealthFactor - avgCF*estIncentive
	if num <= 0 {
		return 0
	}
	// A non-positive den means no partial liquidation reaches the target,
	// so the whole position is liquidated instead of none of it.
	if den <= 0 {
		return 100
	}
	pct := math.Round(num / den / e.TotalBorrowed * 100)
	switch {
	case math.IsNaN(pct) || pct > 100:
		return 100
	case pct < 0:
		return 0
	default:
		return uint32(pct)
	}
}
