package pool

import (
	"fmt"
	"math"
	"math/big"
)

// AuctionType is the kind of a pool auction.
type AuctionType int

const (
	// Liquidation auctions sell a user's collateral for their liabilities.
	Liquidation AuctionType = iota
	// BadDebt auctions sell backstop tokens for the pool's bad debt.
	BadDebt
	// Interest auctions sell accrued backstop interest for backstop tokens.
	Interest
)

// AuctionTypes lists every auction type.
var AuctionTypes = []AuctionType{Liquidation, BadDebt, Interest}

func (t AuctionType) String() string {
	switch t {
	case Liquidation:
		return "liquidation"
	case BadDebt:
		return "bad-debt"
	case Interest:
		return "interest"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// ParseAuctionType parses the string form of an AuctionType.
func ParseAuctionType(s string) (AuctionType, error) {
	for _, t := range AuctionTypes {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown auction type %q", s)
}

// AssetAmount is an amount of an asset in its native fixed-point unit.
type AssetAmount struct {
	Asset  string   `json:"asset"`
	Amount *big.Int `json:"amount"`
}

// AssetAmounts maps assets to amounts keeping insertion order.
type AssetAmounts []AssetAmount

// Get returns the amount for asset.
func (a AssetAmounts) Get(asset string) (*big.Int, bool) {
	for _, aa := range a {
		if aa.Asset == asset {
			return aa.Amount, true
		}
	}
	return nil, false
}

// Has reports whether asset is present.
func (a AssetAmounts) Has(asset string) bool {
	_, ok := a.Get(asset)
	return ok
}

// Set replaces the amount of an existing asset or appends a new one.
func (a *AssetAmounts) Set(asset string, amount *big.Int) {
	for i := range *a {
		if (*a)[i].Asset == asset {
			(*a)[i].Amount = amount
			return
		}
	}
	*a = append(*a, AssetAmount{Asset: asset, Amount: amount})
}

// Assets returns the assets in insertion order.
func (a AssetAmounts) Assets() []string {
	assets := make([]string, len(a))
	for i, aa := range a {
		assets[i] = aa.Asset
	}
	return assets
}

// Clone returns a deep copy.
func (a AssetAmounts) Clone() AssetAmounts {
	if a == nil {
		return nil
	}
	c := make(AssetAmounts, len(a))
	for i, aa := range a {
		c[i] = AssetAmount{Asset: aa.Asset, Amount: new(big.Int).Set(aa.Amount)}
	}
	return c
}

// AuctionData is an auction as read from a ledger snapshot.
type AuctionData struct {
	// Block is the ledger the auction started at.
	Block uint32       `json:"block"`
	Bid   AssetAmounts `json:"bid"`
	Lot   AssetAmounts `json:"lot"`
}

// Clone returns a deep copy.
func (d AuctionData) Clone() AuctionData {
	return AuctionData{Block: d.Block, Bid: d.Bid.Clone(), Lot: d.Lot.Clone()}
}

// Positions are a user's raw positions in a pool.
type Positions struct {
	// Liabilities are dTokens per asset.
	Liabilities AssetAmounts `json:"liabilities"`
	// Collateral are bTokens per asset.
	Collateral AssetAmounts `json:"collateral"`
	// Supply are non-collateralized bTokens per asset.
	Supply AssetAmounts `json:"supply"`
}

// PositionsEstimate summarizes a user's positions in oracle terms.
type PositionsEstimate struct {
	TotalBorrowed             float64 `json:"total_borrowed"`
	TotalSupplied             float64 `json:"total_supplied"`
	TotalEffectiveLiabilities float64 `json:"total_effective_liabilities"`
	TotalEffectiveCollateral  float64 `json:"total_effective_collateral"`
}

// HealthFactor is the ratio of effective collateral to effective
// liabilities. It is +Inf when there are no liabilities.
func (e PositionsEstimate) HealthFactor() float64 {
	if e.TotalEffectiveLiabilities <= 0 {
		return math.Inf(1)
	}
	return e.TotalEffectiveCollateral / e.TotalEffectiveLiabilities
}
