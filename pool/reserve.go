package pool

import (
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	// RateDecimals are the decimals of the b/d token rates.
	RateDecimals = 12
	// FactorDecimals are the decimals of collateral and liability factors.
	FactorDecimals = 7
)

var (
	rateScalar   = new(big.Int).Exp(big.NewInt(10), big.NewInt(RateDecimals), nil)
	factorScalar = float64(10_000_000)
)

// Reserve is a pool reserve with the data required to convert
// between b/d tokens and the underlying asset.
type Reserve struct {
	AssetID  string `json:"asset_id"`
	Index    uint32 `json:"index"`
	Decimals uint32 `json:"decimals"`
	// CFactor is the collateral factor with 7 decimals.
	CFactor uint32 `json:"c_factor"`
	// LFactor is the liability factor with 7 decimals.
	LFactor uint32 `json:"l_factor"`
	// BRate converts bTokens to the asset, with 12 decimals.
	BRate *big.Int `json:"b_rate"`
	// DRate converts dTokens to the asset, with 12 decimals.
	DRate *big.Int `json:"d_rate"`
}

// ToAssetFromBToken converts bTokens to asset units rounding down.
func (r Reserve) ToAssetFromBToken(bTokens *big.Int) *big.Int {
	n := new(big.Int).Mul(bTokens, r.BRate)
	return n.Quo(n, rateScalar)
}

// ToAssetFromDToken converts dTokens to asset units rounding up.
func (r Reserve) ToAssetFromDToken(dTokens *big.Int) *big.Int {
	return divCeil(new(big.Int).Mul(dTokens, r.DRate), rateScalar)
}

// ToDTokensFromAssetFloor converts asset units to dTokens rounding down.
func (r Reserve) ToDTokensFromAssetFloor(amount *big.Int) *big.Int {
	if r.DRate.Sign() == 0 {
		return new(big.Int)
	}
	n := new(big.Int).Mul(amount, rateScalar)
	return n.Quo(n, r.DRate)
}

// ToAssetFromBTokenFloat converts bTokens to a float amount of the asset.
func (r Reserve) ToAssetFromBTokenFloat(bTokens *big.Int) float64 {
	return ToFloat(r.ToAssetFromBToken(bTokens), r.Decimals)
}

// ToEffectiveAssetFromBTokenFloat converts bTokens to a float amount of the
// asset weighted by the collateral factor.
func (r Reserve) ToEffectiveAssetFromBTokenFloat(bTokens *big.Int) float64 {
	return r.ToAssetFromBTokenFloat(bTokens) * float64(r.CFactor) / factorScalar
}

// ToAssetFromDTokenFloat converts dTokens to a float amount of the asset.
func (r Reserve) ToAssetFromDTokenFloat(dTokens *big.Int) float64 {
	return ToFloat(r.ToAssetFromDToken(dTokens), r.Decimals)
}

// ToEffectiveAssetFromDTokenFloat converts dTokens to a float amount of the
// asset weighted by the liability factor.
func (r Reserve) ToEffectiveAssetFromDTokenFloat(dTokens *big.Int) float64 {
	if r.LFactor == 0 {
		return 0
	}
	return r.ToAssetFromDTokenFloat(dTokens) * factorScalar / float64(r.LFactor)
}

// Pool is the subset of pool state the bot needs.
type Pool struct {
	ID       string    `json:"id"`
	Reserves []Reserve `json:"reserves"`
}

// Reserve returns the reserve for asset.
func (p Pool) Reserve(asset string) (Reserve, bool) {
	for _, r := range p.Reserves {
		if r.AssetID == asset {
			return r, true
		}
	}
	return Reserve{}, false
}

// Oracle holds the prices reported by the pool oracle.
type Oracle struct {
	Decimals  uint32              `json:"decimals"`
	Prices    map[string]*big.Int `json:"prices"`
	Timestamp int64               `json:"timestamp"`
}

// PriceFloat returns the oracle price of asset as a float.
func (o Oracle) PriceFloat(asset string) (float64, bool) {
	p, ok := o.Prices[asset]
	if !ok || p == nil {
		return 0, false
	}
	return ToFloat(p, o.Decimals), true
}

// ToFloat converts a fixed-point amount to a float.
func ToFloat(amount *big.Int, decimals uint32) float64 {
	if amount == nil {
		return 0
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).InexactFloat64()
}

// FromFloat converts a float to a fixed-point amount rounding down.
func FromFloat(f float64, decimals uint32) *big.Int {
	return decimal.NewFromFloat(f).Shift(int32(decimals)).Floor().BigInt()
}

func divCeil(n, d *big.Int) *big.Int {
	q, m := new(big.Int).QuoRem(n, d, new(big.Int))
	if m.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}
