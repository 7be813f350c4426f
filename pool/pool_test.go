package pool

import (
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAssetAmountsKeepInsertionOrder(t *testing.T) {
	t.Parallel()

	var a AssetAmounts
	a.Set("c", big.NewInt(3))
	a.Set("a", big.NewInt(1))
	a.Set("b", big.NewInt(2))
	a.Set("a", big.NewInt(10))

	require.Equal(t, []string{"c", "a", "b"}, a.Assets())
	v, ok := a.Get("a")
	require.True(t, ok)
	require.Equal(t, int64(10), v.Int64())
	require.False(t, a.Has("d"))

	c := a.Clone()
	c[0].Amount.SetInt64(99)
	v, _ = a.Get("c")
	require.Equal(t, int64(3), v.Int64())
}

func TestReserveConversions(t *testing.T) {
	t.Parallel()

	r := Reserve{
		AssetID:  "usdc",
		Decimals: 7,
		CFactor:  9_000_000,
		LFactor:  8_000_000,
		BRate:    big.NewInt(1_100_000_000_000),
		DRate:    big.NewInt(1_200_000_000_001),
	}

	require.Equal(t, int64(11_000_000), r.ToAssetFromBToken(big.NewInt(10_000_000)).Int64())
	// 10_000_000 * 1.200000000001 rounds up.
	require.Equal(t, int64(12_000_001), r.ToAssetFromDToken(big.NewInt(10_000_000)).Int64())
	require.Equal(t, int64(9_999_999), r.ToDTokensFromAssetFloor(big.NewInt(12_000_000)).Int64())

	require.InDelta(t, 1.1, r.ToAssetFromBTokenFloat(big.NewInt(10_000_000)), 1e-9)
	require.InDelta(t, 0.99, r.ToEffectiveAssetFromBTokenFloat(big.NewInt(10_000_000)), 1e-9)
	require.InDelta(t, 1.2000001/0.8, r.ToEffectiveAssetFromDTokenFloat(big.NewInt(10_000_000)), 1e-9)
}

func TestOraclePriceFloat(t *testing.T) {
	t.Parallel()

	o := Oracle{Decimals: 7, Prices: map[string]*big.Int{"xlm": big.NewInt(1_234_567)}}
	p, ok := o.PriceFloat("xlm")
	require.True(t, ok)
	require.InDelta(t, 0.1234567, p, 1e-12)
	_, ok = o.PriceFloat("eth")
	require.False(t, ok)
}

func TestFixedPointHelpers(t *testing.T) {
	t.Parallel()

	require.Equal(t, 12.5, ToFloat(big.NewInt(125_000_000), 7))
	require.Equal(t, int64(125_000_000), FromFloat(12.5, 7).Int64())
	require.Equal(t, int64(1), FromFloat(0.00000019, 7).Int64())
}

func TestHealthFactor(t *testing.T) {
	t.Parallel()

	require.True(t, math.IsInf(PositionsEstimate{TotalEffectiveCollateral: 10}.HealthFactor(), 1))
	require.Equal(t, 2.0, PositionsEstimate{TotalEffectiveCollateral: 10, TotalEffectiveLiabilities: 5}.HealthFactor())
}

func TestAuctionTypeParse(t *testing.T) {
	t.Parallel()

	for _, at := range AuctionTypes {
		parsed, err := ParseAuctionType(at.String())
		require.NoError(t, err)
		require.Equal(t, at, parsed)
	}
	_, err := ParseAuctionType("dutch")
	require.Error(t, err)

	rt, err := FillRequestType(Interest)
	require.NoError(t, err)
	require.Equal(t, FillInterestAuction, rt)
	require.Equal(t, RequestType(8), rt)
}
