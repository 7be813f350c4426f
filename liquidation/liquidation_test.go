package liquidation

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/textileio/auctioneer-bot/pool"
)

func TestPercent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		e    pool.PositionsEstimate
		want uint32
	}{
		{
			name: "partial",
			e: pool.PositionsEstimate{
				TotalEffectiveCollateral:  1000,
				TotalEffectiveLiabilities: 1100,
				TotalBorrowed:             1500,
				TotalSupplied:             2000,
			},
			want: 62,
		},
		{
			name: "clamped to 100",
			e: pool.PositionsEstimate{
				TotalEffectiveCollateral:  2000,
				TotalEffectiveLiabilities: 2500,
				TotalBorrowed:             2600,
				TotalSupplied:             2100,
			},
			want: 100,
		},
		{
			name: "healthy",
			e: pool.PositionsEstimate{
				TotalEffectiveCollateral:  2000,
				TotalEffectiveLiabilities: 1000,
				TotalBorrowed:             1100,
				TotalSupplied:             2500,
			},
			want: 0,
		},
		{
			name: "target unreachable",
			e: pool.PositionsEstimate{
				TotalEffectiveCollateral:  1500,
				TotalEffectiveLiabilities: 2000,
				TotalBorrowed:             2000,
				TotalSupplied:             1000,
			},
			want: 100,
		},
		{
			name: "healthy with unreachable target",
			e: pool.PositionsEstimate{
				TotalEffectiveCollateral:  3000,
				TotalEffectiveLiabilities: 2000,
				TotalBorrowed:             2000,
				TotalSupplied:             2000,
			},
			want: 0,
		},
		{
			name: "no supply",
			e: pool.PositionsEstimate{
				TotalEffectiveLiabilities: 1000,
				TotalBorrowed:             1100,
			},
			want: 100,
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Percent(tc.e))
		})
	}
}

func TestIsLiquidatable(t *testing.T) {
	t.Parallel()

	require.True(t, IsLiquidatable(pool.PositionsEstimate{TotalEffectiveCollateral: 98, TotalEffectiveLiabilities: 100}))
	require.False(t, IsLiquidatable(pool.PositionsEstimate{TotalEffectiveCollateral: 99, TotalEffectiveLiabilities: 100}))
	require.False(t, IsLiquidatable(pool.PositionsEstimate{TotalEffectiveCollateral: 10}))
	require.True(t, IsLiquidatable(pool.PositionsEstimate{TotalEffectiveLiabilities: 100}))
}

func TestIsBadDebt(t *testing.T) {
	t.Parallel()

	require.True(t, IsBadDebt(pool.PositionsEstimate{TotalEffectiveLiabilities: 100}))
	require.False(t, IsBadDebt(pool.PositionsEstimate{TotalEffectiveCollateral: 1, TotalEffectiveLiabilities: 100}))
	require.False(t, IsBadDebt(pool.PositionsEstimate{}))
}
