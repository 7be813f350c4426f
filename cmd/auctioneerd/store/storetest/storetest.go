// Package storetest holds the behavior every store.Store implementation
// must satisfy.
package storetest

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/store"
	"github.com/textileio/auctioneer-bot/pool"
)

// Factory returns a fresh empty store.
type Factory func(t *testing.T) store.Store

// Run runs the store test suite.
func Run(t *testing.T, newStore Factory) {
	tests := map[string]func(*testing.T, store.Store){
		"AuctionEntries": testAuctionEntries,
		"UserEntries":    testUserEntries,
		"Prices":         testPrices,
		"FilledAuctions": testFilledAuctions,
		"Status":         testStatus,
	}
	for name, f := range tests {
		f := f
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			s := newStore(t)
			t.Cleanup(func() { require.NoError(t, s.Close()) })
			f(t, s)
		})
	}
}

func testAuctionEntries(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.GetAuctionEntry(ctx, "u1", pool.Liquidation)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, s.DeleteAuctionEntry(ctx, "u1", pool.Liquidation))

	e := store.AuctionEntry{UserID: "u1", AuctionType: pool.Liquidation, FillerID: "f1", StartBlock: 100, UpdatedAt: 100}
	require.NoError(t, s.SetAuctionEntry(ctx, e))
	require.NoError(t, s.SetAuctionEntry(ctx, store.AuctionEntry{
		UserID: "u1", AuctionType: pool.Interest, FillerID: "f2", StartBlock: 101, UpdatedAt: 101,
	}))

	got, err := s.GetAuctionEntry(ctx, "u1", pool.Liquidation)
	require.NoError(t, err)
	require.Equal(t, e, got)
	require.False(t, got.Scheduled())

	e.FillBlock = 250
	e.UpdatedAt = 110
	require.NoError(t, s.SetAuctionEntry(ctx, e))
	got, err = s.GetAuctionEntry(ctx, "u1", pool.Liquidation)
	require.NoError(t, err)
	require.Equal(t, uint32(250), got.FillBlock)
	require.True(t, got.Scheduled())

	all, err := s.ListAuctionEntries(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	require.NoError(t, s.DeleteAuctionEntry(ctx, "u1", pool.Liquidation))
	_, err = s.GetAuctionEntry(ctx, "u1", pool.Liquidation)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetAuctionEntry(ctx, "u1", pool.Interest)
	require.NoError(t, err)
}

func testUserEntries(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.GetUserEntry(ctx, "u1")
	require.ErrorIs(t, err, store.ErrNotFound)

	for i, hf := range []float64{0.95, 1.01, 1.5} {
		require.NoError(t, s.SetUserEntry(ctx, store.UserEntry{
			UserID:       fmt.Sprintf("u%d", i+1),
			HealthFactor: hf,
			Collateral:   pool.AssetAmounts{{Asset: "xlm", Amount: big.NewInt(int64(1000 * (i + 1)))}},
			Liabilities:  pool.AssetAmounts{{Asset: "usdc", Amount: big.NewInt(500)}},
			UpdatedAt:    uint32(10 + i),
		}))
	}

	got, err := s.GetUserEntry(ctx, "u2")
	require.NoError(t, err)
	require.Equal(t, 1.01, got.HealthFactor)
	coll, ok := got.Collateral.Get("xlm")
	require.True(t, ok)
	require.Equal(t, int64(2000), coll.Int64())

	under, err := s.ListUserEntriesUnderHealthFactor(ctx, 1.05)
	require.NoError(t, err)
	require.Len(t, under, 2)

	require.NoError(t, s.DeleteUserEntry(ctx, "u1"))
	require.NoError(t, s.DeleteUserEntry(ctx, "u1"))
	all, err := s.ListUserEntries(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func testPrices(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.GetPriceEntry(ctx, "xlm")
	require.ErrorIs(t, err, store.ErrNotFound)

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.SetPriceEntries(ctx, []store.PriceEntry{
		{AssetID: "xlm", Price: 0.1, Timestamp: now},
		{AssetID: "usdc", Price: 1, Timestamp: now},
	}))
	require.NoError(t, s.SetPriceEntries(ctx, []store.PriceEntry{{AssetID: "xlm", Price: 0.12, Timestamp: now}}))
	require.NoError(t, s.SetPriceEntries(ctx, nil))

	p, err := s.GetPriceEntry(ctx, "xlm")
	require.NoError(t, err)
	require.Equal(t, 0.12, p.Price)
	require.True(t, now.Equal(p.Timestamp))
}

func testFilledAuctions(t *testing.T, s store.Store) {
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		e, err := s.SaveFilledAuction(ctx, store.FilledAuctionEntry{
			TxHash:      fmt.Sprintf("tx%d", i),
			Filler:      "f1",
			UserID:      "u1",
			AuctionType: pool.Liquidation,
			Bid:         pool.AssetAmounts{{Asset: "usdc", Amount: big.NewInt(100)}},
			BidTotal:    10,
			Lot:         pool.AssetAmounts{{Asset: "xlm", Amount: big.NewInt(200)}},
			LotTotal:    12,
			EstProfit:   2,
			FillBlock:   uint32(300 + i),
			Timestamp:   time.Now().UTC(),
		})
		require.NoError(t, err)
		require.NotEmpty(t, e.ID)
	}
	_, err := s.SaveFilledAuction(ctx, store.FilledAuctionEntry{TxHash: "tx0", Timestamp: time.Now().UTC()})
	require.NoError(t, err)

	latest, err := s.ListFilledAuctions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	require.Equal(t, "tx2", latest[0].TxHash)
	require.Equal(t, "tx1", latest[1].TxHash)
	require.Equal(t, 12.0, latest[0].LotTotal)
	lot, ok := latest[0].Lot.Get("xlm")
	require.True(t, ok)
	require.Equal(t, int64(200), lot.Int64())

	all, err := s.ListFilledAuctions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func testStatus(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.GetStatus(ctx, store.StatusLastLedger)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, s.SetStatus(ctx, store.StatusLastLedger, 10))
	require.NoError(t, s.SetStatus(ctx, store.StatusLastLedger, 11))
	v, err := s.GetStatus(ctx, store.StatusLastLedger)
	require.NoError(t, err)
	require.Equal(t, uint32(11), v)
}
