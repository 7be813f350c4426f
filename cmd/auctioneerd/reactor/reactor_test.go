package reactor

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/require"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/filler"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/notifier"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/store"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/store/dsstore"
	"github.com/textileio/auctioneer-bot/deadletter"
	"github.com/textileio/auctioneer-bot/ledger/fakeledger"
	"github.com/textileio/auctioneer-bot/logging"
	"github.com/textileio/auctioneer-bot/pool"
	"github.com/textileio/auctioneer-bot/sempool"
	golog "github.com/textileio/go-log/v2"
)

func init() {
	if err := logging.SetLogLevels(map[string]golog.LogLevel{
		"auctioneer/reactor": golog.LevelDebug,
	}); err != nil {
		panic(err)
	}
}

type env struct {
	reactor    *Reactor
	ledger     *fakeledger.Ledger
	store      store.Store
	deadLetter *deadletter.Log
	notifier   *notifier.Recorder
	sem        *sempool.SemaphorePool
}

func newEnv(t *testing.T) env {
	l := fakeledger.New()
	st, err := dsstore.New(dssync.MutexWrap(ds.NewMapDatastore()))
	require.NoError(t, err)
	dl := deadletter.New(filepath.Join(t.TempDir(), "deadletters.jsonl"))
	n := &notifier.Recorder{}
	fillers := filler.Fillers{{
		ID:              "filler1",
		Name:            "one",
		MinProfitPct:    0.1,
		MinHealthFactor: 1.5,
		SupportedBid:    []string{"usdc", "xlm"},
		SupportedLot:    []string{"usdc", "xlm"},
	}}
	sem := sempool.NewSemaphorePool(1)
	r := New(st, l, fillers, sem, dl, n)
	r.retryDelay = time.Millisecond
	t.Cleanup(func() {
		sem.Stop()
		require.NoError(t, dl.Close())
		require.NoError(t, st.Close())
	})
	return env{reactor: r, ledger: l, store: st, deadLetter: dl, notifier: n, sem: sem}
}

func amounts(asset string, v int64) pool.AssetAmounts {
	var a pool.AssetAmounts
	a.Set(asset, big.NewInt(v))
	return a
}

func borrower() (pool.PositionsEstimate, pool.Positions) {
	est := pool.PositionsEstimate{TotalEffectiveCollateral: 1000, TotalEffectiveLiabilities: 900}
	return est, pool.Positions{Liabilities: amounts("usdc", 900), Collateral: amounts("xlm", 1000)}
}

func TestPositionChange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)

	est, positions := borrower()
	e.ledger.SetPositions("u1", est, positions)
	ev := pool.PositionChangeEvent{
		EventMeta: pool.EventMeta{Ledger: 10},
		Action:    pool.ActionBorrow,
		User:      "u1",
		Asset:     "usdc",
		Amount:    big.NewInt(900),
	}
	require.NoError(t, e.reactor.OnPoolEvent(ctx, ev))

	u, err := e.store.GetUserEntry(ctx, "u1")
	require.NoError(t, err)
	require.InDelta(t, 1000.0/900.0, u.HealthFactor, 1e-9)
	require.Equal(t, uint32(10), u.UpdatedAt)

	// Repaying everything untracks the user.
	e.ledger.SetPositions("u1", pool.PositionsEstimate{}, pool.Positions{Collateral: amounts("xlm", 1000)})
	ev.Action = pool.ActionRepay
	ev.Ledger = 11
	require.NoError(t, e.reactor.OnPoolEvent(ctx, ev))
	_, err = e.store.GetUserEntry(ctx, "u1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestNewAuction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)

	ev := pool.NewLiquidationAuctionEvent{
		EventMeta: pool.EventMeta{Ledger: 20},
		User:      "u1",
		Auction:   pool.AuctionData{Block: 19, Bid: amounts("usdc", 10), Lot: amounts("xlm", 100)},
	}
	require.NoError(t, e.reactor.OnPoolEvent(ctx, ev))

	a, err := e.store.GetAuctionEntry(ctx, "u1", pool.Liquidation)
	require.NoError(t, err)
	require.Equal(t, "filler1", a.FillerID)
	require.Equal(t, uint32(19), a.StartBlock)
	require.False(t, a.Scheduled())

	// A replayed event keeps the existing schedule.
	a.FillBlock = 300
	require.NoError(t, e.store.SetAuctionEntry(ctx, a))
	require.NoError(t, e.reactor.OnPoolEvent(ctx, ev))
	a, err = e.store.GetAuctionEntry(ctx, "u1", pool.Liquidation)
	require.NoError(t, err)
	require.Equal(t, uint32(300), a.FillBlock)
}

func TestNewAuctionUnsupported(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)

	ev := pool.NewAuctionEvent{
		EventMeta:   pool.EventMeta{Ledger: 20},
		AuctionType: pool.BadDebt,
		User:        "backstop",
		Auction:     pool.AuctionData{Block: 20, Bid: amounts("eurc", 10), Lot: amounts("blnd", 100)},
	}
	require.NoError(t, e.reactor.OnPoolEvent(ctx, ev))
	_, err := e.store.GetAuctionEntry(ctx, "backstop", pool.BadDebt)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteLiquidationAuction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)

	require.NoError(t, e.store.SetAuctionEntry(ctx, store.AuctionEntry{
		UserID: "u1", AuctionType: pool.Liquidation, FillerID: "filler1", StartBlock: 5,
	}))
	ev := pool.DeleteLiquidationAuctionEvent{EventMeta: pool.EventMeta{Ledger: 30}, User: "u1"}
	require.NoError(t, e.reactor.OnPoolEvent(ctx, ev))
	_, err := e.store.GetAuctionEntry(ctx, "u1", pool.Liquidation)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestAuctionEventsWaitForUserLock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)

	require.NoError(t, e.store.SetAuctionEntry(ctx, store.AuctionEntry{
		UserID: "u1", AuctionType: pool.Liquidation, FillerID: "filler1", StartBlock: 5,
	}))
	unlock1 := e.sem.Lock(sempool.UserKey("u1"))
	unlock2 := e.sem.Lock(sempool.UserKey("u2"))

	errs := make(chan error, 2)
	go func() {
		errs <- e.reactor.OnPoolEvent(ctx, pool.DeleteLiquidationAuctionEvent{EventMeta: pool.EventMeta{Ledger: 30}, User: "u1"})
	}()
	go func() {
		errs <- e.reactor.OnPoolEvent(ctx, pool.NewAuctionEvent{
			EventMeta:   pool.EventMeta{Ledger: 30},
			AuctionType: pool.Interest,
			User:        "u2",
			Auction:     pool.AuctionData{Block: 30, Bid: amounts("usdc", 10), Lot: amounts("xlm", 100)},
		})
	}()

	time.Sleep(100 * time.Millisecond)
	_, err := e.store.GetAuctionEntry(ctx, "u1", pool.Liquidation)
	require.NoError(t, err)
	_, err = e.store.GetAuctionEntry(ctx, "u2", pool.Interest)
	require.ErrorIs(t, err, store.ErrNotFound)

	unlock1()
	unlock2()
	for i := 0; i < 2; i++ {
		require.NoError(t, <-errs)
	}
	_, err = e.store.GetAuctionEntry(ctx, "u1", pool.Liquidation)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = e.store.GetAuctionEntry(ctx, "u2", pool.Interest)
	require.NoError(t, err)
}

func TestFillAuction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)

	est, positions := borrower()
	e.ledger.SetPositions("u1", est, positions)
	require.NoError(t, e.store.SetAuctionEntry(ctx, store.AuctionEntry{
		UserID: "u1", AuctionType: pool.Liquidation, FillerID: "filler1", StartBlock: 5, FillBlock: 100,
	}))

	partial := pool.FillAuctionEvent{
		EventMeta:   pool.EventMeta{Ledger: 40},
		AuctionType: pool.Liquidation,
		User:        "u1",
		Filler:      "someone",
		FillPercent: 50,
	}
	require.NoError(t, e.reactor.OnPoolEvent(ctx, partial))
	_, err := e.store.GetAuctionEntry(ctx, "u1", pool.Liquidation)
	require.NoError(t, err)

	full := partial
	full.FillPercent = 100
	full.Ledger = 41
	for i := 0; i < 2; i++ {
		require.NoError(t, e.reactor.OnPoolEvent(ctx, full))
	}
	auctions, err := e.store.ListAuctionEntries(ctx)
	require.NoError(t, err)
	require.Empty(t, auctions)
	users, err := e.store.ListUserEntries(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, uint32(41), users[0].UpdatedAt)

	recs, err := e.deadLetter.Records()
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestDeadLetter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)

	boom := errors.New("rpc down")
	e.ledger.FailLoads(boom, boom, boom)
	ev := pool.PositionChangeEvent{
		EventMeta: pool.EventMeta{Ledger: 50, TxHash: "abc"},
		Action:    pool.ActionSupply,
		User:      "u1",
		Asset:     "xlm",
		Amount:    big.NewInt(1),
	}
	require.NoError(t, e.reactor.OnPoolEvent(ctx, ev))

	recs, err := e.deadLetter.Records()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "reactor", recs[0].Source)
	require.Equal(t, pool.KindPositionChange.String(), recs[0].Kind)
	require.Equal(t, uint32(50), recs[0].Ledger)
	require.Contains(t, recs[0].Error, "rpc down")
	require.Len(t, e.notifier.Notifications(notifier.KindDeadLetter), 1)
}

func TestRecoversBeforeDeadLetter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)

	est, positions := borrower()
	e.ledger.SetPositions("u1", est, positions)
	boom := errors.New("rpc down")
	e.ledger.FailLoads(boom, boom)
	ev := pool.PositionChangeEvent{EventMeta: pool.EventMeta{Ledger: 60}, User: "u1"}
	require.NoError(t, e.reactor.OnPoolEvent(ctx, ev))

	_, err := e.store.GetUserEntry(ctx, "u1")
	require.NoError(t, err)
	recs, err := e.deadLetter.Records()
	require.NoError(t, err)
	require.Empty(t, recs)
}
