package rpcgateway

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"
	"github.com/textileio/auctioneer-bot/ledger"
	"github.com/textileio/auctioneer-bot/pool"
)

type codeError struct {
	code int
}

func (e codeError) Error() string  { return "contract error" }
func (e codeError) ErrorCode() int { return e.code }

type fakeLedger struct {
	lk        sync.Mutex
	flaky     int
	submitted [][]pool.Request
}

func (f *fakeLedger) LatestLedger() (uint32, error) {
	f.lk.Lock()
	defer f.lk.Unlock()
	if f.flaky > 0 {
		f.flaky--
		return 0, errors.New("temporarily unavailable")
	}
	return 1234, nil
}

func (f *fakeLedger) LoadPool() pool.Pool {
	return pool.Pool{ID: "pool", Reserves: []pool.Reserve{{
		AssetID: "usdc", Decimals: 7, CFactor: 9_500_000, LFactor: 9_500_000,
		BRate: big.NewInt(1_000_000_000_000), DRate: big.NewInt(1_000_000_000_000),
	}}}
}

func (f *fakeLedger) LoadAuction(user string, t pool.AuctionType) (*pool.AuctionData, error) {
	if user == "missing" {
		return nil, nil
	}
	if user == "gone" {
		return nil, codeError{code: CodeAuctionNotFound}
	}
	return &pool.AuctionData{
		Block: 10,
		Bid:   pool.AssetAmounts{{Asset: "usdc", Amount: big.NewInt(int64(t) + 1)}},
	}, nil
}

func (f *fakeLedger) LoadUserPositionEstimate(user string) PositionsResult {
	return PositionsResult{
		Estimate: pool.PositionsEstimate{TotalEffectiveCollateral: 10, TotalEffectiveLiabilities: 5},
		Positions: pool.Positions{
			Collateral: pool.AssetAmounts{{Asset: "usdc", Amount: big.NewInt(100)}},
		},
	}
}

func (f *fakeLedger) SimBalance(asset, user string) *big.Int {
	if user == "empty" {
		return nil
	}
	return big.NewInt(42)
}

func (f *fakeLedger) SimLpToReferenceStable(amount *big.Int, stable string) (*big.Int, error) {
	if stable != "usdc" {
		return nil, errors.New("unknown stable")
	}
	return new(big.Int).Mul(amount, big.NewInt(2)), nil
}

func (f *fakeLedger) SubmitTransaction(requests []pool.Request, signer string) TxResult {
	f.lk.Lock()
	defer f.lk.Unlock()
	f.submitted = append(f.submitted, requests)
	return TxResult{TxHash: "tx-" + signer}
}

func (f *fakeLedger) NewLiquidationAuction(user string, percent uint32, signer string) (TxResult, error) {
	if percent > 50 {
		return TxResult{}, codeError{code: CodeLiquidationTooLarge}
	}
	if percent < 10 {
		return TxResult{}, codeError{code: CodeLiquidationTooSmall}
	}
	return TxResult{TxHash: "liq"}, nil
}

func (f *fakeLedger) PoolEvents(from, to uint32) []pool.EventRecord {
	return []pool.EventRecord{
		{Kind: pool.KindDeleteLiquidationAuction, Ledger: from, User: "u1"},
		{Kind: 99, Ledger: from},
		{Kind: pool.KindFillAuction, Ledger: to, User: "u2", FillPercent: 100},
	}
}

func newTestClient(t *testing.T, f *fakeLedger, opts ...Option) *Client {
	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName("ledger", f))
	opts = append([]Option{WithReadRetries(2, time.Millisecond)}, opts...)
	c, err := New(rpc.DialInProc(srv), opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, c.Close())
		srv.Stop()
	})
	return c
}

func TestReads(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newTestClient(t, &fakeLedger{}, WithReferenceStable("usdc"))

	p, err := c.LoadPool(ctx)
	require.NoError(t, err)
	r, ok := p.Reserve("usdc")
	require.True(t, ok)
	require.Equal(t, uint32(9_500_000), r.CFactor)

	a, err := c.LoadAuction(ctx, "u1", pool.Interest)
	require.NoError(t, err)
	v, ok := a.Bid.Get("usdc")
	require.True(t, ok)
	require.Equal(t, int64(3), v.Int64())

	_, err = c.LoadAuction(ctx, "missing", pool.Liquidation)
	require.ErrorIs(t, err, ledger.ErrAuctionNotFound)
	_, err = c.LoadAuction(ctx, "gone", pool.Liquidation)
	require.ErrorIs(t, err, ledger.ErrAuctionNotFound)

	est, pos, err := c.LoadUserPositionEstimate(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 2.0, est.HealthFactor())
	require.True(t, pos.Collateral.Has("usdc"))

	bal, err := c.SimBalance(ctx, "usdc", "u1")
	require.NoError(t, err)
	require.Equal(t, int64(42), bal.Int64())
	bal, err = c.SimBalance(ctx, "usdc", "empty")
	require.NoError(t, err)
	require.Equal(t, int64(0), bal.Int64())

	lp, err := c.SimLpToReferenceStable(ctx, big.NewInt(21))
	require.NoError(t, err)
	require.Equal(t, int64(42), lp.Int64())
}

func TestReferenceStable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, err := New(nil, WithReferenceStable(""))
	require.Error(t, err)

	c := newTestClient(t, &fakeLedger{})
	_, err = c.SimLpToReferenceStable(ctx, big.NewInt(21))
	require.Error(t, err)

	c = newTestClient(t, &fakeLedger{}, WithReferenceStable("eurc"))
	_, err = c.SimLpToReferenceStable(ctx, big.NewInt(21))
	require.Error(t, err)
}

func TestReadRetries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c := newTestClient(t, &fakeLedger{flaky: 2})
	l, err := c.LatestLedger(ctx)
	require.NoError(t, err)
	require.Equal(t, uint32(1234), l)

	c = newTestClient(t, &fakeLedger{flaky: 3})
	_, err = c.LatestLedger(ctx)
	require.Error(t, err)
}

func TestSubmits(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := &fakeLedger{}
	c := newTestClient(t, f)

	reqs := []pool.Request{{RequestType: pool.FillUserLiquidationAuction, Address: "u1", Amount: big.NewInt(100)}}
	hash, err := c.SubmitTransaction(ctx, reqs, "filler1")
	require.NoError(t, err)
	require.Equal(t, "tx-filler1", hash)
	require.Len(t, f.submitted, 1)
	require.Equal(t, pool.FillUserLiquidationAuction, f.submitted[0][0].RequestType)

	_, err = c.NewLiquidationAuction(ctx, "u1", 60, "filler1")
	require.ErrorIs(t, err, ledger.ErrLiquidationTooLarge)
	_, err = c.NewLiquidationAuction(ctx, "u1", 5, "filler1")
	require.ErrorIs(t, err, ledger.ErrLiquidationTooSmall)
	hash, err = c.NewLiquidationAuction(ctx, "u1", 30, "filler1")
	require.NoError(t, err)
	require.Equal(t, "liq", hash)
}

func TestPoolEventsSkipsMalformed(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, &fakeLedger{})

	events, err := c.PoolEvents(context.Background(), 5, 6)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, pool.KindDeleteLiquidationAuction, events[0].Kind())
	require.Equal(t, uint32(6), events[1].Meta().Ledger)
}
