package service

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/bidder"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/collector"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/filler"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/worker"
	"github.com/textileio/auctioneer-bot/ledger/fakeledger"
	"github.com/textileio/auctioneer-bot/msgbroker/chanbroker"
	"github.com/textileio/auctioneer-bot/pool"
)

func testConfig(t *testing.T) Config {
	dir := t.TempDir()
	col := collector.DefaultConfig
	col.PollInterval = time.Hour
	col.ScanInterval = 1
	col.PriceInterval = 1
	b := bidder.DefaultConfig
	b.MinRetryInterval = time.Millisecond
	w := worker.DefaultConfig
	w.MinRetryInterval = time.Millisecond
	return Config{
		StoreBackend:     StoreBadger,
		BadgerPath:       filepath.Join(dir, "store"),
		BackstopToken:    "lp",
		BackstopID:       "backstop",
		NativeAsset:      "xlm",
		NativeFeeReserve: filler.DefaultNativeFeeReserve,
		Fillers: filler.Fillers{{
			ID:              "filler1",
			Name:            "one",
			MinProfitPct:    0.1,
			MinHealthFactor: 1.5,
			SupportedBid:    []string{"usdc", "xlm"},
			SupportedLot:    []string{"usdc", "xlm"},
		}},
		Collector:      col,
		Bidder:         b,
		Worker:         w,
		DeadLetterPath: filepath.Join(dir, "deadletters.jsonl"),
	}
}

func reserve(asset string) pool.Reserve {
	return pool.Reserve{
		AssetID:  asset,
		Decimals: 7,
		CFactor:  9_000_000,
		LFactor:  9_000_000,
		BRate:    big.NewInt(1_000_000_000_000),
		DRate:    big.NewInt(1_000_000_000_000),
	}
}

func amounts(asset string, v int64) pool.AssetAmounts {
	var a pool.AssetAmounts
	a.Set(asset, big.NewInt(v))
	return a
}

func TestService(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l := fakeledger.New()
	l.AddReserve(reserve("usdc"), 1)
	l.AddReserve(reserve("xlm"), 0.1)
	l.SetBackstopTokenPrice(0.25)
	l.SetLatest(10)

	mb := chanbroker.New(0)
	s, err := New(mb, l, testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mb.Close())
		require.NoError(t, s.Close())
	})

	last, err := s.Collect(ctx)
	require.NoError(t, err)
	require.Equal(t, uint32(10), last)

	data := pool.AuctionData{Block: 11, Bid: amounts("usdc", 100_0000000), Lot: amounts("xlm", 1500_0000000)}
	l.SetAuction("u1", pool.Liquidation, data)
	l.SetPositions("u1",
		pool.PositionsEstimate{TotalEffectiveCollateral: 90, TotalEffectiveLiabilities: 100},
		pool.Positions{Liabilities: amounts("usdc", 100_0000000), Collateral: amounts("xlm", 1000_0000000)})
	l.AddEvents(11,
		pool.PositionChangeEvent{
			EventMeta: pool.EventMeta{Ledger: 11, TxHash: "a"},
			Action:    pool.ActionBorrow,
			User:      "u1",
			Asset:     "usdc",
			Amount:    big.NewInt(1),
		},
		pool.NewLiquidationAuctionEvent{
			EventMeta: pool.EventMeta{Ledger: 11, TxHash: "b"},
			User:      "u1",
			Auction:   data,
		})
	l.SetLatest(11)

	last, err = s.Collect(ctx)
	require.NoError(t, err)
	require.Equal(t, uint32(11), last)

	require.Eventually(t, func() bool {
		auctions, err := s.ListAuctions(ctx)
		return err == nil && len(auctions) == 1 && auctions[0].FillerID == "filler1"
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		users, err := s.ListUsersUnderHealthFactor(ctx, 1)
		return err == nil && len(users) == 1 && users[0].UserID == "u1"
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		p, err := s.store.GetPriceEntry(ctx, "lp")
		return err == nil && p.Price == 0.25
	}, 5*time.Second, 10*time.Millisecond)

	recs, err := s.DeadLetters()
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"unknown store", func(c *Config) { c.StoreBackend = "mongo" }, false},
		{"missing badger path", func(c *Config) { c.BadgerPath = "" }, false},
		{"missing postgres uri", func(c *Config) { c.StoreBackend = StorePostgres }, false},
		{"missing backstop token", func(c *Config) { c.BackstopToken = "" }, false},
		{"missing native asset", func(c *Config) { c.NativeAsset = "" }, false},
		{"no fillers", func(c *Config) { c.Fillers = nil }, false},
		{"negative profit", func(c *Config) {
			c.Profits = []filler.ProfitRule{{ProfitPct: -1}}
		}, false},
		{"negative retries", func(c *Config) { c.Bidder.MaxRetries = -1 }, false},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			conf := testConfig(t)
			tc.modify(&conf)
			err := validateConfig(conf)
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}
