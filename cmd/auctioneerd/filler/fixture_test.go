package filler

import (
	"context"
	"math/big"

	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/store"
	"github.com/textileio/auctioneer-bot/ledger/fakeledger"
	"github.com/textileio/auctioneer-bot/pool"
)

const backstop = "blnd-usdc-lp"

type priceMap map[string]float64

func (m priceMap) GetPriceEntry(_ context.Context, asset string) (store.PriceEntry, error) {
	p, ok := m[asset]
	if !ok {
		return store.PriceEntry{}, store.ErrNotFound
	}
	return store.PriceEntry{AssetID: asset, Price: p}, nil
}

// newLedger returns a pool where usdc liabilities weigh double.
func newLedger() *fakeledger.Ledger {
	l := fakeledger.New()
	one := big.NewInt(1_000_000_000_000)
	l.AddReserve(pool.Reserve{
		AssetID: "usdc", Decimals: 7, CFactor: 10_000_000, LFactor: 5_000_000, BRate: one, DRate: one,
	}, 1)
	l.AddReserve(pool.Reserve{
		AssetID: "xlm", Decimals: 7, CFactor: 10_000_000, LFactor: 10_000_000, BRate: one, DRate: one,
	}, 0.1)
	l.SetLpRate(big.NewRat(1, 4))
	return l
}
