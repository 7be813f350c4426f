// Package valuation prices auctions in reference currency terms.
package valuation

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/store"
	"github.com/textileio/auctioneer-bot/ledger"
	"github.com/textileio/auctioneer-bot/pool"
	logging "github.com/textileio/go-log/v2"
)

// BackstopTokenDecimals are the decimals of the backstop token and of the
// reference stable it withdraws into.
const BackstopTokenDecimals = 7

var (
	log = logging.Logger("auctioneer/valuation")

	// ErrPriceUnavailable indicates there's neither a cached nor an oracle
	// price for a traded asset.
	ErrPriceUnavailable = errors.New("price unavailable")
	// ErrUnknownAsset indicates a traded asset is neither a pool reserve
	// nor the backstop token.
	ErrUnknownAsset = errors.New("unknown asset")
)

// AuctionValue is an auction valued in reference currency. Effective
// figures are weighted by the reserve factors and stay zero for interest
// auctions.
type AuctionValue struct {
	EffectiveCollateral  float64 `json:"effective_collateral"`
	EffectiveLiabilities float64 `json:"effective_liabilities"`
	LotValue             float64 `json:"lot_value"`
	BidValue             float64 `json:"bid_value"`
}

// PriceCache returns cached prices.
type PriceCache interface {
	GetPriceEntry(ctx context.Context, assetID string) (store.PriceEntry, error)
}

// Engine values auctions.
type Engine struct {
	gw            ledger.Gateway
	cache         PriceCache
	backstopToken string
}

// New returns a new Engine.
func New(gw ledger.Gateway, cache PriceCache, backstopToken string) *Engine {
	return &Engine{gw: gw, cache: cache, backstopToken: backstopToken}
}

// BackstopToken returns the backstop token id.
func (e *Engine) BackstopToken() string {
	return e.backstopToken
}

// Valuate values an auction of type t.
func (e *Engine) Valuate(ctx context.Context, t pool.AuctionType, data pool.AuctionData) (AuctionValue, error) {
	p, err := e.gw.LoadPool(ctx)
	if err != nil {
		return AuctionValue{}, fmt.Errorf("loading pool: %s", err)
	}
	oracle, err := e.gw.LoadPoolOracle(ctx)
	if err != nil {
		return AuctionValue{}, fmt.Errorf("loading pool oracle: %s", err)
	}

	var v AuctionValue
	for _, aa := range data.Lot {
		if aa.Asset == e.backstopToken {
			lpValue, err := e.backstopValue(ctx, aa.Amount)
			if err != nil {
				return AuctionValue{}, err
			}
			v.LotValue += lpValue
			continue
		}
		reserve, ok := p.Reserve(aa.Asset)
		if !ok {
			return AuctionValue{}, fmt.Errorf("lot asset %s: %w", aa.Asset, ErrUnknownAsset)
		}
		prices, err := e.prices(ctx, oracle, aa.Asset)
		if err != nil {
			return AuctionValue{}, err
		}
		if t == pool.Interest {
			v.LotValue += pool.ToFloat(aa.Amount, reserve.Decimals) * prices.plain()
			continue
		}
		v.EffectiveCollateral += reserve.ToEffectiveAssetFromBTokenFloat(aa.Amount) * prices.effective()
		v.LotValue += reserve.ToAssetFromBTokenFloat(aa.Amount) * prices.plain()
	}

	for _, aa := range data.Bid {
		if aa.Asset == e.backstopToken {
			lpValue, err := e.backstopValue(ctx, aa.Amount)
			if err != nil {
				return AuctionValue{}, err
			}
			v.BidValue += lpValue
			continue
		}
		reserve, ok := p.Reserve(aa.Asset)
		if !ok {
			return AuctionValue{}, fmt.Errorf("bid asset %s: %w", aa.Asset, ErrUnknownAsset)
		}
		prices, err := e.prices(ctx, oracle, aa.Asset)
		if err != nil {
			return AuctionValue{}, err
		}
		if t == pool.Interest {
			v.BidValue += pool.ToFloat(aa.Amount, reserve.Decimals) * prices.plain()
			continue
		}
		v.EffectiveLiabilities += reserve.ToEffectiveAssetFromDTokenFloat(aa.Amount) * prices.effective()
		v.BidValue += reserve.ToAssetFromDTokenFloat(aa.Amount) * prices.plain()
	}
	return v, nil
}

// backstopValue values backstop tokens by simulating a single sided
// withdrawal, falling back to the cached token price.
func (e *Engine) backstopValue(ctx context.Context, amount *big.Int) (float64, error) {
	out, err := e.gw.SimLpToReferenceStable(ctx, amount)
	if err == nil && out != nil {
		return pool.ToFloat(out, BackstopTokenDecimals), nil
	}
	log.Debugf("simulating backstop withdrawal of %s: %v", amount, err)
	cached, ok, cerr := e.cached(ctx, e.backstopToken)
	if cerr != nil {
		return 0, cerr
	}
	if !ok {
		return 0, fmt.Errorf("backstop token %s: %w", e.backstopToken, ErrPriceUnavailable)
	}
	return pool.ToFloat(amount, BackstopTokenDecimals) * cached, nil
}

type assetPrices struct {
	oracle, cached       float64
	hasOracle, hasCached bool
}

// effective prefers the oracle price, as the pool does for health factors.
func (p assetPrices) effective() float64 {
	if p.hasOracle {
		return p.oracle
	}
	return p.cached
}

// plain prefers the cached market price.
func (p assetPrices) plain() float64 {
	if p.hasCached {
		return p.cached
	}
	return p.oracle
}

func (e *Engine) prices(ctx context.Context, oracle pool.Oracle, asset string) (assetPrices, error) {
	var p assetPrices
	p.oracle, p.hasOracle = oracle.PriceFloat(asset)
	cached, ok, err := e.cached(ctx, asset)
	if err != nil {
		return assetPrices{}, err
	}
	p.cached, p.hasCached = cached, ok
	if !p.hasOracle && !p.hasCached {
		return assetPrices{}, fmt.Errorf("asset %s: %w", asset, ErrPriceUnavailable)
	}
	return p, nil
}

func (e *Engine) cached(ctx context.Context, asset string) (float64, bool, error) {
	pe, err := e.cache.GetPriceEntry(ctx, asset)
	if errors.Is(err, store.ErrNotFound) {
		return 0, false, nil
	} else if err != nil {
		return 0, false, fmt.Errorf("getting cached price of %s: %s", asset, err)
	}
	return pe.Price, true, nil
}
