package filler

import (
	"context"
	"fmt"
	"math"
	"math/big"

	"github.com/dustin/go-humanize"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/store"
	"github.com/textileio/auctioneer-bot/ledger"
	"github.com/textileio/auctioneer-bot/pool"
	logging "github.com/textileio/go-log/v2"
)

// DefaultNativeFeeReserve is the native asset balance kept for fees.
const DefaultNativeFeeReserve = 500_000_000

var log = logging.Logger("auctioneer/filler")

// RequestBuilder builds the requests that fill an auction and settle the
// filler's resulting positions.
type RequestBuilder struct {
	gw          ledger.Gateway
	nativeAsset string
	feeReserve  *big.Int
}

// NewRequestBuilder returns a new RequestBuilder. feeReserve of the native
// asset is never used to repay.
func NewRequestBuilder(gw ledger.Gateway, nativeAsset string, feeReserve int64) *RequestBuilder {
	return &RequestBuilder{gw: gw, nativeAsset: nativeAsset, feeReserve: big.NewInt(feeReserve)}
}

// Build returns the requests for f filling fillPercent of the auction in e,
// where scaled is the auction scaled at the fill block.
func (b *RequestBuilder) Build(
	ctx context.Context,
	f Filler,
	e store.AuctionEntry,
	fillPercent uint32,
	scaled pool.AuctionData,
) ([]pool.Request, error) {
	rt, err := pool.FillRequestType(e.AuctionType)
	if err != nil {
		return nil, err
	}
	requests := []pool.Request{{
		RequestType: rt,
		Address:     e.UserID,
		Amount:      big.NewInt(int64(fillPercent)),
	}}
	if e.AuctionType == pool.Interest {
		return requests, nil
	}

	p, err := b.gw.LoadPool(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading pool: %s", err)
	}
	oracle, err := b.gw.LoadPoolOracle(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading pool oracle: %s", err)
	}
	est, positions, err := b.gw.LoadUserPositionEstimate(ctx, f.ID)
	if err != nil {
		return nil, fmt.Errorf("loading filler positions: %s", err)
	}
	coll, liab := est.TotalEffectiveCollateral, est.TotalEffectiveLiabilities

	for _, aa := range scaled.Bid {
		reserve, ok := p.Reserve(aa.Asset)
		if !ok {
			continue
		}
		price, ok := oracle.PriceFloat(aa.Asset)
		if !ok {
			continue
		}
		balance, err := b.gw.SimBalance(ctx, aa.Asset, f.ID)
		if err != nil {
			return nil, fmt.Errorf("getting filler balance of %s: %s", aa.Asset, err)
		}
		if aa.Asset == b.nativeAsset {
			balance = new(big.Int).Sub(balance, b.feeReserve)
		}
		if balance.Sign() <= 0 {
			liab += reserve.ToEffectiveAssetFromDTokenFloat(aa.Amount) * price
			continue
		}
		repay := reserve.ToAssetFromDToken(aa.Amount)
		if repay.Cmp(balance) > 0 {
			repay = balance
		}
		requests = append(requests, pool.Request{RequestType: pool.Repay, Address: aa.Asset, Amount: repay})
		left := new(big.Int).Sub(aa.Amount, reserve.ToDTokensFromAssetFloor(repay))
		if left.Sign() > 0 {
			liab += reserve.ToEffectiveAssetFromDTokenFloat(left) * price
		}
	}

	for _, aa := range scaled.Lot {
		reserve, ok := p.Reserve(aa.Asset)
		if !ok {
			continue
		}
		price, ok := oracle.PriceFloat(aa.Asset)
		if !ok {
			continue
		}
		added := reserve.ToEffectiveAssetFromBTokenFloat(aa.Amount) * price
		if positions.Collateral.Has(aa.Asset) {
			coll += added
			continue
		}
		if healthFactor(coll, liab) > f.MinHealthFactor {
			requests = append(requests, pool.Request{
				RequestType: pool.WithdrawCollateral,
				Address:     aa.Asset,
				Amount:      new(big.Int).Set(pool.MaxAmount),
			})
			continue
		}
		coll += added
	}
	log.Debugf("built %d requests for filler %s on %s auction of %s, projected health factor %s",
		len(requests), f.ID, e.AuctionType, e.UserID, formatValue(healthFactor(coll, liab)))
	return requests, nil
}

// healthFactor is +Inf without liabilities.
func healthFactor(coll, liab float64) float64 {
	if liab <= 0 {
		return math.Inf(1)
	}
	return coll / liab
}

func formatValue(v float64) string {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return fmt.Sprint(v)
	}
	return humanize.FormatFloat("#,###.##", v)
}
