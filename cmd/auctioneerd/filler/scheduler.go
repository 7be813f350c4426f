package filler

import (
	"context"
	"fmt"
	"math"

	"github.com/textileio/auctioneer-bot/auction"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/valuation"
	"github.com/textileio/auctioneer-bot/ledger"
	"github.com/textileio/auctioneer-bot/pool"
)

// ForceFillMaxDelay is the latest delay a force filler waits for its balance.
const ForceFillMaxDelay = 375

// FillCalculation is when, and how much of, an auction to fill.
type FillCalculation struct {
	FillBlock   uint32 `json:"fill_block"`
	FillPercent uint32 `json:"fill_percent"`
}

// Scheduler computes fill calculations.
type Scheduler struct {
	gw      ledger.Gateway
	val     *valuation.Engine
	profits []ProfitRule
}

// NewScheduler returns a new Scheduler.
func NewScheduler(gw ledger.Gateway, val *valuation.Engine, profits []ProfitRule) *Scheduler {
	return &Scheduler{gw: gw, val: val, profits: profits}
}

// Schedule returns the block at which f should fill the auction, and the
// percent it can fill without going under its minimum health factor.
func (s *Scheduler) Schedule(
	ctx context.Context,
	f Filler,
	t pool.AuctionType,
	data pool.AuctionData,
) (FillCalculation, error) {
	v, err := s.val.Valuate(ctx, t, data)
	if err != nil {
		return FillCalculation{}, fmt.Errorf("valuating auction: %w", err)
	}
	delay := profitableDelay(v.LotValue, v.BidValue, MinProfitPct(s.profits, f, data))
	fillPercent := uint32(100)

	if t == pool.Interest {
		delay, err = s.affordableDelay(ctx, f, data, delay)
		if err != nil {
			return FillCalculation{}, err
		}
	} else {
		fillPercent, err = s.safePercent(ctx, f, v, delay)
		if err != nil {
			return FillCalculation{}, err
		}
	}
	return FillCalculation{FillBlock: data.Block + delay, FillPercent: fillPercent}, nil
}

// profitableDelay returns the earliest delay at which the lot is worth the
// bid plus the profit.
func profitableDelay(lotValue, bidValue, profitPct float64) uint32 {
	if lotValue <= 0 && bidValue <= 0 {
		return auction.LotRampBlocks
	}
	var delay float64
	minLot := bidValue * (1 + profitPct)
	if lotValue >= minLot {
		delay = auction.LotRampBlocks - (lotValue-minLot)/(lotValue/auction.LotRampBlocks)
	} else {
		maxBid := lotValue * (1 - profitPct)
		delay = auction.LotRampBlocks + (bidValue-maxBid)/(bidValue/auction.LotRampBlocks)
	}
	return clampDelay(math.Ceil(delay))
}

// affordableDelay pushes the delay until the decayed bid is covered by the
// filler's backstop token balance.
func (s *Scheduler) affordableDelay(ctx context.Context, f Filler, data pool.AuctionData, delay uint32) (uint32, error) {
	bid, ok := data.Bid.Get(s.val.BackstopToken())
	if !ok || bid.Sign() == 0 {
		return delay, nil
	}
	balance, err := s.gw.SimBalance(ctx, s.val.BackstopToken(), f.ID)
	if err != nil {
		return 0, fmt.Errorf("getting filler backstop token balance: %s", err)
	}
	bidAmount := pool.ToFloat(bid, valuation.BackstopTokenDecimals)
	balanceAmount := pool.ToFloat(balance, valuation.BackstopTokenDecimals)

	base := delay
	if base < auction.LotRampBlocks {
		base = auction.LotRampBlocks
	}
	decayed := bidAmount * auction.BidModifier(base)
	if decayed <= balanceAmount {
		return delay, nil
	}
	step := bidAmount / auction.LotRampBlocks
	extended := clampDelay(float64(base) + math.Ceil((decayed-balanceAmount)/step))
	if f.ForceFill && extended > ForceFillMaxDelay {
		extended = ForceFillMaxDelay
	}
	log.Debugf("filler %s short of backstop tokens, delaying fill to %d", f.ID, extended)
	return extended, nil
}

// safePercent returns the percent of the auction the filler can take at
// delay keeping its health factor over the minimum.
func (s *Scheduler) safePercent(ctx context.Context, f Filler, v valuation.AuctionValue, delay uint32) (uint32, error) {
	est, _, err := s.gw.LoadUserPositionEstimate(ctx, f.ID)
	if err != nil {
		return 0, fmt.Errorf("loading filler positions: %s", err)
	}
	coll, liab := v.EffectiveCollateral, v.EffectiveLiabilities
	if delay <= auction.LotRampBlocks {
		coll *= auction.LotModifier(delay)
	} else {
		liab *= auction.BidModifier(delay)
	}
	limit := est.TotalEffectiveCollateral/f.MinHealthFactor - est.TotalEffectiveLiabilities
	excess := liab - coll
	if excess <= 0 || excess <= limit {
		return 100, nil
	}
	pct := math.Floor(limit / excess * 100)
	switch {
	case pct < 0:
		pct = 0
	case pct > 100:
		pct = 100
	}
	log.Debugf("filler %s limited to %.0f%% fill, excess liabilities %s over limit %s",
		f.ID, pct, formatValue(excess), formatValue(limit))
	return uint32(pct), nil
}

func clampDelay(d float64) uint32 {
	if math.IsNaN(d) || d < 0 {
		return 0
	}
	if d > auction.DurationBlocks {
		return auction.DurationBlocks
	}
	return uint32(d)
}
