// Package auction implements the linear decay curve of pool auctions.
package auction

import (
	"math/big"

	"github.com/textileio/auctioneer-bot/pool"
)

const (
	// LotRampBlocks is the number of blocks over which the lot grows to 100%.
	LotRampBlocks = 200
	// DurationBlocks is the number of blocks after which the bid is 0%.
	DurationBlocks = 400
)

var denominator = big.NewInt(LotRampBlocks * 100)

// Scale returns the amounts transacted when filling fillPercent of data at
// fillBlock. Lot amounts round down and bid amounts round up. Assets that
// scale to zero are omitted.
func Scale(data pool.AuctionData, fillBlock uint32, fillPercent uint32) pool.AuctionData {
	var delta int64
	if fillBlock > data.Block {
		delta = int64(fillBlock - data.Block)
	}
	lotNum, bidNum := modifiers(delta)
	pct := big.NewInt(int64(fillPercent))

	scaled := pool.AuctionData{Block: data.Block}
	for _, aa := range data.Lot {
		n := new(big.Int).Mul(aa.Amount, lotNum)
		n.Mul(n, pct)
		n.Quo(n, denominator)
		if n.Sign() > 0 {
			scaled.Lot.Set(aa.Asset, n)
		}
	}
	for _, aa := range data.Bid {
		n := new(big.Int).Mul(aa.Amount, bidNum)
		n.Mul(n, pct)
		q, m := n.QuoRem(n, denominator, new(big.Int))
		if m.Sign() > 0 {
			q.Add(q, big.NewInt(1))
		}
		if q.Sign() > 0 {
			scaled.Bid.Set(aa.Asset, q)
		}
	}
	return scaled
}

// modifiers returns the lot and bid modifiers scaled by LotRampBlocks.
func modifiers(delta int64) (lot, bid *big.Int) {
	if delta <= LotRampBlocks {
		return big.NewInt(delta), big.NewInt(LotRampBlocks)
	}
	bidNum := DurationBlocks - delta
	if bidNum < 0 {
		bidNum = 0
	}
	return big.NewInt(LotRampBlocks), big.NewInt(bidNum)
}

// LotModifier returns the share of the lot received at a block delay.
func LotModifier(delay uint32) float64 {
	if delay >= LotRampBlocks {
		return 1
	}
	return float64(delay) / LotRampBlocks
}

// BidModifier returns the share of the bid paid at a block delay.
func BidModifier(delay uint32) float64 {
	if delay <= LotRampBlocks {
		return 1
	}
	if delay >= DurationBlocks {
		return 0
	}
	return 1 - float64(delay-LotRampBlocks)/LotRampBlocks
}
