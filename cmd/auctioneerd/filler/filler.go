// Package filler decides when and how the configured fillers take auctions.
package filler

import (
	"errors"
	"fmt"

	"github.com/textileio/auctioneer-bot/pool"
)

// ErrUnknownFiller indicates the filler isn't configured.
var ErrUnknownFiller = errors.New("unknown filler")

// Filler is an identity the bot fills auctions for, with its risk policy.
type Filler struct {
	// ID is the ledger identity of the filler. The gateway signs with it.
	ID              string   `mapstructure:"id" json:"id"`
	Name            string   `mapstructure:"name" json:"name"`
	MinProfitPct    float64  `mapstructure:"min_profit_pct" json:"min_profit_pct"`
	MinHealthFactor float64  `mapstructure:"min_health_factor" json:"min_health_factor"`
	ForceFill       bool     `mapstructure:"force_fill" json:"force_fill"`
	SupportedBid    []string `mapstructure:"supported_bid" json:"supported_bid"`
	SupportedLot    []string `mapstructure:"supported_lot" json:"supported_lot"`
}

// Validate returns an error if the filler is misconfigured.
func (f Filler) Validate() error {
	if f.ID == "" {
		return errors.New("filler id is empty")
	}
	if f.MinProfitPct < 0 {
		return fmt.Errorf("filler %s: min profit pct is negative", f.ID)
	}
	if f.MinHealthFactor < 1 {
		return fmt.Errorf("filler %s: min health factor must be at least 1", f.ID)
	}
	if len(f.SupportedBid) == 0 || len(f.SupportedLot) == 0 {
		return fmt.Errorf("filler %s: supported bid and lot assets are required", f.ID)
	}
	return nil
}

// Supports reports whether the filler supports every asset traded in data.
func (f Filler) Supports(data pool.AuctionData) bool {
	return covers(f.SupportedBid, data.Bid) && covers(f.SupportedLot, data.Lot)
}

// Fillers are the configured fillers in priority order.
type Fillers []Filler

// Validate validates every filler and that ids are unique.
func (fs Fillers) Validate() error {
	if len(fs) == 0 {
		return errors.New("no fillers configured")
	}
	seen := make(map[string]struct{}, len(fs))
	for _, f := range fs {
		if err := f.Validate(); err != nil {
			return err
		}
		if _, ok := seen[f.ID]; ok {
			return fmt.Errorf("duplicated filler %s", f.ID)
		}
		seen[f.ID] = struct{}{}
	}
	return nil
}

// Get returns the filler with id or ErrUnknownFiller.
func (fs Fillers) Get(id string) (Filler, error) {
	for _, f := range fs {
		if f.ID == id {
			return f, nil
		}
	}
	return Filler{}, fmt.Errorf("filler %s: %w", id, ErrUnknownFiller)
}

// Assign returns the first filler supporting data.
func (fs Fillers) Assign(data pool.AuctionData) (Filler, bool) {
	for _, f := range fs {
		if f.Supports(data) {
			return f, true
		}
	}
	return Filler{}, false
}

// ProfitRule overrides the minimum profit of fillers for auctions trading
// only the listed assets. An empty list matches any asset.
type ProfitRule struct {
	ProfitPct    float64  `mapstructure:"profit_pct" json:"profit_pct"`
	SupportedBid []string `mapstructure:"supported_bid" json:"supported_bid"`
	SupportedLot []string `mapstructure:"supported_lot" json:"supported_lot"`
}

func (r ProfitRule) matches(data pool.AuctionData) bool {
	return (len(r.SupportedBid) == 0 || covers(r.SupportedBid, data.Bid)) &&
		(len(r.SupportedLot) == 0 || covers(r.SupportedLot, data.Lot))
}

// MinProfitPct returns the profit of the first rule matching data, or the
// filler's own minimum profit.
func MinProfitPct(rules []ProfitRule, f Filler, data pool.AuctionData) float64 {
	for _, r := range rules {
		if r.matches(data) {
			return r.ProfitPct
		}
	}
	return f.MinProfitPct
}

func covers(supported []string, amounts pool.AssetAmounts) bool {
	for _, aa := range amounts {
		found := false
		for _, s := range supported {
			if s == aa.Asset {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
