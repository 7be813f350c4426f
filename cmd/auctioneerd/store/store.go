package store

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/textileio/auctioneer-bot/pool"
)

// ErrNotFound indicates the requested entry was not found.
var ErrNotFound = errors.New("not found")

// StatusLastLedger is the status key of the last ledger processed by the collector.
const StatusLastLedger = "last-ledger"

// AuctionEntry is a tracked auction. It's identified by (UserID, AuctionType).
type AuctionEntry struct {
	UserID      string           `json:"user_id"`
	AuctionType pool.AuctionType `json:"auction_type"`
	FillerID    string           `json:"filler_id"`
	StartBlock  uint32           `json:"start_block"`
	// FillBlock is zero until the auction is scheduled.
	FillBlock uint32 `json:"fill_block"`
	// UpdatedAt is the ledger of the last update.
	UpdatedAt uint32 `json:"updated_at"`
}

// Scheduled reports whether a fill block was ever computed.
func (e AuctionEntry) Scheduled() bool {
	return e.FillBlock != 0
}

// UserEntry is a tracked user with liabilities.
type UserEntry struct {
	UserID       string            `json:"user_id"`
	HealthFactor float64           `json:"health_factor"`
	Collateral   pool.AssetAmounts `json:"collateral"`
	Liabilities  pool.AssetAmounts `json:"liabilities"`
	UpdatedAt    uint32            `json:"updated_at"`
}

// NewUserEntry returns the entry tracking a user's positions, or false if
// the user has no liabilities. Infinite health factors are stored as
// math.MaxFloat64.
func NewUserEntry(userID string, est pool.PositionsEstimate, positions pool.Positions, ledger uint32) (UserEntry, bool) {
	if len(positions.Liabilities) == 0 {
		return UserEntry{}, false
	}
	hf := est.HealthFactor()
	if math.IsInf(hf, 1) {
		hf = math.MaxFloat64
	}
	return UserEntry{
		UserID:       userID,
		HealthFactor: hf,
		Collateral:   positions.Collateral,
		Liabilities:  positions.Liabilities,
		UpdatedAt:    ledger,
	}, true
}

// PriceEntry is a cached asset price.
type PriceEntry struct {
	AssetID   string    `json:"asset_id"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// FilledAuctionEntry is the audit record of a fill.
type FilledAuctionEntry struct {
	ID          string            `json:"id"`
	TxHash      string            `json:"tx_hash"`
	Filler      string            `json:"filler"`
	UserID      string            `json:"user_id"`
	AuctionType pool.AuctionType  `json:"auction_type"`
	Bid         pool.AssetAmounts `json:"bid"`
	BidTotal    float64           `json:"bid_total"`
	Lot         pool.AssetAmounts `json:"lot"`
	LotTotal    float64           `json:"lot_total"`
	EstProfit   float64           `json:"est_profit"`
	FillBlock   uint32            `json:"fill_block"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Store persists the bot state. All writes are upserts or deletes by
// natural key, so repeating them is harmless.
type Store interface {
	// GetAuctionEntry returns ErrNotFound if the entry doesn't exist.
	GetAuctionEntry(ctx context.Context, userID string, t pool.AuctionType) (AuctionEntry, error)
	SetAuctionEntry(ctx context.Context, e AuctionEntry) error
	// DeleteAuctionEntry is a no-op if the entry doesn't exist.
	DeleteAuctionEntry(ctx context.Context, userID string, t pool.AuctionType) error
	ListAuctionEntries(ctx context.Context) ([]AuctionEntry, error)

	// GetUserEntry returns ErrNotFound if the entry doesn't exist.
	GetUserEntry(ctx context.Context, userID string) (UserEntry, error)
	SetUserEntry(ctx context.Context, e UserEntry) error
	DeleteUserEntry(ctx context.Context, userID string) error
	ListUserEntries(ctx context.Context) ([]UserEntry, error)
	// ListUserEntriesUnderHealthFactor returns users with a health factor
	// lower than hf.
	ListUserEntriesUnderHealthFactor(ctx context.Context, hf float64) ([]UserEntry, error)

	// GetPriceEntry returns ErrNotFound if the price isn't cached.
	GetPriceEntry(ctx context.Context, assetID string) (PriceEntry, error)
	SetPriceEntries(ctx context.Context, entries []PriceEntry) error

	// SaveFilledAuction stores a fill record, assigning its ID if empty.
	// Saving a record with an already stored tx hash is a no-op.
	SaveFilledAuction(ctx context.Context, e FilledAuctionEntry) (FilledAuctionEntry, error)
	// ListFilledAuctions returns the latest fill records, newest first.
	ListFilledAuctions(ctx context.Context, limit int) ([]FilledAuctionEntry, error)

	// GetStatus returns ErrNotFound if the key isn't set.
	GetStatus(ctx context.Context, key string) (uint32, error)
	SetStatus(ctx context.Context, key string, value uint32) error

	Close() error
}
