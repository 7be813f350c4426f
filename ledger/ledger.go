// Package ledger defines the capabilities the bot needs from the ledger.
package ledger

import (
	"context"
	"errors"
	"math/big"

	"github.com/textileio/auctioneer-bot/pool"
)

var (
	// ErrAuctionNotFound indicates the auction doesn't exist on the ledger.
	ErrAuctionNotFound = errors.New("auction not found")
	// ErrLiquidationTooLarge indicates a liquidation percent over the maximum allowed.
	ErrLiquidationTooLarge = errors.New("liquidation too large")
	// ErrLiquidationTooSmall indicates a liquidation percent under the minimum allowed.
	ErrLiquidationTooSmall = errors.New("liquidation too small")
)

// Gateway reads pool state, simulates calls, and submits transactions on
// behalf of configured fillers. Signing keys stay on the gateway side;
// fillers are referenced by identity.
type Gateway interface {
	LoadPool(ctx context.Context) (pool.Pool, error)
	LoadPoolOracle(ctx context.Context) (pool.Oracle, error)
	// LoadAuction returns ErrAuctionNotFound if the auction doesn't exist.
	LoadAuction(ctx context.Context, user string, auctionType pool.AuctionType) (pool.AuctionData, error)
	LoadUserPositionEstimate(ctx context.Context, user string) (pool.PositionsEstimate, pool.Positions, error)
	SimBalance(ctx context.Context, asset, user string) (*big.Int, error)
	// SimLpToReferenceStable simulates a single-sided withdrawal of backstop
	// tokens into the reference stablecoin.
	SimLpToReferenceStable(ctx context.Context, amount *big.Int) (*big.Int, error)
	// BackstopTokenPrice returns the price of one backstop token.
	BackstopTokenPrice(ctx context.Context) (float64, error)
	SubmitTransaction(ctx context.Context, requests []pool.Request, signer string) (string, error)
	NewLiquidationAuction(ctx context.Context, user string, percent uint32, signer string) (string, error)
	BadDebtTransfer(ctx context.Context, user string, signer string) (string, error)
	NewBadDebtAuction(ctx context.Context, signer string) (string, error)
	LatestLedger(ctx context.Context) (uint32, error)
	// PoolEvents returns pool events in the ledger range [from, to].
	PoolEvents(ctx context.Context, from, to uint32) ([]pool.Event, error)
}
