// Package rpcgateway implements ledger.Gateway over JSON-RPC.
package rpcgateway

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/textileio/auctioneer-bot/ledger"
	"github.com/textileio/auctioneer-bot/pool"
	logging "github.com/textileio/go-log/v2"
)

var log = logging.Logger("ledger/rpcgateway")

// Pool contract error codes surfaced as JSON-RPC error codes.
const (
	CodeAuctionNotFound     = 1200
	CodeLiquidationTooLarge = 1213
	CodeLiquidationTooSmall = 1214
)

// PositionsResult is the result of loadUserPositionEstimate.
type PositionsResult struct {
	Estimate  pool.PositionsEstimate `json:"estimate"`
	Positions pool.Positions         `json:"positions"`
}

// TxResult is the result of transaction submitting calls.
type TxResult struct {
	TxHash string `json:"tx_hash"`
}

// Client is a ledger.Gateway backed by a JSON-RPC server.
type Client struct {
	conf config
	rpc  *rpc.Client
}

var _ ledger.Gateway = (*Client)(nil)

// Dial connects to a JSON-RPC endpoint.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dialing rpc: %s", err)
	}
	c, err := New(rc, opts...)
	if err != nil {
		rc.Close()
		return nil, err
	}
	return c, nil
}

// New returns a Client using an existing rpc client.
func New(rc *rpc.Client, opts ...Option) (*Client, error) {
	conf := defaultConfig
	for _, opt := range opts {
		if err := opt(&conf); err != nil {
			return nil, fmt.Errorf("applying option: %s", err)
		}
	}
	return &Client{conf: conf, rpc: rc}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	c.rpc.Close()
	return nil
}

// LoadPool implements ledger.Gateway.
func (c *Client) LoadPool(ctx context.Context) (pool.Pool, error) {
	var res pool.Pool
	if err := c.read(ctx, &res, "loadPool"); err != nil {
		return pool.Pool{}, err
	}
	return res, nil
}

// LoadPoolOracle implements ledger.Gateway.
func (c *Client) LoadPoolOracle(ctx context.Context) (pool.Oracle, error) {
	var res pool.Oracle
	if err := c.read(ctx, &res, "loadPoolOracle"); err != nil {
		return pool.Oracle{}, err
	}
	return res, nil
}

// LoadAuction implements ledger.Gateway.
func (c *Client) LoadAuction(ctx context.Context, user string, t pool.AuctionType) (pool.AuctionData, error) {
	var res *pool.AuctionData
	if err := c.read(ctx, &res, "loadAuction", user, t); err != nil {
		return pool.AuctionData{}, err
	}
	if res == nil {
		return pool.AuctionData{}, ledger.ErrAuctionNotFound
	}
	return *res, nil
}

// LoadUserPositionEstimate implements ledger.Gateway.
func (c *Client) LoadUserPositionEstimate(
	ctx context.Context,
	user string) (pool.PositionsEstimate, pool.Positions, error) {
	var res PositionsResult
	if err := c.read(ctx, &res, "loadUserPositionEstimate", user); err != nil {
		return pool.PositionsEstimate{}, pool.Positions{}, err
	}
	return res.Estimate, res.Positions, nil
}

// SimBalance implements ledger.Gateway.
func (c *Client) SimBalance(ctx context.Context, asset, user string) (*big.Int, error) {
	var res *big.Int
	if err := c.read(ctx, &res, "simBalance", asset, user); err != nil {
		return nil, err
	}
	if res == nil {
		return new(big.Int), nil
	}
	return res, nil
}

// SimLpToReferenceStable implements ledger.Gateway. It fails if the client
// has no reference stable configured.
func (c *Client) SimLpToReferenceStable(ctx context.Context, amount *big.Int) (*big.Int, error) {
	if c.conf.referenceStable == "" {
		return nil, errors.New("reference stable isn't configured")
	}
	var res *big.Int
	if err := c.call(ctx, &res, "simLpToReferenceStable", amount, c.conf.referenceStable); err != nil {
		return nil, err
	}
	if res == nil {
		return nil, errors.New("simulation returned no result")
	}
	return res, nil
}

// BackstopTokenPrice implements ledger.Gateway.
func (c *Client) BackstopTokenPrice(ctx context.Context) (float64, error) {
	var res float64
	if err := c.read(ctx, &res, "backstopTokenPrice"); err != nil {
		return 0, err
	}
	return res, nil
}

// SubmitTransaction implements ledger.Gateway.
func (c *Client) SubmitTransaction(ctx context.Context, requests []pool.Request, signer string) (string, error) {
	return c.submit(ctx, "submitTransaction", requests, signer)
}

// NewLiquidationAuction implements ledger.Gateway.
func (c *Client) NewLiquidationAuction(
	ctx context.Context,
	user string,
	percent uint32,
	signer string) (string, error) {
	return c.submit(ctx, "newLiquidationAuction", user, percent, signer)
}

// BadDebtTransfer implements ledger.Gateway.
func (c *Client) BadDebtTransfer(ctx context.Context, user string, signer string) (string, error) {
	return c.submit(ctx, "badDebtTransfer", user, signer)
}

// NewBadDebtAuction implements ledger.Gateway.
func (c *Client) NewBadDebtAuction(ctx context.Context, signer string) (string, error) {
	return c.submit(ctx, "newBadDebtAuction", signer)
}

// LatestLedger implements ledger.Gateway.
func (c *Client) LatestLedger(ctx context.Context) (uint32, error) {
	var res uint32
	if err := c.read(ctx, &res, "latestLedger"); err != nil {
		return 0, err
	}
	return res, nil
}

// PoolEvents implements ledger.Gateway.
func (c *Client) PoolEvents(ctx context.Context, from, to uint32) ([]pool.Event, error) {
	var recs []pool.EventRecord
	if err := c.read(ctx, &recs, "poolEvents", from, to); err != nil {
		return nil, err
	}
	events := make([]pool.Event, 0, len(recs))
	for _, r := range recs {
		e, err := r.Event()
		if err != nil {
			log.Errorf("skipping malformed event at ledger %d: %s", r.Ledger, err)
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

func (c *Client) submit(ctx context.Context, method string, args ...interface{}) (string, error) {
	var res TxResult
	if err := c.call(ctx, &res, method, args...); err != nil {
		return "", err
	}
	return res.TxHash, nil
}

// read calls a side-effect free method, retrying failures that aren't
// contract errors.
func (c *Client) read(ctx context.Context, res interface{}, method string, args ...interface{}) error {
	var err error
	for i := 0; i <= c.conf.retries; i++ {
		if i > 0 {
			log.Debugf("retrying %s (%d/%d): %s", method, i, c.conf.retries, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.conf.retryDelay):
			}
		}
		err = c.call(ctx, res, method, args...)
		if err == nil || isContractError(err) {
			return err
		}
	}
	return err
}

func (c *Client) call(ctx context.Context, res interface{}, method string, args ...interface{}) error {
	if err := c.rpc.CallContext(ctx, res, c.conf.namespace+"_"+method, args...); err != nil {
		return mapError(method, err)
	}
	return nil
}

func mapError(method string, err error) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case CodeAuctionNotFound:
			return ledger.ErrAuctionNotFound
		case CodeLiquidationTooLarge:
			return ledger.ErrLiquidationTooLarge
		case CodeLiquidationTooSmall:
			return ledger.ErrLiquidationTooSmall
		}
	}
	return fmt.Errorf("calling %s: %w", method, err)
}

func isContractError(err error) bool {
	return errors.Is(err, ledger.ErrAuctionNotFound) ||
		errors.Is(err, ledger.ErrLiquidationTooLarge) ||
		errors.Is(err, ledger.ErrLiquidationTooSmall)
}
