// Package fakeledger provides an in-memory ledger.Gateway for tests.
package fakeledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/textileio/auctioneer-bot/ledger"
	"github.com/textileio/auctioneer-bot/pool"
)

// ErrSimulation is returned by SimLpToReferenceStable when no rate is set.
var ErrSimulation = errors.New("simulation failed")

// Tx is a submitted transaction.
type Tx struct {
	Hash     string
	Signer   string
	Requests []pool.Request
}

// Work is a submitted liquidation transaction.
type Work struct {
	Hash    string
	Kind    string
	Signer  string
	User    string
	Percent uint32
}

type auctionKey struct {
	user string
	t    pool.AuctionType
}

// Ledger is a fake ledger.Gateway. The zero value is not usable, use New.
type Ledger struct {
	lock sync.Mutex

	pool      pool.Pool
	oracle    pool.Oracle
	auctions  map[auctionKey]pool.AuctionData
	estimates map[string]pool.PositionsEstimate
	positions map[string]pool.Positions
	balances  map[string]*big.Int
	lpRate    *big.Rat
	lpPrice   float64
	latest    uint32
	events    map[uint32][]pool.Event

	submitErrs []error
	workErrs   []error
	workDelays []time.Duration
	loadErrs   []error
	txs        []Tx
	works      []Work
	txCount    int
}

var _ ledger.Gateway = (*Ledger)(nil)

// New returns an empty fake ledger.
func New() *Ledger {
	return &Ledger{
		oracle:    pool.Oracle{Decimals: 7, Prices: map[string]*big.Int{}},
		auctions:  map[auctionKey]pool.AuctionData{},
		estimates: map[string]pool.PositionsEstimate{},
		positions: map[string]pool.Positions{},
		balances:  map[string]*big.Int{},
		events:    map[uint32][]pool.Event{},
	}
}

// SetPool sets the pool reserves.
func (l *Ledger) SetPool(p pool.Pool) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.pool = p
}

// AddReserve adds a reserve to the pool priced at price by the oracle.
func (l *Ledger) AddReserve(r pool.Reserve, price float64) {
	l.lock.Lock()
	defer l.lock.Unlock()
	r.Index = uint32(len(l.pool.Reserves))
	l.pool.Reserves = append(l.pool.Reserves, r)
	l.oracle.Prices[r.AssetID] = pool.FromFloat(price, l.oracle.Decimals)
}

// SetPrice sets the oracle price of asset.
func (l *Ledger) SetPrice(asset string, price float64) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.oracle.Prices[asset] = pool.FromFloat(price, l.oracle.Decimals)
}

// SetAuction sets or replaces an auction.
func (l *Ledger) SetAuction(user string, t pool.AuctionType, data pool.AuctionData) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.auctions[auctionKey{user, t}] = data.Clone()
}

// DeleteAuction removes an auction.
func (l *Ledger) DeleteAuction(user string, t pool.AuctionType) {
	l.lock.Lock()
	defer l.lock.Unlock()
	delete(l.auctions, auctionKey{user, t})
}

// SetPositions sets the positions of user.
func (l *Ledger) SetPositions(user string, est pool.PositionsEstimate, pos pool.Positions) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.estimates[user] = est
	l.positions[user] = pos
}

// SetBalance sets the token balance of user.
func (l *Ledger) SetBalance(asset, user string, amount int64) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.balances[asset+"/"+user] = big.NewInt(amount)
}

// SetLpRate sets the reference stable amount received per backstop token.
// A nil rate makes the simulation fail.
func (l *Ledger) SetLpRate(rate *big.Rat) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.lpRate = rate
}

// SetBackstopTokenPrice sets the backstop token price.
func (l *Ledger) SetBackstopTokenPrice(price float64) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.lpPrice = price
}

// SetLatest sets the latest ledger.
func (l *Ledger) SetLatest(ledger uint32) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.latest = ledger
}

// AddEvents appends events closed at ledger.
func (l *Ledger) AddEvents(ledger uint32, events ...pool.Event) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.events[ledger] = append(l.events[ledger], events...)
}

// FailSubmits makes the next transaction submissions return errs in order.
func (l *Ledger) FailSubmits(errs ...error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.submitErrs = append(l.submitErrs, errs...)
}

// FailLoads makes the next position loads return errs in order.
func (l *Ledger) FailLoads(errs ...error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.loadErrs = append(l.loadErrs, errs...)
}

// FailWork makes the next liquidation submissions return errs in order.
func (l *Ledger) FailWork(errs ...error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.workErrs = append(l.workErrs, errs...)
}

// DelayWork makes the next liquidation submissions sleep for ds in order,
// ignoring their context.
func (l *Ledger) DelayWork(ds ...time.Duration) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.workDelays = append(l.workDelays, ds...)
}

// Txs returns the submitted transactions.
func (l *Ledger) Txs() []Tx {
	l.lock.Lock()
	defer l.lock.Unlock()
	return append([]Tx(nil), l.txs...)
}

// Works returns the submitted liquidation transactions.
func (l *Ledger) Works() []Work {
	l.lock.Lock()
	defer l.lock.Unlock()
	return append([]Work(nil), l.works...)
}

// LoadPool implements ledger.Gateway.
func (l *Ledger) LoadPool(context.Context) (pool.Pool, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.pool, nil
}

// LoadPoolOracle implements ledger.Gateway.
func (l *Ledger) LoadPoolOracle(context.Context) (pool.Oracle, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	prices := make(map[string]*big.Int, len(l.oracle.Prices))
	for k, v := range l.oracle.Prices {
		prices[k] = new(big.Int).Set(v)
	}
	return pool.Oracle{Decimals: l.oracle.Decimals, Prices: prices, Timestamp: l.oracle.Timestamp}, nil
}

// LoadAuction implements ledger.Gateway.
func (l *Ledger) LoadAuction(_ context.Context, user string, t pool.AuctionType) (pool.AuctionData, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	data, ok := l.auctions[auctionKey{user, t}]
	if !ok {
		return pool.AuctionData{}, ledger.ErrAuctionNotFound
	}
	return data.Clone(), nil
}

// LoadUserPositionEstimate implements ledger.Gateway.
func (l *Ledger) LoadUserPositionEstimate(
	_ context.Context,
	user string,
) (pool.PositionsEstimate, pool.Positions, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if len(l.loadErrs) > 0 {
		err := l.loadErrs[0]
		l.loadErrs = l.loadErrs[1:]
		return pool.PositionsEstimate{}, pool.Positions{}, err
	}
	return l.estimates[user], l.positions[user], nil
}

// SimBalance implements ledger.Gateway.
func (l *Ledger) SimBalance(_ context.Context, asset, user string) (*big.Int, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if b, ok := l.balances[asset+"/"+user]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

// SimLpToReferenceStable implements ledger.Gateway.
func (l *Ledger) SimLpToReferenceStable(_ context.Context, amount *big.Int) (*big.Int, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.lpRate == nil {
		return nil, ErrSimulation
	}
	r := new(big.Rat).Mul(new(big.Rat).SetInt(amount), l.lpRate)
	return new(big.Int).Quo(r.Num(), r.Denom()), nil
}

// BackstopTokenPrice implements ledger.Gateway.
func (l *Ledger) BackstopTokenPrice(context.Context) (float64, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.lpPrice, nil
}

// SubmitTransaction implements ledger.Gateway.
func (l *Ledger) SubmitTransaction(_ context.Context, requests []pool.Request, signer string) (string, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if len(l.submitErrs) > 0 {
		err := l.submitErrs[0]
		l.submitErrs = l.submitErrs[1:]
		if err != nil {
			return "", err
		}
	}
	hash := l.nextHashLocked()
	l.txs = append(l.txs, Tx{Hash: hash, Signer: signer, Requests: append([]pool.Request(nil), requests...)})
	return hash, nil
}

// NewLiquidationAuction implements ledger.Gateway.
func (l *Ledger) NewLiquidationAuction(_ context.Context, user string, percent uint32, signer string) (string, error) {
	return l.work(Work{Kind: "liquidation", Signer: signer, User: user, Percent: percent})
}

// BadDebtTransfer implements ledger.Gateway.
func (l *Ledger) BadDebtTransfer(_ context.Context, user string, signer string) (string, error) {
	return l.work(Work{Kind: "bad-debt-transfer", Signer: signer, User: user})
}

// NewBadDebtAuction implements ledger.Gateway.
func (l *Ledger) NewBadDebtAuction(_ context.Context, signer string) (string, error) {
	return l.work(Work{Kind: "bad-debt-auction", Signer: signer})
}

func (l *Ledger) work(w Work) (string, error) {
	l.lock.Lock()
	var (
		delay time.Duration
		err   error
	)
	if len(l.workDelays) > 0 {
		delay = l.workDelays[0]
		l.workDelays = l.workDelays[1:]
	}
	if len(l.workErrs) > 0 {
		err = l.workErrs[0]
		l.workErrs = l.workErrs[1:]
	}
	l.lock.Unlock()

	time.Sleep(delay)
	if err != nil {
		return "", err
	}

	l.lock.Lock()
	defer l.lock.Unlock()
	w.Hash = l.nextHashLocked()
	l.works = append(l.works, w)
	return w.Hash, nil
}

// LatestLedger implements ledger.Gateway.
func (l *Ledger) LatestLedger(context.Context) (uint32, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.latest, nil
}

// PoolEvents implements ledger.Gateway.
func (l *Ledger) PoolEvents(_ context.Context, from, to uint32) ([]pool.Event, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	var events []pool.Event
	for i := from; i <= to; i++ {
		events = append(events, l.events[i]...)
	}
	return events, nil
}

func (l *Ledger) nextHashLocked() string {
	l.txCount++
	return fmt.Sprintf("tx-%d", l.txCount)
}
