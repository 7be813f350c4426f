// Package reactor applies pool events to the tracked auctions and users.
package reactor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/filler"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/notifier"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/store"
	"github.com/textileio/auctioneer-bot/deadletter"
	"github.com/textileio/auctioneer-bot/ledger"
	"github.com/textileio/auctioneer-bot/metrics"
	"github.com/textileio/auctioneer-bot/msgbroker"
	"github.com/textileio/auctioneer-bot/pool"
	"github.com/textileio/auctioneer-bot/sempool"
	logging "github.com/textileio/go-log/v2"
	"go.opentelemetry.io/otel/metric"
)

var log = logging.Logger("auctioneer/reactor")

const (
	// DefaultAttempts is the number of times an event is applied before
	// it's dead-lettered.
	DefaultAttempts = 3
	// DefaultRetryDelay is the delay between attempts.
	DefaultRetryDelay = 250 * time.Millisecond

	deadLetterSource = "reactor"
)

// Reactor applies pool events.
type Reactor struct {
	store      store.Store
	gw         ledger.Gateway
	fillers    filler.Fillers
	sem        *sempool.SemaphorePool
	deadLetter *deadletter.Log
	notifier   notifier.Notifier

	attempts   int
	retryDelay time.Duration

	metricEvents      metric.Int64Counter
	metricDeadLetters metric.Int64Counter
}

var _ msgbroker.PoolEventListener = (*Reactor)(nil)

// New returns a new Reactor. sem serializes per user work with the worker.
func New(
	st store.Store,
	gw ledger.Gateway,
	fillers filler.Fillers,
	sem *sempool.SemaphorePool,
	dl *deadletter.Log,
	n notifier.Notifier,
) *Reactor {
	r := &Reactor{
		store:      st,
		gw:         gw,
		fillers:    fillers,
		sem:        sem,
		deadLetter: dl,
		notifier:   n,
		attempts:   DefaultAttempts,
		retryDelay: DefaultRetryDelay,
	}
	r.initMetrics()
	return r
}

// OnPoolEvent applies e, retrying a few times before dead-lettering it. It
// only fails if the event couldn't be dead-lettered either.
func (r *Reactor) OnPoolEvent(ctx context.Context, e pool.Event) error {
	var err error
	for i := 0; i < r.attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.retryDelay):
			}
		}
		if err = r.apply(ctx, e); err == nil {
			metrics.MetricIncrCounter(ctx, nil, r.metricEvents, metrics.AttrKind(e.Kind()))
			return nil
		}
		log.Warnf("applying %s event of ledger %d (attempt %d/%d): %s",
			e.Kind(), e.Meta().Ledger, i+1, r.attempts, err)
	}
	metrics.MetricIncrCounter(ctx, err, r.metricEvents, metrics.AttrKind(e.Kind()))

	rec, dlErr := r.deadLetter.Append(deadLetterSource, e, err)
	if dlErr != nil {
		return fmt.Errorf("dead-lettering %s event: %s", e.Kind(), dlErr)
	}
	r.metricDeadLetters.Add(ctx, 1)
	log.Errorf("%s event of ledger %d dead-lettered in %s: %s", e.Kind(), e.Meta().Ledger, r.deadLetter.Path(), err)
	r.notifier.Notify(ctx, notifier.DeadLettered(rec))
	return nil
}

func (r *Reactor) apply(ctx context.Context, e pool.Event) error {
	return e.Dispatch(&handler{ctx: ctx, r: r})
}

// handler binds a context to the event visitor.
type handler struct {
	ctx context.Context
	r   *Reactor
}

var _ pool.EventHandler = (*handler)(nil)

func (h *handler) HandlePositionChange(e pool.PositionChangeEvent) error {
	unlock := h.r.sem.Lock(sempool.UserKey(e.User))
	defer unlock()
	return h.r.refreshUser(h.ctx, e.User, e.Ledger)
}

func (h *handler) HandleNewAuction(e pool.NewAuctionEvent) error {
	unlock := h.r.sem.Lock(sempool.UserKey(e.User))
	defer unlock()
	return h.r.track(h.ctx, e.User, e.AuctionType, e.Auction, e.Ledger)
}

func (h *handler) HandleNewLiquidationAuction(e pool.NewLiquidationAuctionEvent) error {
	unlock := h.r.sem.Lock(sempool.UserKey(e.User))
	defer unlock()
	return h.r.track(h.ctx, e.User, pool.Liquidation, e.Auction, e.Ledger)
}

func (h *handler) HandleDeleteLiquidationAuction(e pool.DeleteLiquidationAuctionEvent) error {
	unlock := h.r.sem.Lock(sempool.UserKey(e.User))
	defer unlock()
	log.Infof("liquidation auction of %s cancelled at ledger %d", e.User, e.Ledger)
	if err := h.r.store.DeleteAuctionEntry(h.ctx, e.User, pool.Liquidation); err != nil {
		return fmt.Errorf("deleting auction entry: %s", err)
	}
	return nil
}

func (h *handler) HandleFillAuction(e pool.FillAuctionEvent) error {
	if e.FillPercent < 100 {
		log.Debugf("%s auction of %s partially filled (%d%%) by %s", e.AuctionType, e.User, e.FillPercent, e.Filler)
		return nil
	}
	unlock := h.r.sem.Lock(sempool.UserKey(e.User))
	defer unlock()
	if err := h.r.store.DeleteAuctionEntry(h.ctx, e.User, e.AuctionType); err != nil {
		return fmt.Errorf("deleting auction entry: %s", err)
	}
	log.Infof("%s auction of %s filled by %s at ledger %d", e.AuctionType, e.User, e.Filler, e.Ledger)
	if e.AuctionType == pool.Interest {
		return nil
	}
	return h.r.refreshUser(h.ctx, e.User, e.Ledger)
}

// track assigns the auction to the first filler supporting it. Auctions
// already tracked keep their schedule.
func (r *Reactor) track(ctx context.Context, userID string, t pool.AuctionType, data pool.AuctionData, ledgerSeq uint32) error {
	f, ok := r.fillers.Assign(data)
	if !ok {
		log.Infof("no filler supports %s auction of %s, not tracking", t, userID)
		return nil
	}
	existing, err := r.store.GetAuctionEntry(ctx, userID, t)
	if err == nil && existing.StartBlock == data.Block {
		return nil
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("getting auction entry: %s", err)
	}
	start := data.Block
	if start == 0 {
		start = ledgerSeq
	}
	if err := r.store.SetAuctionEntry(ctx, store.AuctionEntry{
		UserID:      userID,
		AuctionType: t,
		FillerID:    f.ID,
		StartBlock:  start,
		UpdatedAt:   ledgerSeq,
	}); err != nil {
		return fmt.Errorf("saving auction entry: %s", err)
	}
	log.Infof("tracking %s auction of %s started at %d for filler %s", t, userID, start, f.ID)
	return nil
}

func (r *Reactor) refreshUser(ctx context.Context, userID string, ledgerSeq uint32) error {
	est, positions, err := r.gw.LoadUserPositionEstimate(ctx, userID)
	if err != nil {
		return fmt.Errorf("loading positions of %s: %s", userID, err)
	}
	e, ok := store.NewUserEntry(userID, est, positions, ledgerSeq)
	if !ok {
		return r.store.DeleteUserEntry(ctx, userID)
	}
	return r.store.SetUserEntry(ctx, e)
}
