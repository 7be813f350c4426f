// Package bidder re-schedules tracked auctions on every closed ledger and
// submits fills when they are due.
package bidder

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/textileio/auctioneer-bot/auction"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/filler"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/notifier"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/store"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/valuation"
	"github.com/textileio/auctioneer-bot/ledger"
	"github.com/textileio/auctioneer-bot/metrics"
	"github.com/textileio/auctioneer-bot/msgbroker"
	"github.com/textileio/auctioneer-bot/pool"
	"github.com/textileio/auctioneer-bot/submitter"
	logging "github.com/textileio/go-log/v2"
	"go.opentelemetry.io/otel/metric"
)

var log = logging.Logger("auctioneer/bidder")

const (
	// MaxAuctionAge is the number of ledgers after its start an auction
	// stops being tracked.
	MaxAuctionAge = 500
	// rescheduleWindow is the number of ledgers before the fill block in
	// which the schedule is refreshed on every ledger.
	rescheduleWindow = 5
	// rescheduleEvery is the ledger period of unconditional refreshes.
	rescheduleEvery = 10
)

// Config is the bidder configuration.
type Config struct {
	MaxRetries       int
	SubmitTimeout    time.Duration
	MinRetryInterval time.Duration
}

// DefaultConfig is the default bidder configuration.
var DefaultConfig = Config{
	MaxRetries:       10,
	SubmitTimeout:    time.Minute,
	MinRetryInterval: submitter.DefaultMinRetryInterval,
}

// Bid identifies a tracked auction to fill.
type Bid struct {
	UserID      string
	AuctionType pool.AuctionType
}

func (b Bid) String() string {
	return fmt.Sprintf("%s auction of %s", b.AuctionType, b.UserID)
}

// Bidder fills tracked auctions.
type Bidder struct {
	conf      Config
	store     store.Store
	gw        ledger.Gateway
	fillers   filler.Fillers
	scheduler *filler.Scheduler
	builder   *filler.RequestBuilder
	val       *valuation.Engine
	notifier  notifier.Notifier
	queue     *submitter.Queue[Bid]

	statTracked          int64
	metricBids           metric.Int64Counter
	metricFills          metric.Int64Counter
	metricDropped        metric.Int64Counter
	metricSubmitDuration metric.Int64Histogram
	metricTracked        metric.Int64GaugeObserver
}

var _ msgbroker.LedgerClosedListener = (*Bidder)(nil)

// New returns a new Bidder.
func New(
	conf Config,
	st store.Store,
	gw ledger.Gateway,
	fillers filler.Fillers,
	scheduler *filler.Scheduler,
	builder *filler.RequestBuilder,
	val *valuation.Engine,
	n notifier.Notifier,
) (*Bidder, error) {
	b := &Bidder{
		conf:      conf,
		store:     st,
		gw:        gw,
		fillers:   fillers,
		scheduler: scheduler,
		builder:   builder,
		val:       val,
		notifier:  n,
	}
	q, err := submitter.New[Bid](b.submit, b.drop,
		submitter.WithName("bidder"),
		submitter.WithSubmitTimeout(conf.SubmitTimeout))
	if err != nil {
		return nil, fmt.Errorf("creating bid queue: %s", err)
	}
	b.queue = q
	b.initMetrics()
	return b, nil
}

// Queued returns the number of queued bids.
func (b *Bidder) Queued() int {
	return b.queue.Len()
}

// OnLedgerClosed re-evaluates every tracked auction for the next ledger.
func (b *Bidder) OnLedgerClosed(ctx context.Context, closed uint32) error {
	entries, err := b.store.ListAuctionEntries(ctx)
	if err != nil {
		return fmt.Errorf("listing auction entries: %s", err)
	}
	atomic.StoreInt64(&b.statTracked, int64(len(entries)))

	next := closed + 1
	for _, e := range entries {
		if err := b.tick(ctx, e, next); err != nil {
			log.Errorf("processing %s auction of %s: %s", e.AuctionType, e.UserID, err)
		}
	}
	return nil
}

func (b *Bidder) tick(ctx context.Context, e store.AuctionEntry, next uint32) error {
	f, err := b.fillers.Get(e.FillerID)
	if errors.Is(err, filler.ErrUnknownFiller) {
		log.Errorf("%s auction of %s is assigned to unknown filler %s, untracking", e.AuctionType, e.UserID, e.FillerID)
		return b.store.DeleteAuctionEntry(ctx, e.UserID, e.AuctionType)
	}
	if e.StartBlock+MaxAuctionAge < next {
		log.Infof("%s auction of %s started at %d expired, untracking", e.AuctionType, e.UserID, e.StartBlock)
		return b.store.DeleteAuctionEntry(ctx, e.UserID, e.AuctionType)
	}

	if !e.Scheduled() || int64(e.FillBlock)-int64(next) <= rescheduleWindow || next%rescheduleEvery == 0 {
		data, err := b.gw.LoadAuction(ctx, e.UserID, e.AuctionType)
		if errors.Is(err, ledger.ErrAuctionNotFound) {
			log.Infof("%s auction of %s no longer exists, untracking", e.AuctionType, e.UserID)
			return b.store.DeleteAuctionEntry(ctx, e.UserID, e.AuctionType)
		} else if err != nil {
			return fmt.Errorf("loading auction: %s", err)
		}
		calc, err := b.scheduler.Schedule(ctx, f, e.AuctionType, data)
		if err != nil {
			return fmt.Errorf("scheduling fill: %w", err)
		}
		if calc.FillBlock != e.FillBlock {
			log.Debugf("%s auction of %s scheduled at %d (%d%%) by %s",
				e.AuctionType, e.UserID, calc.FillBlock, calc.FillPercent, f.ID)
		}
		e.FillBlock = calc.FillBlock
		e.UpdatedAt = next - 1
		if err := b.store.SetAuctionEntry(ctx, e); err != nil {
			return fmt.Errorf("saving auction entry: %s", err)
		}
	}

	if e.FillBlock > next {
		return nil
	}
	bid := Bid{UserID: e.UserID, AuctionType: e.AuctionType}
	if b.queue.Contains(func(q Bid) bool { return q == bid }) {
		return nil
	}
	log.Infof("queueing bid on %s", bid)
	if err := b.queue.Enqueue(bid, b.conf.MaxRetries, submitter.WithMinRetryInterval(b.conf.MinRetryInterval)); err != nil {
		return fmt.Errorf("enqueueing bid: %s", err)
	}
	return nil
}

func (b *Bidder) submit(ctx context.Context, bid Bid) (ok bool, err error) {
	start := time.Now()
	defer func() {
		metrics.MetricRecordSince(ctx, err, b.metricSubmitDuration, start, metrics.AttrAuctionType(bid.AuctionType))
		metrics.MetricIncrCounter(ctx, err, b.metricBids, metrics.AttrAuctionType(bid.AuctionType))
	}()

	e, err := b.store.GetAuctionEntry(ctx, bid.UserID, bid.AuctionType)
	if errors.Is(err, store.ErrNotFound) {
		log.Infof("%s is no longer tracked", bid)
		return true, nil
	} else if err != nil {
		return false, fmt.Errorf("getting auction entry: %s", err)
	}
	f, err := b.fillers.Get(e.FillerID)
	if err != nil {
		return true, b.store.DeleteAuctionEntry(ctx, e.UserID, e.AuctionType)
	}
	data, err := b.gw.LoadAuction(ctx, e.UserID, e.AuctionType)
	if errors.Is(err, ledger.ErrAuctionNotFound) {
		log.Infof("%s was already filled or cancelled", bid)
		return true, b.store.DeleteAuctionEntry(ctx, e.UserID, e.AuctionType)
	} else if err != nil {
		return false, fmt.Errorf("loading auction: %s", err)
	}
	latest, err := b.gw.LatestLedger(ctx)
	if err != nil {
		return false, fmt.Errorf("getting latest ledger: %s", err)
	}
	calc, err := b.scheduler.Schedule(ctx, f, e.AuctionType, data)
	if err != nil {
		return false, fmt.Errorf("scheduling fill: %s", err)
	}

	fillAt := latest + 1
	if fillAt < calc.FillBlock || calc.FillPercent == 0 {
		log.Infof("%s no longer due at %d, rescheduled at %d (%d%%)", bid, fillAt, calc.FillBlock, calc.FillPercent)
		e.FillBlock = calc.FillBlock
		if calc.FillPercent == 0 && calc.FillBlock <= fillAt {
			e.FillBlock = fillAt + 1
		}
		e.UpdatedAt = latest
		if err := b.store.SetAuctionEntry(ctx, e); err != nil {
			return false, fmt.Errorf("saving auction entry: %s", err)
		}
		return true, nil
	}

	scaled := auction.Scale(data, fillAt, calc.FillPercent)
	requests, err := b.builder.Build(ctx, f, e, calc.FillPercent, scaled)
	if err != nil {
		return false, fmt.Errorf("building requests: %s", err)
	}
	txHash, err := b.gw.SubmitTransaction(ctx, requests, f.ID)
	if err != nil {
		return false, fmt.Errorf("submitting fill: %s", err)
	}

	// The fill landed; failures from here on are only logged.
	v, err := b.val.Valuate(ctx, e.AuctionType, scaled)
	if err != nil {
		log.Errorf("valuating filled %s: %s", bid, err)
	}
	filled := store.FilledAuctionEntry{
		TxHash:      txHash,
		Filler:      f.ID,
		UserID:      e.UserID,
		AuctionType: e.AuctionType,
		Bid:         scaled.Bid,
		BidTotal:    v.BidValue,
		Lot:         scaled.Lot,
		LotTotal:    v.LotValue,
		EstProfit:   v.LotValue - v.BidValue,
		FillBlock:   fillAt,
		Timestamp:   time.Now().UTC(),
	}
	if saved, err := b.store.SaveFilledAuction(ctx, filled); err != nil {
		log.Errorf("saving fill record of %s: %s", bid, err)
	} else {
		filled = saved
	}
	b.metricFills.Add(ctx, 1, metrics.AttrFiller(f.ID))
	b.notifier.Notify(ctx, notifier.AuctionFilled(filled))
	return true, nil
}

func (b *Bidder) drop(ctx context.Context, bid Bid) {
	b.metricDropped.Add(ctx, 1, metrics.AttrAuctionType(bid.AuctionType))
	e, err := b.store.GetAuctionEntry(ctx, bid.UserID, bid.AuctionType)
	if errors.Is(err, store.ErrNotFound) {
		return
	} else if err != nil {
		log.Errorf("getting dropped %s: %s", bid, err)
		e = store.AuctionEntry{UserID: bid.UserID, AuctionType: bid.AuctionType}
	}
	if err := b.store.DeleteAuctionEntry(ctx, bid.UserID, bid.AuctionType); err != nil {
		log.Errorf("deleting dropped %s: %s", bid, err)
	}
	b.notifier.Notify(ctx, notifier.BidDropped(e, b.conf.MaxRetries+1))
}

// Close stops submitting bids.
func (b *Bidder) Close() error {
	return b.queue.Close()
}
