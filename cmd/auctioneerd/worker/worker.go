// Package worker scans tracked users and submits liquidations.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/notifier"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/store"
	"github.com/textileio/auctioneer-bot/ledger"
	"github.com/textileio/auctioneer-bot/liquidation"
	"github.com/textileio/auctioneer-bot/metrics"
	"github.com/textileio/auctioneer-bot/msgbroker"
	"github.com/textileio/auctioneer-bot/pool"
	"github.com/textileio/auctioneer-bot/sempool"
	"github.com/textileio/auctioneer-bot/submitter"
	logging "github.com/textileio/go-log/v2"
	"go.opentelemetry.io/otel/metric"
)

var log = logging.Logger("auctioneer/worker")

// Kind is a kind of liquidation work.
type Kind int

const (
	// UserLiquidation creates a liquidation auction for a user.
	UserLiquidation Kind = iota
	// BadDebtTransfer moves a user's bad debt to the backstop.
	BadDebtTransfer
	// BadDebtAuction auctions the backstop's bad debt.
	BadDebtAuction
)

func (k Kind) String() string {
	switch k {
	case UserLiquidation:
		return "user-liquidation"
	case BadDebtTransfer:
		return "bad-debt-transfer"
	case BadDebtAuction:
		return "bad-debt-auction"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Work is a liquidation to submit. Percent only applies to user liquidations.
type Work struct {
	Kind    Kind
	UserID  string
	Percent uint32
}

func (w Work) String() string {
	if w.Kind == UserLiquidation {
		return fmt.Sprintf("%s of %s at %d%%", w.Kind, w.UserID, w.Percent)
	}
	return fmt.Sprintf("%s of %s", w.Kind, w.UserID)
}

// Config is the worker configuration.
type Config struct {
	// Signer is the identity liquidations are submitted with.
	Signer string
	// BackstopID is the pool backstop identity.
	BackstopID string
	// HealthFactorThreshold selects the users checked on each scan.
	HealthFactorThreshold float64
	MaxRetries            int
	SubmitTimeout         time.Duration
	MinRetryInterval      time.Duration
}

// DefaultConfig is the default worker configuration.
var DefaultConfig = Config{
	HealthFactorThreshold: 1.2,
	MaxRetries:            3,
	SubmitTimeout:         time.Minute,
	MinRetryInterval:      submitter.DefaultMinRetryInterval,
}

// Worker creates liquidations for unhealthy users.
type Worker struct {
	conf     Config
	store    store.Store
	gw       ledger.Gateway
	sem      *sempool.SemaphorePool
	notifier notifier.Notifier
	queue    *submitter.Queue[Work]

	// percents holds user liquidation percents adjusted after a rejection.
	lk       sync.Mutex
	percents map[string]uint32

	statUnhealthy int64
	metricWork    metric.Int64Counter
	metricDropped metric.Int64Counter
	metricScanned metric.Int64GaugeObserver
}

var _ msgbroker.LiquidationScanListener = (*Worker)(nil)

// New returns a new Worker. sem serializes per user work with the reactor.
func New(
	conf Config,
	st store.Store,
	gw ledger.Gateway,
	sem *sempool.SemaphorePool,
	n notifier.Notifier,
) (*Worker, error) {
	if conf.Signer == "" {
		return nil, errors.New("signer is empty")
	}
	w := &Worker{conf: conf, store: st, gw: gw, sem: sem, notifier: n, percents: map[string]uint32{}}
	q, err := submitter.New[Work](w.submit, w.drop,
		submitter.WithName("worker"),
		submitter.WithSubmitTimeout(conf.SubmitTimeout))
	if err != nil {
		return nil, fmt.Errorf("creating work queue: %s", err)
	}
	w.queue = q
	w.initMetrics()
	return w, nil
}

// Queued returns the number of queued liquidations.
func (w *Worker) Queued() int {
	return w.queue.Len()
}

// OnLiquidationScan checks users under the health factor threshold and the
// backstop for bad debt.
func (w *Worker) OnLiquidationScan(ctx context.Context, ledgerSeq uint32) error {
	users, err := w.store.ListUserEntriesUnderHealthFactor(ctx, w.conf.HealthFactorThreshold)
	if err != nil {
		return fmt.Errorf("listing unhealthy users: %s", err)
	}
	atomic.StoreInt64(&w.statUnhealthy, int64(len(users)))
	log.Debugf("scanning %d users at ledger %d", len(users), ledgerSeq)

	for _, u := range users {
		if u.UserID == w.conf.BackstopID {
			continue
		}
		if err := w.scanUser(ctx, u.UserID, ledgerSeq); err != nil {
			log.Errorf("scanning user %s: %s", u.UserID, err)
		}
	}
	if w.conf.BackstopID != "" {
		if err := w.scanBackstop(ctx); err != nil {
			log.Errorf("scanning backstop: %s", err)
		}
	}
	return nil
}

func (w *Worker) scanUser(ctx context.Context, userID string, ledgerSeq uint32) error {
	unlock := w.sem.Lock(sempool.UserKey(userID))
	defer unlock()

	if exists, err := w.auctionExists(ctx, userID, pool.Liquidation); err != nil || exists {
		return err
	}

	est, positions, err := w.gw.LoadUserPositionEstimate(ctx, userID)
	if err != nil {
		return fmt.Errorf("loading positions: %s", err)
	}
	if err := w.refreshUser(ctx, userID, est, positions, ledgerSeq); err != nil {
		return err
	}

	switch {
	case liquidation.IsBadDebt(est):
		return w.enqueue(Work{Kind: BadDebtTransfer, UserID: userID})
	case liquidation.IsLiquidatable(est):
		return w.enqueue(Work{Kind: UserLiquidation, UserID: userID, Percent: liquidation.Percent(est)})
	}
	return nil
}

func (w *Worker) scanBackstop(ctx context.Context) error {
	if exists, err := w.auctionExists(ctx, w.conf.BackstopID, pool.BadDebt); err != nil || exists {
		return err
	}
	_, positions, err := w.gw.LoadUserPositionEstimate(ctx, w.conf.BackstopID)
	if err != nil {
		return fmt.Errorf("loading backstop positions: %s", err)
	}
	if len(positions.Liabilities) == 0 {
		return nil
	}
	return w.enqueue(Work{Kind: BadDebtAuction, UserID: w.conf.BackstopID})
}

// auctionExists reports whether an auction of type t is running for userID,
// either tracked locally or live on the ledger. Auctions no filler supports
// are only on the ledger.
func (w *Worker) auctionExists(ctx context.Context, userID string, t pool.AuctionType) (bool, error) {
	if _, err := w.store.GetAuctionEntry(ctx, userID, t); err == nil {
		return true, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("getting %s auction: %s", t, err)
	}
	if _, err := w.gw.LoadAuction(ctx, userID, t); err == nil {
		log.Debugf("%s auction of %s is live on the ledger", t, userID)
		return true, nil
	} else if !errors.Is(err, ledger.ErrAuctionNotFound) {
		return false, fmt.Errorf("loading %s auction: %s", t, err)
	}
	return false, nil
}

// refreshUser keeps the user entry in sync with the loaded positions.
func (w *Worker) refreshUser(
	ctx context.Context,
	userID string,
	est pool.PositionsEstimate,
	positions pool.Positions,
	ledgerSeq uint32,
) error {
	e, ok := store.NewUserEntry(userID, est, positions, ledgerSeq)
	if !ok {
		return w.store.DeleteUserEntry(ctx, userID)
	}
	return w.store.SetUserEntry(ctx, e)
}

func (w *Worker) enqueue(work Work) error {
	if w.queue.Contains(func(q Work) bool { return q.Kind == work.Kind && q.UserID == work.UserID }) {
		return nil
	}
	log.Infof("queueing %s", work)
	return w.queue.Enqueue(work, w.conf.MaxRetries, submitter.WithMinRetryInterval(w.conf.MinRetryInterval))
}

func (w *Worker) submit(ctx context.Context, work Work) (ok bool, err error) {
	defer func() {
		metrics.MetricIncrCounter(ctx, err, w.metricWork, metrics.AttrKind(work.Kind))
	}()

	var txHash string
	switch work.Kind {
	case UserLiquidation:
		work.Percent = w.percent(work)
		txHash, err = w.gw.NewLiquidationAuction(ctx, work.UserID, work.Percent, w.conf.Signer)
		switch {
		case ctx.Err() != nil:
			// A timed out attempt may return after the next one started.
		case errors.Is(err, ledger.ErrLiquidationTooLarge) && work.Percent > 1:
			w.setPercent(work.UserID, work.Percent-1)
		case errors.Is(err, ledger.ErrLiquidationTooSmall) && work.Percent < 100:
			w.setPercent(work.UserID, work.Percent+1)
		case err == nil:
			w.clearPercent(work.UserID)
		}
	case BadDebtTransfer:
		txHash, err = w.gw.BadDebtTransfer(ctx, work.UserID, w.conf.Signer)
	case BadDebtAuction:
		txHash, err = w.gw.NewBadDebtAuction(ctx, w.conf.Signer)
	default:
		return false, fmt.Errorf("unknown work kind %s", work.Kind)
	}
	if err != nil {
		return false, fmt.Errorf("submitting %s: %w", work, err)
	}
	log.Infof("submitted %s in tx %s", work, txHash)
	return true, nil
}

func (w *Worker) drop(ctx context.Context, work Work) {
	if work.Kind == UserLiquidation {
		work.Percent = w.percent(work)
		w.clearPercent(work.UserID)
	}
	w.metricDropped.Add(ctx, 1, metrics.AttrKind(work.Kind))
	w.notifier.Notify(ctx, notifier.WorkDropped(work, work.UserID, w.conf.MaxRetries+1))
}

// percent returns the liquidation percent to submit for work.
func (w *Worker) percent(work Work) uint32 {
	w.lk.Lock()
	defer w.lk.Unlock()
	if p, ok := w.percents[work.UserID]; ok {
		return p
	}
	return work.Percent
}

func (w *Worker) setPercent(userID string, p uint32) {
	w.lk.Lock()
	defer w.lk.Unlock()
	w.percents[userID] = p
}

func (w *Worker) clearPercent(userID string) {
	w.lk.Lock()
	defer w.lk.Unlock()
	delete(w.percents, userID)
}

// Close stops submitting liquidations.
func (w *Worker) Close() error {
	return w.queue.Close()
}
