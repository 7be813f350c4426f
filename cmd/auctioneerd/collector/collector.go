// Package collector polls the ledger and publishes what happened in each
// closed ledger.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/store"
	"github.com/textileio/auctioneer-bot/ledger"
	"github.com/textileio/auctioneer-bot/metrics"
	"github.com/textileio/auctioneer-bot/msgbroker"
	"github.com/textileio/auctioneer-bot/pool"
	logging "github.com/textileio/go-log/v2"
	"go.opentelemetry.io/otel/metric"
)

var log = logging.Logger("auctioneer/collector")

// Config holds the configuration for creating a new Collector.
type Config struct {
	// PollInterval is the delay between polls.
	PollInterval time.Duration
	// MaxPollInterval caps the backoff after failed polls.
	MaxPollInterval time.Duration
	// RequestTimeout bounds a single poll.
	RequestTimeout time.Duration
	// ScanInterval publishes a liquidation scan every ScanInterval ledgers.
	ScanInterval uint32
	// PriceInterval publishes a price update every PriceInterval ledgers.
	PriceInterval uint32
	// MaxLedgersPerPoll bounds the ledger range read in a single poll.
	MaxLedgersPerPoll uint32
}

// DefaultConfig is a sensible default configuration.
var DefaultConfig = Config{
	PollInterval:      5 * time.Second,
	MaxPollInterval:   time.Minute,
	RequestTimeout:    30 * time.Second,
	ScanInterval:      10,
	PriceInterval:     10,
	MaxLedgersPerPoll: 100,
}

// Collector reads pool events ledger by ledger and publishes them in order,
// followed by the ledger-closed message of their ledger.
type Collector struct {
	config Config
	store  store.Store
	gw     ledger.Gateway
	mb     msgbroker.MsgBroker

	lock sync.Mutex

	mainCtx context.Context
	cancel  context.CancelFunc
	closed  chan struct{}
	started bool

	metricPolls     metric.Int64Counter
	metricPublished metric.Int64Counter
	statLastLedger  int64
	metricLast      metric.Int64GaugeObserver
}

// New returns a new Collector. Call Start to begin polling.
func New(conf Config, st store.Store, gw ledger.Gateway, mb msgbroker.MsgBroker) (*Collector, error) {
	if conf.PollInterval <= 0 {
		return nil, errors.New("poll interval must be positive")
	}
	if conf.ScanInterval == 0 || conf.PriceInterval == 0 {
		return nil, errors.New("scan and price intervals must be positive")
	}
	if conf.MaxLedgersPerPoll == 0 {
		conf.MaxLedgersPerPoll = DefaultConfig.MaxLedgersPerPoll
	}
	if conf.MaxPollInterval < conf.PollInterval {
		conf.MaxPollInterval = conf.PollInterval
	}
	if conf.RequestTimeout <= 0 {
		conf.RequestTimeout = DefaultConfig.RequestTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Collector{
		config:  conf,
		store:   st,
		gw:      gw,
		mb:      mb,
		mainCtx: ctx,
		cancel:  cancel,
		closed:  make(chan struct{}),
	}
	c.initMetrics()
	return c, nil
}

// Start begins polling in the background.
func (c *Collector) Start() {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.started {
		return
	}
	c.started = true
	go c.run()
}

// Close stops polling and waits for the in-flight poll to finish.
func (c *Collector) Close() error {
	c.lock.Lock()
	started := c.started
	c.lock.Unlock()

	c.cancel()
	if started {
		<-c.closed
	}
	return nil
}

func (c *Collector) run() {
	defer close(c.closed)
	interval := c.config.PollInterval
	for {
		select {
		case <-c.mainCtx.Done():
			return
		case <-time.After(interval):
			ctx, cancel := context.WithTimeout(c.mainCtx, c.config.RequestTimeout)
			_, err := c.Collect(ctx)
			cancel()
			if err != nil {
				if c.mainCtx.Err() != nil {
					return
				}
				interval *= 2
				if interval > c.config.MaxPollInterval {
					interval = c.config.MaxPollInterval
				}
				log.Errorf("collecting ledgers (next poll in %s): %s", interval, err)
				continue
			}
			interval = c.config.PollInterval
		}
	}
}

// Collect processes the closed ledgers since the last processed one, up to
// MaxLedgersPerPoll of them, and returns the last processed ledger. The
// first run starts at the latest ledger.
func (c *Collector) Collect(ctx context.Context) (last uint32, err error) {
	defer func() { metrics.MetricIncrCounter(ctx, err, c.metricPolls) }()

	latest, err := c.gw.LatestLedger(ctx)
	if err != nil {
		return 0, fmt.Errorf("getting latest ledger: %s", err)
	}
	if latest == 0 {
		return 0, nil
	}
	last, err = c.store.GetStatus(ctx, store.StatusLastLedger)
	if errors.Is(err, store.ErrNotFound) {
		log.Infof("no processed ledger found, starting at %d", latest)
		last = latest - 1
	} else if err != nil {
		return 0, fmt.Errorf("getting last processed ledger: %s", err)
	}
	if last >= latest {
		return last, nil
	}

	from, to := last+1, latest
	if to-from+1 > c.config.MaxLedgersPerPoll {
		to = from + c.config.MaxLedgersPerPoll - 1
	}
	events, err := c.gw.PoolEvents(ctx, from, to)
	if err != nil {
		return last, fmt.Errorf("getting pool events of [%d, %d]: %s", from, to, err)
	}
	byLedger := make(map[uint32][]pool.Event, to-from+1)
	for _, e := range events {
		l := e.Meta().Ledger
		if l < from || l > to {
			log.Warnf("ignoring %s event of ledger %d out of [%d, %d]", e.Kind(), l, from, to)
			continue
		}
		byLedger[l] = append(byLedger[l], e)
	}

	for l := from; l <= to; l++ {
		if err := c.publishLedger(ctx, l, byLedger[l]); err != nil {
			return last, err
		}
		if err := c.store.SetStatus(ctx, store.StatusLastLedger, l); err != nil {
			return last, fmt.Errorf("saving last processed ledger: %s", err)
		}
		last = l
		c.lock.Lock()
		c.statLastLedger = int64(l)
		c.lock.Unlock()
	}
	if len(events) > 0 {
		log.Debugf("published %d pool events of ledgers [%d, %d]", len(events), from, to)
	}
	return last, nil
}

func (c *Collector) publishLedger(ctx context.Context, l uint32, events []pool.Event) error {
	for _, e := range events {
		if err := msgbroker.PublishMsgPoolEvent(ctx, c.mb, e); err != nil {
			return fmt.Errorf("publishing %s event of ledger %d: %s", e.Kind(), l, err)
		}
		c.metricPublished.Add(ctx, 1)
	}
	if err := msgbroker.PublishMsgLedgerClosed(ctx, c.mb, l); err != nil {
		return fmt.Errorf("publishing ledger-closed %d: %s", l, err)
	}
	if l%c.config.ScanInterval == 0 {
		if err := msgbroker.PublishMsgLiquidationScan(ctx, c.mb, l); err != nil {
			return fmt.Errorf("publishing liquidation scan %d: %s", l, err)
		}
	}
	if l%c.config.PriceInterval == 0 {
		if err := msgbroker.PublishMsgPriceUpdate(ctx, c.mb, l); err != nil {
			return fmt.Errorf("publishing price update %d: %s", l, err)
		}
	}
	return nil
}
