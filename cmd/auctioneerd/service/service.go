package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/bidder"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/collector"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/filler"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/httpapi"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/notifier"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/prices"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/reactor"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/store"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/store/dsstore"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/store/pgstore"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/valuation"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/worker"
	"github.com/textileio/auctioneer-bot/deadletter"
	"github.com/textileio/auctioneer-bot/ledger"
	mbroker "github.com/textileio/auctioneer-bot/msgbroker"
	"github.com/textileio/auctioneer-bot/sempool"
	"github.com/textileio/go-libp2p-pubsub-rpc/finalizer"
	golog "github.com/textileio/go-log/v2"
)

var log = golog.Logger("auctioneer/service")

// Store backends.
const (
	StoreBadger   = "badger"
	StorePostgres = "postgres"
)

// Config defines params for Service configuration.
type Config struct {
	StoreBackend string
	BadgerPath   string
	PostgresURI  string

	BackstopToken    string
	BackstopID       string
	NativeAsset      string
	NativeFeeReserve int64

	Fillers filler.Fillers
	Profits []filler.ProfitRule

	Collector collector.Config
	Bidder    bidder.Config
	Worker    worker.Config

	DeadLetterPath string
	// HTTPAddr is the status API listen address. The API is disabled if empty.
	HTTPAddr string
}

// Service wires the auctioneer components to a ledger and a message broker.
type Service struct {
	store      store.Store
	deadLetter *deadletter.Log
	sem        *sempool.SemaphorePool

	reactor   *reactor.Reactor
	bidder    *bidder.Bidder
	worker    *worker.Worker
	prices    *prices.Updater
	collector *collector.Collector

	finalizer *finalizer.Finalizer
}

var _ httpapi.Service = (*Service)(nil)

// New returns a new Service. Call Start to begin collecting ledgers.
func New(mb mbroker.MsgBroker, gw ledger.Gateway, conf Config) (*Service, error) {
	if err := validateConfig(conf); err != nil {
		return nil, fmt.Errorf("config is invalid: %s", err)
	}

	fin := finalizer.NewFinalizer()

	st, err := newStore(conf)
	if err != nil {
		return nil, fin.Cleanupf("creating store: %v", err)
	}
	fin.Add(st)

	dl := deadletter.New(conf.DeadLetterPath)
	fin.Add(dl)

	n := notifier.Logger{}
	sem := sempool.NewSemaphorePool(1)
	val := valuation.New(gw, st, conf.BackstopToken)
	scheduler := filler.NewScheduler(gw, val, conf.Profits)
	builder := filler.NewRequestBuilder(gw, conf.NativeAsset, conf.NativeFeeReserve)

	b, err := bidder.New(conf.Bidder, st, gw, conf.Fillers, scheduler, builder, val, n)
	if err != nil {
		return nil, fin.Cleanupf("creating bidder: %v", err)
	}
	fin.Add(b)

	wconf := conf.Worker
	if wconf.Signer == "" {
		wconf.Signer = conf.Fillers[0].ID
	}
	if wconf.BackstopID == "" {
		wconf.BackstopID = conf.BackstopID
	}
	w, err := worker.New(wconf, st, gw, sem, n)
	if err != nil {
		return nil, fin.Cleanupf("creating worker: %v", err)
	}
	fin.Add(w)

	c, err := collector.New(conf.Collector, st, gw, mb)
	if err != nil {
		return nil, fin.Cleanupf("creating collector: %v", err)
	}
	fin.Add(c)

	s := &Service{
		store:      st,
		deadLetter: dl,
		sem:        sem,
		reactor:    reactor.New(st, gw, conf.Fillers, sem, dl, n),
		bidder:     b,
		worker:     w,
		prices:     prices.New(st, gw, conf.BackstopToken),
		collector:  c,
		finalizer:  fin,
	}

	// The reactor retries and dead-letters on its own, so its messages get
	// a longer deadline and a single delivery.
	if err := mbroker.RegisterHandlers(mb, s.reactor,
		mbroker.WithACKDeadline(time.Minute),
		mbroker.WithMaxDeliveries(1, 0)); err != nil {
		return nil, fin.Cleanupf("registering pool-events handler: %v", err)
	}
	for _, l := range []interface{}{s.bidder, s.worker, s.prices} {
		if err := mbroker.RegisterHandlers(mb, l, mbroker.WithACKDeadline(time.Minute)); err != nil {
			return nil, fin.Cleanupf("registering msgbroker handlers: %v", err)
		}
	}

	if conf.HTTPAddr != "" {
		server, err := httpapi.NewServer(conf.HTTPAddr, s)
		if err != nil {
			return nil, fin.Cleanupf("creating http server: %v", err)
		}
		fin.Add(server)
	}

	log.Infof("service started with %d fillers", len(conf.Fillers))
	return s, nil
}

// Start begins collecting closed ledgers.
func (s *Service) Start() {
	s.collector.Start()
}

// Collect runs a single collection step. It's meant for tools and tests
// driving the service without the poll loop.
func (s *Service) Collect(ctx context.Context) (uint32, error) {
	return s.collector.Collect(ctx)
}

// ListAuctions returns the tracked auctions.
func (s *Service) ListAuctions(ctx context.Context) ([]store.AuctionEntry, error) {
	return s.store.ListAuctionEntries(ctx)
}

// ListUsers returns the tracked users.
func (s *Service) ListUsers(ctx context.Context) ([]store.UserEntry, error) {
	return s.store.ListUserEntries(ctx)
}

// ListUsersUnderHealthFactor returns the tracked users with a health factor under hf.
func (s *Service) ListUsersUnderHealthFactor(ctx context.Context, hf float64) ([]store.UserEntry, error) {
	return s.store.ListUserEntriesUnderHealthFactor(ctx, hf)
}

// ListFilledAuctions returns the latest fills, newest first.
func (s *Service) ListFilledAuctions(ctx context.Context, limit int) ([]store.FilledAuctionEntry, error) {
	return s.store.ListFilledAuctions(ctx, limit)
}

// DeadLetters returns the dead-lettered pool events.
func (s *Service) DeadLetters() ([]deadletter.Record, error) {
	return s.deadLetter.Records()
}

// Close the service.
func (s *Service) Close() error {
	log.Info("closing service")
	defer log.Info("service was shutdown")

	return s.finalizer.Cleanup(nil)
}

func newStore(conf Config) (store.Store, error) {
	switch conf.StoreBackend {
	case StoreBadger:
		return dsstore.NewBadger(conf.BadgerPath)
	case StorePostgres:
		return pgstore.New(conf.PostgresURI)
	default:
		return nil, fmt.Errorf("unknown store backend %q", conf.StoreBackend)
	}
}

func validateConfig(conf Config) error {
	switch conf.StoreBackend {
	case StoreBadger:
		if conf.BadgerPath == "" {
			return errors.New("badger path is empty")
		}
	case StorePostgres:
		if conf.PostgresURI == "" {
			return errors.New("postgres uri is empty")
		}
	default:
		return fmt.Errorf("unknown store backend %q", conf.StoreBackend)
	}
	if conf.BackstopToken == "" {
		return errors.New("backstop token is empty")
	}
	if conf.NativeAsset == "" {
		return errors.New("native asset is empty")
	}
	if conf.NativeFeeReserve < 0 {
		return errors.New("native fee reserve is negative")
	}
	if err := conf.Fillers.Validate(); err != nil {
		return fmt.Errorf("fillers: %s", err)
	}
	for i, r := range conf.Profits {
		if r.ProfitPct < 0 {
			return fmt.Errorf("profit rule %d: profit pct is negative", i)
		}
	}
	if conf.Bidder.MaxRetries < 0 || conf.Worker.MaxRetries < 0 {
		return errors.New("max retries are negative")
	}
	return nil
}
