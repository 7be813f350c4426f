// Package prices refreshes the cached asset prices.
package prices

import (
	"context"
	"fmt"
	"time"

	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/store"
	"github.com/textileio/auctioneer-bot/ledger"
	"github.com/textileio/auctioneer-bot/metrics"
	"github.com/textileio/auctioneer-bot/msgbroker"
	logging "github.com/textileio/go-log/v2"
	"go.opentelemetry.io/otel/metric"
)

var log = logging.Logger("auctioneer/prices")

// Updater writes a price entry for every reserve and for the backstop token.
type Updater struct {
	store         store.Store
	gw            ledger.Gateway
	backstopToken string

	metricUpdates metric.Int64Counter
}

var _ msgbroker.PriceUpdateListener = (*Updater)(nil)

// New returns a new Updater.
func New(st store.Store, gw ledger.Gateway, backstopToken string) *Updater {
	u := &Updater{store: st, gw: gw, backstopToken: backstopToken}
	u.initMetrics()
	return u
}

// OnPriceUpdate refreshes the price cache. Reserves missing from the oracle
// keep their previous price.
func (u *Updater) OnPriceUpdate(ctx context.Context, l uint32) (err error) {
	defer func() { metrics.MetricIncrCounter(ctx, err, u.metricUpdates) }()

	p, err := u.gw.LoadPool(ctx)
	if err != nil {
		return fmt.Errorf("loading pool: %s", err)
	}
	oracle, err := u.gw.LoadPoolOracle(ctx)
	if err != nil {
		return fmt.Errorf("loading oracle: %s", err)
	}
	ts := time.Now().UTC()
	if oracle.Timestamp > 0 {
		ts = time.Unix(oracle.Timestamp, 0).UTC()
	}

	entries := make([]store.PriceEntry, 0, len(p.Reserves)+1)
	for _, r := range p.Reserves {
		price, ok := oracle.PriceFloat(r.AssetID)
		if !ok {
			log.Warnf("oracle has no price for reserve %s", r.AssetID)
			continue
		}
		entries = append(entries, store.PriceEntry{AssetID: r.AssetID, Price: price, Timestamp: ts})
	}
	if u.backstopToken != "" {
		price, err := u.gw.BackstopTokenPrice(ctx)
		if err != nil {
			log.Warnf("getting backstop token price: %s", err)
		} else {
			entries = append(entries, store.PriceEntry{
				AssetID:   u.backstopToken,
				Price:     price,
				Timestamp: time.Now().UTC(),
			})
		}
	}
	if len(entries) == 0 {
		return nil
	}
	if err := u.store.SetPriceEntries(ctx, entries); err != nil {
		return fmt.Errorf("saving price entries: %s", err)
	}
	log.Debugf("refreshed %d prices at ledger %d", len(entries), l)
	return nil
}
