package collector

import (
	"context"

	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/metrics"
	"go.opentelemetry.io/otel/metric"
)

func (c *Collector) initMetrics() {
	c.metricPolls = metrics.Meter.NewInt64Counter(metrics.Prefix + ".ledger_polls_total")
	c.metricPublished = metrics.Meter.NewInt64Counter(metrics.Prefix + ".published_pool_events_total")
	c.metricLast = metrics.Meter.NewInt64GaugeObserver(metrics.Prefix+".last_ledger", c.lastLedgerCb)
}

func (c *Collector) lastLedgerCb(_ context.Context, r metric.Int64ObserverResult) {
	c.lock.Lock()
	defer c.lock.Unlock()
	r.Observe(c.statLastLedger)
}
