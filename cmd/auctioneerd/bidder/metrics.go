package bidder

import (
	"context"
	"sync/atomic"

	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/metrics"
	"go.opentelemetry.io/otel/metric"
)

func (b *Bidder) initMetrics() {
	b.metricBids = metrics.Meter.NewInt64Counter(metrics.Prefix + ".bids_total")
	b.metricFills = metrics.Meter.NewInt64Counter(metrics.Prefix + ".fills_total")
	b.metricDropped = metrics.Meter.NewInt64Counter(metrics.Prefix + ".dropped_bids_total")
	b.metricSubmitDuration = metrics.Meter.NewInt64Histogram(metrics.Prefix + ".bid_submit_duration_ms")
	b.metricTracked = metrics.Meter.NewInt64GaugeObserver(metrics.Prefix+".tracked_auctions", b.trackedCb)
}

func (b *Bidder) trackedCb(_ context.Context, r metric.Int64ObserverResult) {
	r.Observe(atomic.LoadInt64(&b.statTracked))
}
