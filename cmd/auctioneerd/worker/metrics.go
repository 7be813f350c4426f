package worker

import (
	"context"
	"sync/atomic"

	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/metrics"
	"go.opentelemetry.io/otel/metric"
)

func (w *Worker) initMetrics() {
	w.metricWork = metrics.Meter.NewInt64Counter(metrics.Prefix + ".liquidations_total")
	w.metricDropped = metrics.Meter.NewInt64Counter(metrics.Prefix + ".dropped_liquidations_total")
	w.metricScanned = metrics.Meter.NewInt64GaugeObserver(metrics.Prefix+".unhealthy_users", w.unhealthyCb)
}

func (w *Worker) unhealthyCb(_ context.Context, r metric.Int64ObserverResult) {
	r.Observe(atomic.LoadInt64(&w.statUnhealthy))
}
