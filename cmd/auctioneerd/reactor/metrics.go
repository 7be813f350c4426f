package reactor

import (
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/metrics"
)

func (r *Reactor) initMetrics() {
	r.metricEvents = metrics.Meter.NewInt64Counter(metrics.Prefix + ".pool_events_total")
	r.metricDeadLetters = metrics.Meter.NewInt64Counter(metrics.Prefix + ".dead_letters_total")
}
