package prices

import (
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/metrics"
)

func (u *Updater) initMetrics() {
	u.metricUpdates = metrics.Meter.NewInt64Counter(metrics.Prefix + ".price_updates_total")
}
