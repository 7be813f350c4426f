// Package metrics holds the daemon meter.
package metrics

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
)

// Prefix prefixes every metric of the daemon.
const Prefix = "auctioneer"

// Meter creates the daemon instruments.
var Meter = metric.Must(global.Meter(Prefix))
