// Package common holds daemon bootstrapping shared by binaries.
package common

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	logging "github.com/textileio/go-log/v2"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/sdk/metric/aggregator/histogram"
	controller "go.opentelemetry.io/otel/sdk/metric/controller/basic"
	"go.opentelemetry.io/otel/sdk/metric/export/aggregation"
	processor "go.opentelemetry.io/otel/sdk/metric/processor/basic"
	selector "go.opentelemetry.io/otel/sdk/metric/selector/simple"
)

var log = logging.Logger("common")

// HistogramBoundaries cover submit durations in millis and scheduling delays in ledgers.
var HistogramBoundaries = []float64{1, 10, 100, 200, 400, 1000, 10000, 60000}

// SetupInstrumentation sets the global meter provider to a prometheus
// exporter served at prometheusAddr/metrics, and starts Go runtime metrics.
// Closing the returned io.Closer stops the endpoint.
func SetupInstrumentation(prometheusAddr string) (io.Closer, error) {
	config := prometheus.Config{DefaultHistogramBoundaries: HistogramBoundaries}
	c := controller.New(
		processor.NewFactory(
			selector.NewWithHistogramDistribution(
				histogram.WithExplicitBoundaries(config.DefaultHistogramBoundaries),
			),
			aggregation.CumulativeTemporalitySelector(),
			processor.WithMemory(true),
		),
	)
	exporter, err := prometheus.New(config, c)
	if err != nil {
		return nil, fmt.Errorf("initializing prometheus exporter: %s", err)
	}
	global.SetMeterProvider(exporter.MeterProvider())

	if err := runtime.Start(runtime.WithMinimumReadMemStatsInterval(time.Second)); err != nil {
		return nil, fmt.Errorf("starting Go runtime metrics: %s", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", exporter.ServeHTTP)
	srv := &http.Server{Addr: prometheusAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("serving metrics: %s", err)
		}
	}()
	return &metricsServer{srv: srv}, nil
}

type metricsServer struct {
	srv *http.Server
}

func (m *metricsServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down metrics server: %s", err)
	}
	return nil
}
