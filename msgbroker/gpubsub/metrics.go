package gpubsub

import (
	"context"
	"time"

	"github.com/textileio/auctioneer-bot/metrics"
	"go.opentelemetry.io/otel/metric"
)

// brokerMetrics counts published and handled messages per topic. A nil
// *brokerMetrics records nothing.
type brokerMetrics struct {
	published      metric.Int64Counter
	handled        metric.Int64Counter
	handleDuration metric.Int64Histogram
}

func (m *brokerMetrics) onPublish(ctx context.Context, topicName string, err error) {
	if m == nil {
		return
	}
	metrics.MetricIncrCounter(ctx, err, m.published, metrics.KeyTopic.String(topicName))
}

func (m *brokerMetrics) onHandle(ctx context.Context, topicName string, start time.Time, err error) {
	if m == nil {
		return
	}
	label := metrics.KeyTopic.String(topicName)
	metrics.MetricIncrCounter(ctx, err, m.handled, label)
	metrics.MetricRecordSince(ctx, err, m.handleDuration, start, label)
}

func (p *PubsubMsgBroker) initMetrics(meter metric.MeterMust) {
	p.metrics = &brokerMetrics{
		published:      meter.NewInt64Counter("msgbroker.gpubsub.published_messages_total"),
		handled:        meter.NewInt64Counter("msgbroker.gpubsub.handled_messages_total"),
		handleDuration: meter.NewInt64Histogram("msgbroker.gpubsub.handle_message_duration_ms"),
	}
}
