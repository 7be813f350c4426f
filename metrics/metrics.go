// Package metrics holds helpers shared by every instrumented component.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// AttrOK is a metric tag to indicate a successful operation.
	AttrOK = attribute.Key("status").String("ok")
	// AttrError is a metric tag to indicate a failed operation.
	AttrError = attribute.Key("status").String("error")
)

// Attribute keys used across components.
const (
	KeyAuctionType attribute.Key = "auction_type"
	KeyKind        attribute.Key = "kind"
	KeyFiller      attribute.Key = "filler"
	KeyTopic       attribute.Key = "topic"
)

// AttrAuctionType tags a metric with an auction type.
func AttrAuctionType(t fmt.Stringer) attribute.KeyValue {
	return KeyAuctionType.String(t.String())
}

// AttrKind tags a metric with an event or work kind.
func AttrKind(k fmt.Stringer) attribute.KeyValue {
	return KeyKind.String(k.String())
}

// AttrFiller tags a metric with a filler id.
func AttrFiller(id string) attribute.KeyValue {
	return KeyFiller.String(id)
}

// MetricIncrCounter increments the specified Int64Counter by 1. Depending if err
// is nil or not, it will use AttrOK or AttrError respectively. This method is a helper
// for deferring in methods.
func MetricIncrCounter(ctx context.Context, err error, m metric.Int64Counter, labels ...attribute.KeyValue) {
	m.Add(ctx, 1, append(labels, status(err))...)
}

// MetricRecordSince records the milliseconds elapsed since start in h, tagged
// like MetricIncrCounter.
func MetricRecordSince(ctx context.Context, err error, h metric.Int64Histogram, start time.Time, labels ...attribute.KeyValue) {
	h.Record(ctx, time.Since(start).Milliseconds(), append(labels, status(err))...)
}

func status(err error) attribute.KeyValue {
	if err != nil {
		return AttrError
	}
	return AttrOK
}
