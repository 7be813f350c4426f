package msgbroker

import (
	"context"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/textileio/auctioneer-bot/pool"
)

// TopicHandler is function that processes a received message.
// If no error is returned, the message will be automatically acked.
// If an error is returned, the message will be automatically nacked.
type TopicHandler func(context.Context, []byte) error

// MsgBroker is a message-broker for async message communication.
type MsgBroker interface {
	// RegisterTopicHandler registers a handler to a topic, with a defined
	// subscription defined by the underlying implementation. Is highly recommended
	// to register handlers in a type-safe way using RegisterHandlers().
	RegisterTopicHandler(topic TopicName, handler TopicHandler, opts ...Option) error

	// PublishMsg publishes a message to the desired topic.
	PublishMsg(ctx context.Context, topicName TopicName, data []byte) error
}

// TopicName is a topic name.
type TopicName string

const (
	// PoolEventsTopic is the topic name for pool-events messages.
	PoolEventsTopic TopicName = "pool-events"
	// LedgerClosedTopic is the topic name for ledger-closed messages.
	LedgerClosedTopic TopicName = "ledger-closed"
	// LiquidationScanTopic is the topic name for liquidation-scan messages.
	LiquidationScanTopic TopicName = "liquidation-scan"
	// PriceUpdateTopic is the topic name for price-update messages.
	PriceUpdateTopic TopicName = "price-update"
)

// Topics lists every known topic.
var Topics = []TopicName{PoolEventsTopic, LedgerClosedTopic, LiquidationScanTopic, PriceUpdateTopic}

// PoolEventListener is a handler for pool-events topic.
type PoolEventListener interface {
	OnPoolEvent(context.Context, pool.Event) error
}

// LedgerClosedListener is a handler for ledger-closed topic.
type LedgerClosedListener interface {
	OnLedgerClosed(ctx context.Context, ledger uint32) error
}

// LiquidationScanListener is a handler for liquidation-scan topic.
type LiquidationScanListener interface {
	OnLiquidationScan(ctx context.Context, ledger uint32) error
}

// PriceUpdateListener is a handler for price-update topic.
type PriceUpdateListener interface {
	OnPriceUpdate(ctx context.Context, ledger uint32) error
}

type ledgerMsg struct {
	Ledger uint32
}

// RegisterHandlers automatically calls mb.RegisterTopicHandler in the methods that
// s might satisfy on known XXXListener interfaces. This allows to automatically wire
// s to receive messages from topics of implemented handlers.
func RegisterHandlers(mb MsgBroker, s interface{}, opts ...Option) error {
	var countRegistered int
	if l, ok := s.(PoolEventListener); ok {
		countRegistered++
		err := mb.RegisterTopicHandler(PoolEventsTopic, func(ctx context.Context, data []byte) error {
			e, err := DecodePoolEvent(data)
			if err != nil {
				return err
			}
			if err := l.OnPoolEvent(ctx, e); err != nil {
				return fmt.Errorf("calling pool-event handler: %s", err)
			}
			return nil
		}, opts...)
		if err != nil {
			return fmt.Errorf("registering handler for pool-events topic: %s", err)
		}
	}

	if l, ok := s.(LedgerClosedListener); ok {
		countRegistered++
		err := mb.RegisterTopicHandler(LedgerClosedTopic, ledgerHandler(LedgerClosedTopic, l.OnLedgerClosed), opts...)
		if err != nil {
			return fmt.Errorf("registering handler for ledger-closed topic: %s", err)
		}
	}

	if l, ok := s.(LiquidationScanListener); ok {
		countRegistered++
		err := mb.RegisterTopicHandler(LiquidationScanTopic, ledgerHandler(LiquidationScanTopic, l.OnLiquidationScan), opts...)
		if err != nil {
			return fmt.Errorf("registering handler for liquidation-scan topic: %s", err)
		}
	}

	if l, ok := s.(PriceUpdateListener); ok {
		countRegistered++
		err := mb.RegisterTopicHandler(PriceUpdateTopic, ledgerHandler(PriceUpdateTopic, l.OnPriceUpdate), opts...)
		if err != nil {
			return fmt.Errorf("registering handler for price-update topic: %s", err)
		}
	}

	if countRegistered == 0 {
		return errors.New("no handlers were registered")
	}

	return nil
}

func ledgerHandler(topic TopicName, f func(context.Context, uint32) error) TopicHandler {
	return func(ctx context.Context, data []byte) error {
		var m ledgerMsg
		if err := cbor.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("unmarshal %s msg: %s", topic, err)
		}
		if m.Ledger == 0 {
			return errors.New("ledger is zero")
		}
		if err := f(ctx, m.Ledger); err != nil {
			return fmt.Errorf("calling %s handler: %s", topic, err)
		}
		return nil
	}
}

// PublishMsgPoolEvent publishes a message to the pool-events topic.
func PublishMsgPoolEvent(ctx context.Context, mb MsgBroker, e pool.Event) error {
	rec, err := pool.ToRecord(e)
	if err != nil {
		return fmt.Errorf("flattening event: %s", err)
	}
	return marshalAndPublish(ctx, mb, PoolEventsTopic, rec)
}

// PublishMsgLedgerClosed publishes a message to the ledger-closed topic.
func PublishMsgLedgerClosed(ctx context.Context, mb MsgBroker, ledger uint32) error {
	return marshalAndPublish(ctx, mb, LedgerClosedTopic, ledgerMsg{Ledger: ledger})
}

// PublishMsgLiquidationScan publishes a message to the liquidation-scan topic.
func PublishMsgLiquidationScan(ctx context.Context, mb MsgBroker, ledger uint32) error {
	return marshalAndPublish(ctx, mb, LiquidationScanTopic, ledgerMsg{Ledger: ledger})
}

// PublishMsgPriceUpdate publishes a message to the price-update topic.
func PublishMsgPriceUpdate(ctx context.Context, mb MsgBroker, ledger uint32) error {
	return marshalAndPublish(ctx, mb, PriceUpdateTopic, ledgerMsg{Ledger: ledger})
}

// DecodePoolEvent decodes a pool-events message.
func DecodePoolEvent(data []byte) (pool.Event, error) {
	var rec pool.EventRecord
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal pool-event msg: %s", err)
	}
	e, err := rec.Event()
	if err != nil {
		return nil, fmt.Errorf("decoding pool-event msg: %s", err)
	}
	return e, nil
}

func marshalAndPublish(ctx context.Context, mb MsgBroker, topic TopicName, msg interface{}) error {
	data, err := cbor.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling %s message: %s", topic, err)
	}
	if err := mb.PublishMsg(ctx, topic, data); err != nil {
		return fmt.Errorf("publishing %s message: %s", topic, err)
	}
	return nil
}
