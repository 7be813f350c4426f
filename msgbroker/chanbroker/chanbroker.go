// Package chanbroker implements an in-process msgbroker.MsgBroker over
// buffered channels. Every registered handler gets its own copy of each
// message, delivered in publish order and redelivered while it fails.
package chanbroker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/textileio/auctioneer-bot/msgbroker"
	logging "github.com/textileio/go-log/v2"
)

var log = logging.Logger("chanbroker")

// ErrClosed is returned when publishing on a closed broker.
var ErrClosed = errors.New("broker is closed")

const defaultBufferSize = 1024

type message struct {
	id   string
	data []byte
}

type subscription struct {
	topic   msgbroker.TopicName
	handler msgbroker.TopicHandler
	config  msgbroker.RegisterHandlerConfig
	msgs    chan message
}

// ChanBroker is an in-process message broker.
type ChanBroker struct {
	bufSize int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	lk     sync.RWMutex
	subs   map[msgbroker.TopicName][]*subscription
	closed bool
}

var _ msgbroker.MsgBroker = (*ChanBroker)(nil)

// New returns a new ChanBroker. bufSize bounds the pending messages per
// subscription; publishers block while a subscription is full.
func New(bufSize int) *ChanBroker {
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ChanBroker{
		bufSize: bufSize,
		ctx:     ctx,
		cancel:  cancel,
		subs:    map[msgbroker.TopicName][]*subscription{},
	}
}

// RegisterTopicHandler implements msgbroker.MsgBroker.
func (b *ChanBroker) RegisterTopicHandler(
	topic msgbroker.TopicName,
	handler msgbroker.TopicHandler,
	opts ...msgbroker.Option) error {
	b.lk.Lock()
	defer b.lk.Unlock()
	if b.closed {
		return ErrClosed
	}
	sub := &subscription{
		topic:   topic,
		handler: handler,
		config:  msgbroker.ApplyRegisterHandlerOptions(opts...),
		msgs:    make(chan message, b.bufSize),
	}
	b.subs[topic] = append(b.subs[topic], sub)

	b.wg.Add(1)
	go b.receive(sub)
	log.Debugf("registered handler for %s", topic)
	return nil
}

// PublishMsg implements msgbroker.MsgBroker.
func (b *ChanBroker) PublishMsg(ctx context.Context, topic msgbroker.TopicName, data []byte) error {
	b.lk.RLock()
	defer b.lk.RUnlock()
	if b.closed {
		return ErrClosed
	}
	subs := b.subs[topic]
	if len(subs) == 0 {
		log.Debugf("no subscriptions for %s, discarding message", topic)
		return nil
	}
	msg := message{id: uuid.NewString(), data: data}
	for _, sub := range subs {
		select {
		case sub.msgs <- msg:
		case <-ctx.Done():
			return fmt.Errorf("publishing to %s: %s", topic, ctx.Err())
		case <-b.ctx.Done():
			return ErrClosed
		}
	}
	return nil
}

// Close stops delivering messages and waits for in-flight handlers.
func (b *ChanBroker) Close() error {
	b.lk.Lock()
	if b.closed {
		b.lk.Unlock()
		return nil
	}
	b.closed = true
	b.lk.Unlock()

	b.cancel()
	b.wg.Wait()
	return nil
}

func (b *ChanBroker) receive(sub *subscription) {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg := <-sub.msgs:
			b.deliver(sub, msg)
		}
	}
}

func (b *ChanBroker) deliver(sub *subscription, msg message) {
	for attempt := 1; attempt <= sub.config.MaxDeliveries; attempt++ {
		ctx, cancel := context.WithTimeout(b.ctx, sub.config.AckDeadline)
		err := sub.handler(ctx, msg.data)
		cancel()
		if err == nil {
			return
		}
		log.Warnf("handling message %s from %s (attempt %d/%d): %s",
			msg.id, sub.topic, attempt, sub.config.MaxDeliveries, err)
		if attempt == sub.config.MaxDeliveries {
			break
		}
		select {
		case <-b.ctx.Done():
			return
		case <-time.After(sub.config.RedeliverDelay):
		}
	}
	log.Errorf("discarding message %s from %s after %d deliveries", msg.id, sub.topic, sub.config.MaxDeliveries)
}
