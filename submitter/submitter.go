// Package submitter provides a generic ordered queue that submits payloads
// one at a time with bounded retries.
package submitter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logging "github.com/textileio/go-log/v2"
)

var log = logging.Logger("submitter")

// ErrQueueClosed is returned when enqueueing into a closed queue.
var ErrQueueClosed = errors.New("queue is closed")

// SubmitFunc submits a payload. The attempt succeeds only when it returns
// true and a nil error.
type SubmitFunc[T any] func(ctx context.Context, payload T) (bool, error)

// DropFunc is called once for a payload that ran out of retries.
type DropFunc[T any] func(ctx context.Context, payload T)

// State is the processing state of a Queue.
type State int

const (
	// Idle queues have nothing to process.
	Idle State = iota
	// Processing queues are submitting items.
	Processing
)

func (s State) String() string {
	if s == Processing {
		return "processing"
	}
	return "idle"
}

// Retriable is a queued payload with its retry bookkeeping.
type Retriable[T any] struct {
	RetriesRemaining int
	LastAttemptAt    time.Time
	MinRetryInterval time.Duration
	Payload          T
}

// Queue submits payloads in FIFO order, one at a time. Failed items are
// moved to the back of the queue until their retries are exhausted.
type Queue[T any] struct {
	conf   config
	submit SubmitFunc[T]
	drop   DropFunc[T]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	lk     sync.Mutex
	items  []*Retriable[T]
	state  State
	closed bool
}

// New returns a new Queue.
func New[T any](submit SubmitFunc[T], drop DropFunc[T], opts ...Option) (*Queue[T], error) {
	if submit == nil {
		return nil, errors.New("submit func is nil")
	}
	conf := defaultConfig
	for _, opt := range opts {
		if err := opt(&conf); err != nil {
			return nil, fmt.Errorf("applying option: %s", err)
		}
	}
	if drop == nil {
		drop = func(context.Context, T) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue[T]{
		conf:   conf,
		submit: submit,
		drop:   drop,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Enqueue appends payload to the queue. The payload is submitted up to
// maxRetries+1 times before being dropped.
func (q *Queue[T]) Enqueue(payload T, maxRetries int, opts ...EnqueueOption) error {
	ec := enqueueConfig{minRetryInterval: DefaultMinRetryInterval}
	for _, opt := range opts {
		opt(&ec)
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	q.lk.Lock()
	defer q.lk.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.items = append(q.items, &Retriable[T]{
		RetriesRemaining: maxRetries,
		MinRetryInterval: ec.minRetryInterval,
		Payload:          payload,
	})
	if q.state == Idle {
		q.state = Processing
		q.wg.Add(1)
		go q.process()
	}
	return nil
}

// Contains reports whether a queued payload, including the one being
// submitted, satisfies match.
func (q *Queue[T]) Contains(match func(T) bool) bool {
	q.lk.Lock()
	defer q.lk.Unlock()
	for _, it := range q.items {
		if match(it.Payload) {
			return true
		}
	}
	return false
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.lk.Lock()
	defer q.lk.Unlock()
	return len(q.items)
}

// State returns the current processing state.
func (q *Queue[T]) State() State {
	q.lk.Lock()
	defer q.lk.Unlock()
	return q.state
}

// Close stops processing and waits for the in-flight attempt to finish.
// Queued items are discarded.
func (q *Queue[T]) Close() error {
	q.lk.Lock()
	if q.closed {
		q.lk.Unlock()
		return nil
	}
	q.closed = true
	q.lk.Unlock()

	q.cancel()
	q.wg.Wait()
	return nil
}

func (q *Queue[T]) process() {
	defer q.wg.Done()
	for {
		q.lk.Lock()
		if len(q.items) == 0 || q.ctx.Err() != nil {
			q.state = Idle
			q.lk.Unlock()
			return
		}
		item := q.items[0]
		q.lk.Unlock()

		if !item.LastAttemptAt.IsZero() {
			wait := time.Until(item.LastAttemptAt.Add(item.MinRetryInterval))
			if wait > 0 {
				select {
				case <-q.ctx.Done():
					continue
				case <-time.After(wait):
				}
			}
		}

		item.LastAttemptAt = time.Now()
		ok := q.attempt(item.Payload)
		if q.ctx.Err() != nil {
			continue
		}

		var dropped bool
		q.lk.Lock()
		q.items = q.items[1:]
		if !ok {
			if item.RetriesRemaining > 0 {
				item.RetriesRemaining--
				item.LastAttemptAt = time.Now()
				q.items = append(q.items, item)
			} else {
				dropped = true
			}
		}
		q.lk.Unlock()

		if dropped {
			log.Warnf("%s: dropping item after exhausting retries", q.conf.name)
			q.drop(q.ctx, item.Payload)
		}
	}
}

func (q *Queue[T]) attempt(payload T) bool {
	ctx, cancel := context.WithTimeout(q.ctx, q.conf.submitTimeout)
	defer cancel()

	type result struct {
		ok  bool
		err error
	}
	// Buffered: a timed out submit must still be able to send.
	resc := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resc <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		ok, err := q.submit(ctx, payload)
		resc <- result{ok: ok, err: err}
	}()

	select {
	case <-ctx.Done():
		log.Warnf("%s: submit timed out: %s", q.conf.name, ctx.Err())
		return false
	case res := <-resc:
		if res.err != nil {
			log.Warnf("%s: submit failed: %s", q.conf.name, res.err)
			return false
		}
		return res.ok
	}
}
