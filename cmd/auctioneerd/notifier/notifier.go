// Package notifier surfaces events operators should know about.
package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/store"
	"github.com/textileio/auctioneer-bot/deadletter"
	logging "github.com/textileio/go-log/v2"
)

var log = logging.Logger("auctioneer/notifier")

// Kind is a notification kind.
type Kind string

const (
	// KindAuctionFilled is sent after a fill transaction lands.
	KindAuctionFilled Kind = "auction-filled"
	// KindBidDropped is sent when a bid ran out of retries.
	KindBidDropped Kind = "bid-dropped"
	// KindWorkDropped is sent when a liquidation ran out of retries.
	KindWorkDropped Kind = "work-dropped"
	// KindDeadLetter is sent when a pool event couldn't be applied.
	KindDeadLetter Kind = "dead-letter"
)

// Notification is a message for operators.
type Notification struct {
	Kind    Kind      `json:"kind"`
	UserID  string    `json:"user_id"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Notifier sends notifications. Implementations must not block for long.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// AuctionFilled returns the notification of a fill.
func AuctionFilled(e store.FilledAuctionEntry) Notification {
	return Notification{
		Kind:   KindAuctionFilled,
		UserID: e.UserID,
		Message: fmt.Sprintf("filler %s filled %s auction of %s at block %d in tx %s: lot $%s, bid $%s, profit $%s",
			e.Filler, e.AuctionType, e.UserID, e.FillBlock, e.TxHash,
			humanize.FormatFloat("#,###.##", e.LotTotal),
			humanize.FormatFloat("#,###.##", e.BidTotal),
			humanize.FormatFloat("#,###.##", e.EstProfit)),
		Time: time.Now().UTC(),
	}
}

// BidDropped returns the notification of a dropped bid.
func BidDropped(e store.AuctionEntry, attempts int) Notification {
	return Notification{
		Kind:   KindBidDropped,
		UserID: e.UserID,
		Message: fmt.Sprintf("filler %s gave up on %s auction of %s after %d attempts",
			e.FillerID, e.AuctionType, e.UserID, attempts),
		Time: time.Now().UTC(),
	}
}

// WorkDropped returns the notification of a dropped liquidation.
func WorkDropped(work fmt.Stringer, userID string, attempts int) Notification {
	return Notification{
		Kind:    KindWorkDropped,
		UserID:  userID,
		Message: fmt.Sprintf("gave up on %s after %d attempts", work, attempts),
		Time:    time.Now().UTC(),
	}
}

// DeadLettered returns the notification of a dead-lettered event.
func DeadLettered(r deadletter.Record) Notification {
	return Notification{
		Kind:    KindDeadLetter,
		UserID:  r.Event.User,
		Message: fmt.Sprintf("%s event of ledger %d dead-lettered as %s: %s", r.Kind, r.Ledger, r.ID, r.Error),
		Time:    r.Time,
	}
}

// Logger writes notifications to the log.
type Logger struct{}

var _ Notifier = Logger{}

// Notify implements Notifier.
func (Logger) Notify(_ context.Context, n Notification) {
	switch n.Kind {
	case KindAuctionFilled:
		log.Info(n.Message)
	default:
		log.Warnf("%s: %s", n.Kind, n.Message)
	}
}

// Recorder keeps notifications in memory.
type Recorder struct {
	lock sync.Mutex
	ns   []Notification
}

var _ Notifier = (*Recorder)(nil)

// Notify implements Notifier.
func (r *Recorder) Notify(_ context.Context, n Notification) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.ns = append(r.ns, n)
}

// Notifications returns the recorded notifications of kind.
func (r *Recorder) Notifications(kind Kind) []Notification {
	r.lock.Lock()
	defer r.lock.Unlock()
	var ns []Notification
	for _, n := range r.ns {
		if n.Kind == kind {
			ns = append(ns, n)
		}
	}
	return ns
}
