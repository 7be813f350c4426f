package notifier

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/textileio/auctioneer-bot/cmd/auctioneerd/store"
	"github.com/textileio/auctioneer-bot/deadletter"
	"github.com/textileio/auctioneer-bot/pool"
)

type work string

func (w work) String() string { return string(w) }

func TestMessages(t *testing.T) {
	t.Parallel()
	n := AuctionFilled(store.FilledAuctionEntry{
		TxHash: "tx1", Filler: "f1", UserID: "u1", AuctionType: pool.Liquidation,
		LotTotal: 1234.5, BidTotal: 1000, EstProfit: 234.5, FillBlock: 99,
	})
	require.Equal(t, KindAuctionFilled, n.Kind)
	require.Equal(t, "u1", n.UserID)
	require.Contains(t, n.Message, "lot $1,234.50")
	require.Contains(t, n.Message, "profit $234.50")

	n = BidDropped(store.AuctionEntry{UserID: "u2", AuctionType: pool.Interest, FillerID: "f1"}, 11)
	require.Equal(t, "filler f1 gave up on interest auction of u2 after 11 attempts", n.Message)

	n = WorkDropped(work("liquidation of u3"), "u3", 4)
	require.Equal(t, "gave up on liquidation of u3 after 4 attempts", n.Message)

	dl := deadletter.New(t.TempDir() + "/dl.jsonl")
	defer func() { require.NoError(t, dl.Close()) }()
	rec, err := dl.Append("reactor", pool.DeleteLiquidationAuctionEvent{
		EventMeta: pool.EventMeta{Ledger: 7},
		User:      "u4",
	}, errors.New("boom"))
	require.NoError(t, err)
	n = DeadLettered(rec)
	require.Equal(t, "u4", n.UserID)
	require.Equal(t, fmt.Sprintf("delete-liquidation-auction event of ledger 7 dead-lettered as %s: boom", rec.ID), n.Message)
}

func TestRecorder(t *testing.T) {
	t.Parallel()
	var r Recorder
	ctx := context.Background()
	r.Notify(ctx, Notification{Kind: KindBidDropped, Time: time.Now()})
	r.Notify(ctx, Notification{Kind: KindAuctionFilled, Time: time.Now()})
	r.Notify(ctx, Notification{Kind: KindBidDropped, Time: time.Now()})
	require.Len(t, r.Notifications(KindBidDropped), 2)
	require.Len(t, r.Notifications(KindWorkDropped), 0)
	Logger{}.Notify(ctx, Notification{Kind: KindWorkDropped, Message: "m"})
}
