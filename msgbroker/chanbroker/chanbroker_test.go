package chanbroker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/textileio/auctioneer-bot/msgbroker"
)

type collector struct {
	lk   sync.Mutex
	msgs []string
}

func (c *collector) add(s string) {
	c.lk.Lock()
	defer c.lk.Unlock()
	c.msgs = append(c.msgs, s)
}

func (c *collector) get() []string {
	c.lk.Lock()
	defer c.lk.Unlock()
	return append([]string(nil), c.msgs...)
}

func TestFanOutInOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := New(0)
	defer func() { require.NoError(t, b.Close()) }()

	c1, c2 := &collector{}, &collector{}
	require.NoError(t, b.RegisterTopicHandler("t", func(_ context.Context, d []byte) error {
		c1.add(string(d))
		return nil
	}))
	require.NoError(t, b.RegisterTopicHandler("t", func(_ context.Context, d []byte) error {
		c2.add(string(d))
		return nil
	}))

	for _, m := range []string{"a", "b", "c"} {
		require.NoError(t, b.PublishMsg(ctx, "t", []byte(m)))
	}
	require.NoError(t, b.PublishMsg(ctx, "nobody", []byte("x")))

	want := []string{"a", "b", "c"}
	require.Eventually(t, func() bool {
		return len(c1.get()) == 3 && len(c2.get()) == 3
	}, 5*time.Second, 5*time.Millisecond)
	require.Equal(t, want, c1.get())
	require.Equal(t, want, c2.get())
}

func TestRedelivery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := New(0)
	defer func() { require.NoError(t, b.Close()) }()

	c := &collector{}
	var lk sync.Mutex
	failures := map[string]int{"a": 2, "b": 10}
	require.NoError(t, b.RegisterTopicHandler("t", func(_ context.Context, d []byte) error {
		lk.Lock()
		defer lk.Unlock()
		c.add(string(d))
		if failures[string(d)] > 0 {
			failures[string(d)]--
			return errors.New("nack")
		}
		return nil
	}, msgbroker.WithMaxDeliveries(3, time.Millisecond)))

	require.NoError(t, b.PublishMsg(ctx, "t", []byte("a")))
	require.NoError(t, b.PublishMsg(ctx, "t", []byte("b")))
	require.NoError(t, b.PublishMsg(ctx, "t", []byte("c")))

	require.Eventually(t, func() bool {
		return len(c.get()) == 7
	}, 5*time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"a", "a", "a", "b", "b", "b", "c"}, c.get())
}

func TestClosed(t *testing.T) {
	t.Parallel()
	b := New(1)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	require.ErrorIs(t, b.PublishMsg(context.Background(), "t", nil), ErrClosed)
	require.ErrorIs(t, b.RegisterTopicHandler("t", func(context.Context, []byte) error { return nil }), ErrClosed)
}
