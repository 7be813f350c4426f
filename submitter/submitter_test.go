package submitter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	logging "github.com/textileio/go-log/v2"
)

func init() {
	if err := logging.SetLogLevel("submitter", "debug"); err != nil {
		panic(err)
	}
}

type recorder struct {
	lk       sync.Mutex
	attempts []string
	dropped  []string
}

func (r *recorder) attempt(p string) int {
	r.lk.Lock()
	defer r.lk.Unlock()
	r.attempts = append(r.attempts, p)
	var n int
	for _, a := range r.attempts {
		if a == p {
			n++
		}
	}
	return n
}

func (r *recorder) drop(_ context.Context, p string) {
	r.lk.Lock()
	defer r.lk.Unlock()
	r.dropped = append(r.dropped, p)
}

func (r *recorder) snapshot() ([]string, []string) {
	r.lk.Lock()
	defer r.lk.Unlock()
	return append([]string(nil), r.attempts...), append([]string(nil), r.dropped...)
}

func TestDropAfterRetries(t *testing.T) {
	t.Parallel()

	r := &recorder{}
	q, err := New(func(_ context.Context, p string) (bool, error) {
		r.attempt(p)
		return false, nil
	}, r.drop)
	require.NoError(t, err)
	defer func() { require.NoError(t, q.Close()) }()

	require.NoError(t, q.Enqueue("a", 3, WithMinRetryInterval(time.Millisecond)))
	require.Eventually(t, func() bool {
		_, dropped := r.snapshot()
		return len(dropped) == 1 && q.State() == Idle
	}, 5*time.Second, 5*time.Millisecond)

	attempts, dropped := r.snapshot()
	require.Len(t, attempts, 4)
	require.Equal(t, []string{"a"}, dropped)
	require.Equal(t, 0, q.Len())
}

func TestErrorsAndPanicsAreFailures(t *testing.T) {
	t.Parallel()

	r := &recorder{}
	q, err := New(func(_ context.Context, p string) (bool, error) {
		if r.attempt(p) == 1 {
			return true, errors.New("boom")
		}
		panic("boom")
	}, r.drop)
	require.NoError(t, err)
	defer func() { require.NoError(t, q.Close()) }()

	require.NoError(t, q.Enqueue("a", 1, WithMinRetryInterval(time.Millisecond)))
	require.Eventually(t, func() bool {
		_, dropped := r.snapshot()
		return len(dropped) == 1
	}, 5*time.Second, 5*time.Millisecond)
	attempts, _ := r.snapshot()
	require.Len(t, attempts, 2)
}

func TestRetriedItemGoesToBack(t *testing.T) {
	t.Parallel()

	r := &recorder{}
	q, err := New(func(_ context.Context, p string) (bool, error) {
		n := r.attempt(p)
		if p == "A" && n <= 2 {
			return false, nil
		}
		return true, nil
	}, r.drop)
	require.NoError(t, err)
	defer func() { require.NoError(t, q.Close()) }()

	require.NoError(t, q.Enqueue("A", 3, WithMinRetryInterval(10*time.Millisecond)))
	require.NoError(t, q.Enqueue("B", 3, WithMinRetryInterval(10*time.Millisecond)))
	require.Eventually(t, func() bool {
		attempts, _ := r.snapshot()
		return len(attempts) == 4 && q.State() == Idle
	}, 5*time.Second, 5*time.Millisecond)

	attempts, dropped := r.snapshot()
	require.Empty(t, dropped)
	require.Equal(t, "A", attempts[0])
	require.Contains(t, attempts[1:3], "B")
	require.Equal(t, []string{"A", "B", "A", "A"}, attempts)
}

func TestSubmitTimeout(t *testing.T) {
	t.Parallel()

	r := &recorder{}
	release := make(chan struct{})
	defer close(release)
	q, err := New(func(ctx context.Context, p string) (bool, error) {
		if r.attempt(p) == 1 {
			<-release
		}
		return true, nil
	}, r.drop, WithSubmitTimeout(20*time.Millisecond), WithName("timeout"))
	require.NoError(t, err)
	defer func() { require.NoError(t, q.Close()) }()

	require.NoError(t, q.Enqueue("a", 1, WithMinRetryInterval(time.Millisecond)))
	require.Eventually(t, func() bool {
		attempts, _ := r.snapshot()
		return len(attempts) == 2 && q.State() == Idle
	}, 5*time.Second, 5*time.Millisecond)
	_, dropped := r.snapshot()
	require.Empty(t, dropped)
}

func TestContains(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	q, err := New(func(ctx context.Context, p string) (bool, error) {
		<-release
		return true, nil
	}, nil)
	require.NoError(t, err)

	require.NoError(t, q.Enqueue("a", 0))
	require.NoError(t, q.Enqueue("b", 0))
	require.True(t, q.Contains(func(p string) bool { return p == "a" }))
	require.True(t, q.Contains(func(p string) bool { return p == "b" }))
	require.False(t, q.Contains(func(p string) bool { return p == "c" }))
	require.Equal(t, Processing, q.State())

	close(release)
	require.Eventually(t, func() bool { return q.State() == Idle }, 5*time.Second, 5*time.Millisecond)
	require.False(t, q.Contains(func(p string) bool { return p == "a" }))

	require.NoError(t, q.Close())
	require.ErrorIs(t, q.Enqueue("c", 0), ErrQueueClosed)
}

func TestOptions(t *testing.T) {
	t.Parallel()

	_, err := New[string](nil, nil)
	require.Error(t, err)
	_, err = New(func(context.Context, string) (bool, error) { return true, nil }, nil, WithSubmitTimeout(0))
	require.Error(t, err)
	_, err = New(func(context.Context, string) (bool, error) { return true, nil }, nil, WithName(""))
	require.Error(t, err)
}
