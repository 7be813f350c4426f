package sempool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLockSerializesPerKey(t *testing.T) {
	t.Parallel()

	p := NewSemaphorePool(1)
	var (
		wg      sync.WaitGroup
		lk      sync.Mutex
		running = map[string]int{}
		maxSeen = map[string]int{}
	)
	for i := 0; i < 50; i++ {
		key := UserKey([]string{"u1", "u2"}[i%2])
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := p.Lock(key)
			defer release()

			lk.Lock()
			running[key.Key()]++
			if running[key.Key()] > maxSeen[key.Key()] {
				maxSeen[key.Key()] = running[key.Key()]
			}
			lk.Unlock()

			lk.Lock()
			running[key.Key()]--
			lk.Unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, map[string]int{"user/u1": 1, "user/u2": 1}, maxSeen)
}

func TestTryAcquire(t *testing.T) {
	t.Parallel()

	p := NewSemaphorePool(1)
	s := p.Get(UserKey("u1"))
	require.True(t, s.TryAcquire())
	require.False(t, p.Get(UserKey("u1")).TryAcquire())
	require.True(t, p.Get(UserKey("u2")).TryAcquire())
	s.Release()
	require.Panics(t, s.Release)
}
