// Package sempool provides semaphores keyed by string, used to serialize
// work on the same entity across independent handlers.
package sempool

import "sync"

// NewSemaphore returns a semaphore with the given capacity.
func NewSemaphore(capacity int) *Semaphore {
	return &Semaphore{inner: make(chan struct{}, capacity)}
}

// Semaphore is a counting semaphore.
type Semaphore struct {
	inner chan struct{}
}

// Acquire blocks until the semaphore is acquired.
func (s *Semaphore) Acquire() {
	s.inner <- struct{}{}
}

// TryAcquire acquires the semaphore if it's free.
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.inner <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release releases the semaphore. It panics if it wasn't acquired.
func (s *Semaphore) Release() {
	select {
	case <-s.inner:
	default:
		panic("thread semaphore inconsistency: release before acquire!")
	}
}

// SemaphoreKey identifies a semaphore in a pool.
type SemaphoreKey interface {
	Key() string
}

// UserKey keys a semaphore by pool user.
type UserKey string

// Key implements SemaphoreKey.
func (k UserKey) Key() string { return "user/" + string(k) }

// NewSemaphorePool returns a pool of semaphores of capacity semaCap.
func NewSemaphorePool(semaCap int) *SemaphorePool {
	return &SemaphorePool{ss: make(map[string]*Semaphore), semaCap: semaCap}
}

// SemaphorePool lazily creates one semaphore per key.
type SemaphorePool struct {
	ss      map[string]*Semaphore
	semaCap int
	mu      sync.Mutex
}

// Get returns the semaphore for k.
func (p *SemaphorePool) Get(k SemaphoreKey) *Semaphore {
	var (
		s     *Semaphore
		exist bool
		key   = k.Key()
	)

	p.mu.Lock()
	if s, exist = p.ss[key]; !exist {
		s = NewSemaphore(p.semaCap)
		p.ss[key] = s
	}
	p.mu.Unlock()

	return s
}

// Lock acquires the semaphore for k and returns its release func.
func (p *SemaphorePool) Lock(k SemaphoreKey) func() {
	s := p.Get(k)
	s.Acquire()
	return s.Release
}

// Stop acquires every semaphore so no new work starts.
func (p *SemaphorePool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	// grab all semaphores and hold
	for _, s := range p.ss {
		s.Acquire()
	}
}
