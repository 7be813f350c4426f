package store

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	idLock  sync.Mutex
	entropy *ulid.MonotonicEntropy
)

// NewID returns a new monotonically increasing id.
func NewID(t time.Time) (string, error) {
	idLock.Lock() // entropy is not safe for concurrent use
	defer idLock.Unlock()
	return newIDLocked(t)
}

func newIDLocked(t time.Time) (string, error) {
	if entropy == nil {
		entropy = ulid.Monotonic(rand.Reader, 0)
	}
	id, err := ulid.New(ulid.Timestamp(t.UTC()), entropy)
	if errors.Is(err, ulid.ErrMonotonicOverflow) {
		entropy = nil
		return newIDLocked(t)
	} else if err != nil {
		return "", fmt.Errorf("generating id: %v", err)
	}
	return strings.ToLower(id.String()), nil
}
