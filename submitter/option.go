package submitter

import (
	"fmt"
	"time"
)

var defaultConfig = config{
	name:          "submitter",
	submitTimeout: time.Minute,
}

type config struct {
	name          string
	submitTimeout time.Duration
}

// Option provides configuration for a Queue.
type Option func(*config) error

// WithName sets the queue name used in logs.
func WithName(name string) Option {
	return func(c *config) error {
		if name == "" {
			return fmt.Errorf("name is empty")
		}
		c.name = name
		return nil
	}
}

// WithSubmitTimeout bounds every submit call. A call exceeding the timeout
// counts as a failed attempt.
func WithSubmitTimeout(d time.Duration) Option {
	return func(c *config) error {
		if d <= 0 {
			return fmt.Errorf("submit timeout must be positive")
		}
		c.submitTimeout = d
		return nil
	}
}

// DefaultMinRetryInterval is the default minimum time between attempts of an item.
const DefaultMinRetryInterval = time.Second

// EnqueueOption configures an enqueued item.
type EnqueueOption func(*enqueueConfig)

type enqueueConfig struct {
	minRetryInterval time.Duration
}

// WithMinRetryInterval sets the minimum time between attempts of an item.
func WithMinRetryInterval(d time.Duration) EnqueueOption {
	return func(c *enqueueConfig) {
		c.minRetryInterval = d
	}
}
