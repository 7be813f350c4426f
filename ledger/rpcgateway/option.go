package rpcgateway

import (
	"fmt"
	"time"
)

var defaultConfig = config{
	namespace:  "ledger",
	retries:    3,
	retryDelay: 500 * time.Millisecond,
}

type config struct {
	namespace       string
	referenceStable string
	retries         int
	retryDelay      time.Duration
}

// Option configures a Client.
type Option func(*config) error

// WithNamespace sets the JSON-RPC method namespace.
func WithNamespace(ns string) Option {
	return func(c *config) error {
		if ns == "" {
			return fmt.Errorf("namespace is empty")
		}
		c.namespace = ns
		return nil
	}
}

// WithReferenceStable sets the stablecoin asset backstop token withdrawals
// are simulated into.
func WithReferenceStable(assetID string) Option {
	return func(c *config) error {
		if assetID == "" {
			return fmt.Errorf("reference stable is empty")
		}
		c.referenceStable = assetID
		return nil
	}
}

// WithReadRetries sets how many times a failed read call is retried.
func WithReadRetries(retries int, delay time.Duration) Option {
	return func(c *config) error {
		if retries < 0 {
			return fmt.Errorf("retries must be non-negative")
		}
		c.retries = retries
		c.retryDelay = delay
		return nil
	}
}
