package msgbroker

import "time"

// DefaultRegisterHandlerConfig is the default configuration of a registered handler.
var DefaultRegisterHandlerConfig = RegisterHandlerConfig{
	AckDeadline:    time.Second * 10,
	MaxDeliveries:  5,
	RedeliverDelay: time.Millisecond * 250,
}

// RegisterHandlerConfig configures a registered handler.
type RegisterHandlerConfig struct {
	AckDeadline time.Duration
	// MaxDeliveries bounds redeliveries of a nacked message for brokers
	// that don't manage redelivery themselves.
	MaxDeliveries  int
	RedeliverDelay time.Duration
}

// Option configures a registered handler.
type Option func(*RegisterHandlerConfig) error

// WithACKDeadline configures the deadline for the message broker subscription.
func WithACKDeadline(deadline time.Duration) Option {
	return func(c *RegisterHandlerConfig) error {
		c.AckDeadline = deadline
		return nil
	}
}

// WithMaxDeliveries configures how many times a nacked message is delivered.
func WithMaxDeliveries(n int, delay time.Duration) Option {
	return func(c *RegisterHandlerConfig) error {
		c.MaxDeliveries = n
		c.RedeliverDelay = delay
		return nil
	}
}

// ApplyRegisterHandlerOptions applies opts over the default configuration.
func ApplyRegisterHandlerOptions(opts ...Option) RegisterHandlerConfig {
	config := DefaultRegisterHandlerConfig
	for _, opt := range opts {
		_ = opt(&config)
	}

	return config
}
