// Package resilience wraps external sinks with circuit breaking so a dead
// downstream cannot stall mailbox ingestion.
package resilience

import (
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig holds circuit breaker configuration.
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32        // consecutive failures before opening
	OpenTimeout      time.Duration // time to wait before half-open
	MaxHalfOpen      uint32        // max requests allowed in half-open
}

// DefaultBreakerConfig returns the defaults used by the instruction sink.
func DefaultBreakerConfig(name string) *BreakerConfig {
	return &BreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		MaxHalfOpen:      1,
	}
}

// Breaker is a thin wrapper over gobreaker with our defaults.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker creates a circuit breaker with the given config.
func NewBreaker(cfg *BreakerConfig, onStateChange func(name string, from, to string)) *Breaker {
	if cfg == nil {
		cfg = DefaultBreakerConfig("default")
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxHalfOpen,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}
	if onStateChange != nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			onStateChange(name, from.String(), to.String())
		}
	}

	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn under circuit breaker protection.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// State returns the current breaker state as a string.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// IsOpen reports whether calls are currently being rejected.
func IsOpen(err error) bool {
	return err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests
}
