// Package retry wraps fragile I/O (IMAP commands, OAuth HTTP calls) with a
// bounded exponential backoff. Only transient network faults are retried;
// everything else fails on the first attempt.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strings"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultMaxJitter   = 1 * time.Second
)

// Config controls the backoff schedule.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxJitter   time.Duration

	// IsRetryable decides whether an error is worth another attempt.
	// Defaults to IsTransient.
	IsRetryable func(error) bool
}

// DefaultConfig returns the schedule used across the connector and the
// OAuth engine: 3 attempts, 1s * 2^attempt + jitter, capped at 30s.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		MaxJitter:   DefaultMaxJitter,
	}
}

// transientMarkers are the substrings of errors produced by dead or flaky
// networks. Authentication and protocol errors never match.
var transientMarkers = []string{
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"no such host",
	"network is unreachable",
	"host is unreachable",
	"socket hang up",
	"broken pipe",
	"unexpected EOF",
	"i/o deadline reached",
}

// IsTransient reports whether err looks like a transient network fault.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// Do runs op, retrying on retryable errors per cfg. The context is honored
// between attempts; a cancelled context returns ctx.Err() immediately.
func Do(ctx context.Context, cfg *Config, op func() error) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	isRetryable := cfg.IsRetryable
	if isRetryable == nil {
		isRetryable = IsTransient
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		if err := sleep(ctx, Backoff(cfg, attempt)); err != nil {
			return err
		}
	}
	return lastErr
}

// Backoff computes the delay before the attempt following `attempt`
// (zero-based): base * 2^attempt + jitter, capped at MaxDelay.
func Backoff(cfg *Config, attempt int) time.Duration {
	delay := cfg.BaseDelay << uint(attempt)
	if delay > cfg.MaxDelay || delay <= 0 {
		delay = cfg.MaxDelay
	}
	if cfg.MaxJitter > 0 {
		delay += time.Duration(rand.Int63n(int64(cfg.MaxJitter)))
	}
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
