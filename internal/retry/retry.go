// Package retry wraps flaky hypervisor-facing calls (session login) with
// exponential backoff and jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"opsnav/internal/logger"
)

// RetryConfig controls the backoff schedule.
type RetryConfig struct {
	MaxAttempts     int           // default: 3
	InitialDelay    time.Duration // default: 1s
	MaxDelay        time.Duration // default: 30s
	Multiplier      float64       // default: 2.0
	Jitter          bool          // default: true
	RetryableErrors []error
}

// DefaultRetryConfig returns the baseline backoff schedule used for
// session login.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Operation is a unit of work that may be retried.
type Operation func(ctx context.Context, attempt int) error

// Retryer executes an Operation with exponential backoff.
type Retryer struct {
	config *RetryConfig
	log    logger.Logger
}

// NewRetryer builds a Retryer, applying defaults for any zero-valued field.
func NewRetryer(config *RetryConfig, log logger.Logger) *Retryer {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 1 * time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}

	return &Retryer{config: config, log: log}
}

// Do runs operation, retrying on retryable errors until MaxAttempts is
// exhausted or ctx is cancelled.
func (r *Retryer) Do(ctx context.Context, operation Operation, operationName string) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", operationName, ctx.Err())
		default:
		}

		err := operation(ctx, attempt)
		if err == nil {
			if attempt > 1 {
				r.log.Info("operation succeeded after retry",
					"operation", operationName, "attempt", attempt)
			}
			return nil
		}

		lastErr = err

		if !r.isRetryable(err) {
			r.log.Warn("operation failed with non-retryable error",
				"operation", operationName, "attempt", attempt, "error", err)
			return fmt.Errorf("%s (attempt %d/%d): %w", operationName, attempt, r.config.MaxAttempts, err)
		}

		if attempt >= r.config.MaxAttempts {
			r.log.Error("operation failed after max attempts",
				"operation", operationName, "attempts", r.config.MaxAttempts, "error", err)
			return fmt.Errorf("%s failed after %d attempts: %w", operationName, r.config.MaxAttempts, err)
		}

		delay := r.calculateDelay(attempt)

		r.log.Warn("operation failed, retrying",
			"operation", operationName, "attempt", attempt,
			"max_attempts", r.config.MaxAttempts, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", operationName, ctx.Err())
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, r.config.MaxAttempts, lastErr)
}

func (r *Retryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}
	if r.config.Jitter {
		delay += delay * 0.25 * rand.Float64()
	}
	return time.Duration(delay)
}

var networkErrorPatterns = []string{
	"connection refused", "connection reset", "connection timeout",
	"network unreachable", "no such host", "temporary failure",
	"timeout", "tls handshake timeout", "i/o timeout", "broken pipe", "eof",
}

var hypervisorErrorPatterns = []string{
	"500 internal server error", "502 bad gateway", "503 service unavailable",
	"504 gateway timeout", "429 too many requests", "serverfaultcode",
	"notauthenticated", "requesttimeout",
}

// isRetryable checks configured sentinel errors first, then falls back to
// substring matching against known transient-failure patterns (session
// drops, 5xx-equivalent SOAP faults).
func (r *Retryer) isRetryable(err error) bool {
	if err == nil {
		return false
	}

	for _, retryableErr := range r.config.RetryableErrors {
		if errors.Is(err, retryableErr) {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range networkErrorPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	for _, pattern := range hypervisorErrorPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}

	return false
}
