package common

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrMaxRetries indicates that all retry attempts have been exhausted.
var ErrMaxRetries = errors.New("max retries exceeded")

// RetryPolicy describes retry behavior for a blocking call. It is supplied
// to the invocation, not baked into the adapter, so it can be tested alone.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy is used when a caller passes a zero policy.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:  3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     30 * time.Second,
	Multiplier:   2.0,
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultRetryPolicy.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultRetryPolicy.MaxDelay
	}
	if p.Multiplier <= 0 {
		p.Multiplier = DefaultRetryPolicy.Multiplier
	}
	return p
}

// Delay returns the backoff delay preceding the given 1-based attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	p = p.normalized()
	d := p.InitialDelay
	for i := 2; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d > p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// RetryableError wraps an error with retry-specific metadata.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable marks err as safe to retry (timeouts, transient 5xx).
func Retryable(err error) error {
	return &RetryableError{Err: err, Retryable: true}
}

// NonRetryable marks err as permanent (unreadable document, bad request).
func NonRetryable(err error) error {
	return &RetryableError{Err: err, Retryable: false}
}

// IsRetryable reports whether err may be retried. Unmarked errors are
// treated as permanent.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re) && re.Retryable
}

// WithRetry executes an operation under the given policy. Only errors
// marked Retryable are re-attempted; context cancellation always wins.
func WithRetry(ctx context.Context, operation func() error, policy RetryPolicy) error {
	policy = policy.normalized()

	delay := policy.InitialDelay
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		if attempt == policy.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %v", ErrMaxRetries, policy.MaxAttempts, err)
		}

		slog.Warn("operation failed, retrying",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
			delay = time.Duration(float64(delay) * policy.Multiplier)
			if delay > policy.MaxDelay {
				delay = policy.MaxDelay
			}
		}
	}

	return ErrMaxRetries
}
