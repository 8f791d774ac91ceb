// Package retry runs an operation with bounded exponential backoff and
// jitter. It is used wherever a collaborator reports a transient condition:
// the source store being locked by VoiceInk, or a remote page listing that
// hits a network blip.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Policy bounds a retry loop.
type Policy struct {
	// MaxAttempts is the number of tries before Do gives up. Values below 1
	// are treated as 1.
	MaxAttempts int

	// BaseDelay is the backoff interval after the first failure (before jitter).
	BaseDelay time.Duration

	// MaxDelay caps the backoff interval.
	MaxDelay time.Duration
}

// Default is used for remote calls.
var Default = Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second}

// ErrExhausted is wrapped into the error returned when all attempts failed.
var ErrExhausted = errors.New("retry budget exhausted")

// Do executes fn until it succeeds, returns an error for which retryable
// reports false, or the policy's attempts are used up. A nil retryable treats
// every error as transient. The returned error wraps both [ErrExhausted] (when
// attempts ran out) and the last failure.
func Do(ctx context.Context, p Policy, retryable func(error) bool, fn func() error) error {
	attempts := max(p.MaxAttempts, 1)

	var lastErr error
	for attempt := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(p.delay(attempt)):
			}
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
}

// delay computes the wait after a given attempt index, applying exponential
// growth with 50–100 % jitter.
func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay * (1 << attempt)
	if d <= 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		d = p.MaxDelay
	}
	if d < 2 {
		return d
	}
	// Jitter: uniform in [d/2, d).
	jitter := time.Duration(rand.Int63n(int64(d) / 2)) //nolint:gosec // jitter does not need crypto/rand
	return d/2 + jitter
}
