// Package retry provides the two resilience primitives the gateway
// needs around things it does not control: a backoff loop for
// filesystem operations that can fail transiently (a directory still
// held open by a transcoder that is being killed), and a circuit
// breaker that stops hammering a transcoder binary that keeps failing.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ── Permanent errors ─────────────────────────────────────────────────

// PermanentError wraps an error to signal that retrying will not help.
// Return [Permanent](err) from the operation function to stop retrying
// immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err has been marked as permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ── Backoff ──────────────────────────────────────────────────────────

// Backoff retries an operation with exponentially growing delays.
type Backoff struct {
	// InitialDelay is the delay before the first retry (default 50ms).
	InitialDelay time.Duration
	// MaxDelay caps the delay (default 2s).
	MaxDelay time.Duration
	// MaxAttempts is the total number of tries including the first
	// (default 5).
	MaxAttempts int
}

// StagingBackoff is used for staging directory removal.
func StagingBackoff() *Backoff {
	return &Backoff{
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		MaxAttempts:  5,
	}
}

// Do calls fn until it returns nil or a permanent error, the attempt
// budget is spent, or ctx is done.  attempt is 1-based.
func (b *Backoff) Do(ctx context.Context, fn func(attempt int) error) error {
	delay := b.InitialDelay
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}
	maxDelay := b.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	attempts := b.MaxAttempts
	if attempts <= 0 {
		attempts = 5
	}

	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return errors.Unwrap(err)
		}
		if attempt >= attempts {
			return fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("retry cancelled: %w", errors.Join(ctx.Err(), err))
		case <-t.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
