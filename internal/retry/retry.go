// Package retry provides the single retry policy shared by remote job
// polling and recoverable playback error handling: a fixed number of
// attempts separated by a fixed interval, with terminal errors short-
// circuiting the loop.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy bounds a retried operation.
type Policy struct {
	MaxAttempts int
	Interval    time.Duration
}

// Default matches the remote transcoder polling ceiling: 30 attempts at
// 5 second intervals, 150 seconds worst case.
func Default() Policy {
	return Policy{MaxAttempts: 30, Interval: 5 * time.Second}
}

type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }

func (e *terminalError) Unwrap() error { return e.err }

// Terminal marks err so Do stops retrying and returns it immediately.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal reports whether err was marked by Terminal.
func IsTerminal(err error) bool {
	var te *terminalError
	return errors.As(err, &te)
}

// Do runs op up to MaxAttempts times, sleeping Interval between attempts.
// It returns nil on the first success, the unwrapped error as soon as op
// returns a Terminal error, the context error if ctx ends while waiting,
// and otherwise the last error once attempts are exhausted. op is never
// invoked more than MaxAttempts times.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		var te *terminalError
		if errors.As(lastErr, &te) {
			return te.err
		}
		if attempt == attempts {
			break
		}
		if p.Interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Interval):
			}
		}
	}
	return lastErr
}
