package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestDoStopsAtMaxAttempts verifies the operation is never invoked more
// often than the policy allows and the last error is surfaced.
func TestDoStopsAtMaxAttempts(t *testing.T) {
	var calls int
	wantErr := errors.New("still pending")
	policy := Policy{MaxAttempts: 5, Interval: time.Nanosecond}

	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 5 {
		t.Fatalf("expected 5 calls, got %d", calls)
	}
}

// TestDoReturnsOnFirstSuccess verifies no extra attempts happen after
// success.
func TestDoReturnsOnFirstSuccess(t *testing.T) {
	var calls int
	policy := Policy{MaxAttempts: 10, Interval: time.Nanosecond}

	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

// TestDoTerminalShortCircuits verifies a terminal error stops the loop
// immediately and is returned unwrapped.
func TestDoTerminalShortCircuits(t *testing.T) {
	var calls int
	fatal := errors.New("job failed remotely")
	policy := Policy{MaxAttempts: 10, Interval: time.Nanosecond}

	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		return Terminal(fatal)
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("expected terminal error, got %v", err)
	}
	if IsTerminal(err) {
		t.Fatal("terminal marker must be stripped before returning")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

// TestDoHonorsContextCancellation verifies cancellation during the
// inter-attempt sleep surfaces the context error.
func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := Policy{MaxAttempts: 3, Interval: time.Minute}

	var calls int
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- policy.Do(ctx, func(context.Context) error {
			calls++
			if calls == 1 {
				close(started)
			}
			return errors.New("transient")
		})
	}()

	<-started
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancellation")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call before cancellation, got %d", calls)
	}
}
