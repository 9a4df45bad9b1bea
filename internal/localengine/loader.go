package localengine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// LoadState tracks the runtime lifecycle.
type LoadState int

const (
	StateUnloaded LoadState = iota
	StateLoading
	StateLoaded
	StateFailed
)

func (s LoadState) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Loader serializes access to the engine's load state. Concurrent
// callers awaiting an in-flight load share one result; a completed load,
// success or failure, is sticky for the life of the process. A load cut
// short by caller cancellation is neither: the engine is shared across
// sessions, so one aborted session must not brick it for the rest.
type Loader struct {
	engine Engine
	logger *slog.Logger

	group singleflight.Group

	mu      sync.Mutex
	state   LoadState
	loadErr error
}

// NewLoader wraps an engine with load-once semantics.
func NewLoader(engine Engine, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{engine: engine, logger: logger}
}

// State reports the current lifecycle state.
func (l *Loader) State() LoadState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Load ensures the engine is initialized, returning the loaded engine.
// A prior failure is returned without retrying the load; a load aborted
// by ctx is retried by the next caller.
func (l *Loader) Load(ctx context.Context) (Engine, error) {
	l.mu.Lock()
	switch l.state {
	case StateLoaded:
		l.mu.Unlock()
		return l.engine, nil
	case StateFailed:
		err := l.loadErr
		l.mu.Unlock()
		return nil, &Error{Kind: ErrEngineLoadFailed, Err: err}
	default:
		l.state = StateLoading
		l.mu.Unlock()
	}

	_, err, _ := l.group.Do("load", func() (any, error) {
		// Re-check under the lock: a flight that completed between the
		// state read above and this call must not load twice.
		l.mu.Lock()
		state, loadErr := l.state, l.loadErr
		l.mu.Unlock()
		if state == StateLoaded {
			return nil, nil
		}
		if state == StateFailed {
			return nil, loadErr
		}
		l.logger.Info("loading codec runtime")
		return nil, l.engine.Load(ctx)
	})

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// A caller abort is not an engine fault; leave the runtime
			// unloaded for the next session to retry.
			if l.state == StateLoading {
				l.state = StateUnloaded
			}
			return nil, &Error{Kind: ErrEngineLoadFailed, Err: err}
		}
		if l.state != StateFailed {
			l.state = StateFailed
			l.loadErr = err
			l.logger.Error("codec runtime load failed", "error", err)
		}
		return nil, &Error{Kind: ErrEngineLoadFailed, Err: l.loadErr}
	}
	if l.state != StateLoaded {
		l.state = StateLoaded
		l.logger.Info("codec runtime loaded")
	}
	return l.engine, nil
}
