package localengine

import (
	"errors"
	"fmt"
)

// ErrorKind partitions in-process transcode failures.
type ErrorKind string

const (
	// ErrTooLarge rejects inputs over the size cap before any engine work.
	ErrTooLarge ErrorKind = "too_large"
	// ErrEngineLoadFailed means the codec runtime could not initialize.
	ErrEngineLoadFailed ErrorKind = "engine_load_failed"
	// ErrEncodeFailed covers engine execution and output collection failures.
	ErrEncodeFailed ErrorKind = "encode_failed"
	// ErrTimeout means the wall-clock ceiling elapsed mid-conversion.
	ErrTimeout ErrorKind = "timeout"
)

// Error is an in-process transcode failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("local transcode %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a local transcode Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var le *Error
	return errors.As(err, &le) && le.Kind == kind
}
