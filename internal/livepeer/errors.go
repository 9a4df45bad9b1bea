package livepeer

import (
	"errors"
	"fmt"
)

// ErrorKind partitions remote transcode failures.
type ErrorKind string

const (
	// ErrSubmit covers unreachable or rejecting job-creation endpoints.
	ErrSubmit ErrorKind = "submit"
	// ErrRemoteFailure is a job the transcoder itself reported as failed.
	ErrRemoteFailure ErrorKind = "remote_failure"
	// ErrTimeout means the polling ceiling elapsed with no terminal state.
	ErrTimeout ErrorKind = "timeout"
)

// Error is a remote transcode lifecycle failure.
type Error struct {
	Kind  ErrorKind
	JobID string
	Err   error
}

func (e *Error) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("transcode %s (job %s): %v", e.Kind, e.JobID, e.Err)
	}
	return fmt.Sprintf("transcode %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a transcode Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var te *Error
	return errors.As(err, &te) && te.Kind == kind
}
