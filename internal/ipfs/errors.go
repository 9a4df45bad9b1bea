package ipfs

import (
	"errors"
	"fmt"
)

// ErrorKind partitions storage gateway failures.
type ErrorKind string

const (
	ErrUpload ErrorKind = "upload"
	ErrFetch  ErrorKind = "fetch"
)

// Error is a storage boundary failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a storage Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == kind
}
