package playback

import (
	"errors"
	"fmt"
)

// ErrorKind partitions playback failures into the classes the fallback
// ladder reacts to.
type ErrorKind string

const (
	// RecoverableNetwork covers transient transport failures; retried in
	// place, never escalated on its own.
	RecoverableNetwork ErrorKind = "recoverable_network"
	// RecoverableMedia covers decode hiccups that a buffer flush fixes.
	RecoverableMedia ErrorKind = "recoverable_media"
	// FatalManifest means the manifest is unusable at this tier.
	FatalManifest ErrorKind = "fatal_manifest"
	// FatalAuth means the tier's URL is rejecting credentials.
	FatalAuth ErrorKind = "fatal_auth"
	// AllTiersExhausted means no tier remains to fall back to.
	AllTiersExhausted ErrorKind = "all_tiers_exhausted"
)

// Fatal reports whether the kind forces a tier advance.
func (k ErrorKind) Fatal() bool {
	return k == FatalManifest || k == FatalAuth || k == AllTiersExhausted
}

// Error is a playback failure surfaced to the caller.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("playback %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a playback Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == kind
}
