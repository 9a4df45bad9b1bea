package playback

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// Report is a playback failure as observed by the player. Either a
// transport status code or a surface label is present; both may be.
type Report struct {
	// StatusCode is the HTTP status of a failed manifest or segment
	// fetch, zero when the failure was not transport-level.
	StatusCode int `json:"statusCode,omitempty"`
	// Surface names where the failure occurred: "manifest", "segment",
	// "decode", "network".
	Surface string `json:"surface,omitempty"`
	Message string `json:"message,omitempty"`
}

// Classify maps a reported failure to its ladder reaction. Unknown
// failures classify fatal: an unexplained error at a tier means the tier
// is not trustworthy.
func Classify(report Report) ErrorKind {
	switch report.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return FatalAuth
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return RecoverableNetwork
	}
	if report.StatusCode >= 500 {
		return RecoverableNetwork
	}

	switch strings.ToLower(strings.TrimSpace(report.Surface)) {
	case "decode":
		return RecoverableMedia
	case "network":
		return RecoverableNetwork
	case "manifest":
		return FatalManifest
	}
	return FatalManifest
}

// ClassifyErr maps an in-process fetch error to its ladder reaction.
func ClassifyErr(err error) ErrorKind {
	if err == nil {
		return FatalManifest
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return RecoverableNetwork
	}
	return FatalManifest
}
