package upstream

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an upstream failure for logging, metrics and the
// client-facing status mapping.
type Kind int

const (
	KindTimeout    Kind = iota // No response headers within the open timeout
	KindConnection             // Network-level failure reaching upstream
	KindForbidden              // 403 persisted through the referer-swap retry
	KindHTTP                   // Any other non-2xx/3xx upstream status
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConnection:
		return "connection"
	case KindForbidden:
		return "forbidden"
	default:
		return "http"
	}
}

// Error is the typed failure every adapter operation returns. Callers
// branch on Kind; the raw URL is carried for prefix-only logging and is
// never echoed to clients.
type Error struct {
	Kind   Kind
	Status int    // Upstream status for KindForbidden/KindHTTP, zero otherwise
	URL    string // Attempted upstream URL
	Err    error  // Underlying transport error, nil for status failures
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream %s (status %d)", e.Kind, e.Status)
	}
	return fmt.Sprintf("upstream %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ClientStatus maps the failure onto the status code served to the
// client. Transport-level failures and exhausted 403 retries surface as
// 500; other upstream statuses pass through when they are real error
// codes, everything else becomes a 502.
func (e *Error) ClientStatus() int {
	switch e.Kind {
	case KindTimeout, KindConnection, KindForbidden:
		return http.StatusInternalServerError
	default:
		if e.Status >= 400 && e.Status <= 599 {
			return e.Status
		}
		return http.StatusBadGateway
	}
}

// AsError unwraps err into the adapter's typed error when possible.
func AsError(err error) (*Error, bool) {
	var ue *Error
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
