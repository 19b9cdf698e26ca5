package session

import (
	"errors"
	"net/http"
	"time"
)

// ErrNoActive is returned when a stream is requested but no video URL has
// ever been set and none was supplied on the request.
var ErrNoActive = errors.New("no active video session")

// Session represents one isolated viewing context: an opaque id bound to a
// single upstream video URL, a creation timestamp, and a dedicated HTTP
// transport whose connection pool is never shared with any other session.
// The private pool is what delivers the isolation guarantee - switching
// videos can never replay a pooled connection that upstream associated
// with the previous resource.
//
// Sessions are immutable after creation; the registry is the only place
// that creates or removes them. Close releases the pooled connections but
// deliberately leaves in-flight requests untouched, so an expiring session
// never severs a stream that is still being relayed.
type Session struct {
	ID          string          // Opaque identifier in the form isolated_<counter>_<unixtime>
	URL         string          // Upstream video URL this session is bound to
	CacheBuster int64           // Monotonic counter value baked into the id, echoed in upstream identity headers
	CreatedAt   time.Time       // Creation timestamp driving TTL expiry
	Transport   *http.Transport // Dedicated connection pool, one per session
	Client      *http.Client    // HTTP client over Transport, no overall timeout so bodies can stream indefinitely
}

// newSession builds a session with its own transport. Compression is
// disabled because every upstream bundle sends Accept-Encoding: identity,
// and the response header timeout is left to the upstream adapter which
// enforces per-profile open timeouts.
func newSession(id, url string, buster int64) *Session {
	transport := &http.Transport{
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DisableKeepAlives:     false,
		DisableCompression:    true,
	}

	return &Session{
		ID:          id,
		URL:         url,
		CacheBuster: buster,
		CreatedAt:   time.Now(),
		Transport:   transport,
		Client: &http.Client{
			Timeout:   0, // No overall timeout for streaming
			Transport: transport,
		},
	}
}

// Transient builds an unregistered throwaway session for direct ?url=
// requests that bypass the registry. The fallback id keeps upstream
// identity tags well-formed when no isolated session exists.
func Transient(url string) *Session {
	return newSession("fallback", url, 0)
}

// Age returns how long ago the session was created.
func (s *Session) Age() time.Duration {
	return time.Since(s.CreatedAt)
}

// Expired reports whether the session has outlived the given TTL.
func (s *Session) Expired(ttl time.Duration) bool {
	return s.Age() > ttl
}

// Close drops the session's pooled connections. Connections currently
// serving a relay are not idle and are left alone.
func (s *Session) Close() {
	s.Transport.CloseIdleConnections()
}
