package session

import (
	"fmt"
	"sync"
	"time"

	"faststream-proxy/work/config"
	"faststream-proxy/work/logger"
	"faststream-proxy/work/metrics"
	"faststream-proxy/work/utils"

	"github.com/puzpuzpuz/xsync/v3"
)

// Registry owns every live session plus the "current" pointer used by
// endpoints that stream without an explicit url parameter. The session map
// is a concurrent xsync map so the hot read path (resolving the current
// session on every stream request) never contends with expiry sweeps,
// while all mutations - create, expire, shutdown - serialize on a single
// mutex so an expiry scan can never observe a half-updated registry.
type Registry struct {
	sessions *xsync.MapOf[string, *Session] // id -> session, lock-free reads
	mu       sync.Mutex                     // serializes create/expire/close and guards counter+current
	counter  int64                          // process-wide monotonic, incremented on every Create
	current  string                         // id of the most recently created session, empty if never set
	cfg      *config.Config
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg *config.Config) *Registry {
	return &Registry{
		sessions: xsync.NewMapOf[string, *Session](),
		cfg:      cfg,
	}
}

// Create allocates a fresh isolated session for the given upstream URL and
// marks it current. Prior sessions are left to TTL expiry rather than being
// eagerly closed, so a client mid-stream on the old video keeps its bytes.
func (r *Registry) Create(url string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.counter++
	id := fmt.Sprintf("isolated_%d_%d", r.counter, time.Now().Unix())
	s := newSession(id, url, r.counter)
	r.sessions.Store(id, s)
	r.current = id

	metrics.ActiveSessions.Set(float64(r.sessions.Size()))
	logger.Info("[SESSION] Created isolated session %s for %s", id, utils.LogURL(r.cfg, url))
	return s
}

// Current returns the most recently created session, or false when none
// has been set or the current one already expired out of the map.
func (r *Registry) Current() (*Session, bool) {
	r.mu.Lock()
	id := r.current
	r.mu.Unlock()

	if id == "" {
		return nil, false
	}
	return r.sessions.Load(id)
}

// CurrentID returns the current session id, or empty.
func (r *Registry) CurrentID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Get looks up a session by id.
func (r *Registry) Get(id string) (*Session, bool) {
	return r.sessions.Load(id)
}

// ExpireOlderThan removes every session older than ttl and closes its
// pooled connections. Returns the removed ids. In-flight relays keep
// running; only idle connections are dropped.
func (r *Registry) ExpireOlderThan(ttl time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	r.sessions.Range(func(id string, s *Session) bool {
		if s.Expired(ttl) {
			removed = append(removed, id)
		}
		return true
	})

	for _, id := range removed {
		if s, ok := r.sessions.LoadAndDelete(id); ok {
			s.Close()
			logger.Info("[SESSION] Cleaned up old session: %s", id)
		}
	}

	if len(removed) > 0 {
		metrics.SessionsExpired.Add(float64(len(removed)))
		metrics.ActiveSessions.Set(float64(r.sessions.Size()))
	}
	return removed
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	return r.sessions.Size()
}

// Counter returns the process-wide session counter.
func (r *Registry) Counter() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counter
}

// Snapshot returns all live sessions for status reporting.
func (r *Registry) Snapshot() []*Session {
	out := make([]*Session, 0, r.sessions.Size())
	r.sessions.Range(func(_ string, s *Session) bool {
		out = append(out, s)
		return true
	})
	return out
}

// CloseAll drops every session and its pooled connections. Part of the
// shutdown sequence, after the HTTP server has stopped accepting work.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions.Range(func(id string, s *Session) bool {
		s.Close()
		r.sessions.Delete(id)
		return true
	})
	r.current = ""
	metrics.ActiveSessions.Set(0)
}
