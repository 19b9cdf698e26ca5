package proxy

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"faststream-proxy/work/cache"
	"faststream-proxy/work/config"
	"faststream-proxy/work/database"
	"faststream-proxy/work/logger"
	"faststream-proxy/work/playlist"
	"faststream-proxy/work/probe"
	"faststream-proxy/work/profile"
	"faststream-proxy/work/relay"
	"faststream-proxy/work/session"
	"faststream-proxy/work/upstream"
	"faststream-proxy/work/utils"

	"github.com/panjf2000/ants/v2"
)

// Proxy-wide semaphore capping concurrent streams across all endpoints.
var (
	globalStreamSemaphore chan struct{}
	semaphoreOnce         sync.Once
)

// StreamProxy is the application orchestrator. It owns the session
// registry, the upstream adapter, the relay and the supporting stores,
// and exposes the HTTP entry points for every streaming endpoint. One
// instance serves the whole process.
type StreamProxy struct {
	Config    *config.Config       // application configuration
	Registry  *session.Registry    // isolated session registry plus the current pointer
	Upstream  *upstream.Adapter    // upstream opens with bundles, retry and rate limiting
	Relay     *relay.Relay         // chunked body relay with per-mode buffer pools
	Rewriter  *playlist.Rewriter   // HLS playlist rebasing onto the proxy path
	Metadata  *cache.MetadataCache // HEAD metadata cache keyed by url fingerprint + profile
	Prober    *probe.Prober        // upstream throughput sampling for the admin surface
	DB        *database.DB         // view history store, nil *DB is a no-op
	Pool      *ants.Pool           // shared worker pool for background work
	StartedAt time.Time            // process start, reported by the status endpoints
}

// New wires a StreamProxy from its parts and installs the global stream
// semaphore on first use.
func New(cfg *config.Config, reg *session.Registry, up *upstream.Adapter, rl *relay.Relay, rw *playlist.Rewriter, meta *cache.MetadataCache, pr *probe.Prober, db *database.DB, pool *ants.Pool) *StreamProxy {
	logger.Debug("[PROXY] Initializing stream proxy")

	sp := &StreamProxy{
		Config:    cfg,
		Registry:  reg,
		Upstream:  up,
		Relay:     rl,
		Rewriter:  rw,
		Metadata:  meta,
		Prober:    pr,
		DB:        db,
		Pool:      pool,
		StartedAt: time.Now(),
	}

	semaphoreOnce.Do(func() {
		globalStreamSemaphore = make(chan struct{}, cfg.MaxConcurrentStreams)
	})

	return sp
}

// ActiveStreams reports how many relays hold a stream slot right now.
func (sp *StreamProxy) ActiveStreams() int {
	return len(globalStreamSemaphore)
}

// acquireSlot claims a concurrent-stream slot, or rejects the request
// with 503 when the proxy is at capacity. The returned release func is
// nil when acquisition failed.
func (sp *StreamProxy) acquireSlot(w http.ResponseWriter) func() {
	select {
	case globalStreamSemaphore <- struct{}{}:
		return func() { <-globalStreamSemaphore }
	default:
		logger.Warn("[PROXY] Max concurrent streams reached (%d), rejecting client", sp.Config.MaxConcurrentStreams)
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return nil
	}
}

// resolveSession picks the session for a stream request. An explicit
// target that matches the current session reuses it; any other explicit
// target gets a throwaway session so one video's pooled connections are
// never replayed for another. No target means the current session or
// session.ErrNoActive.
func (sp *StreamProxy) resolveSession(target string) (*session.Session, bool, error) {
	if target != "" {
		target = utils.NormalizeTarget(target)
		if cur, ok := sp.Registry.Current(); ok && cur.URL == target {
			return cur, false, nil
		}
		return session.Transient(target), true, nil
	}

	cur, ok := sp.Registry.Current()
	if !ok {
		return nil, false, session.ErrNoActive
	}
	return cur, false, nil
}

// respondNoSession answers a stream request that has no session to serve.
// Browsers are redirected to the control page; player apps cannot follow
// an HTML redirect, so they get plain-text guidance instead.
func (sp *StreamProxy) respondNoSession(w http.ResponseWriter, r *http.Request, p profile.Profile) {
	if p.Player() {
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "MX Player Support: Add ?url=YOUR_VIDEO_URL to this endpoint or set video URL on main page first")
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

// respondUpstreamError converts an adapter failure into the client
// response mandated by the error taxonomy.
func (sp *StreamProxy) respondUpstreamError(w http.ResponseWriter, err error) {
	if ue, ok := upstream.AsError(err); ok {
		http.Error(w, fmt.Sprintf("Streaming error: %v", ue), ue.ClientStatus())
		return
	}
	http.Error(w, "Streaming error", http.StatusInternalServerError)
}
