package proxy

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"faststream-proxy/work/cache"
	"faststream-proxy/work/headers"
	"faststream-proxy/work/logger"
	"faststream-proxy/work/playlist"
	"faststream-proxy/work/profile"
	"faststream-proxy/work/relay"
	"faststream-proxy/work/session"
	"faststream-proxy/work/upstream"
	"faststream-proxy/work/utils"
)

// HandleVideo serves the standard-chunk streaming endpoint.
func (sp *StreamProxy) HandleVideo(w http.ResponseWriter, r *http.Request) {
	sp.serveStream(w, r, relay.Standard, r.URL.Query().Get("url"), profile.Detect(r.UserAgent()))
}

// HandleFast serves the fast-chunk streaming endpoint.
func (sp *StreamProxy) HandleFast(w http.ResponseWriter, r *http.Request) {
	sp.serveStream(w, r, relay.Fast, r.URL.Query().Get("url"), profile.Detect(r.UserAgent()))
}

// HandleProxyPath streams an arbitrary URL embedded in the request path,
// always at fast chunk size. The embedded URL arrives percent-encoded
// and possibly schemeless; a query string on the proxy request belongs
// to the embedded URL and is carried over.
func (sp *StreamProxy) HandleProxyPath(w http.ResponseWriter, r *http.Request, target string) {
	decoded, err := url.PathUnescape(target)
	if err != nil {
		decoded = target
	}
	if r.URL.RawQuery != "" {
		decoded += "?" + r.URL.RawQuery
	}
	decoded = utils.NormalizeTarget(decoded)
	logger.Info("[PROXY] Proxy request: %s... from %s", utils.URLPrefix(decoded, 50), utils.ClientIP(r))
	sp.serveStream(w, r, relay.Fast, decoded, profile.Detect(r.UserAgent()))
}

// HandleMX serves the player-optimized endpoint: the mobile-player
// policy is applied regardless of what the User-Agent claims.
func (sp *StreamProxy) HandleMX(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		headers.Preflight(w.Header())
		w.WriteHeader(http.StatusOK)
		return
	}

	target := r.URL.Query().Get("url")
	if target == "" {
		if _, ok := sp.Registry.Current(); !ok {
			w.Header().Set("Content-Type", "text/plain")
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte("MX Player Endpoint: Add ?url=YOUR_VIDEO_URL parameter to this endpoint"))
			return
		}
	}
	logger.Info("[PROXY] MX Player stream request from %s", utils.ClientIP(r))
	sp.serveStream(w, r, relay.Fast, target, profile.MobilePlayer)
}

// HandleSetVideo creates a fresh isolated session for the posted URL and
// makes it current. Prior sessions age out via the janitor so any client
// still mid-stream on the old video keeps its bytes.
func (sp *StreamProxy) HandleSetVideo(w http.ResponseWriter, r *http.Request) {
	newURL := strings.TrimSpace(r.FormValue("video_url"))
	if newURL == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	newURL = utils.NormalizeTarget(newURL)

	s := sp.Registry.Create(newURL)
	sp.Metadata.InvalidateAll()

	record := func() {
		if err := sp.DB.RecordSet(s.ID, newURL); err != nil {
			logger.Warn("[PROXY] Failed to record history for %s: %v", s.ID, err)
		}
	}
	if sp.Pool == nil || sp.Pool.Submit(record) != nil {
		record()
	}

	logger.Info("[PROXY] New video isolated: %s (session: %s)", utils.LogURL(sp.Config, newURL), s.ID)
	sp.renderSetConfirmation(w, r, s, newURL)
}

// HandleHome renders the control page.
func (sp *StreamProxy) HandleHome(w http.ResponseWriter, r *http.Request) {
	var currentURL, sessionID string
	if cur, ok := sp.Registry.Current(); ok {
		currentURL = cur.URL
		sessionID = cur.ID
	}
	sp.renderHome(w, r, currentURL, sessionID, sp.Registry.Counter())
}

// HandleIsolationStatus renders the isolation diagnostic page.
func (sp *StreamProxy) HandleIsolationStatus(w http.ResponseWriter, r *http.Request) {
	var currentURL string
	if cur, ok := sp.Registry.Current(); ok {
		currentURL = utils.URLPrefix(cur.URL, 100)
	}
	sp.renderIsolationStatus(w, r, sp.Registry.CurrentID(), currentURL, sp.Registry.Count(), sp.Registry.Counter())
}

// HandleHealth answers the deployment health check.
func (sp *StreamProxy) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "healthy",
		"timestamp":       time.Now().Format(time.RFC3339),
		"active_sessions": sp.Registry.Count(),
		"cache_buster":    sp.Registry.Counter(),
		"version":         "3.0",
	})
}

// HandleKeepalive answers platform keep-alive probes.
func (sp *StreamProxy) HandleKeepalive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "alive",
		"timestamp":       time.Now().Format(time.RFC3339),
		"active_sessions": sp.Registry.Count(),
	})
}

// serveStream is the shared GET/HEAD/OPTIONS path behind every streaming
// endpoint: resolve the session, open upstream, translate headers, relay.
func (sp *StreamProxy) serveStream(w http.ResponseWriter, r *http.Request, mode relay.Mode, target string, p profile.Profile) {
	if r.Method == http.MethodOptions {
		headers.Preflight(w.Header())
		w.WriteHeader(http.StatusOK)
		return
	}

	s, transient, err := sp.resolveSession(target)
	if err != nil {
		sp.respondNoSession(w, r, p)
		return
	}
	if transient {
		defer s.Close()
	}

	release := sp.acquireSlot(w)
	if release == nil {
		return
	}
	defer release()

	if r.Method == http.MethodHead {
		sp.serveHead(w, r, s, p, mode)
		return
	}

	st, err := sp.Upstream.Open(r.Context(), s, r.Header.Get("Range"), p)
	if err != nil {
		sp.respondUpstreamError(w, err)
		return
	}
	defer st.Close()

	if sp.Config.RewritePlaylists && playlist.IsPlaylist(st.Resp.Header.Get("Content-Type"), st.Resp.Request.URL.Path) {
		sp.servePlaylist(w, r, s, st, p, mode)
		return
	}

	derived := headers.Derive(st.Resp.Header, p, mode.String(), sp.Relay.ChunkSize(mode))
	derived.Set("X-Video-Session", s.ID)
	headers.Apply(w.Header(), derived)
	w.WriteHeader(st.Resp.StatusCode)

	logger.Info("[PROXY] Streaming initiated - Status: %d, Mode: %s, Session: %s", st.Resp.StatusCode, mode, s.ID)
	sp.Relay.Stream(r.Context(), w, st, mode, s.ID)
}

// serveHead answers a client HEAD without transferring any body. The
// metadata cache short-circuits repeated rangeless probes; ranged HEADs
// always go upstream because Content-Range varies per request.
func (sp *StreamProxy) serveHead(w http.ResponseWriter, r *http.Request, s *session.Session, p profile.Profile, mode relay.Mode) {
	requestedRange := r.Header.Get("Range")
	key := utils.Fingerprint(s.URL) + "|" + p.String()

	if requestedRange == "" {
		if m, ok := sp.Metadata.Get(key); ok {
			sp.writeHead(w, metadataHeader(m), m.Status, s.ID, p, mode)
			return
		}
	}

	status, hdr, err := sp.Upstream.Head(r.Context(), s, requestedRange, p)
	if err != nil {
		sp.respondUpstreamError(w, err)
		return
	}
	if requestedRange == "" {
		sp.Metadata.Set(key, cache.Metadata{
			Status:        status,
			ContentType:   hdr.Get("Content-Type"),
			ContentLength: hdr.Get("Content-Length"),
			LastModified:  hdr.Get("Last-Modified"),
			ETag:          hdr.Get("ETag"),
		})
	}
	sp.writeHead(w, hdr, status, s.ID, p, mode)
}

func (sp *StreamProxy) writeHead(w http.ResponseWriter, upstreamHdr http.Header, status int, sessionID string, p profile.Profile, mode relay.Mode) {
	derived := headers.Derive(upstreamHdr, p, mode.String(), sp.Relay.ChunkSize(mode))
	derived.Set("X-Video-Session", sessionID)
	headers.Apply(w.Header(), derived)
	w.WriteHeader(status)
}

// metadataHeader rebuilds an upstream-shaped header set from cached
// metadata so it can flow through the normal translation.
func metadataHeader(m cache.Metadata) http.Header {
	h := make(http.Header)
	if m.ContentType != "" {
		h.Set("Content-Type", m.ContentType)
	}
	if m.ContentLength != "" {
		h.Set("Content-Length", m.ContentLength)
	}
	if m.LastModified != "" {
		h.Set("Last-Modified", m.LastModified)
	}
	if m.ETag != "" {
		h.Set("ETag", m.ETag)
	}
	return h
}

// servePlaylist rewrites an HLS playlist so its URIs route back through
// the proxy, then serves the rewritten text in one response. Playlists
// keep their real content type; the mobile video/mp4 coercion would
// break players that sniff for #EXTM3U.
func (sp *StreamProxy) servePlaylist(w http.ResponseWriter, r *http.Request, s *session.Session, st *upstream.Stream, p profile.Profile, mode relay.Mode) {
	body, err := sp.Rewriter.Rewrite(st.Resp.Body, st.Resp.Request.URL, "/proxy/")
	if err != nil {
		logger.Error("[PROXY] Playlist rewrite failed for session %s: %v", s.ID, err)
		http.Error(w, "Playlist rewrite failed", http.StatusBadGateway)
		return
	}

	derived := headers.Derive(st.Resp.Header, p, mode.String(), sp.Relay.ChunkSize(mode))
	derived.Set("X-Video-Session", s.ID)
	contentType := st.Resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/vnd.apple.mpegurl"
	}
	derived.Set("Content-Type", contentType)
	derived.Set("Content-Length", strconv.Itoa(len(body)))
	headers.Apply(w.Header(), derived)
	w.WriteHeader(st.Resp.StatusCode)

	if r.Method != http.MethodHead {
		w.Write(body)
	}
}

// writeJSON serializes v and writes it with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("[PROXY] Failed to encode JSON response: %v", err)
	}
}
