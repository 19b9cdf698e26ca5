package proxy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faststream-proxy/work/cache"
	"faststream-proxy/work/config"
	"faststream-proxy/work/playlist"
	"faststream-proxy/work/probe"
	"faststream-proxy/work/relay"
	"faststream-proxy/work/session"
	"faststream-proxy/work/upstream"
)

const (
	chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	vlcUA    = "VLC/3.0.18 LibVLC/3.0.18"
	mxUA     = "MXPlayer/1.46.15 (Android 13)"
)

func testProxy(t *testing.T, cfg *config.Config) *StreamProxy {
	t.Helper()
	if cfg == nil {
		cfg = config.GetDefaultConfig()
	}
	cfg.UpstreamRateLimit = 0

	return New(
		cfg,
		session.NewRegistry(cfg),
		upstream.New(cfg),
		relay.New(cfg),
		playlist.NewRewriter(cfg),
		cache.NewMetadataCache(cfg.MetadataCacheSize, cfg.MetadataCacheTTL),
		probe.New(cfg),
		nil,
		nil,
	)
}

func TestOptionsNeverContactsUpstream(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	sp := testProxy(t, nil)
	sp.Registry.Create(srv.URL + "/video.mp4")

	endpoints := []struct {
		name    string
		path    string
		handler http.HandlerFunc
	}{
		{"video", "/video", sp.HandleVideo},
		{"fast", "/fast", sp.HandleFast},
		{"mx", "/mx", sp.HandleMX},
	}

	for _, ep := range endpoints {
		t.Run(ep.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, ep.path, nil)
			rec := httptest.NewRecorder()
			ep.handler(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, "86400", rec.Header().Get("Access-Control-Max-Age"))
		})
	}
	assert.Zero(t, hits.Load(), "preflights must never reach upstream")
}

func TestVideoStreamsCurrentSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("streamed-bytes"))
	}))
	defer srv.Close()

	sp := testProxy(t, nil)
	s := sp.Registry.Create(srv.URL + "/video.mp4")

	req := httptest.NewRequest(http.MethodGet, "/video", nil)
	req.Header.Set("User-Agent", vlcUA)
	rec := httptest.NewRecorder()
	sp.HandleVideo(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "streamed-bytes", rec.Body.String())
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, "standard", rec.Header().Get("X-Stream-Mode"))
	assert.Equal(t, strconv.Itoa(sp.Config.ChunkSizeStandard), rec.Header().Get("X-Chunk-Size"))
	assert.Equal(t, s.ID, rec.Header().Get("X-Video-Session"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "14", rec.Header().Get("Content-Length"), "upstream Content-Length copies through")
}

func TestFastModeHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	sp := testProxy(t, nil)
	sp.Registry.Create(srv.URL + "/video.mp4")

	req := httptest.NewRequest(http.MethodGet, "/fast", nil)
	req.Header.Set("User-Agent", chromeUA)
	rec := httptest.NewRecorder()
	sp.HandleFast(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fast", rec.Header().Get("X-Stream-Mode"))
	assert.Equal(t, strconv.Itoa(sp.Config.ChunkSizeFast), rec.Header().Get("X-Chunk-Size"))
}

func TestRangePassthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") == "bytes=0-4" {
			w.Header().Set("Content-Range", "bytes 0-4/14")
			w.WriteHeader(http.StatusPartialContent)
			w.Write([]byte("strea"))
			return
		}
		w.Write([]byte("streamed-bytes"))
	}))
	defer srv.Close()

	sp := testProxy(t, nil)
	sp.Registry.Create(srv.URL + "/video.mp4")

	req := httptest.NewRequest(http.MethodGet, "/video", nil)
	req.Header.Set("User-Agent", vlcUA)
	req.Header.Set("Range", "bytes=0-4")
	rec := httptest.NewRecorder()
	sp.HandleVideo(rec, req)

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 0-4/14", rec.Header().Get("Content-Range"))
	assert.Equal(t, "strea", rec.Body.String())
}

func TestNoSessionBrowserRedirects(t *testing.T) {
	sp := testProxy(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/video", nil)
	req.Header.Set("User-Agent", chromeUA)
	rec := httptest.NewRecorder()
	sp.HandleVideo(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestNoSessionPlayerGetsGuidance(t *testing.T) {
	sp := testProxy(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/video", nil)
	req.Header.Set("User-Agent", mxUA)
	rec := httptest.NewRecorder()
	sp.HandleVideo(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "MX Player Support")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestExplicitURLUsesThrowawaySession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("direct"))
	}))
	defer srv.Close()

	sp := testProxy(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/video?url="+url.QueryEscape(srv.URL+"/v.mp4"), nil)
	req.Header.Set("User-Agent", chromeUA)
	rec := httptest.NewRecorder()
	sp.HandleVideo(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "direct", rec.Body.String())
	assert.Equal(t, "fallback", rec.Header().Get("X-Video-Session"))
	assert.Zero(t, sp.Registry.Count(), "explicit targets must not register sessions")
}

func TestExplicitURLMatchingCurrentReusesSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("current"))
	}))
	defer srv.Close()

	sp := testProxy(t, nil)
	target := srv.URL + "/v.mp4"
	s := sp.Registry.Create(target)

	req := httptest.NewRequest(http.MethodGet, "/video?url="+url.QueryEscape(target), nil)
	req.Header.Set("User-Agent", chromeUA)
	rec := httptest.NewRecorder()
	sp.HandleVideo(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, s.ID, rec.Header().Get("X-Video-Session"), "matching target reuses the isolated session")
}

func TestMXForcesMobilePolicy(t *testing.T) {
	var upstreamUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte("mx-bytes"))
	}))
	defer srv.Close()

	sp := testProxy(t, nil)

	// Even a browser UA gets the player treatment on this endpoint.
	req := httptest.NewRequest(http.MethodGet, "/mx?url="+url.QueryEscape(srv.URL+"/v.mp4"), nil)
	req.Header.Set("User-Agent", chromeUA)
	rec := httptest.NewRecorder()
	sp.HandleMX(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MXPlayer/1.46.15 (Android)", upstreamUA)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"), "octet-stream must be coerced for players")
	assert.Equal(t, "true", rec.Header().Get("X-MX-Player-Compatible"))
	assert.Equal(t, "mx-bytes", rec.Body.String())
}

func TestMXWithoutURLOrSession(t *testing.T) {
	sp := testProxy(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/mx", nil)
	req.Header.Set("User-Agent", mxUA)
	rec := httptest.NewRecorder()
	sp.HandleMX(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "MX Player Endpoint")
}

func TestProxyPathDecodesEmbeddedURL(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Write([]byte("by-path"))
	}))
	defer srv.Close()

	sp := testProxy(t, nil)

	target := url.PathEscape(srv.URL + "/hls/seg0.ts")
	req := httptest.NewRequest(http.MethodGet, "/proxy/"+target+"?token=abc", nil)
	req.Header.Set("User-Agent", chromeUA)
	rec := httptest.NewRecorder()
	sp.HandleProxyPath(rec, req, target)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "by-path", rec.Body.String())
	assert.Equal(t, "/hls/seg0.ts", gotPath)
	assert.Equal(t, "token=abc", gotQuery, "the proxy request's query belongs to the embedded URL")
	assert.Equal(t, "fast", rec.Header().Get("X-Stream-Mode"))
}

func TestUpstreamNotFoundPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer srv.Close()

	sp := testProxy(t, nil)
	sp.Registry.Create(srv.URL + "/gone.mp4")

	req := httptest.NewRequest(http.MethodGet, "/video", nil)
	req.Header.Set("User-Agent", chromeUA)
	rec := httptest.NewRecorder()
	sp.HandleVideo(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Streaming error")
}

func TestUpstreamPersistentForbiddenMapsTo500(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	sp := testProxy(t, nil)
	sp.Registry.Create(srv.URL + "/video.mp4")

	req := httptest.NewRequest(http.MethodGet, "/video", nil)
	req.Header.Set("User-Agent", chromeUA)
	rec := httptest.NewRecorder()
	sp.HandleVideo(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCapacityRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	sp := testProxy(t, nil)
	sp.Registry.Create(srv.URL + "/video.mp4")

	// Occupy every stream slot.
	for i := 0; i < cap(globalStreamSemaphore); i++ {
		globalStreamSemaphore <- struct{}{}
	}
	defer func() {
		for len(globalStreamSemaphore) > 0 {
			<-globalStreamSemaphore
		}
	}()
	assert.Equal(t, cap(globalStreamSemaphore), sp.ActiveStreams())

	req := httptest.NewRequest(http.MethodGet, "/video", nil)
	req.Header.Set("User-Agent", chromeUA)
	rec := httptest.NewRecorder()
	sp.HandleVideo(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "Server at capacity")
}

func TestHeadServedFromMetadataCache(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte("streamed-bytes"))
	}))
	defer srv.Close()

	sp := testProxy(t, nil)
	s := sp.Registry.Create(srv.URL + "/video.mp4")

	head := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodHead, "/video", nil)
		req.Header.Set("User-Agent", vlcUA)
		rec := httptest.NewRecorder()
		sp.HandleVideo(rec, req)
		return rec
	}

	first := head()
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "video/mp4", first.Header().Get("Content-Type"))
	assert.Equal(t, `"v1"`, first.Header().Get("ETag"))
	assert.Equal(t, s.ID, first.Header().Get("X-Video-Session"))
	assert.Empty(t, first.Body.String(), "HEAD must carry no body")
	assert.Equal(t, int64(1), hits.Load())

	second := head()
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "video/mp4", second.Header().Get("Content-Type"))
	assert.Equal(t, int64(1), hits.Load(), "repeat rangeless HEAD must come from cache")

	// Ranged HEADs bypass the cache, Content-Range varies per request.
	req := httptest.NewRequest(http.MethodHead, "/video", nil)
	req.Header.Set("User-Agent", vlcUA)
	req.Header.Set("Range", "bytes=0-99")
	rec := httptest.NewRecorder()
	sp.HandleVideo(rec, req)
	assert.Equal(t, int64(2), hits.Load())
}

func TestPlaylistRewrittenThroughProxy(t *testing.T) {
	master := "#EXTM3U\n#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=1280000\nlow/stream.m3u8\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Write([]byte(master))
	}))
	defer srv.Close()

	sp := testProxy(t, nil)
	sp.Registry.Create(srv.URL + "/hls/master.m3u8")

	req := httptest.NewRequest(http.MethodGet, "/video", nil)
	req.Header.Set("User-Agent", mxUA)
	rec := httptest.NewRecorder()
	sp.HandleVideo(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "/proxy/"+url.PathEscape(srv.URL+"/hls/low/stream.m3u8"))
	assert.NotContains(t, body, "\nlow/stream.m3u8")
	assert.Equal(t, "application/vnd.apple.mpegurl", rec.Header().Get("Content-Type"),
		"playlists keep their real type even for mobile players")
	assert.Equal(t, strconv.Itoa(rec.Body.Len()), rec.Header().Get("Content-Length"))
}

func TestSetVideoCreatesIsolatedSession(t *testing.T) {
	sp := testProxy(t, nil)
	sp.Metadata.Set("stale-key", cache.Metadata{Status: 200})

	form := url.Values{"video_url": {"http://example.com/new-video.mp4"}}
	req := httptest.NewRequest(http.MethodPost, "/set-video", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	sp.HandleSetVideo(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	cur, ok := sp.Registry.Current()
	require.True(t, ok)
	assert.Equal(t, "http://example.com/new-video.mp4", cur.URL)

	body := rec.Body.String()
	assert.Contains(t, body, "Isolation complete")
	assert.Contains(t, body, cur.ID)

	_, found := sp.Metadata.Get("stale-key")
	assert.False(t, found, "setting a new video must invalidate cached metadata")
}

func TestSetVideoEmptyRedirectsHome(t *testing.T) {
	sp := testProxy(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/set-video", strings.NewReader("video_url="))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	sp.HandleSetVideo(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	assert.Zero(t, sp.Registry.Count())
}

func TestHomeWithAndWithoutSession(t *testing.T) {
	sp := testProxy(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	sp.HandleHome(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Set a video URL first")

	s := sp.Registry.Create("http://example.com/video.mp4")
	rec = httptest.NewRecorder()
	sp.HandleHome(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, rec.Body.String(), s.ID)
	assert.Contains(t, rec.Body.String(), "http://example.com/video.mp4")
}

func TestIsolationStatusPage(t *testing.T) {
	sp := testProxy(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/test-isolation", nil)
	rec := httptest.NewRecorder()
	sp.HandleIsolationStatus(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "none")

	s := sp.Registry.Create("http://example.com/video.mp4")
	rec = httptest.NewRecorder()
	sp.HandleIsolationStatus(rec, httptest.NewRequest(http.MethodGet, "/test-isolation", nil))
	assert.Contains(t, rec.Body.String(), s.ID)
}

func TestHealthEndpoint(t *testing.T) {
	sp := testProxy(t, nil)
	sp.Registry.Create("http://example.com/video.mp4")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	sp.HandleHealth(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "healthy", payload["status"])
	assert.Equal(t, float64(1), payload["active_sessions"])
	assert.Equal(t, "3.0", payload["version"])
}

func TestKeepaliveEndpoint(t *testing.T) {
	sp := testProxy(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/keepalive", nil)
	rec := httptest.NewRecorder()
	sp.HandleKeepalive(rec, req)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "alive", payload["status"])
}

func TestRenderError(t *testing.T) {
	rec := httptest.NewRecorder()
	RenderError(rec, http.StatusNotFound, "Not Found", "No such endpoint")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "404")
	assert.Contains(t, rec.Body.String(), "Not Found")
	assert.Contains(t, rec.Body.String(), "No such endpoint")
}
