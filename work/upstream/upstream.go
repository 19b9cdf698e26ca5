package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"faststream-proxy/work/config"
	"faststream-proxy/work/logger"
	"faststream-proxy/work/metrics"
	"faststream-proxy/work/profile"
	"faststream-proxy/work/session"
	"faststream-proxy/work/utils"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/ratelimit"
)

// Adapter opens upstream video resources on behalf of a session. It owns
// the outbound header bundles, the per-profile open timeouts, the single
// 403 referer-swap retry, and per-host rate limiting. All requests go
// through the session's private connection pool, so the adapter itself
// holds no network state beyond the limiters.
type Adapter struct {
	cfg      *config.Config
	limiters *xsync.MapOf[string, ratelimit.Limiter] // upstream host -> limiter
}

// New creates an adapter using the given configuration.
func New(cfg *config.Config) *Adapter {
	return &Adapter{
		cfg:      cfg,
		limiters: xsync.NewMapOf[string, ratelimit.Limiter](),
	}
}

// Stream couples an open upstream response with the cancel function that
// tears down its request context. Close is safe to call exactly once and
// must be called when the caller is done with the body.
type Stream struct {
	Resp    *http.Response
	Retried bool // True when the response came from the alternate-referer retry
	cancel  context.CancelFunc
}

// Close releases the response body and the request context.
func (st *Stream) Close() {
	if st.Resp != nil && st.Resp.Body != nil {
		st.Resp.Body.Close()
	}
	st.cancel()
}

// Open issues a GET for the session's URL and returns the live response
// without buffering any of the body. The inbound Range header is
// forwarded verbatim when present. A 403 is retried exactly once with the
// alternate referer; any further failure comes back as a typed *Error.
func (a *Adapter) Open(ctx context.Context, s *session.Session, requestedRange string, p profile.Profile) (*Stream, error) {
	st, err := a.attempt(ctx, s, requestedRange, p, a.cfg.PrimaryReferer)
	if err != nil {
		return nil, err
	}

	if st.Resp.StatusCode == http.StatusForbidden {
		st.Close()
		metrics.UpstreamRetries.Inc()
		logger.Warn("[UPSTREAM] 403 for %s, retrying with alternate referer", utils.URLPrefix(s.URL, 50))

		st, err = a.attempt(ctx, s, requestedRange, p, a.cfg.FallbackReferer)
		if err != nil {
			return nil, err
		}
		if st.Resp.StatusCode == http.StatusForbidden {
			st.Close()
			return nil, a.fail(&Error{Kind: KindForbidden, Status: http.StatusForbidden, URL: s.URL})
		}
		st.Retried = true
	}

	if code := st.Resp.StatusCode; code >= 400 {
		st.Close()
		return nil, a.fail(&Error{Kind: KindHTTP, Status: code, URL: s.URL})
	}
	return st, nil
}

// Head fetches response metadata for the session's URL without
// transferring the body. Upstream gets a GET rather than a HEAD because
// several CDNs answer bare HEAD requests with 403; the body is discarded
// unread.
func (a *Adapter) Head(ctx context.Context, s *session.Session, requestedRange string, p profile.Profile) (int, http.Header, error) {
	st, err := a.Open(ctx, s, requestedRange, p)
	if err != nil {
		return 0, nil, err
	}
	defer st.Close()
	return st.Resp.StatusCode, st.Resp.Header.Clone(), nil
}

// attempt performs one upstream GET with the given referer. The open
// timeout is enforced with a timer that cancels the request context, so
// it bounds connect plus response headers but never the body transfer.
func (a *Adapter) attempt(ctx context.Context, s *session.Session, requestedRange string, p profile.Profile, referer string) (*Stream, error) {
	openCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(openCtx, http.MethodGet, s.URL, nil)
	if err != nil {
		cancel()
		return nil, a.fail(&Error{Kind: KindConnection, URL: s.URL, Err: err})
	}
	a.setHeaders(req, s, p, referer)
	if requestedRange != "" {
		req.Header.Set("Range", requestedRange)
	}

	a.limiter(req.URL.Host).Take()

	timeout := a.cfg.OpenTimeout
	if p == profile.MobilePlayer {
		timeout = a.cfg.OpenTimeoutMobile
	}
	var timedOut atomic.Bool
	timer := time.AfterFunc(timeout, func() {
		timedOut.Store(true)
		cancel()
	})

	logger.Debug("[UPSTREAM] Opening %s (profile: %s, range: %q)", utils.LogURL(a.cfg, s.URL), p, requestedRange)
	resp, err := s.Client.Do(req)
	timer.Stop()
	if err != nil {
		cancel()
		if timedOut.Load() {
			return nil, a.fail(&Error{Kind: KindTimeout, URL: s.URL, Err: err})
		}
		return nil, a.fail(classify(err, s.URL))
	}
	return &Stream{Resp: resp, cancel: cancel}, nil
}

// setHeaders applies the identity bundle for the client profile. Player
// profiles get the fixed MX identity that upstream anti-bot heuristics
// accept; browsers get the session-tagged proxy identity.
func (a *Adapter) setHeaders(req *http.Request, s *session.Session, p profile.Profile, referer string) {
	if p.Player() {
		req.Header.Set("User-Agent", "MXPlayer/1.46.15 (Android)")
		req.Header.Set("Accept", "video/mp4,video/*,*/*")
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("Pragma", "no-cache")
	} else {
		req.Header.Set("User-Agent", fmt.Sprintf("FastStreamProxy-%s/3.0", s.ID))
		req.Header.Set("Accept", "*/*")
	}
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Accept-Encoding", "identity")
	req.Header.Set("Referer", referer)

	if s.CacheBuster > 0 {
		req.Header.Set("X-Video-Session", s.ID)
		req.Header.Set("X-Cache-Buster", strconv.FormatInt(s.CacheBuster, 10))
	}
}

// limiter returns the rate limiter for an upstream host, creating it on
// first use.
func (a *Adapter) limiter(host string) ratelimit.Limiter {
	l, _ := a.limiters.LoadOrCompute(host, func() ratelimit.Limiter {
		if a.cfg.UpstreamRateLimit <= 0 {
			return ratelimit.NewUnlimited()
		}
		return ratelimit.New(a.cfg.UpstreamRateLimit)
	})
	return l
}

// fail records the error in metrics and the log, then hands it back.
func (a *Adapter) fail(e *Error) *Error {
	metrics.UpstreamErrors.WithLabelValues(e.Kind.String()).Inc()
	logger.Error("[UPSTREAM] %v (url: %s...)", e, utils.URLPrefix(e.URL, 50))
	return e
}

// classify buckets a transport error into timeout or connection.
func classify(err error, url string) *Error {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return &Error{Kind: KindTimeout, URL: url, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, URL: url, Err: err}
	}
	return &Error{Kind: KindConnection, URL: url, Err: err}
}
