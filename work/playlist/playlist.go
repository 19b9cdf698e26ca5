package playlist

import (
	"bufio"
	"bytes"
	"io"
	"net/url"
	"strings"

	"faststream-proxy/work/config"
	"faststream-proxy/work/logger"
	"faststream-proxy/work/metrics"

	"github.com/grafov/m3u8"
)

// Playlists are text and small; anything past this size is not one.
const maxPlaylistBytes = 4 << 20

// IsPlaylist reports whether an upstream response looks like an HLS
// playlist, by content type first and URL extension as a fallback.
func IsPlaylist(contentType, urlPath string) bool {
	if strings.Contains(strings.ToLower(contentType), "mpegurl") {
		return true
	}
	p := strings.ToLower(urlPath)
	return strings.HasSuffix(p, ".m3u8") || strings.HasSuffix(p, ".m3u")
}

// Rewriter rebases playlist URIs so variant and segment fetches route
// back through the proxy instead of hitting upstream directly. Without
// the rewrite a player would follow raw upstream URLs and lose the
// referer handling and session isolation the proxy provides.
type Rewriter struct {
	cfg *config.Config
}

// NewRewriter creates a rewriter using the given configuration.
func NewRewriter(cfg *config.Config) *Rewriter {
	return &Rewriter{cfg: cfg}
}

// Rewrite reads a playlist from r, resolves every URI against base and
// replaces it with proxyPrefix plus the escaped absolute URL. Structured
// parsing is tried first; input that fails it goes through a plain line
// rewriter so malformed-but-playable playlists still work.
func (rw *Rewriter) Rewrite(r io.Reader, base *url.URL, proxyPrefix string) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxPlaylistBytes))
	if err != nil {
		return nil, err
	}

	playlist, listType, derr := m3u8.DecodeFrom(bufio.NewReader(bytes.NewReader(raw)), true)
	if derr != nil {
		logger.Debug("[PLAYLIST] Structured parse failed, using line rewriter: %v", derr)
		return rw.rewriteLines(raw, base, proxyPrefix)
	}

	switch listType {
	case m3u8.MASTER:
		masterpl := playlist.(*m3u8.MasterPlaylist)
		for _, variant := range masterpl.Variants {
			if variant == nil {
				break
			}
			variant.URI = rw.route(variant.URI, base, proxyPrefix)
		}
		metrics.PlaylistsRewritten.Inc()
		logger.Debug("[PLAYLIST] Rewrote master playlist with %d variants", len(masterpl.Variants))
		return masterpl.Encode().Bytes(), nil

	case m3u8.MEDIA:
		mediapl := playlist.(*m3u8.MediaPlaylist)
		count := 0
		for _, seg := range mediapl.Segments {
			if seg == nil {
				break
			}
			seg.URI = rw.route(seg.URI, base, proxyPrefix)
			if seg.Key != nil && seg.Key.URI != "" {
				seg.Key.URI = rw.route(seg.Key.URI, base, proxyPrefix)
			}
			if seg.Map != nil && seg.Map.URI != "" {
				seg.Map.URI = rw.route(seg.Map.URI, base, proxyPrefix)
			}
			count++
		}
		// Key and init-segment fetches must route through the proxy too.
		if mediapl.Key != nil && mediapl.Key.URI != "" {
			mediapl.Key.URI = rw.route(mediapl.Key.URI, base, proxyPrefix)
		}
		if mediapl.Map != nil && mediapl.Map.URI != "" {
			mediapl.Map.URI = rw.route(mediapl.Map.URI, base, proxyPrefix)
		}
		metrics.PlaylistsRewritten.Inc()
		logger.Debug("[PLAYLIST] Rewrote media playlist with %d segments", count)
		return mediapl.Encode().Bytes(), nil
	}

	return raw, nil
}

// route resolves uri against base and wraps it in the proxy path.
func (rw *Rewriter) route(uri string, base *url.URL, proxyPrefix string) string {
	abs := uri
	if ref, err := url.Parse(uri); err == nil && base != nil {
		abs = base.ResolveReference(ref).String()
	}
	return proxyPrefix + url.PathEscape(abs)
}

// rewriteLines is the fallback for playlists the structured parser
// rejects: every non-comment, non-blank line is treated as a URI.
func (rw *Rewriter) rewriteLines(raw []byte, base *url.URL, proxyPrefix string) ([]byte, error) {
	var out bytes.Buffer
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 64*1024), maxPlaylistBytes)

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			out.WriteString(line)
			out.WriteByte('\n')
			continue
		}
		out.WriteString(rw.route(trimmed, base, proxyPrefix))
		out.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	metrics.PlaylistsRewritten.Inc()
	return out.Bytes(), nil
}
