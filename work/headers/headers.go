package headers

import (
	"net/http"
	"strconv"
	"strings"

	"faststream-proxy/work/profile"
)

// Headers copied verbatim from the upstream response when present.
var copyThrough = []string{"Content-Length", "Content-Range", "Last-Modified", "ETag"}

// Derive builds the full outbound header set for a streaming response from
// the upstream response headers, the client profile and the relay mode. It
// is a pure function: same inputs, same outputs, no side effects.
//
// The content-type policy lives here. Upstream responses without a
// Content-Type default to video/mp4, and mobile players get anything that
// is not video/* coerced to video/mp4 because strict Android players
// refuse to open streams typed application/octet-stream.
func Derive(upstream http.Header, p profile.Profile, mode string, chunkSize int) http.Header {
	contentType := upstream.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp4"
	}
	if p == profile.MobilePlayer && !strings.HasPrefix(contentType, "video/") {
		contentType = "video/mp4"
	}

	h := make(http.Header)
	h.Set("Content-Type", contentType)
	h.Set("Accept-Ranges", "bytes")
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	h.Set("X-Stream-Mode", mode)
	h.Set("X-Chunk-Size", strconv.Itoa(chunkSize))
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Range, Content-Type, Authorization, User-Agent")
	h.Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")
	h.Set("Content-Disposition", `inline; filename="video.mp4"`)
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Connection", "keep-alive")
	h.Set("Transfer-Encoding", "identity")
	h.Set("Server", "nginx/1.18.0")
	h.Set("X-Frame-Options", "SAMEORIGIN")
	h.Set("Vary", "Accept-Encoding")

	if p == profile.MobilePlayer {
		h.Set("X-MX-Player-Compatible", "true")
		h.Set("X-Android-Compatible", "true")
		h.Set("X-Video-Direct-Stream", "true")
		h.Set("Content-Security-Policy", "default-src *")
	}

	for _, name := range copyThrough {
		if v := upstream.Get(name); v != "" {
			h.Set(name, v)
		}
	}

	return h
}

// Preflight writes the CORS preflight response headers for OPTIONS
// requests on the streaming endpoints. Preflights never touch upstream.
func Preflight(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Range, Content-Type, Authorization")
	h.Set("Access-Control-Max-Age", "86400")
}

// Apply copies a derived header set onto a live response header map.
func Apply(dst http.Header, derived http.Header) {
	for name, values := range derived {
		dst[name] = values
	}
}
