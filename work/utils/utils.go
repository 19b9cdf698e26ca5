package utils

import (
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"faststream-proxy/work/config"

	"golang.org/x/crypto/blake2b"
)

// LogURL returns either the original URL or an obfuscated version for logging
func LogURL(cfg *config.Config, url string) string {
	if cfg.ObfuscateUrls {
		return config.ObfuscateURL(url)
	}
	return url
}

// URLPrefix truncates a URL to at most n characters for log lines where even
// an obfuscated full URL is too much.
func URLPrefix(urlStr string, n int) string {
	if len(urlStr) <= n {
		return urlStr
	}
	return urlStr[:n] + "..."
}

// Fingerprint returns a short, stable identifier for a URL so log lines and
// history rows can be correlated without recording the URL itself.
func Fingerprint(urlStr string) string {
	sum := blake2b.Sum256([]byte(urlStr))
	return hex.EncodeToString(sum[:8])
}

// ClientIP extracts the requesting client's address, honoring the usual
// forwarding headers set by front proxies.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.Index(fwd, ","); idx != -1 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// NormalizeTarget fills in a missing scheme on a proxied URL. Players and
// path-embedded URLs frequently arrive as "host/path" with the scheme eaten
// by the routing layer.
func NormalizeTarget(raw string) string {
	if raw == "" {
		return raw
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	// A single-slash "https:/host" happens when routers collapse the double
	// slash inside a path segment.
	if strings.HasPrefix(raw, "http:/") {
		return "http://" + strings.TrimPrefix(raw, "http:/")
	}
	if strings.HasPrefix(raw, "https:/") {
		return "https://" + strings.TrimPrefix(raw, "https:/")
	}
	return "https://" + raw
}

// HostOf returns the host portion of a URL, or "" when it cannot be parsed.
func HostOf(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil {
		return ""
	}
	return u.Host
}

// FormatBytes renders a byte count in human-readable IEC units.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
