package headers

import (
	"net/http"
	"testing"

	"faststream-proxy/work/profile"

	"github.com/stretchr/testify/assert"
)

func TestDeriveContentTypeCoercion(t *testing.T) {
	tests := []struct {
		name         string
		upstreamType string
		profile      profile.Profile
		want         string
	}{
		{"mobile gets octet-stream coerced", "application/octet-stream", profile.MobilePlayer, "video/mp4"},
		{"browser keeps octet-stream", "application/octet-stream", profile.GenericBrowser, "application/octet-stream"},
		{"external keeps octet-stream", "application/octet-stream", profile.ExternalPlayer, "application/octet-stream"},
		{"mobile keeps real video type", "video/webm", profile.MobilePlayer, "video/webm"},
		{"missing type defaults to mp4", "", profile.GenericBrowser, "video/mp4"},
		{"missing type defaults to mp4 for mobile", "", profile.MobilePlayer, "video/mp4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := make(http.Header)
			if tt.upstreamType != "" {
				up.Set("Content-Type", tt.upstreamType)
			}
			out := Derive(up, tt.profile, "standard", 512*1024)
			assert.Equal(t, tt.want, out.Get("Content-Type"))
		})
	}
}

func TestDeriveAlwaysSet(t *testing.T) {
	out := Derive(make(http.Header), profile.GenericBrowser, "fast", 1024*1024)

	assert.Equal(t, "bytes", out.Get("Accept-Ranges"))
	assert.Equal(t, "no-cache, no-store, must-revalidate", out.Get("Cache-Control"))
	assert.Equal(t, "no-cache", out.Get("Pragma"))
	assert.Equal(t, "0", out.Get("Expires"))
	assert.Equal(t, "fast", out.Get("X-Stream-Mode"))
	assert.Equal(t, "1048576", out.Get("X-Chunk-Size"))
	assert.Equal(t, "*", out.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, HEAD, OPTIONS", out.Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Range, Content-Type, Authorization, User-Agent", out.Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "Content-Length, Content-Range, Accept-Ranges", out.Get("Access-Control-Expose-Headers"))
	assert.Equal(t, `inline; filename="video.mp4"`, out.Get("Content-Disposition"))
	assert.Equal(t, "nosniff", out.Get("X-Content-Type-Options"))
}

func TestDeriveCopyThrough(t *testing.T) {
	up := make(http.Header)
	up.Set("Content-Length", "1000000")
	up.Set("Content-Range", "bytes 0-999999/5000000")
	up.Set("Last-Modified", "Wed, 21 Oct 2015 07:28:00 GMT")
	up.Set("ETag", `"abc123"`)

	out := Derive(up, profile.GenericBrowser, "standard", 512*1024)

	assert.Equal(t, "1000000", out.Get("Content-Length"))
	assert.Equal(t, "bytes 0-999999/5000000", out.Get("Content-Range"))
	assert.Equal(t, "Wed, 21 Oct 2015 07:28:00 GMT", out.Get("Last-Modified"))
	assert.Equal(t, `"abc123"`, out.Get("ETag"))
}

func TestDeriveCopyThroughAbsent(t *testing.T) {
	out := Derive(make(http.Header), profile.GenericBrowser, "standard", 512*1024)

	assert.Empty(t, out.Get("Content-Length"))
	assert.Empty(t, out.Get("Content-Range"))
	assert.Empty(t, out.Get("Last-Modified"))
	assert.Empty(t, out.Get("ETag"))
}

func TestDeriveMobileMarkers(t *testing.T) {
	out := Derive(make(http.Header), profile.MobilePlayer, "fast", 1024*1024)

	assert.Equal(t, "true", out.Get("X-MX-Player-Compatible"))
	assert.Equal(t, "true", out.Get("X-Android-Compatible"))
	assert.Equal(t, "true", out.Get("X-Video-Direct-Stream"))
	assert.Equal(t, "default-src *", out.Get("Content-Security-Policy"))
	assert.Equal(t, "identity", out.Get("Transfer-Encoding"))

	browser := Derive(make(http.Header), profile.GenericBrowser, "fast", 1024*1024)
	assert.Empty(t, browser.Get("X-MX-Player-Compatible"))
	assert.Empty(t, browser.Get("X-Android-Compatible"))
	assert.Empty(t, browser.Get("Content-Security-Policy"))
}

func TestDeriveIsPure(t *testing.T) {
	up := make(http.Header)
	up.Set("Content-Type", "application/octet-stream")

	first := Derive(up, profile.MobilePlayer, "fast", 1024*1024)
	second := Derive(up, profile.MobilePlayer, "fast", 1024*1024)

	assert.Equal(t, first, second)
	// The upstream header set is input only, never mutated.
	assert.Equal(t, "application/octet-stream", up.Get("Content-Type"))
}

func TestPreflight(t *testing.T) {
	h := make(http.Header)
	Preflight(h)

	assert.Equal(t, "*", h.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, HEAD, OPTIONS", h.Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Range, Content-Type, Authorization", h.Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "86400", h.Get("Access-Control-Max-Age"))
}

func TestApply(t *testing.T) {
	derived := Derive(make(http.Header), profile.GenericBrowser, "standard", 512*1024)
	dst := make(http.Header)
	dst.Set("X-Existing", "kept")

	Apply(dst, derived)

	assert.Equal(t, "kept", dst.Get("X-Existing"))
	assert.Equal(t, "bytes", dst.Get("Accept-Ranges"))
	assert.Equal(t, "standard", dst.Get("X-Stream-Mode"))
}
