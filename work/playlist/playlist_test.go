package playlist

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faststream-proxy/work/config"
)

func testRewriter() *Rewriter {
	return NewRewriter(config.GetDefaultConfig())
}

func TestIsPlaylist(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		urlPath     string
		want        bool
	}{
		{"apple mpegurl", "application/vnd.apple.mpegurl", "", true},
		{"x-mpegurl", "application/x-mpegurl", "", true},
		{"audio mpegurl", "audio/mpegurl", "", true},
		{"uppercase content type", "APPLICATION/X-MPEGURL", "", true},
		{"m3u8 extension", "video/mp4", "/hls/stream.m3u8", true},
		{"m3u extension", "", "/list.m3u", true},
		{"uppercase extension", "", "/hls/stream.M3U8", true},
		{"plain video", "video/mp4", "/video.mp4", false},
		{"html", "text/html", "/page", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPlaylist(tt.contentType, tt.urlPath))
		})
	}
}

func TestRouteResolvesAndEscapes(t *testing.T) {
	rw := testRewriter()
	base, err := url.Parse("http://cdn.example.com/hls/master.m3u8")
	require.NoError(t, err)

	tests := []struct {
		name string
		uri  string
		want string
	}{
		{
			"relative uri",
			"low/stream.m3u8",
			"/proxy/" + url.PathEscape("http://cdn.example.com/hls/low/stream.m3u8"),
		},
		{
			"root-relative uri",
			"/other/seg.ts",
			"/proxy/" + url.PathEscape("http://cdn.example.com/other/seg.ts"),
		},
		{
			"absolute uri",
			"https://edge.example.net/seg.ts",
			"/proxy/" + url.PathEscape("https://edge.example.net/seg.ts"),
		},
		{
			"uri with query",
			"seg.ts?token=abc",
			"/proxy/" + url.PathEscape("http://cdn.example.com/hls/seg.ts?token=abc"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rw.route(tt.uri, base, "/proxy/"))
		})
	}
}

func TestRouteNilBase(t *testing.T) {
	rw := testRewriter()
	assert.Equal(t, "/proxy/seg.ts", rw.route("seg.ts", nil, "/proxy/"))
}

func TestRewriteMasterPlaylist(t *testing.T) {
	src := `#EXTM3U
#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=1280000
low/stream.m3u8
#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=2560000
high/stream.m3u8
`
	rw := testRewriter()
	base, _ := url.Parse("http://cdn.example.com/hls/master.m3u8")

	out, err := rw.Rewrite(strings.NewReader(src), base, "/proxy/")
	require.NoError(t, err)
	text := string(out)

	assert.Contains(t, text, "/proxy/"+url.PathEscape("http://cdn.example.com/hls/low/stream.m3u8"))
	assert.Contains(t, text, "/proxy/"+url.PathEscape("http://cdn.example.com/hls/high/stream.m3u8"))
	assert.NotContains(t, text, "\nlow/stream.m3u8", "raw variant URIs must not survive the rewrite")
	assert.Contains(t, text, "BANDWIDTH=1280000", "stream attributes must be preserved")
}

func TestRewriteMediaPlaylist(t *testing.T) {
	src := `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:10
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:9.009,
seg0.ts
#EXTINF:9.009,
seg1.ts
#EXT-X-ENDLIST
`
	rw := testRewriter()
	base, _ := url.Parse("http://cdn.example.com/hls/low/stream.m3u8")

	out, err := rw.Rewrite(strings.NewReader(src), base, "/proxy/")
	require.NoError(t, err)
	text := string(out)

	assert.Contains(t, text, "/proxy/"+url.PathEscape("http://cdn.example.com/hls/low/seg0.ts"))
	assert.Contains(t, text, "/proxy/"+url.PathEscape("http://cdn.example.com/hls/low/seg1.ts"))
	assert.Contains(t, text, "#EXTINF:9.009", "segment durations must be preserved")
}

func TestRewriteEncryptedMediaPlaylist(t *testing.T) {
	src := `#EXTM3U
#EXT-X-VERSION:6
#EXT-X-TARGETDURATION:10
#EXT-X-MEDIA-SEQUENCE:0
#EXT-X-KEY:METHOD=AES-128,URI="enc.key",IV=0x9c7db8778570d05c3177c349fd9236aa
#EXT-X-MAP:URI="init.mp4"
#EXTINF:9.009,
seg0.ts
#EXT-X-ENDLIST
`
	rw := testRewriter()
	base, _ := url.Parse("http://cdn.example.com/hls/low/stream.m3u8")

	out, err := rw.Rewrite(strings.NewReader(src), base, "/proxy/")
	require.NoError(t, err)
	text := string(out)

	assert.Contains(t, text, "/proxy/"+url.PathEscape("http://cdn.example.com/hls/low/enc.key"))
	assert.Contains(t, text, "/proxy/"+url.PathEscape("http://cdn.example.com/hls/low/seg0.ts"))
	assert.NotContains(t, text, `URI="enc.key"`, "raw key URIs must not survive the rewrite")
	assert.NotContains(t, text, `URI="init.mp4"`, "raw init-segment URIs must not survive the rewrite")
}

func TestRewriteFallbackLineMode(t *testing.T) {
	// No #EXTM3U header, so the structured parser rejects it.
	src := "# comment line\nseg1.ts\n\nhttps://edge.example.net/seg2.ts\n"

	rw := testRewriter()
	base, _ := url.Parse("http://cdn.example.com/hls/stream.m3u8")

	out, err := rw.Rewrite(strings.NewReader(src), base, "/proxy/")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "# comment line", lines[0])
	assert.Equal(t, "/proxy/"+url.PathEscape("http://cdn.example.com/hls/seg1.ts"), lines[1])
	assert.Equal(t, "", lines[2])
	assert.Equal(t, "/proxy/"+url.PathEscape("https://edge.example.net/seg2.ts"), lines[3])
}
