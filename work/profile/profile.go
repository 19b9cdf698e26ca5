package profile

import (
	"github.com/grafana/regexp"
)

// Profile classifies the requesting client and drives header translation,
// content-type coercion, and the upstream identity bundle.
type Profile int

const (
	GenericBrowser Profile = iota
	ExternalPlayer
	MobilePlayer
)

// Client identity detection regexes - mobile wins over external when both match
var (
	mobileRegex = regexp.MustCompile(`(?i)mx ?player|mxtech|android|mobile`)
	playerRegex = regexp.MustCompile(`(?i)vlc|libvlc|mpv|lavf|libavformat|exoplayer|stagefright|gstreamer|kodi|nsplayer|quicktime|avpro|mediaplayer`)
)

// Detect maps a User-Agent string onto a Profile. The matching policy
// lives here and only here; handlers pass the result around explicitly.
func Detect(userAgent string) Profile {
	if userAgent == "" {
		return GenericBrowser
	}
	if mobileRegex.MatchString(userAgent) {
		return MobilePlayer
	}
	if playerRegex.MatchString(userAgent) {
		return ExternalPlayer
	}
	return GenericBrowser
}

// Player reports whether the profile identifies a dedicated player app
// rather than a browser. Player profiles get the fixed player identity
// bundle on upstream requests.
func (p Profile) Player() bool {
	return p == ExternalPlayer || p == MobilePlayer
}

func (p Profile) String() string {
	switch p {
	case ExternalPlayer:
		return "external-player"
	case MobilePlayer:
		return "mobile-player"
	default:
		return "generic-browser"
	}
}
