// ABOUTME: YouTube URL parsing and channel id normalization
// ABOUTME: Turns pasted links into (kind, id) targets and builds placeholder metadata

package youtube

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Kind is the type of content a URL points at.
type Kind string

const (
	KindVideo   Kind = "video"
	KindChannel Kind = "channel"
)

// ErrUnsupportedURL is returned for links that do not identify a video or channel.
var ErrUnsupportedURL = errors.New("unsupported YouTube URL")

var (
	videoIDPattern   = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	channelIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,255}$`)
)

// Target identifies a video or channel.
type Target struct {
	Kind Kind
	ID   string
}

// Metadata is the display information stored with a block.
type Metadata struct {
	Title        string
	ChannelName  string
	ThumbnailURL string
}

// ParseURL extracts the target of a YouTube link. Supported shapes:
//
//	youtube.com/watch?v=ID
//	youtube.com/shorts/ID
//	youtube.com/channel/ID
//	youtube.com/@handle
//	youtube.com/c/NAME
//	youtu.be/ID
//
// Handles are returned without the leading "@".
func ParseURL(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, fmt.Errorf("%w: empty", ErrUnsupportedURL)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %v", ErrUnsupportedURL, err)
	}

	host := strings.ToLower(u.Hostname())
	segments := strings.Split(strings.Trim(u.EscapedPath(), "/"), "/")

	var target Target
	switch {
	case host == "youtu.be":
		target = Target{Kind: KindVideo, ID: segments[0]}

	case isYouTubeHost(host):
		switch {
		case u.Path == "/watch":
			target = Target{Kind: KindVideo, ID: u.Query().Get("v")}
		case segments[0] == "shorts" && len(segments) > 1:
			target = Target{Kind: KindVideo, ID: segments[1]}
		case (segments[0] == "channel" || segments[0] == "c") && len(segments) > 1:
			target = Target{Kind: KindChannel, ID: segments[1]}
		case strings.HasPrefix(segments[0], "@"):
			target = Target{Kind: KindChannel, ID: NormalizeChannel(segments[0])}
		}

	default:
		return Target{}, fmt.Errorf("%w: host %q", ErrUnsupportedURL, host)
	}

	if !validID(target) {
		return Target{}, fmt.Errorf("%w: %s", ErrUnsupportedURL, raw)
	}
	return target, nil
}

func isYouTubeHost(host string) bool {
	return host == "youtube.com" || strings.HasSuffix(host, ".youtube.com")
}

func validID(t Target) bool {
	switch t.Kind {
	case KindVideo:
		return videoIDPattern.MatchString(t.ID)
	case KindChannel:
		return channelIDPattern.MatchString(t.ID)
	default:
		return false
	}
}

// NormalizeChannel strips the leading "@" of a handle.
func NormalizeChannel(id string) string {
	return strings.TrimPrefix(strings.TrimSpace(id), "@")
}

// ThumbnailURL returns the medium-quality thumbnail of a video.
func ThumbnailURL(videoID string) string {
	return "https://i.ytimg.com/vi/" + url.PathEscape(videoID) + "/mqdefault.jpg"
}

// WatchURL returns the canonical watch page of a video.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + url.QueryEscape(videoID)
}

// Placeholder returns the metadata stored when nothing better is known about a target.
func Placeholder(t Target) Metadata {
	if t.Kind == KindVideo {
		return Metadata{
			Title:        "Video " + t.ID,
			ThumbnailURL: ThumbnailURL(t.ID),
		}
	}
	return Metadata{Title: "Channel " + t.ID}
}
