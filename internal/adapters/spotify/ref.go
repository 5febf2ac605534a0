package spotify

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/ewilliams-labs/duet/internal/core/domain"
)

var playlistIDPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// ParsePlaylistRef extracts the playlist id from a bare id, a
// spotify:playlist:<id> URI or an open.spotify.com playlist URL.
func ParsePlaylistRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("spotify adapter: empty playlist reference: %w", domain.ErrValidation)
	}

	id := ref
	switch {
	case strings.HasPrefix(ref, "spotify:"):
		parts := strings.Split(ref, ":")
		if len(parts) != 3 || parts[1] != "playlist" {
			return "", fmt.Errorf("spotify adapter: unsupported uri %q: %w", ref, domain.ErrValidation)
		}
		id = parts[2]
	case strings.Contains(ref, "://"):
		u, err := url.Parse(ref)
		if err != nil {
			return "", fmt.Errorf("spotify adapter: invalid url %q: %w", ref, domain.ErrValidation)
		}
		if u.Host != "open.spotify.com" {
			return "", fmt.Errorf("spotify adapter: unsupported host %q: %w", u.Host, domain.ErrValidation)
		}
		segments := strings.Split(strings.Trim(u.Path, "/"), "/")
		// Localized links look like /intl-de/playlist/<id>.
		if len(segments) == 3 && strings.HasPrefix(segments[0], "intl-") {
			segments = segments[1:]
		}
		if len(segments) != 2 || segments[0] != "playlist" {
			return "", fmt.Errorf("spotify adapter: not a playlist url %q: %w", ref, domain.ErrValidation)
		}
		id = segments[1]
	}

	if !playlistIDPattern.MatchString(id) {
		return "", fmt.Errorf("spotify adapter: invalid playlist id %q: %w", id, domain.ErrValidation)
	}
	return id, nil
}
