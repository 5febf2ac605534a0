package spotify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ewilliams-labs/duet/internal/core/domain"
)

// FetchTrackDescriptors returns one descriptor per playlist track that has
// audio features. Tracks without features, and tracks whose feature batch
// could not be fetched, are skipped. An inaccessible playlist fails as a
// whole, and so does a lookup where every feature batch failed.
func (c *Client) FetchTrackDescriptors(ctx context.Context, playlistRef string) ([]domain.TrackDescriptor, error) {
	playlistID, err := ParsePlaylistRef(playlistRef)
	if err != nil {
		return nil, err
	}

	ids, err := c.playlistTrackIDs(ctx, playlistID)
	if err != nil {
		return nil, err
	}

	descriptors := make([]domain.TrackDescriptor, 0, len(ids))
	var (
		batches int
		failed  int
		lastErr error
	)
	for start := 0; start < len(ids); start += audioFeaturesBatch {
		end := min(start+audioFeaturesBatch, len(ids))
		batches++

		features, err := c.audioFeatures(ctx, ids[start:end])
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("spotify adapter: request canceled: %w", ctxErr)
			}
			failed++
			lastErr = err
			c.incDegraded(domain.ReasonUnavailable)
			c.log().Warn("spotify adapter: skipping audio features batch",
				zap.String("playlist", playlistID),
				zap.Int("tracks", end-start),
				zap.Error(err),
			)
			continue
		}
		for _, f := range features {
			if f == nil {
				continue
			}
			descriptors = append(descriptors, mapFeaturesToDescriptor(*f))
		}
	}
	if batches > 0 && failed == batches {
		return nil, fmt.Errorf("spotify adapter: all %d audio features batches failed: %w", batches, lastErr)
	}

	c.log().Debug("spotify adapter: fetched track descriptors",
		zap.String("playlist", playlistID),
		zap.Int("tracks", len(ids)),
		zap.Int("descriptors", len(descriptors)),
		zap.Int("failed_batches", failed),
	)
	return descriptors, nil
}

func (c *Client) playlistTrackIDs(ctx context.Context, playlistID string) ([]string, error) {
	next := fmt.Sprintf("%s/playlists/%s/tracks?limit=%d&fields=%s",
		c.baseURL, url.PathEscape(playlistID), playlistPageSize,
		url.QueryEscape("items(track(id,type,is_local)),next,total"))

	var ids []string
	for next != "" {
		var page playlistTracksPage
		status, err := c.getJSON(ctx, next, &page)
		if err != nil {
			return nil, err
		}
		if status == http.StatusNotFound {
			return nil, fmt.Errorf("spotify adapter: playlist %s: %w", playlistID, domain.ErrNotFound)
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("spotify adapter: playlist tracks status %d", status)
		}

		ids = append(ids, analyzableTrackIDs(page.Items)...)
		next = ""
		if page.Next != nil {
			next = *page.Next
		}
	}
	return ids, nil
}

func (c *Client) audioFeatures(ctx context.Context, ids []string) ([]*spotifyAudioFeatures, error) {
	endpoint := fmt.Sprintf("%s/audio-features?ids=%s", c.baseURL, url.QueryEscape(strings.Join(ids, ",")))

	var body audioFeaturesResponse
	status, err := c.getJSON(ctx, endpoint, &body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("spotify adapter: audio features status %d", status)
	}
	return body.AudioFeatures, nil
}

// getJSON decodes a 200 body into out and returns the status code. Non-200
// bodies are discarded.
func (c *Client) getJSON(ctx context.Context, endpoint string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("spotify adapter: failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.send(req)
	if err != nil {
		return 0, fmt.Errorf("spotify adapter: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return 0, fmt.Errorf("spotify adapter: decode error: %w", err)
	}
	return http.StatusOK, nil
}
