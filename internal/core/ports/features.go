package ports

import (
	"context"

	"github.com/ewilliams-labs/duet/internal/core/domain"
)

// FeatureProvider resolves a playlist reference into per-track descriptors.
// Tracks whose features cannot be resolved are left out of the result; an
// inaccessible playlist fails the whole call.
type FeatureProvider interface {
	FetchTrackDescriptors(ctx context.Context, playlistRef string) ([]domain.TrackDescriptor, error)
}
