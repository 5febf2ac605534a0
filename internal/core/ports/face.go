package ports

import (
	"context"

	"github.com/ewilliams-labs/duet/internal/core/domain"
)

// FaceProvider measures how different two faces are. Lower is more similar.
// Implementations must be symmetric in their arguments and should report
// per-pair failures as *domain.ProviderDegradedError.
type FaceProvider interface {
	FaceDistance(ctx context.Context, a, b domain.FaceInput) (float64, error)
}

// FaceEmbedder computes a face embedding for a stored photo.
type FaceEmbedder interface {
	EmbedFace(ctx context.Context, photoRef string) ([]float32, error)
}
