package services

import (
	"fmt"
	"math"
	"time"

	"github.com/ewilliams-labs/duet/internal/core/domain"
)

const (
	DefaultFaceWeight      = 0.6
	DefaultMusicWeight     = 0.4
	DefaultThreshold       = 0.5
	DefaultWorkers         = 4
	DefaultProviderTimeout = 10 * time.Second
)

// ScoringConfig holds the matching policy.
type ScoringConfig struct {
	FaceWeight  float64
	MusicWeight float64
	// Threshold is exclusive: a candidate needs Score > Threshold.
	Threshold float64
	// Workers bounds the scoring fan-out during ranking.
	Workers int
	// ProviderTimeout bounds each face provider call.
	ProviderTimeout time.Duration
}

// DefaultScoringConfig returns the 0.6/0.4 weighting with a 0.5 threshold.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		FaceWeight:      DefaultFaceWeight,
		MusicWeight:     DefaultMusicWeight,
		Threshold:       DefaultThreshold,
		Workers:         DefaultWorkers,
		ProviderTimeout: DefaultProviderTimeout,
	}
}

// Validate checks that the weights form a convex combination and the
// threshold lies in [0, 1].
func (c ScoringConfig) Validate() error {
	if math.IsNaN(c.FaceWeight) || math.IsNaN(c.MusicWeight) || math.IsNaN(c.Threshold) {
		return fmt.Errorf("%w: weights and threshold must be numbers", domain.ErrValidation)
	}
	if c.FaceWeight < 0 || c.MusicWeight < 0 {
		return fmt.Errorf("%w: weights must be non-negative", domain.ErrValidation)
	}
	if math.Abs(c.FaceWeight+c.MusicWeight-1) > 1e-9 {
		return fmt.Errorf("%w: face and music weights must sum to 1, got %v", domain.ErrValidation, c.FaceWeight+c.MusicWeight)
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("%w: threshold must be within [0, 1], got %v", domain.ErrValidation, c.Threshold)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must not be negative", domain.ErrValidation)
	}
	return nil
}

// MusicSimilarityFunc compares two music profiles in [0, 1].
type MusicSimilarityFunc func(a, b domain.MusicProfile) float64

// FaceSimilarityFunc converts a face distance to a similarity in [0, 1].
type FaceSimilarityFunc func(distance float64) float64
