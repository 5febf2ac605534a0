package services

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ewilliams-labs/duet/internal/core/domain"
	"github.com/ewilliams-labs/duet/internal/core/ports"
)

const faceProviderName = "face"

// Scorer combines face and music similarity into one match score.
type Scorer struct {
	face     ports.FaceProvider
	cfg      ScoringConfig
	musicSim MusicSimilarityFunc
	faceSim  FaceSimilarityFunc
	degraded *prometheus.CounterVec
	logger   *zap.Logger
}

// NewScorer constructs a Scorer using cosine music similarity and the
// 1 - min(d, 1) face conversion.
func NewScorer(face ports.FaceProvider, cfg ScoringConfig, logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{
		face:     face,
		cfg:      cfg,
		musicSim: domain.MusicSimilarity,
		faceSim:  domain.FaceSimilarity,
		logger:   logger,
	}
}

// WithSimilarity swaps the similarity measures. nil keeps the current one.
func (s *Scorer) WithSimilarity(music MusicSimilarityFunc, face FaceSimilarityFunc) *Scorer {
	if music != nil {
		s.musicSim = music
	}
	if face != nil {
		s.faceSim = face
	}
	return s
}

// WithDegradedCounter records absorbed provider failures, labelled by
// provider and reason.
func (s *Scorer) WithDegradedCounter(c *prometheus.CounterVec) *Scorer {
	s.degraded = c
	return s
}

// Score computes the match score for a pair. It never fails: provider
// problems degrade the face similarity to 0 and are reported in the
// breakdown.
func (s *Scorer) Score(ctx context.Context, a, b domain.User) domain.ScoreBreakdown {
	return s.score(ctx, a, b, nil)
}

// Query is a user whose face embedding was resolved once so it can be
// scored against many candidates.
type Query struct {
	User    domain.User
	faceErr *domain.ProviderDegradedError
}

// Prepare embeds u's photo when it has no cached embedding and the face
// provider can embed. A failure is remembered and reused for every pair
// instead of asking the provider again.
func (s *Scorer) Prepare(ctx context.Context, u domain.User) Query {
	q := Query{User: u}
	if u.FaceInput().HasEmbedding() {
		return q
	}
	embedder, ok := s.face.(ports.FaceEmbedder)
	if !ok {
		return q
	}

	if s.cfg.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ProviderTimeout)
		defer cancel()
	}

	embedding, err := embedder.EmbedFace(ctx, u.PhotoRef)
	if err != nil {
		var degraded *domain.ProviderDegradedError
		if !errors.As(err, &degraded) {
			degraded = domain.Degraded(faceProviderName, domain.ReasonUnavailable, err)
		}
		q.faceErr = degraded
		return q
	}
	q.User.FaceEmbedding = embedding
	return q
}

// ScoreQuery scores a prepared user against one candidate.
func (s *Scorer) ScoreQuery(ctx context.Context, q Query, other domain.User) domain.ScoreBreakdown {
	return s.score(ctx, q.User, other, q.faceErr)
}

// score orders the pair so the face provider sees the same argument order
// regardless of who is querying. faceErr short-circuits the face provider.
func (s *Scorer) score(ctx context.Context, a, b domain.User, faceErr *domain.ProviderDegradedError) domain.ScoreBreakdown {
	if b.ID < a.ID {
		a, b = b, a
	}

	var out domain.ScoreBreakdown
	if faceErr != nil {
		out.Degraded = faceErr
	} else {
		out.Face, out.Degraded = s.faceSimilarity(ctx, a, b)
	}
	out.Music = clampUnit(s.musicSim(a.MusicProfile, b.MusicProfile))
	out.Score = clampUnit(s.cfg.FaceWeight*out.Face + s.cfg.MusicWeight*out.Music)

	if out.Degraded != nil {
		s.incDegraded(out.Degraded)
		s.logger.Debug("face similarity degraded",
			zap.String("user_a", a.ID),
			zap.String("user_b", b.ID),
			zap.String("reason", string(out.Degraded.Reason)),
			zap.Error(out.Degraded.Err),
		)
	}
	return out
}

func (s *Scorer) faceSimilarity(ctx context.Context, a, b domain.User) (float64, *domain.ProviderDegradedError) {
	if s.face == nil {
		return 0, domain.Degraded(faceProviderName, domain.ReasonUnavailable, errors.New("no face provider configured"))
	}

	if s.cfg.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ProviderTimeout)
		defer cancel()
	}

	d, err := s.face.FaceDistance(ctx, a.FaceInput(), b.FaceInput())
	if err != nil {
		var degraded *domain.ProviderDegradedError
		if errors.As(err, &degraded) {
			return 0, degraded
		}
		return 0, domain.Degraded(faceProviderName, domain.ReasonUnavailable, err)
	}
	if !domain.ValidDistance(d) {
		return 0, domain.Degraded(faceProviderName, domain.ReasonInvalidDistance, nil)
	}
	return clampUnit(s.faceSim(d)), nil
}

func (s *Scorer) incDegraded(err *domain.ProviderDegradedError) {
	if s.degraded != nil {
		s.degraded.WithLabelValues(err.Provider, string(err.Reason)).Inc()
	}
}

func clampUnit(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
