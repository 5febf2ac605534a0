package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ewilliams-labs/duet/internal/core/domain"
	"github.com/ewilliams-labs/duet/internal/core/ports"
	"github.com/ewilliams-labs/duet/internal/worker"
)

// Ranker scores every other user against a querying user and keeps the
// ones above the threshold.
type Ranker struct {
	repo   ports.UserRepository
	scorer *Scorer
	cfg    ScoringConfig
	logger *zap.Logger

	duration prometheus.Observer
	outcomes *prometheus.CounterVec
}

// NewRanker constructs a Ranker.
func NewRanker(repo ports.UserRepository, scorer *Scorer, cfg ScoringConfig, logger *zap.Logger) *Ranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ranker{repo: repo, scorer: scorer, cfg: cfg, logger: logger}
}

// WithMetrics attaches a rank duration observer and an included/excluded counter.
func (r *Ranker) WithMetrics(duration prometheus.Observer, outcomes *prometheus.CounterVec) *Ranker {
	r.duration = duration
	r.outcomes = outcomes
	return r
}

// Rank returns the candidates whose score exceeds the threshold, ordered by
// score descending and user id ascending. Only an unknown querying user or
// a store failure aborts the ranking.
func (r *Ranker) Rank(ctx context.Context, userID string) ([]domain.MatchCandidate, error) {
	if userID == "" {
		return nil, fmt.Errorf("service: user id is required: %w", domain.ErrValidation)
	}

	start := time.Now()
	defer func() {
		if r.duration != nil {
			r.duration.Observe(time.Since(start).Seconds())
		}
	}()

	user, err := r.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("service: user %s: %w", userID, err)
		}
		return nil, fmt.Errorf("service: failed to load user: %w", err)
	}

	others, err := r.repo.ListOthers(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list candidates: %w", err)
	}

	query := r.scorer.Prepare(ctx, user)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("service: ranking canceled: %w", err)
	}

	type result struct {
		scored bool
		score  domain.ScoreBreakdown
	}
	results := make([]result, len(others))

	workers := r.cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	err = worker.Each(ctx, workers, len(others), func(ctx context.Context, i int) {
		if others[i].ID == userID {
			return
		}
		results[i] = result{scored: true, score: r.scorer.ScoreQuery(ctx, query, others[i])}
	})
	if err != nil {
		return nil, fmt.Errorf("service: ranking canceled: %w", err)
	}

	matches := make([]domain.MatchCandidate, 0, len(others))
	degraded := 0
	for i, res := range results {
		if !res.scored {
			continue
		}
		if res.score.Degraded != nil {
			degraded++
		}
		if res.score.Score > r.cfg.Threshold {
			r.incOutcome("included")
			matches = append(matches, domain.MatchCandidate{
				UserID:      others[i].ID,
				PlaylistRef: others[i].PlaylistRef,
				Score:       res.score.Score,
			})
			continue
		}
		r.incOutcome("excluded")
	}

	SortCandidates(matches)

	r.logger.Info("ranked candidates",
		zap.String("user_id", userID),
		zap.Int("candidates", len(others)),
		zap.Int("matches", len(matches)),
		zap.Int("face_degraded", degraded),
		zap.Duration("took", time.Since(start)),
	)
	return matches, nil
}

// SortCandidates orders by score descending, then user id ascending.
func SortCandidates(c []domain.MatchCandidate) {
	sort.SliceStable(c, func(i, j int) bool {
		if c[i].Score != c[j].Score {
			return c[i].Score > c[j].Score
		}
		return c[i].UserID < c[j].UserID
	})
}

func (r *Ranker) incOutcome(outcome string) {
	if r.outcomes != nil {
		r.outcomes.WithLabelValues(outcome).Inc()
	}
}
