package services

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ewilliams-labs/duet/internal/core/domain"
	"github.com/ewilliams-labs/duet/internal/core/ports"
	"github.com/ewilliams-labs/duet/internal/worker"
)

// Matchmaker is the surface the transport layers talk to: it builds music
// profiles, registers users and ranks matches.
type Matchmaker struct {
	features ports.FeatureProvider
	repo     ports.UserRepository
	photos   ports.PhotoStore
	ranker   *Ranker
	logger   *zap.Logger

	embedder ports.FaceEmbedder
	pool     *worker.Pool
	dim      int
	profiles *prometheus.CounterVec

	newID func() string
	now   func() time.Time
}

// NewProfile is the input for CreateProfile.
type NewProfile struct {
	Photo       io.Reader
	Filename    string
	PlaylistRef string
}

// NewMatchmaker constructs a Matchmaker.
func NewMatchmaker(
	features ports.FeatureProvider,
	repo ports.UserRepository,
	photos ports.PhotoStore,
	ranker *Ranker,
	logger *zap.Logger,
) *Matchmaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matchmaker{
		features: features,
		repo:     repo,
		photos:   photos,
		ranker:   ranker,
		logger:   logger,
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// WithFaceEmbedder precomputes face embeddings for new users. With a pool
// the work runs in the background; without one it runs inline.
func (m *Matchmaker) WithFaceEmbedder(e ports.FaceEmbedder, pool *worker.Pool) *Matchmaker {
	m.embedder = e
	m.pool = pool
	return m
}

// WithDescriptorDim pins the descriptor dimensionality used for aggregation.
func (m *Matchmaker) WithDescriptorDim(dim int) *Matchmaker {
	m.dim = dim
	return m
}

// WithProfileCounter counts profile builds by result.
func (m *Matchmaker) WithProfileCounter(c *prometheus.CounterVec) *Matchmaker {
	m.profiles = c
	return m
}

// BuildProfile fetches the playlist's descriptors and aggregates them.
func (m *Matchmaker) BuildProfile(ctx context.Context, playlistRef string) (domain.MusicProfile, error) {
	playlistRef = strings.TrimSpace(playlistRef)
	if playlistRef == "" {
		return nil, fmt.Errorf("service: playlist reference is required: %w", domain.ErrValidation)
	}

	descriptors, err := m.features.FetchTrackDescriptors(ctx, playlistRef)
	if err != nil {
		m.incProfile("error")
		return nil, fmt.Errorf("service: failed to fetch track descriptors: %w", err)
	}

	playlist := domain.Playlist{Ref: playlistRef, Descriptors: descriptors}
	var (
		profile domain.MusicProfile
		ok      bool
	)
	if m.dim > 0 {
		profile, ok = domain.AggregateDim(playlist.Descriptors, m.dim)
	} else {
		profile, ok = playlist.Analyze()
	}
	if !ok {
		m.incProfile("no_tracks")
		return nil, fmt.Errorf("service: playlist %s: %w", playlistRef, domain.ErrNoAnalyzableTracks)
	}

	m.incProfile("ok")
	m.logger.Debug("built music profile",
		zap.String("playlist", playlistRef),
		zap.Int("descriptors", len(descriptors)),
		zap.Float64s("profile", profile),
	)
	return profile, nil
}

// CreateProfile stores the photo, builds the music profile and persists a
// new user. Face embedding failures never fail the call.
func (m *Matchmaker) CreateProfile(ctx context.Context, in NewProfile) (domain.User, error) {
	if in.Photo == nil || strings.TrimSpace(in.Filename) == "" {
		return domain.User{}, fmt.Errorf("service: photo is required: %w", domain.ErrValidation)
	}

	profile, err := m.BuildProfile(ctx, in.PlaylistRef)
	if err != nil {
		return domain.User{}, err
	}

	ref, err := m.photos.Save(ctx, in.Filename, in.Photo)
	if err != nil {
		return domain.User{}, fmt.Errorf("service: failed to store photo: %w", err)
	}

	user := domain.User{
		ID:           m.newID(),
		PhotoRef:     ref,
		MusicProfile: profile,
		PlaylistRef:  strings.TrimSpace(in.PlaylistRef),
		CreatedAt:    m.now().UTC(),
	}
	if err := m.repo.Save(ctx, user); err != nil {
		if delErr := m.photos.Delete(context.WithoutCancel(ctx), ref); delErr != nil {
			m.logger.Warn("failed to remove orphaned photo", zap.String("photo_ref", ref), zap.Error(delErr))
		}
		return domain.User{}, fmt.Errorf("service: failed to save user: %w", err)
	}

	m.indexFace(ctx, user)
	return user, nil
}

// Rank returns the ranked matches for userID.
func (m *Matchmaker) Rank(ctx context.Context, userID string) ([]domain.MatchCandidate, error) {
	return m.ranker.Rank(ctx, userID)
}

func (m *Matchmaker) indexFace(ctx context.Context, user domain.User) {
	if m.embedder == nil {
		return
	}

	run := func(ctx context.Context) {
		embedding, err := m.embedder.EmbedFace(ctx, user.PhotoRef)
		if err != nil {
			m.logger.Warn("face embedding skipped", zap.String("user_id", user.ID), zap.Error(err))
			return
		}
		if err := m.repo.UpdateFaceEmbedding(ctx, user.ID, embedding); err != nil {
			m.logger.Warn("failed to store face embedding", zap.String("user_id", user.ID), zap.Error(err))
			return
		}
		m.logger.Debug("stored face embedding", zap.String("user_id", user.ID), zap.Int("dim", len(embedding)))
	}

	if m.pool == nil {
		run(ctx)
		return
	}
	m.pool.TrySubmit(worker.Job{Name: "embed-face:" + user.ID, Run: run})
}

func (m *Matchmaker) incProfile(result string) {
	if m.profiles != nil {
		m.profiles.WithLabelValues(result).Inc()
	}
}
