package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/ewilliams-labs/duet/internal/adapters/faceapi"
	"github.com/ewilliams-labs/duet/internal/adapters/photos"
	"github.com/ewilliams-labs/duet/internal/adapters/postgres"
	"github.com/ewilliams-labs/duet/internal/adapters/spotify"
	"github.com/ewilliams-labs/duet/internal/adapters/sqlite"
	"github.com/ewilliams-labs/duet/internal/config"
	"github.com/ewilliams-labs/duet/internal/core/domain"
	"github.com/ewilliams-labs/duet/internal/core/ports"
	"github.com/ewilliams-labs/duet/internal/core/services"
	"github.com/ewilliams-labs/duet/internal/metrics"
	"github.com/ewilliams-labs/duet/internal/worker"
)

// deps holds the wired application and everything that must be released
// on exit.
type deps struct {
	matchmaker *services.Matchmaker
	pool       *worker.Pool
	closers    []func() error
}

func (d *deps) Close() error {
	if d.pool != nil {
		d.pool.Stop()
	}
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	return errors.Join(errs...)
}

// buildDeps wires adapters into the matchmaker. With background set, face
// embeddings for new users are computed on a worker pool bound to ctx.
func buildDeps(ctx context.Context, cfg *config.Config, log *zap.Logger, background bool) (*deps, error) {
	metrics.Register()

	d := &deps{}

	repo, closeRepo, err := openRepository(ctx, cfg.Storage, log)
	if err != nil {
		return nil, err
	}
	d.closers = append(d.closers, closeRepo)

	photoStore, err := photos.NewStore(cfg.Uploads.Dir, cfg.Uploads.MaxBytes)
	if err != nil {
		_ = d.Close()
		return nil, err
	}

	features := spotify.NewClientCredentials(ctx, spotify.Config{
		ClientID:          cfg.Spotify.ClientID,
		ClientSecret:      cfg.Spotify.ClientSecret,
		BaseURL:           cfg.Spotify.APIURL,
		TokenURL:          cfg.Spotify.TokenURL,
		Timeout:           cfg.Spotify.Timeout,
		MaxRetries:        cfg.Spotify.MaxRetries,
		RetryBackoff:      cfg.Spotify.RetryBackoff,
		RequestsPerSecond: cfg.Spotify.RequestsPerSecond,
	},
		spotify.WithRequestCounter(metrics.SpotifyRequestsTotal),
		spotify.WithDegradedCounter(metrics.ProviderDegradedTotal),
		spotify.WithLogger(log.Named("spotify")),
	)

	breaker := faceapi.DefaultBreakerConfig()
	if cfg.Face.BreakerFailures > 0 {
		breaker.FailureThreshold = cfg.Face.BreakerFailures
	}
	if cfg.Face.BreakerTimeout > 0 {
		breaker.Timeout = cfg.Face.BreakerTimeout
	}
	face := faceapi.NewClient(cfg.Face.URL, photoStore,
		faceapi.WithHTTPClient(&http.Client{Timeout: cfg.Face.Timeout}),
		faceapi.WithLogger(log.Named("faceapi")),
		faceapi.WithBreaker(breaker, metrics.FaceBreakerState),
	)

	scoring := cfg.ScoringConfig()
	scorer := services.NewScorer(face, scoring, log).
		WithDegradedCounter(metrics.ProviderDegradedTotal)
	ranker := services.NewRanker(repo, scorer, scoring, log).
		WithMetrics(metrics.RankDuration, metrics.CandidatesScoredTotal)

	d.matchmaker = services.NewMatchmaker(features, repo, photoStore, ranker, log).
		WithDescriptorDim(domain.DescriptorDim).
		WithProfileCounter(metrics.ProfilesBuiltTotal)

	if cfg.Face.Precompute {
		if background {
			d.pool = worker.NewPool(cfg.Face.EmbedQueueLength, log.Named("embed"))
			d.pool.Start(ctx, cfg.Face.EmbedWorkers)
		}
		d.matchmaker.WithFaceEmbedder(face, d.pool)
	}

	return d, nil
}

func openRepository(ctx context.Context, cfg config.StorageConfig, log *zap.Logger) (ports.UserRepository, func() error, error) {
	switch cfg.Driver {
	case "sqlite":
		a, err := sqlite.NewAdapter(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		log.Info("using sqlite storage", zap.String("path", cfg.SQLitePath))
		return a, a.Close, nil
	case "postgres":
		pool, err := postgres.Open(ctx, postgres.Options{
			URL:          cfg.PostgresURL,
			MaxOpenConns: cfg.MaxOpenConns,
			MaxIdleConns: cfg.MaxIdleConns,
		}, log.Named("postgres"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		log.Info("using postgres storage")
		return postgres.NewUserRepository(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}
