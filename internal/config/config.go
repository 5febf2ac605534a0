// Package config loads duet settings from an optional config file, the
// environment and a .env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ewilliams-labs/duet/internal/core/domain"
	"github.com/ewilliams-labs/duet/internal/core/services"
)

const (
	app       = "duet"
	envPrefix = "DUET"
)

// Config is the full duet configuration.
type Config struct {
	HTTP    HTTPConfig    `mapstructure:"http"`
	Storage StorageConfig `mapstructure:"storage"`
	Spotify SpotifyConfig `mapstructure:"spotify"`
	Face    FaceConfig    `mapstructure:"face"`
	Scoring ScoringConfig `mapstructure:"scoring"`
	Ranking RankingConfig `mapstructure:"ranking"`
	Uploads UploadsConfig `mapstructure:"uploads"`
	Log     LogConfig     `mapstructure:"log"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read-timeout"`
	WriteTimeout    time.Duration `mapstructure:"write-timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout"`
}

// StorageConfig selects and configures the user store.
type StorageConfig struct {
	Driver       string `mapstructure:"driver"` // sqlite or postgres
	SQLitePath   string `mapstructure:"sqlite-path"`
	PostgresURL  string `mapstructure:"postgres-url"`
	MaxOpenConns int    `mapstructure:"max-open-conns"`
	MaxIdleConns int    `mapstructure:"max-idle-conns"`
}

// SpotifyConfig configures the Spotify feature provider.
type SpotifyConfig struct {
	ClientID          string        `mapstructure:"client-id"`
	ClientSecret      string        `mapstructure:"client-secret"`
	APIURL            string        `mapstructure:"api-url"`
	TokenURL          string        `mapstructure:"token-url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max-retries"`
	RetryBackoff      time.Duration `mapstructure:"retry-backoff"`
	RequestsPerSecond float64       `mapstructure:"requests-per-second"`
}

// FaceConfig configures the face embedding server and its circuit breaker.
type FaceConfig struct {
	URL              string        `mapstructure:"url"`
	Timeout          time.Duration `mapstructure:"timeout"`
	BreakerFailures  uint32        `mapstructure:"breaker-failures"`
	BreakerTimeout   time.Duration `mapstructure:"breaker-timeout"`
	Precompute       bool          `mapstructure:"precompute"`
	EmbedWorkers     int           `mapstructure:"embed-workers"`
	EmbedQueueLength int           `mapstructure:"embed-queue"`
}

// ScoringConfig holds the match weights and threshold.
type ScoringConfig struct {
	FaceWeight  float64 `mapstructure:"face-weight"`
	MusicWeight float64 `mapstructure:"music-weight"`
	Threshold   float64 `mapstructure:"threshold"`
}

// RankingConfig bounds the scoring fan-out.
type RankingConfig struct {
	Workers         int           `mapstructure:"workers"`
	ProviderTimeout time.Duration `mapstructure:"provider-timeout"`
}

// UploadsConfig configures photo storage.
type UploadsConfig struct {
	Dir      string `mapstructure:"dir"`
	MaxBytes int64  `mapstructure:"max-bytes"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// SetDefaults registers every key so environment overrides are picked up
// by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read-timeout", 15*time.Second)
	v.SetDefault("http.write-timeout", 60*time.Second)
	v.SetDefault("http.shutdown-timeout", 10*time.Second)

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite-path", "duet.db")
	v.SetDefault("storage.postgres-url", "")
	v.SetDefault("storage.max-open-conns", 25)
	v.SetDefault("storage.max-idle-conns", 5)

	v.SetDefault("spotify.client-id", "")
	v.SetDefault("spotify.client-secret", "")
	v.SetDefault("spotify.api-url", "https://api.spotify.com/v1")
	v.SetDefault("spotify.token-url", "https://accounts.spotify.com/api/token")
	v.SetDefault("spotify.timeout", 15*time.Second)
	v.SetDefault("spotify.max-retries", 3)
	v.SetDefault("spotify.retry-backoff", 500*time.Millisecond)
	v.SetDefault("spotify.requests-per-second", 10.0)

	v.SetDefault("face.url", "http://localhost:8000")
	v.SetDefault("face.timeout", 10*time.Second)
	v.SetDefault("face.breaker-failures", 5)
	v.SetDefault("face.breaker-timeout", 30*time.Second)
	v.SetDefault("face.precompute", true)
	v.SetDefault("face.embed-workers", 2)
	v.SetDefault("face.embed-queue", 100)

	v.SetDefault("scoring.face-weight", services.DefaultFaceWeight)
	v.SetDefault("scoring.music-weight", services.DefaultMusicWeight)
	v.SetDefault("scoring.threshold", services.DefaultThreshold)

	v.SetDefault("ranking.workers", services.DefaultWorkers)
	v.SetDefault("ranking.provider-timeout", services.DefaultProviderTimeout)

	v.SetDefault("uploads.dir", "uploads")
	v.SetDefault("uploads.max-bytes", 10<<20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

// Load reads configuration into a Config. cfgFile may be empty, in which
// case ./duet.yaml is used when present. A .env file in the working
// directory is loaded first and never overrides the real environment.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()

	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Unprefixed names kept for existing deployments.
	legacy := map[string]string{
		"spotify.client-id":     "SPOTIFY_CLIENT_ID",
		"spotify.client-secret": "SPOTIFY_CLIENT_SECRET",
		"spotify.max-retries":   "SPOTIFY_MAX_RETRIES",
		"storage.postgres-url":  "DATABASE_URL",
		"storage.driver":        "STORAGE_DRIVER",
	}
	for key, env := range legacy {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("binding %s environment variable: %w", env, err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(app)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}

// ScoringConfig returns the matching policy for the services layer.
func (c *Config) ScoringConfig() services.ScoringConfig {
	return services.ScoringConfig{
		FaceWeight:      c.Scoring.FaceWeight,
		MusicWeight:     c.Scoring.MusicWeight,
		Threshold:       c.Scoring.Threshold,
		Workers:         c.Ranking.Workers,
		ProviderTimeout: c.Ranking.ProviderTimeout,
	}
}

// Validate checks the settings. Spotify credentials are only required by
// commands that build profiles.
func (c *Config) Validate(requireSpotify bool) error {
	var errs []error

	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite-path is required for the sqlite driver"))
		}
	case "postgres":
		if c.Storage.PostgresURL == "" {
			errs = append(errs, errors.New("storage.postgres-url (or DATABASE_URL) is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}

	if requireSpotify && (c.Spotify.ClientID == "" || c.Spotify.ClientSecret == "") {
		errs = append(errs, errors.New("SPOTIFY_CLIENT_ID and SPOTIFY_CLIENT_SECRET are required"))
	}

	if err := c.ScoringConfig().Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", domain.ErrValidation, errors.Join(errs...))
}
