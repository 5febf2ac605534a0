// Package spotify implements the track feature provider on the Spotify Web API.
package spotify

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/ewilliams-labs/duet/internal/core/ports"
)

const (
	DefaultBaseURL  = "https://api.spotify.com/v1"
	DefaultTokenURL = "https://accounts.spotify.com/api/token"

	// audioFeaturesBatch is the maximum number of ids per audio-features call.
	audioFeaturesBatch = 100
	playlistPageSize   = 100

	providerName = "spotify"
)

// Client is an HTTP client for the Spotify adapter.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	maxRetries  int
	baseBackoff time.Duration
	limiter     *rate.Limiter
	requests    *prometheus.CounterVec
	degraded    *prometheus.CounterVec
	logger      *zap.Logger
}

// compile-time interface assertion
var _ ports.FeatureProvider = (*Client)(nil)

// Config holds the client-credentials settings.
type Config struct {
	ClientID          string
	ClientSecret      string
	BaseURL           string
	TokenURL          string
	Timeout           time.Duration
	MaxRetries        int
	RetryBackoff      time.Duration
	RequestsPerSecond float64
}

// Option customizes a Client.
type Option func(*Client)

// WithRetry sets the attempt count and the base exponential backoff.
func WithRetry(maxRetries int, backoff time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.baseBackoff = backoff
	}
}

// WithRateLimit paces outgoing requests. rps <= 0 disables pacing.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithRequestCounter counts requests by endpoint and status.
func WithRequestCounter(cv *prometheus.CounterVec) Option {
	return func(c *Client) { c.requests = cv }
}

// WithDegradedCounter counts skipped feature batches, labelled by provider
// and reason.
func WithDegradedCounter(cv *prometheus.CounterVec) Option {
	return func(c *Client) { c.degraded = cv }
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient constructs a new Spotify client. httpClient is expected to
// attach authorization.
func NewClient(httpClient *http.Client, baseURL string, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientCredentials builds a client authenticated with the OAuth2
// client-credentials flow. Tokens are fetched and refreshed lazily.
func NewClientCredentials(ctx context.Context, cfg Config, opts ...Option) *Client {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: timeout})

	opts = append([]Option{
		WithRetry(cfg.MaxRetries, cfg.RetryBackoff),
		WithRateLimit(cfg.RequestsPerSecond),
	}, opts...)
	httpClient := cc.Client(ctx)
	httpClient.Timeout = timeout
	return NewClient(httpClient, cfg.BaseURL, opts...)
}
