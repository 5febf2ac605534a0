package faceapi

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/ewilliams-labs/duet/internal/core/domain"
)

// BreakerConfig configures the circuit breaker in front of the embedding server.
type BreakerConfig struct {
	Name string
	// FailureThreshold is the number of consecutive unavailable responses before opening.
	FailureThreshold uint32
	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration
	// MaxRequests is the number of probes allowed while half-open.
	MaxRequests uint32
}

// DefaultBreakerConfig returns the production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "face-api",
		FailureThreshold: 5,
		Timeout:          30 * time.Second,
		MaxRequests:      1,
	}
}

// WithBreaker short-circuits embedding calls once the server keeps failing.
// Only unavailability trips the breaker; a photo without a face is a
// successful call. state, when set, tracks the breaker state per name.
func WithBreaker(cfg BreakerConfig, state *prometheus.GaugeVec) Option {
	return func(c *Client) {
		if cfg.Name == "" {
			cfg.Name = DefaultBreakerConfig().Name
		}
		if cfg.FailureThreshold == 0 {
			cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
		}
		if state != nil {
			state.WithLabelValues(cfg.Name).Set(stateValue(gobreaker.StateClosed))
		}
		c.breaker = gobreaker.NewCircuitBreaker[[]float32](gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: cfg.MaxRequests,
			Timeout:     cfg.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.FailureThreshold
			},
			IsSuccessful: func(err error) bool {
				var degraded *domain.ProviderDegradedError
				if errors.As(err, &degraded) {
					return degraded.Reason != domain.ReasonUnavailable
				}
				return err == nil
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				c.logger.Warn("faceapi: circuit breaker state changed",
					zap.String("name", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
				if state != nil {
					state.WithLabelValues(name).Set(stateValue(to))
				}
			},
		})
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// breakerError maps gobreaker rejections to an unavailable degradation.
func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.Degraded(providerName, domain.ReasonUnavailable, err)
	}
	return err
}
