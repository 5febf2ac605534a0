// Package metrics defines the Prometheus collectors exported by duet.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "duet"

// Matching Prometheus metrics.
var (
	ProviderDegradedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_degraded_total",
			Help:      "Per-pair provider failures absorbed into a fallback similarity",
		},
		[]string{"provider", "reason"},
	)

	CandidatesScoredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_scored_total",
			Help:      "Candidates scored during ranking, by outcome",
		},
		[]string{"outcome"}, // "included" / "excluded"
	)

	RankDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rank_duration_seconds",
			Help:      "Time spent ranking candidates for one user",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	ProfilesBuiltTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profiles_built_total",
			Help:      "Music profile builds, by result",
		},
		[]string{"result"}, // "ok" / "no_tracks" / "error"
	)

	SpotifyRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spotify_requests_total",
			Help:      "Spotify API requests, by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)

	FaceBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "face_breaker_state",
			Help:      "Face provider circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)
)

var registerOnce sync.Once

// Register registers all collectors with the default registry. Safe to call
// more than once.
func Register() {
	registerOnce.Do(func() {
		MustRegister(prometheus.DefaultRegisterer)
	})
}

// MustRegister registers all collectors with reg.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		ProviderDegradedTotal,
		CandidatesScoredTotal,
		RankDuration,
		ProfilesBuiltTotal,
		SpotifyRequestsTotal,
		FaceBreakerState,
	)
}
