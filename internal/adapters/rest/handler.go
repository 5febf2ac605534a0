// Package rest exposes the matchmaking service over HTTP.
package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ewilliams-labs/duet/internal/core/services"
	"github.com/ewilliams-labs/duet/internal/logger"
)

// Handler manages the HTTP interface for our application.
type Handler struct {
	svc            *services.Matchmaker
	router         chi.Router
	logger         *zap.Logger
	metrics        http.Handler
	maxUploadBytes int64
}

// Option customizes a Handler.
type Option func(*Handler)

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(hd *Handler) { hd.metrics = h }
}

// WithMaxUploadBytes bounds the multipart body of POST /api/profile.
func WithMaxUploadBytes(n int64) Option {
	return func(hd *Handler) {
		if n > 0 {
			hd.maxUploadBytes = n
		}
	}
}

// NewHandler initializes the HTTP adapter and sets up routes.
func NewHandler(svc *services.Matchmaker, log *zap.Logger, opts ...Option) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{
		svc:            svc,
		router:         chi.NewRouter(),
		logger:         log,
		metrics:        promhttp.Handler(),
		maxUploadBytes: 10 << 20,
	}
	for _, opt := range opts {
		opt(h)
	}

	h.routes()

	return h
}

// ServeHTTP satisfies the http.Handler interface.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes() {
	h.router.Use(middleware.RequestID)
	h.router.Use(middleware.RealIP)
	h.router.Use(h.requestLogger)
	h.router.Use(middleware.Recoverer)

	h.router.Get("/health", h.HealthCheck)
	h.router.Handle("/metrics", h.metrics)

	h.router.Route("/api", func(r chi.Router) {
		r.Post("/profile", h.CreateProfile)
		r.Get("/matches/{id}", h.GetMatches)
	})
}

// requestLogger attaches a request-scoped logger and logs each request.
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqLog := h.logger.With(zap.String("request_id", middleware.GetReqID(r.Context())))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(logger.ContextWithLogger(r.Context(), reqLog)))

		reqLog.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
		)
	})
}

// HealthCheck is a simple endpoint to verify the API is running.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
