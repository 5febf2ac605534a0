package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ewilliams-labs/duet/internal/adapters/rest"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the duet HTTP API.
Profiles are created with POST /api/profile and ranked matches are served
from GET /api/matches/{id}. Prometheus metrics are exposed on /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}
	cmd.Flags().String("addr", "", "address to listen on (overrides http.addr)")
	_ = opts.v.BindPFlag("http.addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func runServe(opts *rootOptions) error {
	cfg, log, err := opts.load(true)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	// Background embedding jobs keep running until the pool is drained on
	// shutdown, so they don't share the signal context.
	d, err := buildDeps(context.Background(), cfg, log, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.Close(); err != nil {
			log.Warn("shutdown cleanup failed", zap.Error(err))
		}
	}()

	handler := rest.NewHandler(d.matchmaker, log.Named("http"),
		rest.WithMaxUploadBytes(cfg.Uploads.MaxBytes),
	)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()
	log.Info("duet API is running", zap.String("addr", cfg.HTTP.Addr), zap.String("version", Version))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown error", zap.Error(err))
		}
	}
	return nil
}
