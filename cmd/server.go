package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"spectra/config"
	"spectra/handlers"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and supervise the analysis worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := ctx.ensure()
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}
			return StartWebServer(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP port (overrides config)")
	return cmd
}

// StartWebServer serves the API until ctx ends, then shuts down gracefully.
func StartWebServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return errors.New("another spectra server is already running for this data directory")
	}
	defer func() { _ = lock.Unlock() }()

	gin.SetMode(cfg.Server.GinMode)

	a, err := newApp(cfg, logger, appOptions{supervise: true, events: true, resume: true})
	if err != nil {
		return err
	}
	// The worker outlives ctx so close can drain jobs before stopping it.
	if err := a.start(context.WithoutCancel(ctx)); err != nil {
		_ = a.close(context.Background())
		return err
	}
	if !cfg.Worker.Enabled {
		// An externally managed worker is assumed to be up already.
		if _, err := a.core.ResumePending(ctx); err != nil {
			logger.Warn("could not resume pending analysis", zap.Error(err))
		}
	}

	router := handlers.NewRouter(handlers.RouterDeps{
		Config: cfg,
		Core:   a.core,
		Hub:    a.hub,
		Worker: a.workerStatus(),
		Logger: logger,
	})
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("spectra web server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("data_dir", cfg.Paths.DataDir),
			zap.Bool("worker_supervised", cfg.Worker.Enabled))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	if err := a.close(shutdownCtx); err != nil {
		logger.Warn("core shutdown incomplete", zap.Error(err))
	}
	logger.Info("spectra stopped")
	return runErr
}
