package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/api"
	"github.com/JakeFAU/contact-harvester/internal/clock/system"
	"github.com/JakeFAU/contact-harvester/internal/id/uuid"
	"github.com/JakeFAU/contact-harvester/internal/jobs"
	"github.com/JakeFAU/contact-harvester/internal/logstream"
	"github.com/JakeFAU/contact-harvester/internal/storage/memory"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the control panel and job server",
		Long: `serve hosts the browser control panel. Operators upload the service-account
key, save the spreadsheet ID, start harvest jobs and watch their output live
over a websocket.`,
		Args: cobra.NoArgs,
		RunE: withRuntime(func(cmd *cobra.Command, rt *runtime) error {
			return serve(cmd.Context(), rt)
		}),
	}
}

func serve(ctx context.Context, rt *runtime) error {
	cfg, logger := rt.cfg, rt.logger

	broadcaster := logstream.New(logstream.Config{
		History:        cfg.Server.LogHistory,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger.Named("logstream"),
	})
	defer broadcaster.Close()

	manager := jobs.NewManager(memory.NewJobStore(), broadcaster, uuid.New(), system.New(), logger.Named("jobs"))
	apiServer := api.NewServer(api.Deps{
		Runner:      rt.app,
		Credentials: rt.app.Credentials(),
		Jobs:        manager,
		Logs:        broadcaster,
		Ledger:      rt.app.Ledger(),
	}, cfg, logger.Named("api"))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Control server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err, ok := <-errCh:
		if ok {
			serveErr = fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Jobs did not finish before shutdown", zap.Error(err))
	}
	return serveErr
}
