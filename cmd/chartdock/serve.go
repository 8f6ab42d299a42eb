package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"chartdock/pkg/api"
	"chartdock/pkg/appcatalog"
	"chartdock/pkg/config"
	"chartdock/pkg/dock"
	"chartdock/pkg/helm"
	"chartdock/pkg/installchart"
	"chartdock/pkg/logging"
	"chartdock/pkg/metrics"
	"chartdock/pkg/notifications"
	"chartdock/pkg/storage"
	"chartdock/pkg/upgradechart"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if port != "" {
				cfg.ListenPort = port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (overrides config)")
	return cmd
}

func serve(ctx context.Context, cfg *config.AppConfig) error {
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	gin.SetMode(cfg.GinMode)

	backend, err := storage.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	if closer, ok := backend.(io.Closer); ok {
		defer closer.Close()
	}

	helmClient, err := helm.NewHelmClient(cfg, logging.Component(logger, "helm"))
	if err != nil {
		return fmt.Errorf("failed to initialize Helm client: %w", err)
	}

	catalog, err := appcatalog.NewService(cfg.ChartConfigPath, helmClient, logging.Component(logger, "catalog"))
	if err != nil {
		return fmt.Errorf("failed to initialize app catalog: %w", err)
	}
	if err := catalog.SyncRepos(ctx); err != nil {
		// Cached indexes from an earlier run stay usable.
		logger.Warn().Err(err).Msg("failed to sync chart repositories")
	}

	m := metrics.New()
	d := dock.New(logging.Component(logger, "dock"))
	if err := d.Restore(backend); err != nil {
		return fmt.Errorf("failed to restore dock: %w", err)
	}
	center := notifications.NewCenter(0, logging.Component(logger, "notifications"))

	installStore := installchart.NewStore(d, helmClient, helmClient, center, installchart.Options{
		Storage:        backend,
		ValuesAttempts: cfg.Values.MaxAttempts,
		RetryDelay:     cfg.Values.RetryDelay,
		Metrics:        m,
		Logger:         logger,
	})
	if err := installStore.Init(); err != nil {
		return fmt.Errorf("failed to restore install tabs: %w", err)
	}
	defer installStore.Dispose()

	upgradeStore := upgradechart.NewStore(d, helmClient, helmClient, center, upgradechart.Options{
		Storage: backend,
		Metrics: m,
		Logger:  logger,
	})
	if err := upgradeStore.Init(); err != nil {
		return fmt.Errorf("failed to restore upgrade tabs: %w", err)
	}
	defer upgradeStore.Dispose()

	handler := api.NewAPIHandler(api.Deps{
		Catalog:       catalog,
		Releases:      helmClient,
		Dock:          d,
		InstallStore:  installStore,
		UpgradeStore:  upgradeStore,
		Notifications: center,
		Metrics:       m,
		Logger:        logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ListenPort,
		Handler:           api.SetupRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("mode", cfg.GinMode).Msg("API server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to run server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	installStore.Dispose()
	upgradeStore.Dispose()
	installStore.Wait()
	upgradeStore.Wait()
	return nil
}
