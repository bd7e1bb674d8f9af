package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/worldlens/dashboard/internal/api"
	"github.com/worldlens/dashboard/internal/cache"
	"github.com/worldlens/dashboard/internal/histstore"
	"github.com/worldlens/dashboard/internal/render"
	"github.com/worldlens/dashboard/internal/service"
	"github.com/worldlens/dashboard/internal/watch"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP dashboard server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logger
	log.Info("starting dashboard server", zap.Int("port", cfg.Server.Port))

	// Initialize cache manager
	cacheManager, err := cache.NewManager(cache.Config{
		ImageCacheSizeMB: cfg.Cache.ImageSizeMB,
		ImageTTL:         time.Duration(cfg.Cache.ImageTTLMinutes) * time.Minute,
		SummaryCacheSize: cfg.Cache.SummaryCacheSize,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheManager.Close()

	renderer := render.NewRenderer(render.Config{Scale: cfg.Render.Scale})

	ds, err := loadDataset(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to load dataset: %w", err)
	}

	dash, err := service.New(dashboardConfig(cfg), ds, service.Deps{
		Cache:    cacheManager,
		Renderer: renderer,
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("failed to build dashboard: %w", err)
	}
	log.Info("dashboard ready", zap.Strings("views", dash.Views()), zap.Bool("live_brush", cfg.Dashboard.LiveBrush))

	// Selection history (SQLite persistence)
	var history *histstore.Recorder
	if cfg.History.Enabled {
		history, err = histstore.NewRecorder(histstore.RecorderConfig{
			SQLitePath:    cfg.History.SQLitePath,
			Retention:     time.Duration(cfg.History.RetentionDays) * 24 * time.Hour,
			CleanupPeriod: time.Hour,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to initialize selection history: %w", err)
		}
		history.Start()
		defer history.Stop()
		dash.Observe(history.Observe)
		log.Info("selection history enabled",
			zap.String("sqlite", cfg.History.SQLitePath),
			zap.Int("retention_days", cfg.History.RetentionDays))
	}

	// Reload the dataset when its files change
	if cfg.Watch.Enabled {
		watcher, err := watch.New(
			[]string{cfg.Data.CSVPath, cfg.Data.GeoJSONPath},
			time.Duration(cfg.Watch.DebounceMS)*time.Millisecond,
			func(ctx context.Context) error {
				next, err := loadDataset(ctx, cfg, log)
				if err != nil {
					return err
				}
				return dash.Reload(next)
			},
			log,
		)
		if err != nil {
			return fmt.Errorf("failed to watch data files: %w", err)
		}
		watchCtx, cancelWatch := context.WithCancel(ctx)
		defer cancelWatch()
		watcher.Start(watchCtx)
		defer watcher.Stop()
	}

	router := api.NewRouter(api.RouterConfig{
		Dashboard:   dash,
		History:     history,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("url", fmt.Sprintf("http://localhost:%d", cfg.Server.Port)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}
