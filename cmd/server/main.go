package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/tdfc/internal/config"
	"github.com/JonMunkholm/tdfc/internal/core"
	"github.com/JonMunkholm/tdfc/internal/logging"
	"github.com/JonMunkholm/tdfc/internal/metrics"
	"github.com/JonMunkholm/tdfc/internal/store"
	"github.com/JonMunkholm/tdfc/internal/web"
	"github.com/JonMunkholm/tdfc/internal/xlsx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Load .env file if it exists; variables already set in the environment win.
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded", "config", cfg.String())

	ctx := context.Background()
	st, err := store.Open(ctx, cfg)
	if err != nil {
		slog.Error("failed to open index store", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer st.Close()
	slog.Info("index store ready", "driver", cfg.Database.Driver)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		slog.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	opts := store.ServiceOptions(cfg)
	opts.Logger = logger
	service, err := core.NewService(st, xlsx.Opener{}, opts)
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	// Report the starting state; a stale or missing index is rebuilt by the
	// first lookup.
	if status, err := service.Status(ctx, ""); err != nil {
		slog.Warn("could not read index status", "error", err)
	} else {
		slog.Info("index status",
			"sheet", status.Sheet,
			"source_present", status.SourcePresent,
			"fresh", status.Fresh,
			"entries", status.Entries,
		)
	}

	server := web.NewServer(service, cfg)

	// Background refresh, stopped on shutdown
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go service.StartRefreshScheduler(jobCtx, cfg.Storage.RefreshInterval)

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for active uploads to complete (with timeout)
		uploads := service.Uploads().Status()
		if uploads.Active > 0 {
			slog.Info("waiting for uploads to complete", "active", uploads.Active)
			if err := service.Uploads().WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("uploads did not complete in time", "error", err)
			} else {
				slog.Info("all uploads completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-done
	slog.Info("server stopped")
}
