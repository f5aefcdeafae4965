package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"jitmod/internal/backend"
	"jitmod/internal/config"
	"jitmod/internal/generation"
	"jitmod/internal/logging"
	"jitmod/internal/prompt"
	"jitmod/internal/server"
	"jitmod/internal/store"
	"jitmod/internal/usage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the module-serving HTTP server",
	Long: `Starts the HTTP server that turns encoded function signatures into
cached ES modules.

Each canonical signature is generated at most once; concurrent requests
for the same signature collapse onto a single backend call and every
later request is a cache hit. The config file is watched while the
server runs: log toggles and the cleanup policy apply immediately,
anything else is logged as requiring a restart.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := logging.Initialize(configPath); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.CloseAll()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.NewSQLiteStore(cfg.StorePath())
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	tracker, err := usage.NewTracker(cfg.UsagePath())
	if err != nil {
		return fmt.Errorf("failed to open usage tracker: %w", err)
	}
	defer func() {
		if err := tracker.Save(); err != nil {
			logger.Warn("Failed to flush usage stats", zap.Error(err))
		}
	}()

	gen, err := backend.New(ctx, backend.Config{
		Provider:        cfg.Backend.Provider,
		APIKey:          cfg.Backend.APIKey,
		BaseURL:         cfg.Backend.BaseURL,
		System:          prompt.System,
		Timeout:         cfg.BackendTimeout(),
		MinInterval:     cfg.MinInterval(),
		MaxOutputTokens: cfg.Backend.MaxOutputTokens,
	})
	if err != nil {
		return fmt.Errorf("failed to build backend: %w", err)
	}

	// Generations survive caller disconnects but not process exit. This
	// context is their upper bound; it is cancelled only after the HTTP
	// server has drained.
	genCtx, cancelGen := context.WithCancel(context.Background())
	defer cancelGen()

	coord := generation.New(genCtx, st, gen, tracker, generation.Config{
		DefaultModel: cfg.Backend.Model,
		MaxAttempts:  cfg.Backend.MaxAttempts,
	})

	srv := server.New(coord, st, tracker)

	// The cleanup policy is hot-swappable through the config watcher.
	var cleanupPolicy atomic.Value
	cleanupPolicy.Store(cleanupConfigFrom(cfg))

	var wg sync.WaitGroup
	if interval := cfg.CleanupInterval(); interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					policy := cleanupPolicy.Load().(store.CleanupConfig)
					if _, err := st.Cleanup(ctx, policy); err != nil {
						logger.Warn("Cleanup pass failed", zap.Error(err))
					}
				}
			}
		}()
	}

	active := cfg
	watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
		if fields := active.RequiresRestart(next); len(fields) > 0 {
			logger.Warn("Config changes require a restart to apply",
				zap.Strings("fields", fields))
		}
		if err := logging.ReloadConfig(); err != nil {
			logger.Warn("Failed to reload logging config", zap.Error(err))
		}
		cleanupPolicy.Store(cleanupConfigFrom(next))
		active = next
	})
	if err != nil {
		logger.Warn("Config watcher unavailable", zap.Error(err))
	} else if err := watcher.Start(ctx); err != nil {
		logger.Warn("Config watcher failed to start", zap.Error(err))
	} else {
		defer watcher.Stop()
	}

	logger.Info("Starting jitmod server",
		zap.String("addr", cfg.Addr()),
		zap.String("store", cfg.StorePath()),
		zap.String("provider", cfg.Backend.Provider),
		zap.String("model", cfg.Backend.Model))

	srvErr := srv.Run(ctx, cfg.Addr(), cfg.ShutdownTimeout())

	// Run returns either on signal or on listen failure. Either way the
	// background loops must be released before the deferred teardown.
	stop()
	wg.Wait()

	logger.Info("Server stopped")
	return srvErr
}

func cleanupConfigFrom(cfg *config.Config) store.CleanupConfig {
	return store.CleanupConfig{
		MaxFailedAgeHours:    cfg.Cache.MaxFailedAgeHours,
		MaxPendingAgeMinutes: cfg.Cache.MaxPendingAgeMinutes,
		MaxSourceBytes:       cfg.Cache.MaxSourceBytes,
		Mode:                 cfg.Cache.CleanupMode,
	}
}
