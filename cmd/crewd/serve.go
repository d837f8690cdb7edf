package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/crewlabs/crewd/internal/config"
	"github.com/crewlabs/crewd/internal/embeddings"
	crewdhttp "github.com/crewlabs/crewd/internal/http"
	"github.com/crewlabs/crewd/internal/logging"
	"github.com/crewlabs/crewd/internal/memory"
	"github.com/crewlabs/crewd/internal/source"
	"github.com/crewlabs/crewd/internal/telemetry"
)

// serve wires the daemon together and blocks until SIGINT or SIGTERM.
func serve() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return run(ctx)
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging, cfg.Observability.ServiceName)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = logging.Sync(logger) }()

	logger.Info("starting crewd",
		zap.String("version", version),
		zap.String("backend", cfg.Memory.Backend),
	)

	telemetryShutdown, err := telemetry.Init(ctx, cfg.Observability, version)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		if err := telemetryShutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	embedder, err := embeddings.NewService(cfg.Embeddings, logger)
	if err != nil {
		return fmt.Errorf("creating embedding service: %w", err)
	}

	store, err := memory.NewStore(cfg.Memory, embedder.Dimension(), logger)
	if err != nil {
		return fmt.Errorf("creating memory store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("store close failed", zap.Error(err))
		}
	}()

	metrics := memory.NewMetrics(logger)
	indexer := memory.NewIndexer(store, embedder, logger, metrics)
	engine := memory.NewEngine(store, embedder, cfg.Memory.ScopeTimeout.Duration(), logger, metrics)
	admin := memory.NewAdmin(store, logger)

	var reindex crewdhttp.ReindexFunc
	if cfg.Source.Root != "" {
		scanner, err := source.NewScanner(cfg.Source, logger)
		if err != nil {
			return fmt.Errorf("creating source scanner: %w", err)
		}
		reindex = func(ctx context.Context) (int, error) {
			return scanner.Reindex(ctx, indexer)
		}

		// Initial index of whatever is on disk; partial failures are
		// logged, not fatal.
		if indexed, err := reindex(ctx); err != nil {
			logger.Warn("initial reindex incomplete",
				zap.Int("indexed", indexed),
				zap.Error(err),
			)
		} else {
			logger.Info("initial reindex complete", zap.Int("indexed", indexed))
		}

		if cfg.Source.Watch {
			watcher, err := source.NewWatcher(scanner, cfg.Source.Debounce.Duration(), func(ctx context.Context) {
				if indexed, err := reindex(ctx); err != nil {
					logger.Warn("reindex after change incomplete",
						zap.Int("indexed", indexed),
						zap.Error(err),
					)
				}
			}, logger)
			if err != nil {
				return fmt.Errorf("creating source watcher: %w", err)
			}
			if err := watcher.Start(ctx); err != nil {
				return fmt.Errorf("starting source watcher: %w", err)
			}
			defer watcher.Stop()
		}
	}

	server, err := crewdhttp.NewServer(engine, indexer, admin, reindex, logger, &crewdhttp.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Duration())
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}

	return nil
}
