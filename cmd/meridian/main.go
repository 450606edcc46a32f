// Command meridian starts the search server.
//
// It opens the document store, recovers every persisted index, and serves the
// search and indexing API at /1/indexes. The query cache is optional; with
// Redis unreachable the server starts without it.
//
// Usage:
//
//	go run ./cmd/meridian [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/meridian-search/meridian/internal/search"
	"github.com/meridian-search/meridian/internal/server"
	"github.com/meridian-search/meridian/internal/storage"
	"github.com/meridian-search/meridian/internal/task"
	"github.com/meridian-search/meridian/pkg/config"
	"github.com/meridian-search/meridian/pkg/health"
	"github.com/meridian-search/meridian/pkg/logger"
	"github.com/meridian-search/meridian/pkg/metrics"
	"github.com/meridian-search/meridian/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting meridian", "port", cfg.Server.Port, "dataDir", cfg.Storage.DataDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	var metricsShutdown func(context.Context) error
	if cfg.Metrics.Enabled {
		metricsShutdown = metrics.StartServer(cfg.Metrics.Port)
	}

	store, err := storage.Open(cfg.Storage, slog.Default())
	if err != nil {
		slog.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	go store.RunGC(ctx, cfg.Storage.GCInterval)

	var cache *search.Cache
	var redisClient *redis.Client
	if cfg.Cache.Enabled {
		redisClient, err = redis.NewClient(cfg.Cache)
		if err != nil {
			slog.Warn("redis unavailable, query cache disabled", "error", err)
		} else {
			cache = search.NewCache(redisClient, cfg.Cache.TTL, slog.Default())
			slog.Info("query cache enabled", "addr", cfg.Cache.Addr)
		}
	}

	engine := search.NewEngine(cfg.Engine, m, cache, slog.Default())

	manager, err := task.NewManager(cfg.Engine, store, m, cache, slog.Default())
	if err != nil {
		slog.Error("failed to recover indexes", "error", err)
		os.Exit(1)
	}
	slog.Info("indexes recovered", "count", len(manager.Names()))

	checker := health.NewChecker()
	checker.Register("storage", func(ctx context.Context) health.ComponentHealth {
		if err := store.Healthy(); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	if redisClient != nil {
		checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
			if err := redisClient.Ping(ctx); err != nil {
				return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
			}
			return health.ComponentHealth{Status: health.StatusUp}
		})
	}

	srv := server.New(cfg, engine, manager, checker, m, slog.Default())

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx := context.Background()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if metricsShutdown != nil {
			if err := metricsShutdown(shutdownCtx); err != nil {
				slog.Error("metrics shutdown error", "error", err)
			}
		}
	}()

	if err := srv.Start(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	manager.Close()
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if err := store.Close(); err != nil {
		slog.Error("storage close error", "error", err)
	}
	slog.Info("meridian stopped")
}
