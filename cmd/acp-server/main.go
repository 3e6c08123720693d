// ACP server — hosts the example agents behind the run engine's HTTP
// API, with a pluggable store backend.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/agentmesh/acp/pkg/api"
	"github.com/agentmesh/acp/pkg/catalog"
	"github.com/agentmesh/acp/pkg/cleanup"
	"github.com/agentmesh/acp/pkg/config"
	"github.com/agentmesh/acp/pkg/server"
	"github.com/agentmesh/acp/pkg/store"
	"github.com/agentmesh/acp/pkg/version"
)

func main() {
	envPath := flag.String("env-file", ".env", "Path to an optional .env file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		slog.Debug("No .env file loaded, continuing with existing environment",
			"path", *envPath, "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting ACP server",
		"version", version.Full(),
		"http_port", cfg.HTTPPort,
		"store_backend", cfg.StoreBackend)

	ctx := context.Background()

	st, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// The in-memory store enforces its own retention; durable backends
	// get a background sweeper.
	if sweeper, ok := st.(cleanup.Sweeper); ok && cfg.RunTTL > 0 {
		janitor := cleanup.NewService(sweeper, server.KeyPrefixes(), cfg.RunTTL, cfg.CleanupInterval)
		janitor.Start(ctx)
		defer janitor.Stop()
	}

	engine := server.NewEngine(st, server.EngineOptions{PoolSize: cfg.PoolSize})
	defer engine.Close()

	for _, a := range catalog.All() {
		engine.Register(a)
	}
	slog.Info("Agents registered", "count", len(engine.Agents()))

	httpServer := api.NewServer(engine)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.HTTPPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	if cfg.SelfRegister && cfg.PlatformURL != "" {
		selfURL := "http://localhost:" + cfg.HTTPPort
		if err := server.RegisterWithPlatform(ctx, cfg.PlatformURL, selfURL, cfg.ProductionMode, engine.Agents()); err != nil {
			slog.Warn("Platform registration failed, continuing", "error", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	slog.Info("Shutdown complete")
}

// buildStore constructs the configured store backend and its teardown.
func buildStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, err
		}
		return store.NewRedisStore(client), func() { _ = client.Close() }, nil
	case config.BackendPostgres:
		st, err := store.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	default:
		st := store.NewMemoryStore(store.MemoryOptions{Limit: cfg.RunLimit, TTL: cfg.RunTTL})
		return st, func() {}, nil
	}
}
