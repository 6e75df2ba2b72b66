// Package main is the entrypoint for the simulated endpoint service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/jobclient/internal/api"
	"github.com/kiranshivaraju/jobclient/internal/api/handler"
	mw "github.com/kiranshivaraju/jobclient/internal/api/middleware"
	"github.com/kiranshivaraju/jobclient/internal/cache"
	"github.com/kiranshivaraju/jobclient/internal/config"
	"github.com/kiranshivaraju/jobclient/internal/simulator"
	"github.com/kiranshivaraju/jobclient/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const (
	shutdownTimeout = 30 * time.Second
	migrationsDir   = "migrations"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// app holds the wired service and everything that must be released on exit.
type app struct {
	handler http.Handler
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp wires store, cache, simulator and router from cfg.
func newApp(ctx context.Context, cfg *config.ServerConfig, logger *slog.Logger, keyCost int) (*app, error) {
	a := &app{}

	var st store.Store
	switch cfg.Store {
	case "postgres":
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		logger.Info("database connected")

		if err := store.RunMigrations(cfg.Database.URL, migrationsDir); err != nil {
			a.close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("database migrations applied")
		st = store.NewPostgresStore(pool)
	default:
		st = store.NewMemoryStore()
	}

	var ca cache.Cache
	if cfg.Redis.URL != "" {
		redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("create redis cache: %w", err)
		}
		a.closers = append(a.closers, func() { redisCache.Close() })
		if err := redisCache.Ping(ctx); err != nil {
			a.close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		logger.Info("redis connected")
		ca = redisCache
	} else {
		ca = cache.NewMemoryCache()
	}

	exec, err := simulator.NewExecutor(cfg.Executor)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("create executor: %w", err)
	}

	keys, err := mw.ParseKeys(cfg.APIKeys, keyCost)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("parse api keys: %w", err)
	}

	sim := simulator.New(st, ca, exec, simulator.Options{
		Workers:    cfg.Workers,
		StreamHold: cfg.StreamHold,
	}, logger)
	// The simulator stops before the store and cache it writes to.
	a.closers = append(a.closers, sim.Close)

	a.handler = api.NewRouter(api.Dependencies{
		Logger:          logger,
		Auth:            mw.NewAuth(keys),
		RateLimit:       mw.NewRateLimit(ca, cfg.RateLimit),
		LivenessHandler: handler.NewLivenessHandler(st, ca),
		RunHandler:      handler.NewRunHandler(sim),
		RunSyncHandler:  handler.NewRunSyncHandler(sim),
		StatusHandler:   handler.NewStatusHandler(sim),
		StatusSync:      handler.NewStatusSyncHandler(sim),
		StreamHandler:   handler.NewStreamHandler(sim),
		CancelHandler:   handler.NewCancelHandler(sim),
		HealthHandler:   handler.NewEndpointHealthHandler(sim),
		PurgeHandler:    handler.NewPurgeHandler(sim),
	})

	logger.Info("simulator ready",
		"store", cfg.Store,
		"executor", exec.Name(),
		"workers", cfg.Workers,
		"api_keys", len(keys),
	)
	return a, nil
}

func run(cfg *config.ServerConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	defer a.close()

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     a.handler,
		ReadTimeout: 15 * time.Second,
		// Long-polls hold the response for up to the maximum wait.
		WriteTimeout: config.MaxPollWait + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}
