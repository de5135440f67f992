package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/vietddude/scrapeguard/internal/api"
	"github.com/vietddude/scrapeguard/internal/core/config"
	"github.com/vietddude/scrapeguard/internal/infra/fetch"
	redisclient "github.com/vietddude/scrapeguard/internal/infra/redis"
	"github.com/vietddude/scrapeguard/internal/infra/storage"
	"github.com/vietddude/scrapeguard/internal/infra/storage/memory"
	"github.com/vietddude/scrapeguard/internal/infra/storage/postgres"
	"github.com/vietddude/scrapeguard/internal/resilience"
	"github.com/vietddude/scrapeguard/internal/resilience/breaker"
)

// journalCapacity bounds the in-memory journal used without a database.
const journalCapacity = 1000

// App wires the resilience handler to its stores, fetcher and API server.
type App struct {
	cfg         *config.AppConfig
	handler     *resilience.Handler
	fetcher     *fetch.Fetcher
	journal     storage.FailureRepository
	server      *api.Server
	db          *postgres.DB
	redisClient *redisclient.Client
	log         *slog.Logger
}

// New creates an App with all dependencies initialized.
func New(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	a := &App{
		cfg: cfg,
		log: slog.Default().With("component", "app"),
	}

	// 1. Failure journal
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		a.db = db
		a.journal = postgres.NewFailureRepo(db)
		a.log.Info("Using PostgreSQL failure journal")
	} else {
		a.journal = memory.NewFailureRepo(journalCapacity)
		a.log.Info("Using memory failure journal")
	}

	// 2. Breaker
	var b *breaker.Breaker
	if cfg.Breaker.Enabled {
		var store breaker.Store = breaker.NewMemoryStore()
		if cfg.Breaker.Store == "redis" {
			c, err := redisclient.NewClient(cfg.Redis)
			if err != nil {
				a.closeStores()
				return nil, fmt.Errorf("failed to init redis: %w", err)
			}
			a.redisClient = c
			store = redisclient.NewBreakerStore(c, 0)
			a.log.Info("Using Redis breaker store")
		}

		var err error
		b, err = breaker.New(breaker.Config{
			Threshold: cfg.Breaker.Threshold,
			Timeout:   cfg.Breaker.Timeout,
		}, breaker.WithStore(store))
		if err != nil {
			a.closeStores()
			return nil, err
		}
	}

	keyFunc, ok := breaker.KeyFuncByName(cfg.Breaker.Key)
	if !ok {
		a.closeStores()
		return nil, fmt.Errorf("unknown breaker key %q", cfg.Breaker.Key)
	}

	// 3. Handler
	h, err := resilience.NewHandler(
		resilience.WithBreaker(b),
		resilience.WithKeyFunc(keyFunc),
		resilience.WithRetryPolicy(cfg.RetryPolicy()),
		resilience.WithJournal(a.journal),
	)
	if err != nil {
		a.closeStores()
		return nil, fmt.Errorf("failed to init handler: %w", err)
	}
	a.handler = h
	a.fetcher = fetch.New(cfg.Fetch)

	// 4. API
	opts := []api.Option{
		api.WithJournal(a.journal),
		api.WithBatchDefaults(a.BatchOptions()),
	}
	if a.db != nil {
		opts = append(opts, api.WithHealthCheck("database", a.db.Health))
	}
	if a.redisClient != nil {
		opts = append(opts, api.WithHealthCheck("redis", a.redisClient.Health))
	}
	a.server = api.NewServer(h, a.fetcher, cfg.Server.Port, opts...)

	return a, nil
}

// Handler returns the resilience handler.
func (a *App) Handler() *resilience.Handler { return a.handler }

// Fetcher returns the HTTP fetch operation factory.
func (a *App) Fetcher() *fetch.Fetcher { return a.fetcher }

// Journal returns the failure journal.
func (a *App) Journal() storage.FailureRepository { return a.journal }

// BatchOptions returns the configured batch defaults.
func (a *App) BatchOptions() resilience.BatchOptions {
	return resilience.BatchOptions{
		Concurrency: a.cfg.Batch.Concurrency,
		StopOnError: a.cfg.Batch.StopOnError,
	}
}

// Start serves the API in the background.
func (a *App) Start(ctx context.Context) error {
	go func() {
		if err := a.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("API server failed", "error", err)
		}
	}()

	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}
	return nil
}

// Stop shuts the API down and closes the stores.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping scrapeguard...")
	err := a.server.Stop(ctx)
	a.closeStores()
	return err
}

// Close releases stores without touching the API server.
func (a *App) Close() {
	a.closeStores()
}

func (a *App) closeStores() {
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
		a.redisClient = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("Failed to close database", "error", err)
		}
		a.db = nil
	}
}
