package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/p-n-ai/pai-progress/internal/api"
	"github.com/p-n-ai/pai-progress/internal/curriculum"
	"github.com/p-n-ai/pai-progress/internal/leveling"
	"github.com/p-n-ai/pai-progress/internal/platform/broker"
	"github.com/p-n-ai/pai-progress/internal/platform/cache"
	"github.com/p-n-ai/pai-progress/internal/platform/config"
	"github.com/p-n-ai/pai-progress/internal/platform/database"
	"github.com/p-n-ai/pai-progress/internal/platform/logging"
	"github.com/p-n-ai/pai-progress/internal/platform/sqlite"
	"github.com/p-n-ai/pai-progress/internal/progress"
	"github.com/p-n-ai/pai-progress/internal/realtime"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.New(os.Stdout, logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format}))

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	app, err := build(ctx, cfg)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      app.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting",
			"addr", srv.Addr,
			"backend", cfg.Progress.Backend,
			"curriculum_version", app.curriculum.Version,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

// application is the wired service and the resources to release on exit.
type application struct {
	handler    http.Handler
	curriculum *curriculum.Curriculum
	closers    []func()
}

// Close releases resources in reverse order of acquisition.
func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func build(ctx context.Context, cfg *config.Config) (*application, error) {
	app := &application{}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	var err error
	app.curriculum, err = curriculum.Load(cfg.CurriculumPath)
	if err != nil {
		return nil, err
	}

	curve := leveling.Default()
	if len(cfg.Progress.LevelThresholds) > 0 {
		if curve, err = leveling.NewCurve(cfg.Progress.LevelThresholds); err != nil {
			return nil, fmt.Errorf("level thresholds: %w", err)
		}
	}

	loc, err := cfg.Progress.Location()
	if err != nil {
		return nil, err
	}

	checks := map[string]api.HealthChecker{}

	var db *database.DB
	if cfg.UsesPostgres() {
		db, err = database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, db.Close)
		if err := db.Migrate(ctx); err != nil {
			return nil, err
		}
		checks["postgres"] = db
	}

	repo, err := newRepository(ctx, cfg, db, app, checks)
	if err != nil {
		return nil, err
	}

	hub := realtime.NewHub(realtime.Options{})
	events := progress.MultiEventLogger{hub}
	if cfg.Progress.EventsToPostgres {
		events = append(events, progress.NewPostgresEventLogger(db.Pool))
	}
	if cfg.Broker.Enabled {
		pub, err := broker.NewPublisher(cfg.Broker.URL, cfg.Broker.Exchange)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func() { pub.Close() })
		checks["broker"] = pub
		events = append(events, progress.NewPublisherEventLogger(pub, cfg.Progress.PersistTimeout))
	}

	registry := progress.NewRegistry(progress.ConfigFactory(progress.ManagerConfig{
		Curriculum:          app.curriculum,
		Curve:               curve,
		Repository:          repo,
		Events:              events,
		Location:            loc,
		LifetimeUnitTestCap: cfg.Progress.LifetimeUnitTestCap,
		PersistTimeout:      cfg.Progress.PersistTimeout,
		RetryDelay:          cfg.Progress.RetryDelay,
	}), cfg.Progress.MaxActiveUsers)

	srv, err := api.NewServer(api.Config{
		Registry:   registry,
		Curriculum: app.curriculum,
		Hub:        hub,
		Checks:     checks,
	})
	if err != nil {
		return nil, err
	}
	app.handler = srv.Handler()
	ok = true
	return app, nil
}

func newRepository(ctx context.Context, cfg *config.Config, db *database.DB, app *application, checks map[string]api.HealthChecker) (progress.Repository, error) {
	switch cfg.Progress.Backend {
	case config.BackendPostgres:
		return progress.NewPostgresStore(db.Pool)

	case config.BackendRedis:
		c, err := cache.New(ctx, cfg.Cache.URL, cfg.Cache.Prefix)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func() { c.Close() })
		checks["cache"] = c
		return progress.NewRedisStore(c, cfg.Progress.RedisTTL)

	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
			return nil, fmt.Errorf("creating sqlite directory: %w", err)
		}
		sdb, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func() { sdb.Close() })
		if err := sdb.Migrate(); err != nil {
			return nil, err
		}
		store, err := progress.NewSQLiteStore(sdb)
		if err != nil {
			return nil, err
		}
		checks["sqlite"] = store
		return store, nil

	default:
		return progress.NewMemoryStore(), nil
	}
}
