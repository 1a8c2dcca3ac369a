// Package app wires the boardroom components for one workspace.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"boardroom/internal/auth"
	"boardroom/internal/committee"
	"boardroom/internal/config"
	"boardroom/internal/db"
	"boardroom/internal/engine"
	"boardroom/internal/events"
	"boardroom/internal/gateway"
	"boardroom/internal/knowledge"
	"boardroom/internal/logging"
	"boardroom/internal/migrate"
	"boardroom/internal/persona"
	"boardroom/internal/repo"
	"boardroom/internal/scheduler"
	"boardroom/internal/telemetry"
)

type Options struct {
	Workspace string
	LogLevel  string
	// LogToFile writes {workspace}/.boardroom/boardroom.log instead of stderr.
	LogToFile bool
	JWTSecret string
	Getenv    func(string) string
	// Providers replaces the SDK-backed providers when set.
	Providers map[string]gateway.Provider
}

type App struct {
	Workspace  string
	ConfigPath string
	DB         *sql.DB
	Repo       repo.Repo
	Logger     *logging.Logger
	Registry   *persona.Registry
	Telemetry  *telemetry.Store
	Router     *gateway.Router
	Knowledge  *knowledge.Service
	Engine     engine.Engine
	Committee  *committee.Orchestrator
	Scheduler  *scheduler.Scheduler
	Auth       auth.Service

	wg sync.WaitGroup
}

// ResolveConfig loads board.yml from the workspace, falling back to the
// built-in default board when the file does not exist yet.
func ResolveConfig(workspace string) (*config.Config, string, error) {
	path := config.Path(workspace)
	cfg, err := config.LoadOrDefault(workspace)
	if err != nil {
		return nil, path, fmt.Errorf("load %s: %w", path, err)
	}
	return cfg, path, nil
}

// Open builds every component without starting background work.
func Open(ctx context.Context, opts Options) (*App, error) {
	if opts.Workspace == "" {
		opts.Workspace = "."
	}
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg, path, err := ResolveConfig(opts.Workspace)
	if err != nil {
		return nil, err
	}

	var logger *logging.Logger
	if opts.LogToFile {
		dir, err := db.EnsureWorkspace(opts.Workspace)
		if err != nil {
			return nil, err
		}
		if logger, err = logging.NewLogger(dir, opts.LogLevel); err != nil {
			return nil, err
		}
	} else {
		logger = logging.New(os.Stderr, opts.LogLevel)
	}

	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		logger.Close()
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		logger.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a := &App{
		Workspace:  opts.Workspace,
		ConfigPath: path,
		DB:         conn,
		Repo:       repo.Repo{DB: conn},
		Logger:     logger,
		Registry:   persona.NewRegistry(cfg),
		Auth:       auth.New(conn, opts.JWTSecret),
	}
	a.Telemetry = telemetry.NewStore(a.Repo, cfg.TelemetryRetention(), cfg.TelemetryMaxEntries(), logger.WithComponent("telemetry"))

	providers := opts.Providers
	if providers == nil {
		if providers, err = gateway.BuildProviders(ctx, cfg, getenv, logger.WithComponent("gateway")); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.Router = &gateway.Router{
		Registry:  a.Registry,
		Providers: providers,
		Telemetry: a.Telemetry,
		Logger:    logger.WithComponent("gateway"),
	}
	a.Knowledge = &knowledge.Service{
		DB:       conn,
		Repo:     a.Repo,
		Events:   events.Writer{DB: conn},
		Registry: a.Registry,
		Gateway:  a.Router,
		Logger:   logger.WithComponent("knowledge"),
	}
	a.Engine = engine.New(conn, a.Registry, a.Router)
	a.Engine.Knowledge = a.Knowledge
	a.Engine.Logger = logger.WithComponent("engine")

	a.Committee = committee.New(conn, a.Registry, a.Router)
	a.Committee.Knowledge = a.Knowledge
	a.Committee.Logger = logger.WithComponent("committee")

	a.Scheduler = &scheduler.Scheduler{
		DB:        conn,
		Repo:      a.Repo,
		Events:    a.Engine.Events,
		Registry:  a.Registry,
		Tasks:     a.Engine,
		Committee: a.Committee,
		Knowledge: a.Knowledge,
		Telemetry: a.Telemetry,
		Logger:    logger.WithComponent("scheduler"),
	}
	return a, nil
}

// Start restores telemetry and launches the sink, the config watcher and,
// when withScheduler is set, the scheduler loop. Everything stops with ctx.
func (a *App) Start(ctx context.Context, withScheduler bool) error {
	now := time.Now()
	if err := a.Telemetry.Restore(ctx, now); err != nil {
		return fmt.Errorf("restore telemetry: %w", err)
	}
	a.Telemetry.Start()

	if _, err := os.Stat(a.ConfigPath); err == nil {
		w := &persona.Watcher{
			Registry: a.Registry,
			Path:     a.ConfigPath,
			Log:      a.Logger.WithComponent("config"),
			OnReload: func(*config.Config) {
				if err := a.Scheduler.Sync(context.WithoutCancel(ctx), time.Now()); err != nil {
					a.Logger.Error("scheduler sync after reload", "error", err)
				}
			},
		}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := w.Run(ctx); err != nil {
				a.Logger.Warn("config watcher stopped", "error", err)
			}
		}()
	}

	if withScheduler {
		if err := a.Scheduler.Sync(ctx, now); err != nil {
			return fmt.Errorf("sync schedules: %w", err)
		}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.Scheduler.Run(ctx)
		}()
	}
	return nil
}

// Close waits for background work started by Start, so the context passed to
// Start must be done first. It then releases resources.
func (a *App) Close() error {
	a.wg.Wait()
	if a.Scheduler != nil {
		a.Scheduler.Wait()
	}
	if a.Telemetry != nil {
		a.Telemetry.Close()
	}
	var errs []error
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	errs = append(errs, a.Logger.Close())
	return errors.Join(errs...)
}

// LogPath is where the file logger writes for a workspace.
func LogPath(workspace string) string {
	return filepath.Join(workspace, ".boardroom", "boardroom.log")
}
