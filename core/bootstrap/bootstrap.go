package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	coreconfig "github.com/m3rciful/botengine/core/config"
	coredatabase "github.com/m3rciful/botengine/core/database"
	"github.com/m3rciful/botengine/core/engine"
	"github.com/m3rciful/botengine/core/id"
	"github.com/m3rciful/botengine/core/logger"
	"github.com/m3rciful/botengine/core/store/memory"
	"github.com/m3rciful/botengine/core/store/postgres"
)

// Options control the bootstrap pipeline. Nil hooks select the defaults.
type Options struct {
	Config   *coreconfig.Config
	Database coredatabase.Config
	Modules  Modules

	LoggerInit func(*coreconfig.Config) error
	Connect    func(context.Context, coredatabase.Config) (*sqlx.DB, error)
	Migrate    func(context.Context, coredatabase.Config, string) error
}

// Result exposes infrastructure initialized by the bootstrap pipeline.
type Result struct {
	// DB is nil with the memory storage driver.
	DB       *sqlx.DB
	Store    engine.Store
	IDs      *id.Generator
	Registry *engine.Registry
}

// Close releases the database pool.
func (r *Result) Close() error {
	if r == nil || r.DB == nil {
		return nil
	}
	return r.DB.Close()
}

// Run initializes the logger, opens the configured store, applies migrations,
// registers handler modules and runs seeders.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}
	cfg := opts.Config

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(cfg); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	ids, err := id.NewGenerator(cfg.SnowflakeNode)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: id generator: %w", err)
	}
	res := &Result{IDs: ids, Registry: engine.NewRegistry()}

	switch cfg.Storage.Driver {
	case coreconfig.StoragePostgres, "":
		if res.DB, err = openPostgres(ctx, opts); err != nil {
			return nil, err
		}
		res.Store = postgres.New(res.DB, ids)
	case coreconfig.StorageMemory:
		res.Store = memory.New(ids)
	default:
		return nil, fmt.Errorf("bootstrap: unknown storage driver %q", cfg.Storage.Driver)
	}

	if err := opts.Modules.apply(ctx, cfg, res); err != nil {
		_ = res.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	logger.L.Info("bootstrap done",
		slog.String("component", "app"),
		slog.String("event", "bootstrap"),
		slog.String("status", "ok"),
		slog.String("storage", cfg.Storage.Driver),
		slog.Int("handlers", len(res.Registry.Keys())),
	)
	return res, nil
}

func openPostgres(ctx context.Context, opts Options) (*sqlx.DB, error) {
	connect := opts.Connect
	if connect == nil {
		connect = coredatabase.Connect
	}
	db, err := connect(ctx, opts.Database)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: database initialization failed: %w", err)
	}

	migrate := opts.Migrate
	if migrate == nil {
		migrate = coredatabase.RunMigrations
	}
	if err := migrate(ctx, opts.Database, opts.Config.Storage.MigrationsDir); err != nil {
		return nil, errors.Join(fmt.Errorf("bootstrap: migrations failed: %w", err), db.Close())
	}
	return db, nil
}
