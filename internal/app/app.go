// Package app wires configuration into a ready database connection,
// migrator, cache, logger and optional snapshot store.
package app

import (
	"context"

	"github.com/koustreak/reshape/internal/config"
	"github.com/koustreak/reshape/internal/database"
	"github.com/koustreak/reshape/internal/database/mysql"
	"github.com/koustreak/reshape/internal/database/postgres"
	"github.com/koustreak/reshape/internal/database/sqlite"
	"github.com/koustreak/reshape/internal/errs"
	"github.com/koustreak/reshape/internal/filestore"
	"github.com/koustreak/reshape/internal/filestore/minio"
	"github.com/koustreak/reshape/internal/logger"
	"github.com/koustreak/reshape/internal/schema"
	mysqlschema "github.com/koustreak/reshape/internal/schema/mysql"
	pgschema "github.com/koustreak/reshape/internal/schema/postgres"
	sqliteschema "github.com/koustreak/reshape/internal/schema/sqlite"
	"github.com/koustreak/reshape/internal/snapshot"
)

// App holds everything a command or the server needs.
type App struct {
	Config   *config.Config
	Log      *logger.Logger
	DB       database.DB
	Cache    schema.Cache
	Migrator schema.Migrator

	// Snapshots is nil unless snapshots are enabled.
	Snapshots *snapshot.Snapshotter

	store filestore.Store
}

type Option func(*options)

type options struct {
	log   *logger.Logger
	store filestore.Store
}

// WithLogger replaces the logger built from the config.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithStore replaces the object store built from the snapshot config.
func WithStore(s filestore.Store) Option {
	return func(o *options) { o.store = s }
}

// Open validates cfg and connects.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Log: o.log}
	if a.Log == nil {
		a.Log = logger.New(cfg.Logger())
	}

	dbCfg, err := cfg.DB()
	if err != nil {
		return nil, err
	}
	a.DB, err = connect(ctx, dbCfg)
	if err != nil {
		return nil, errs.Annotate(err, "connect to "+string(dbCfg.Driver))
	}

	a.Cache = schema.NopCache{}
	if cfg.Cache.MaxEntries >= 0 {
		a.Cache = schema.NewMemoryCache(cfg.Cache.MaxEntries)
	}
	a.Migrator = newMigrator(a.DB, a.Cache, a.Log, cfg.Database.Namespace)

	if cfg.Snapshot.Enabled {
		a.store = o.store
		if a.store == nil {
			store, err := minio.New(ctx, cfg.Store())
			if err != nil {
				a.DB.Close()
				return nil, errs.Annotate(err, "connect to snapshot store")
			}
			a.store = store
		}
		a.Snapshots = snapshot.New(a.store, cfg.Snapshot.Prefix, a.Log)
	}

	a.Log.With().Str("driver", string(dbCfg.Driver)).Logger().Debug("opened database")
	return a, nil
}

func connect(ctx context.Context, cfg *database.Config) (database.DB, error) {
	var (
		db  database.DB
		err error
	)
	switch cfg.Driver {
	case database.DriverSQLite:
		db, err = sqlite.New(ctx, cfg)
	case database.DriverPostgres:
		db, err = postgres.New(ctx, cfg)
	case database.DriverMySQL:
		db, err = mysql.New(ctx, cfg)
	default:
		return nil, errs.Newf(errs.ErrKindInvalidInput, "unknown database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return db, nil
}

func newMigrator(db database.DB, cache schema.Cache, log *logger.Logger, namespace string) schema.Migrator {
	switch db.Driver() {
	case database.DriverPostgres:
		ns := namespace
		if ns == "" {
			ns = pgschema.DefaultNamespace
		}
		return pgschema.New(db, pgschema.WithCache(cache), pgschema.WithLogger(log), pgschema.WithNamespace(ns))
	case database.DriverMySQL:
		return mysqlschema.New(db, mysqlschema.WithCache(cache), mysqlschema.WithLogger(log))
	default:
		return sqliteschema.New(db, sqliteschema.WithCache(cache), sqliteschema.WithLogger(log))
	}
}

// Alter runs fn against the migrator. With snapshots enabled on SQLite,
// the database is copied to the store first and old copies of table are
// pruned afterwards.
func (a *App) Alter(ctx context.Context, table string, fn func(schema.Migrator) error) error {
	if a.Snapshots != nil && a.DB.Driver() == database.DriverSQLite {
		if _, err := a.Snapshots.Take(ctx, a.DB, table); err != nil {
			return errs.Annotate(err, "snapshot before altering "+table)
		}
	}
	if err := fn(a.Migrator); err != nil {
		return err
	}
	if a.Snapshots != nil && a.Config.Snapshot.Keep > 0 {
		if _, err := a.Snapshots.Prune(ctx, table, a.Config.Snapshot.Keep); err != nil {
			a.Log.ErrorWith("prune snapshots failed", err, map[string]interface{}{"table": table})
		}
	}
	return nil
}

func (a *App) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.Log.ErrorWith("close snapshot store failed", err, nil)
		}
	}
	a.DB.Close()
}
