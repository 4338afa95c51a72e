// Command reshape inspects and alters database tables. On SQLite, column
// and primary key changes rebuild the table by copy inside a transaction;
// PostgreSQL and MySQL use native ALTER TABLE.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/koustreak/reshape/internal/app"
	"github.com/koustreak/reshape/internal/config"
	"github.com/koustreak/reshape/internal/errs"
	"github.com/koustreak/reshape/internal/schema"
	"github.com/koustreak/reshape/internal/server"
)

var version = "dev"

// Globals are flags shared by every command. Set flags override the
// config file and the environment.
type Globals struct {
	Config    string `name:"config" short:"c" help:"YAML config file" type:"path" env:"RESHAPE_CONFIG"`
	Driver    string `name:"driver" help:"Database driver (sqlite, postgres, mysql)"`
	DSN       string `name:"dsn" help:"Data source name, e.g. ./app.db or postgres://..."`
	LogLevel  string `name:"log-level" help:"Log level (debug, info, warn, error)"`
	LogFormat string `name:"log-format" help:"Log format (json, console)"`
}

// CLI defines the command-line interface.
type CLI struct {
	Globals

	Tables   TablesCmd   `cmd:"" help:"List tables"`
	Describe DescribeCmd `cmd:"" help:"Show columns, indexes and primary key of a table"`

	AddColumn     AddColumnCmd     `cmd:"" help:"Add a column"`
	RemoveColumn  RemoveColumnCmd  `cmd:"" help:"Remove a column"`
	ChangeColumn  ChangeColumnCmd  `cmd:"" help:"Change the type, nullability or default of a column"`
	ChangeDefault ChangeDefaultCmd `cmd:"" help:"Set or drop the default of a column"`
	RenameColumn  RenameColumnCmd  `cmd:"" help:"Rename a column"`
	RenameTable   RenameTableCmd   `cmd:"" help:"Rename a table"`

	AddPrimaryKey    AddPrimaryKeyCmd    `cmd:"" help:"Replace the primary key"`
	RemovePrimaryKey RemovePrimaryKeyCmd `cmd:"" help:"Remove the primary key"`
	AddIndex         AddIndexCmd         `cmd:"" help:"Create an index"`
	RemoveIndex      RemoveIndexCmd      `cmd:"" help:"Drop an index"`

	Fingerprint FingerprintCmd `cmd:"" help:"Print the BLAKE3 fingerprint of a table's structure and rows"`
	Snapshot    SnapshotGroup  `cmd:"" help:"Database snapshots in object storage (SQLite)"`
	Serve       ServeCmd       `cmd:"" help:"Serve the read-only inspector API"`
	Version     VersionCmd     `cmd:"" help:"Print version information"`
}

// load resolves the effective configuration.
func (g *Globals) load() (*config.Config, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	overrides := map[*string]string{
		&cfg.Database.Driver: g.Driver,
		&cfg.Database.DSN:    g.DSN,
		&cfg.Log.Level:       g.LogLevel,
		&cfg.Log.Format:      g.LogFormat,
	}
	for dst, v := range overrides {
		if v != "" {
			*dst = v
		}
	}
	return cfg, nil
}

func (g *Globals) open(ctx context.Context) (*app.App, error) {
	cfg, err := g.load()
	if err != nil {
		return nil, err
	}
	return app.Open(ctx, cfg)
}

// run opens the app, calls fn and closes the app again.
func (g *Globals) run(fn func(ctx context.Context, a *app.App) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// alter runs fn through App.Alter, which snapshots first when enabled.
func (g *Globals) alter(table string, fn func(ctx context.Context, m schema.Migrator) error) error {
	return g.run(func(ctx context.Context, a *app.App) error {
		return a.Alter(ctx, table, func(m schema.Migrator) error { return fn(ctx, m) })
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type TablesCmd struct{}

func (c *TablesCmd) Run(g *Globals) error {
	return g.run(func(ctx context.Context, a *app.App) error {
		tables, err := a.Migrator.Tables(ctx)
		if err != nil {
			return err
		}
		for _, t := range tables {
			fmt.Println(t)
		}
		return nil
	})
}

type DescribeCmd struct {
	Table string `arg:"" help:"Table name"`
}

func (c *DescribeCmd) Run(g *Globals) error {
	return g.run(func(ctx context.Context, a *app.App) error {
		info, err := schema.Describe(ctx, a.Migrator, c.Table)
		if err != nil {
			return err
		}
		return printJSON(info)
	})
}

const typeHelp = "Column type, e.g. string(80), integer, decimal(10,2), autoincrementKey"

type AddColumnCmd struct {
	Table  string `arg:"" help:"Table name"`
	Column string `arg:"" help:"Column name"`
	Type   string `arg:"" help:"${type_help}"`

	NotNull bool   `name:"not-null" help:"Reject NULL values"`
	Default string `name:"default" help:"Default value; prefix expr: for a SQL expression"`
}

func (c *AddColumnCmd) Run(g *Globals) error {
	t, err := parseType(c.Type)
	if err != nil {
		return err
	}
	col := schema.Column{Name: c.Column, Type: t, NotNull: c.NotNull}
	if c.Default != "" {
		if col.Default, err = parseValue(c.Default, t.Kind); err != nil {
			return err
		}
	}
	return g.alter(c.Table, func(ctx context.Context, m schema.Migrator) error {
		return m.AddColumn(ctx, c.Table, col)
	})
}

type RemoveColumnCmd struct {
	Table  string `arg:"" help:"Table name"`
	Column string `arg:"" help:"Column name"`
}

func (c *RemoveColumnCmd) Run(g *Globals) error {
	return g.alter(c.Table, func(ctx context.Context, m schema.Migrator) error {
		return m.RemoveColumn(ctx, c.Table, c.Column)
	})
}

type ChangeColumnCmd struct {
	Table  string `arg:"" help:"Table name"`
	Column string `arg:"" help:"Column name"`
	Type   string `arg:"" help:"${type_help}"`

	NotNull     bool   `name:"not-null" xor:"null" help:"Reject NULL values"`
	Null        bool   `name:"null" xor:"null" help:"Allow NULL values"`
	Default     string `name:"default" xor:"default" help:"New default; prefix expr: for a SQL expression"`
	DropDefault bool   `name:"drop-default" xor:"default" help:"Remove the default"`
}

func (c *ChangeColumnCmd) Run(g *Globals) error {
	t, err := parseType(c.Type)
	if err != nil {
		return err
	}
	var opts schema.ChangeOptions
	switch {
	case c.NotNull:
		opts.NotNull = &c.NotNull
	case c.Null:
		notNull := false
		opts.NotNull = &notNull
	}
	switch {
	case c.DropDefault:
		opts.SetDefault = true
	case c.Default != "":
		opts.SetDefault = true
		if opts.Default, err = parseValue(c.Default, t.Kind); err != nil {
			return err
		}
	}
	return g.alter(c.Table, func(ctx context.Context, m schema.Migrator) error {
		return m.ChangeColumn(ctx, c.Table, c.Column, t, opts)
	})
}

type ChangeDefaultCmd struct {
	Table  string `arg:"" help:"Table name"`
	Column string `arg:"" help:"Column name"`
	Value  string `arg:"" optional:"" help:"New default; omit with --drop"`
	Drop   bool   `name:"drop" help:"Remove the default"`
}

func (c *ChangeDefaultCmd) Run(g *Globals) error {
	if c.Drop == (c.Value != "") {
		return errs.New(errs.ErrKindInvalidInput, "give either a value or --drop")
	}
	return g.alter(c.Table, func(ctx context.Context, m schema.Migrator) error {
		var def any
		if !c.Drop {
			cols, err := m.Columns(ctx, c.Table)
			if err != nil {
				return err
			}
			info := schema.TableInfo{Name: c.Table, Columns: cols}
			col, ok := info.Lookup(c.Column)
			if !ok {
				return errs.Newf(errs.ErrKindNotFound, "no column %q in table %q", c.Column, c.Table)
			}
			if def, err = parseValue(c.Value, col.Type.Kind); err != nil {
				return err
			}
		}
		return m.ChangeColumnDefault(ctx, c.Table, c.Column, def)
	})
}

type RenameColumnCmd struct {
	Table   string `arg:"" help:"Table name"`
	Column  string `arg:"" help:"Current column name"`
	NewName string `arg:"" help:"New column name"`
}

func (c *RenameColumnCmd) Run(g *Globals) error {
	return g.alter(c.Table, func(ctx context.Context, m schema.Migrator) error {
		return m.RenameColumn(ctx, c.Table, c.Column, c.NewName)
	})
}

type RenameTableCmd struct {
	Table   string `arg:"" help:"Current table name"`
	NewName string `arg:"" help:"New table name"`
}

func (c *RenameTableCmd) Run(g *Globals) error {
	return g.alter(c.Table, func(ctx context.Context, m schema.Migrator) error {
		return m.RenameTable(ctx, c.Table, c.NewName)
	})
}

type AddPrimaryKeyCmd struct {
	Table   string   `arg:"" help:"Table name"`
	Columns []string `arg:"" help:"Key columns in order"`
}

func (c *AddPrimaryKeyCmd) Run(g *Globals) error {
	return g.alter(c.Table, func(ctx context.Context, m schema.Migrator) error {
		return m.AddPrimaryKey(ctx, c.Table, c.Columns...)
	})
}

type RemovePrimaryKeyCmd struct {
	Table string `arg:"" help:"Table name"`
}

func (c *RemovePrimaryKeyCmd) Run(g *Globals) error {
	return g.alter(c.Table, func(ctx context.Context, m schema.Migrator) error {
		return m.RemovePrimaryKey(ctx, c.Table)
	})
}

type AddIndexCmd struct {
	Table   string   `arg:"" help:"Table name"`
	Columns []string `arg:"" help:"Indexed columns in order"`
	Name    string   `name:"name" help:"Index name; derived from the columns when empty"`
	Unique  bool     `name:"unique" help:"Create a unique index"`
}

func (c *AddIndexCmd) Run(g *Globals) error {
	return g.alter(c.Table, func(ctx context.Context, m schema.Migrator) error {
		return m.AddIndex(ctx, c.Table, c.Columns, schema.IndexOptions{Name: c.Name, Unique: c.Unique})
	})
}

type RemoveIndexCmd struct {
	Table string `arg:"" help:"Table name"`
	Name  string `arg:"" help:"Index name"`
}

func (c *RemoveIndexCmd) Run(g *Globals) error {
	return g.alter(c.Table, func(ctx context.Context, m schema.Migrator) error {
		return m.RemoveIndex(ctx, c.Table, c.Name)
	})
}

type FingerprintCmd struct {
	Table string `arg:"" help:"Table name"`
}

func (c *FingerprintCmd) Run(g *Globals) error {
	return g.run(func(ctx context.Context, a *app.App) error {
		fp, err := schema.Fingerprint(ctx, a.Migrator, c.Table)
		if err != nil {
			return err
		}
		fmt.Println(fp)
		return nil
	})
}

// SnapshotGroup contains snapshot operations.
type SnapshotGroup struct {
	Take    SnapshotTakeCmd    `cmd:"" help:"Copy the database to object storage"`
	List    SnapshotListCmd    `cmd:"" help:"List snapshots taken for a table"`
	Restore SnapshotRestoreCmd `cmd:"" help:"Download a snapshot to a new database file"`
}

func withSnapshots(a *app.App) error {
	if a.Snapshots == nil {
		return errs.New(errs.ErrKindPrecondition, "snapshots are not enabled in the configuration")
	}
	return nil
}

type SnapshotTakeCmd struct {
	Table string `arg:"" help:"Table the snapshot is filed under"`
}

func (c *SnapshotTakeCmd) Run(g *Globals) error {
	return g.run(func(ctx context.Context, a *app.App) error {
		if err := withSnapshots(a); err != nil {
			return err
		}
		snap, err := a.Snapshots.Take(ctx, a.DB, c.Table)
		if err != nil {
			return err
		}
		return printJSON(snap)
	})
}

type SnapshotListCmd struct {
	Table string `arg:"" help:"Table name"`
}

func (c *SnapshotListCmd) Run(g *Globals) error {
	return g.run(func(ctx context.Context, a *app.App) error {
		if err := withSnapshots(a); err != nil {
			return err
		}
		snaps, err := a.Snapshots.List(ctx, c.Table)
		if err != nil {
			return err
		}
		return printJSON(snaps)
	})
}

type SnapshotRestoreCmd struct {
	Key  string `arg:"" help:"Snapshot key"`
	Dest string `arg:"" help:"Path of the new database file" type:"path"`
}

func (c *SnapshotRestoreCmd) Run(g *Globals) error {
	return g.run(func(ctx context.Context, a *app.App) error {
		if err := withSnapshots(a); err != nil {
			return err
		}
		snap, err := a.Snapshots.Restore(ctx, c.Key, c.Dest)
		if err != nil {
			return err
		}
		return printJSON(snap)
	})
}

type ServeCmd struct {
	Addr string `name:"addr" help:"Listen address; overrides server.addr"`
}

func (c *ServeCmd) Run(g *Globals) error {
	return g.run(func(ctx context.Context, a *app.App) error {
		sc := a.Config.Server
		if c.Addr != "" {
			sc.Addr = c.Addr
		}
		srv := server.New(a.Migrator, a.Log, server.Config{
			Addr:         sc.Addr,
			ReadTimeout:  sc.ReadTimeout,
			WriteTimeout: sc.WriteTimeout,
			MaxRows:      sc.MaxRows,
		})
		return srv.ListenAndServe(ctx)
	})
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("reshape version %s\n", version)
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("reshape"),
		kong.Description("Inspect and alter database tables"),
		kong.UsageOnError(),
		kong.Vars{"type_help": typeHelp},
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}
