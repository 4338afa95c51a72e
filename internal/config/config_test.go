package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/reshape/internal/database"
	"github.com/koustreak/reshape/internal/errs"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reshape.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
database:
  driver: postgres
  dsn: postgres://localhost/app
  namespace: billing
  max_conns: 4
  connect_timeout: 3s
log:
  level: debug
  format: console
server:
  addr: :9090
  max_rows: 50
snapshot:
  enabled: true
  endpoint: localhost:9000
  bucket: backups
  keep: 5
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "billing", cfg.Database.Namespace)
	assert.Equal(t, 3*time.Second, cfg.Database.ConnectTimeout)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 50, cfg.Server.MaxRows)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout, "unset keys keep defaults")
	assert.Equal(t, 512, cfg.Cache.MaxEntries)
	assert.Equal(t, "snapshots", cfg.Snapshot.Prefix)
	assert.Equal(t, 5, cfg.Snapshot.Keep)

	db, err := cfg.DB()
	require.NoError(t, err)
	assert.Equal(t, database.DriverPostgres, db.Driver)
	assert.Equal(t, int32(4), db.MaxConns)
	assert.Equal(t, int32(2), db.MinConns)
	assert.Equal(t, 3*time.Second, db.ConnectTimeout)

	assert.Equal(t, "console", cfg.Logger().Format)
	assert.Equal(t, "backups", cfg.Store().Bucket)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errs.IsNotFound(err))

	_, err = Load(writeFile(t, "database:\n  drvier: sqlite\n"))
	assert.True(t, errs.IsInvalidInput(err), "unknown keys are rejected")

	_, err = Load(writeFile(t, "database: [\n"))
	assert.True(t, errs.IsInvalidInput(err))
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeFile(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default().Server, cfg.Server)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(env(map[string]string{
		"RESHAPE_DRIVER":            "mysql",
		"RESHAPE_DSN":               "root@/app",
		"RESHAPE_LOG_LEVEL":         "warn",
		"RESHAPE_CACHE_MAX_ENTRIES": "-1",
		"RESHAPE_SNAPSHOT_ENABLED":  "true",
		"RESHAPE_SNAPSHOT_KEEP":     "2",
		"UNRELATED":                 "x",
	})))
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "root@/app", cfg.Database.DSN)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, -1, cfg.Cache.MaxEntries)
	assert.True(t, cfg.Snapshot.Enabled)
	assert.Equal(t, 2, cfg.Snapshot.Keep)

	err := Default().ApplyEnv(env(map[string]string{"RESHAPE_SERVER_MAX_ROWS": "lots"}))
	assert.True(t, errs.IsInvalidInput(err))
	err = Default().ApplyEnv(env(map[string]string{"RESHAPE_SNAPSHOT_USE_SSL": "perhaps"}))
	assert.True(t, errs.IsInvalidInput(err))
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Database.DSN = "app.db"
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := map[string]func(*Config){
		"driver":          func(c *Config) { c.Database.Driver = "oracle" },
		"dsn":             func(c *Config) { c.Database.DSN = "" },
		"log level":       func(c *Config) { c.Log.Level = "loud" },
		"log format":      func(c *Config) { c.Log.Format = "xml" },
		"snapshot bucket": func(c *Config) { c.Snapshot.Enabled = true; c.Snapshot.Endpoint = "localhost:9000" },
		"snapshot keep": func(c *Config) {
			c.Snapshot = SnapshotConfig{Enabled: true, Endpoint: "localhost:9000", Bucket: "b", Keep: -1}
		},
	}
	for name, breakIt := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			breakIt(cfg)
			assert.True(t, errs.IsInvalidInput(cfg.Validate()))
		})
	}
}

func TestDB_SQLiteKeepsSingleConnection(t *testing.T) {
	cfg := Default()
	cfg.Database.DSN = "app.db"
	cfg.Database.MaxConns = 8

	db, err := cfg.DB()
	require.NoError(t, err)
	assert.Equal(t, int32(1), db.MaxConns)
}
