// Package config loads reshape settings from a YAML file and RESHAPE_*
// environment variables. Command-line flags are applied last by the
// caller.
//
//	database:
//	  driver: sqlite
//	  dsn: ./app.db
//	log:
//	  level: info
//	  format: console
//	cache:
//	  max_entries: 512
//	server:
//	  addr: 127.0.0.1:8080
//	snapshot:
//	  enabled: true
//	  endpoint: localhost:9000
//	  bucket: reshape
package config

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strconv"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/koustreak/reshape/internal/database"
	"github.com/koustreak/reshape/internal/errs"
	"github.com/koustreak/reshape/internal/filestore"
	"github.com/koustreak/reshape/internal/logger"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RESHAPE_"

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Cache    CacheConfig    `yaml:"cache"`
	Server   ServerConfig   `yaml:"server"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`

	// Namespace is the PostgreSQL schema searched for tables.
	Namespace string `yaml:"namespace"`

	// Zero values keep the driver defaults of database.DefaultConfig.
	MaxConns       int32         `yaml:"max_conns"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type CacheConfig struct {
	// MaxEntries bounds the metadata cache. Negative disables caching;
	// zero means unbounded.
	MaxEntries int `yaml:"max_entries"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// MaxRows caps the page size of the rows endpoint.
	MaxRows int `yaml:"max_rows"`
}

// SnapshotConfig enables copying SQLite databases to object storage
// before each rebuild.
type SnapshotConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`

	// Keep is how many snapshots per table survive pruning; 0 keeps all.
	Keep int `yaml:"keep"`
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: string(database.DriverSQLite), Namespace: "public"},
		Log:      LogConfig{Level: "info", Format: "json"},
		Cache:    CacheConfig{MaxEntries: 512},
		Server: ServerConfig{
			Addr:         "127.0.0.1:8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			MaxRows:      1000,
		},
		Snapshot: SnapshotConfig{Prefix: "snapshots"},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, errs.Wrap(errs.ErrKindNotFound, "config file "+path, err)
			}
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "read config file "+path, err)
		}
		if err := cfg.decode(b); err != nil {
			return nil, errs.Annotate(err, "config file "+path)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode rejects unknown keys so that typos do not pass silently.
func (c *Config) decode(b []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return errs.Wrap(errs.ErrKindInvalidInput, "parse yaml", err)
	}
	return nil
}

// ApplyEnv overrides settings from RESHAPE_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"DRIVER":              &c.Database.Driver,
		"DSN":                 &c.Database.DSN,
		"NAMESPACE":           &c.Database.Namespace,
		"LOG_LEVEL":           &c.Log.Level,
		"LOG_FORMAT":          &c.Log.Format,
		"SERVER_ADDR":         &c.Server.Addr,
		"SNAPSHOT_ENDPOINT":   &c.Snapshot.Endpoint,
		"SNAPSHOT_ACCESS_KEY": &c.Snapshot.AccessKey,
		"SNAPSHOT_SECRET_KEY": &c.Snapshot.SecretKey,
		"SNAPSHOT_BUCKET":     &c.Snapshot.Bucket,
		"SNAPSHOT_PREFIX":     &c.Snapshot.Prefix,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"CACHE_MAX_ENTRIES": &c.Cache.MaxEntries,
		"SERVER_MAX_ROWS":   &c.Server.MaxRows,
		"SNAPSHOT_KEEP":     &c.Snapshot.Keep,
	}
	for name, dst := range ints {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return errs.Wrap(errs.ErrKindInvalidInput, EnvPrefix+name+" is not an integer", err)
			}
			*dst = n
		}
	}

	bools := map[string]*bool{
		"SNAPSHOT_ENABLED": &c.Snapshot.Enabled,
		"SNAPSHOT_USE_SSL": &c.Snapshot.UseSSL,
	}
	for name, dst := range bools {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return errs.Wrap(errs.ErrKindInvalidInput, EnvPrefix+name+" is not a boolean", err)
			}
			*dst = b
		}
	}
	return nil
}

// Validate checks the settings needed to open a database.
func (c *Config) Validate() error {
	if _, err := database.ParseDriver(c.Database.Driver); err != nil {
		return err
	}
	if c.Database.DSN == "" {
		return errs.New(errs.ErrKindInvalidInput, "database dsn is empty")
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return errs.Wrap(errs.ErrKindInvalidInput, "log config", err)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return errs.Newf(errs.ErrKindInvalidInput, "unknown log format %q", c.Log.Format)
	}
	if c.Snapshot.Enabled {
		if err := c.Store().Validate(); err != nil {
			return errs.Annotate(err, "snapshot config")
		}
		if c.Snapshot.Keep < 0 {
			return errs.New(errs.ErrKindInvalidInput, "snapshot keep must not be negative")
		}
	}
	return nil
}

// DB returns the connection settings for the configured driver.
func (c *Config) DB() (*database.Config, error) {
	driver, err := database.ParseDriver(c.Database.Driver)
	if err != nil {
		return nil, err
	}
	cfg := database.DefaultConfig(driver, c.Database.DSN)
	if c.Database.MaxConns > 0 && driver != database.DriverSQLite {
		cfg.MaxConns = c.Database.MaxConns
		if cfg.MinConns > cfg.MaxConns {
			cfg.MinConns = cfg.MaxConns
		}
	}
	if c.Database.ConnectTimeout > 0 {
		cfg.ConnectTimeout = c.Database.ConnectTimeout
	}
	return cfg, nil
}

// Logger returns the logger settings. Logs go to stderr.
func (c *Config) Logger() *logger.Config {
	lc := logger.DefaultConfig()
	lc.Level = c.Log.Level
	lc.Format = c.Log.Format
	return lc
}

// Store returns the object store settings for snapshots.
func (c *Config) Store() *filestore.Config {
	fc := filestore.DefaultConfig(c.Snapshot.Endpoint, c.Snapshot.AccessKey, c.Snapshot.SecretKey, c.Snapshot.Bucket)
	fc.UseSSL = c.Snapshot.UseSSL
	fc.Region = c.Snapshot.Region
	return fc
}
