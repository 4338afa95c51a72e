package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/reshape/internal/errs"
)

func TestParseDriver(t *testing.T) {
	for in, want := range map[string]Driver{
		"sqlite":     DriverSQLite,
		"sqlite3":    DriverSQLite,
		"postgres":   DriverPostgres,
		"postgresql": DriverPostgres,
		"pgsql":      DriverPostgres,
		"mysql":      DriverMySQL,
	} {
		got, err := ParseDriver(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseDriver("oracle")
	assert.True(t, errs.IsInvalidInput(err))
}

func TestDefaultConfig(t *testing.T) {
	pg := DefaultConfig(DriverPostgres, "postgres://localhost/app")
	assert.Equal(t, int32(10), pg.MaxConns)
	assert.NotZero(t, pg.MaxConnLifetime)

	lite := DefaultConfig(DriverSQLite, "app.db")
	assert.Equal(t, int32(1), lite.MaxConns)
	assert.Equal(t, int32(1), lite.MinConns)
	assert.Zero(t, lite.MaxConnLifetime)
	assert.Equal(t, "app.db", lite.DSN)
}
