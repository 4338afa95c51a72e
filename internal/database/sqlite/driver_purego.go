//go:build !cgo_sqlite

package sqlite

import (
	_ "modernc.org/sqlite" // register "sqlite" driver (pure Go)
)

const (
	driverName = "sqlite"
	driverType = "purego"
)
