//go:build cgo_sqlite

package sqlite

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

// resultCode extracts the primary SQLite result code from a mattn error.
func resultCode(err error) (int, bool) {
	var e sqlite3.Error
	if errors.As(err, &e) {
		return int(e.Code), true
	}
	return 0, false
}
