//go:build !cgo_sqlite

package sqlite

import (
	"errors"

	"modernc.org/sqlite"
)

// resultCode extracts the primary SQLite result code from a modernc error.
func resultCode(err error) (int, bool) {
	var e *sqlite.Error
	if errors.As(err, &e) {
		return e.Code() & 0xff, true
	}
	return 0, false
}
