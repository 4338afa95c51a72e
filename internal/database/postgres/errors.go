package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/koustreak/reshape/internal/errs"
)

// PostgreSQL SQLSTATE error codes
// Full list: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
	pgErrNotNullViolation    = "23502"
	pgErrInsufficientPriv    = "42501"
	pgErrUndefinedTable      = "42P01"
	pgErrUndefinedColumn     = "42703"
	pgErrUndefinedObject     = "42704"
	pgErrDuplicateTable      = "42P07"
	pgErrDuplicateColumn     = "42701"
)

// mapError translates pgx / pgconn native errors into *errs.Error.
// A nil err maps to a nil error interface.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	// Context cancellation / deadline exceeded
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	// No rows
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	// Postgres server-side error (SQLSTATE codes)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return errs.Wrap(classifySQLState(pgErr.Code), fmt.Sprintf("%s: %s", msg, pgErr.Message), err)
	}

	// Fallthrough: connection-level errors (TLS, network, auth)
	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}

// classifySQLState maps a SQLSTATE code to ErrKind.
func classifySQLState(code string) errs.ErrKind {
	switch code {
	case pgErrUniqueViolation, pgErrForeignKeyViolation, pgErrNotNullViolation,
		pgErrDuplicateTable, pgErrDuplicateColumn:
		return errs.ErrKindConflict
	case pgErrUndefinedTable, pgErrUndefinedColumn, pgErrUndefinedObject:
		return errs.ErrKindNotFound
	case pgErrInsufficientPriv:
		return errs.ErrKindPermissionDenied
	}
	// Class 08: connection exceptions; class 28: invalid authorization.
	if len(code) >= 2 && (code[:2] == "08" || code[:2] == "28") {
		return errs.ErrKindConnectionFailed
	}
	// Class 57: operator intervention, which includes query_canceled.
	if len(code) >= 2 && code[:2] == "57" {
		return errs.ErrKindTimeout
	}
	return errs.ErrKindQueryFailed
}
