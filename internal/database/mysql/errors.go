package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/koustreak/reshape/internal/errs"
)

// MySQL error numbers
// Full list: https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html
const (
	errDBAccessDenied   = 1044
	errAccessDenied     = 1045
	errNoDatabase       = 1046
	errUnknownDatabase  = 1049
	errTooManyConns     = 1040
	errTableExists      = 1050
	errBadField         = 1054
	errDupFieldName     = 1060
	errDuplicateEntry   = 1062
	errCantDropKey      = 1091
	errNoSuchTable      = 1146
	errTableAccessDeny  = 1142
	errUserLimitReached = 1203
	errLockWaitTimeout  = 1205
	errRowIsReferenced  = 1451
	errNoReferencedRow  = 1452
)

// mapError translates go-sql-driver/mysql errors into *errs.Error.
// A nil err maps to a nil error interface.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	if errors.Is(err, sql.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	var mysqlErr *gomysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return errs.Wrap(
			classifyMySQLCode(mysqlErr.Number),
			fmt.Sprintf("%s: %s", msg, mysqlErr.Message),
			err,
		)
	}

	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}

// classifyMySQLCode maps MySQL error numbers to ErrKind.
func classifyMySQLCode(code uint16) errs.ErrKind {
	switch code {
	case errAccessDenied, errNoDatabase, errUnknownDatabase, errTooManyConns, errUserLimitReached:
		return errs.ErrKindConnectionFailed
	case errDBAccessDenied, errTableAccessDeny:
		return errs.ErrKindPermissionDenied
	case errDuplicateEntry, errRowIsReferenced, errNoReferencedRow, errTableExists, errDupFieldName:
		return errs.ErrKindConflict
	case errBadField, errNoSuchTable, errCantDropKey:
		return errs.ErrKindNotFound
	case errLockWaitTimeout:
		return errs.ErrKindTimeout
	default:
		return errs.ErrKindQueryFailed
	}
}
