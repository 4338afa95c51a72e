package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/koustreak/reshape/internal/errs"
)

func TestMapError(t *testing.T) {
	assert.Nil(t, mapError(nil, "noop"))

	assert.True(t, errs.IsTimeout(mapError(context.DeadlineExceeded, "slow")))
	assert.True(t, errs.IsNotFound(mapError(pgx.ErrNoRows, "empty")))

	err := mapError(&pgconn.PgError{Code: pgErrUniqueViolation, Message: "duplicate key"}, "insert failed")
	assert.True(t, errs.IsConflict(err))
	assert.Contains(t, err.Error(), "duplicate key")

	assert.True(t, errs.IsConnectionFailed(mapError(errors.New("dial tcp: refused"), "ping failed")))
}

func TestClassifySQLState(t *testing.T) {
	tests := map[string]errs.ErrKind{
		pgErrUndefinedTable:   errs.ErrKindNotFound,
		pgErrUndefinedColumn:  errs.ErrKindNotFound,
		pgErrDuplicateColumn:  errs.ErrKindConflict,
		pgErrInsufficientPriv: errs.ErrKindPermissionDenied,
		"08006":               errs.ErrKindConnectionFailed,
		"28P01":               errs.ErrKindConnectionFailed,
		"57014":               errs.ErrKindTimeout,
		"42601":               errs.ErrKindQueryFailed,
	}
	for code, want := range tests {
		assert.Equal(t, want, classifySQLState(code), code)
	}
}
