package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	assert.Equal(t, "[invalid_input] bad column", New(ErrKindInvalidInput, "bad column").Error())

	cause := errors.New("disk I/O error")
	err := Wrap(ErrKindQueryFailed, "copy rows", cause)
	assert.Equal(t, "[query_failed] copy rows: disk I/O error", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name string
		err  error
		pred func(error) bool
	}{
		{"not found", New(ErrKindNotFound, "x"), IsNotFound},
		{"timeout", New(ErrKindTimeout, "x"), IsTimeout},
		{"connection", New(ErrKindConnectionFailed, "x"), IsConnectionFailed},
		{"query", New(ErrKindQueryFailed, "x"), IsQueryFailed},
		{"input", New(ErrKindInvalidInput, "x"), IsInvalidInput},
		{"permission", New(ErrKindPermissionDenied, "x"), IsPermissionDenied},
		{"conflict", New(ErrKindConflict, "x"), IsConflict},
		{"precondition", New(ErrKindPrecondition, "x"), IsPrecondition},
		{"wrapped by fmt", fmt.Errorf("outer: %w", New(ErrKindConflict, "x")), IsConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.pred(tt.err))
		})
	}

	assert.False(t, IsNotFound(errors.New("plain")))
	assert.Equal(t, ErrKindUnknown, KindOf(nil))
}

func TestAnnotate_KeepsKind(t *testing.T) {
	assert.Nil(t, Annotate(nil, "ignored"))

	err := Annotate(New(ErrKindNotFound, "table users"), "describe")
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "describe")

	plain := Annotate(errors.New("boom"), "ctx")
	assert.Equal(t, ErrKindUnknown, KindOf(plain))
}

func TestNewf(t *testing.T) {
	err := Newf(ErrKindInvalidInput, "column %q defined twice", "name")
	assert.Equal(t, `[invalid_input] column "name" defined twice`, err.Error())
}
