package schema

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/reshape/internal/database"
	"github.com/koustreak/reshape/internal/errs"
)

// testDialect is a minimal ANSI-style dialect for engine-neutral tests.
type testDialect struct {
	LiteralQuoter
}

func newTestDialect() testDialect {
	return testDialect{LiteralQuoter{True: "TRUE", False: "FALSE", Blob: HexBlob}}
}

func (testDialect) Name() string { return "test" }

func (testDialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (testDialect) TypeSQL(t Type) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	if t.Kind == KindAutoincrementKey {
		return "SERIAL PRIMARY KEY", nil
	}
	return t.String(), nil
}

// recorder is a database.Execer that records statements.
type recorder struct {
	statements []string
	fail       error
}

func (r *recorder) Exec(_ context.Context, sql string, _ ...any) (int64, error) {
	r.statements = append(r.statements, sql)
	return 0, r.fail
}

func (r *recorder) Query(context.Context, string, ...any) (database.Rows, error) {
	return nil, errs.New(errs.ErrKindQueryFailed, "not supported")
}

func (r *recorder) QueryRow(context.Context, string, ...any) database.Row { return nil }

// --- types ---

func TestParseKind(t *testing.T) {
	k, err := ParseKind("autoincrementKey")
	require.NoError(t, err)
	assert.Equal(t, KindAutoincrementKey, k)

	k, err = ParseKind("MediumText")
	require.NoError(t, err)
	assert.Equal(t, KindMediumText, k)

	_, err = ParseKind("native")
	assert.True(t, errs.IsInvalidInput(err))

	_, err = ParseKind("varchar")
	assert.True(t, errs.IsInvalidInput(err))
}

func TestKind_TextRoundTrip(t *testing.T) {
	for k := range kindNames {
		b, err := k.MarshalText()
		require.NoError(t, err)
		var got Kind
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, k, got)
	}
}

func TestType_Validate(t *testing.T) {
	tests := []struct {
		name  string
		typ   Type
		valid bool
	}{
		{"string with limit", String(80), true},
		{"decimal", Decimal(10, 2), true},
		{"decimal precision only", Decimal(8, 0), true},
		{"decimal with limit", Type{Kind: KindDecimal, Limit: 4}, false},
		{"scale above precision", Decimal(2, 5), false},
		{"scale without precision", Decimal(0, 2), false},
		{"string with scale", Type{Kind: KindString, Scale: 2}, false},
		{"autoincrement with limit", Type{Kind: KindAutoincrementKey, Limit: 11}, false},
		{"boolean with limit", Type{Kind: KindBoolean, Limit: 1}, false},
		{"negative limit", String(-1), false},
		{"native", Native("geometry"), true},
		{"native on integer", Type{Kind: KindInteger, Native: "bigint"}, false},
		{"unknown kind", Type{Kind: Kind(99)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.typ.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, errs.IsInvalidInput(err), "got %v", err)
			}
		})
	}
}

func TestType_String(t *testing.T) {
	assert.Equal(t, "string(80)", String(80).String())
	assert.Equal(t, "decimal(10,2)", Decimal(10, 2).String())
	assert.Equal(t, "decimal(8)", Decimal(8, 0).String())
	assert.Equal(t, "geometry", Native("geometry").String())
	assert.Equal(t, "integer", Integer().String())
}

// --- dialect helpers ---

func TestLiteralQuoter_QuoteValue(t *testing.T) {
	q := newTestDialect()
	ts := time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC)

	tests := []struct {
		v    any
		kind Kind
		want string
	}{
		{nil, KindString, "NULL"},
		{"it's", KindString, "'it''s'"},
		{true, KindBoolean, "TRUE"},
		{false, KindBoolean, "FALSE"},
		{true, KindInteger, "1"},
		{42, KindInteger, "42"},
		{int64(-7), KindInteger, "-7"},
		{1.5, KindFloat, "1.5"},
		{"12", KindInteger, "12"},
		{ts, KindDatetime, "'2024-03-09 14:05:00'"},
		{ts, KindInteger, "1709993100"},
		{[]byte{0xde, 0xad}, KindBinary, "X'dead'"},
		{Expr("CURRENT_TIMESTAMP"), KindDatetime, "CURRENT_TIMESTAMP"},
	}
	for _, tt := range tests {
		got, err := q.QuoteValue(tt.v, tt.kind)
		require.NoError(t, err, "%v", tt.v)
		assert.Equal(t, tt.want, got)
	}

	_, err := q.QuoteValue("abc", KindInteger)
	assert.True(t, errs.IsInvalidInput(err))

	_, err = q.QuoteValue(struct{}{}, KindString)
	assert.True(t, errs.IsInvalidInput(err))
}

func TestLiteralQuoter_Backslash(t *testing.T) {
	q := LiteralQuoter{Backslash: true}
	assert.Equal(t, `'a\\b''c'`, q.QuoteString(`a\b'c`))
	assert.Equal(t, `'a\b'`, LiteralQuoter{}.QuoteString(`a\b`))
}

func TestColumnSQL(t *testing.T) {
	d := newTestDialect()

	sql, err := ColumnSQL(d, Column{Name: "name", Type: String(80), NotNull: true, Default: "anon"})
	require.NoError(t, err)
	assert.Equal(t, `"name" string(80) NOT NULL DEFAULT 'anon'`, sql)

	sql, err = ColumnSQL(d, Column{Name: "id", Type: AutoincrementKey(), Default: 3})
	require.NoError(t, err)
	assert.Equal(t, `"id" SERIAL PRIMARY KEY`, sql)

	sql, err = ColumnSQL(d, Column{Name: "b", Type: Native(""), Default: "x'y"})
	require.NoError(t, err)
	assert.Equal(t, `"b" DEFAULT 'x''y'`, sql)

	sql, err = ColumnSQL(d, Column{Name: "c", Type: Native("")})
	require.NoError(t, err)
	assert.Equal(t, `"c"`, sql)
}

func TestIndexName(t *testing.T) {
	assert.Equal(t, "index_users_on_name", IndexName("users", "name"))
	assert.Equal(t, "index_users_on_last_and_first", IndexName("users", "last", "first"))
}

// --- cache ---

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache(0)

	c.Set(ColumnsKey("users"), []byte("cols"))
	c.Set(IndexesKey("users"), []byte("idx"))
	c.Set(ColumnsKey("posts"), []byte("cols"))

	got, ok := c.Get(ColumnsKey("users"))
	require.True(t, ok)
	assert.Equal(t, []byte("cols"), got)

	Invalidate(c, "users")
	_, ok = c.Get(ColumnsKey("users"))
	assert.False(t, ok)
	_, ok = c.Get(IndexesKey("users"))
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	PurgeAll(c)
	assert.Zero(t, c.Len())
}

func TestMemoryCache_Evicts(t *testing.T) {
	c := NewMemoryCache(2)
	c.Set("a", []byte("1"))
	c.Set("b", []byte("2"))
	c.Get("a")
	c.Set("c", []byte("3"))

	_, ok := c.Get("b")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "tables/columns/users", ColumnsKey("users"))
	assert.Equal(t, "tables/indexes/users", IndexesKey("users"))

	var nop NopCache
	nop.Set("k", []byte("v"))
	_, ok := nop.Get("k")
	assert.False(t, ok)
	PurgeAll(nop)
}
