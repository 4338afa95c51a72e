package schema

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/koustreak/reshape/internal/errs"
)

// Dialect renders identifiers, literals and column types for one engine.
type Dialect interface {
	// Name identifies the engine ("sqlite", "postgres", "mysql").
	Name() string

	// QuoteIdent quotes a table, column or index name.
	QuoteIdent(name string) string

	// QuoteValue renders v as a SQL literal for a column of kind k.
	QuoteValue(v any, k Kind) (string, error)

	// TypeSQL renders the native declaration of t.
	TypeSQL(t Type) (string, error)
}

// ColumnSQL renders one column declaration: quoted name, native type, then
// NOT NULL and DEFAULT. Autoincrement keys carry their constraints inside
// the type declaration and take no options.
func ColumnSQL(d Dialect, c Column) (string, error) {
	typ, err := d.TypeSQL(c.Type)
	if err != nil {
		return "", err
	}
	sql := d.QuoteIdent(c.Name)
	if typ != "" {
		sql += " " + typ
	}
	if c.IsAutoincrement() {
		return sql, nil
	}
	return AddColumnOptions(d, sql, c)
}

// AddColumnOptions appends the NOT NULL and DEFAULT clauses of c to sql.
func AddColumnOptions(d Dialect, sql string, c Column) (string, error) {
	if c.NotNull {
		sql += " NOT NULL"
	}
	if c.Default != nil {
		lit, err := d.QuoteValue(c.Default, c.Type.Kind)
		if err != nil {
			return "", err
		}
		sql += " DEFAULT " + lit
	}
	return sql, nil
}

// QuoteColumns quotes and comma-joins a column list.
func QuoteColumns(d Dialect, cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.QuoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}

// IndexName derives the conventional index name for columns of table,
// e.g. index_users_on_last_name_and_first_name.
func IndexName(table string, columns ...string) string {
	return "index_" + table + "_on_" + strings.Join(columns, "_and_")
}

// LiteralQuoter holds the literal rules that differ between engines.
// Dialects embed it and set the engine specifics.
type LiteralQuoter struct {
	True, False string

	// Backslash doubles backslashes inside string literals (MySQL).
	Backslash bool

	// Blob renders binary values. Nil falls back to a quoted string.
	Blob func([]byte) string
}

// QuoteString renders s as a single-quoted string literal.
func (q LiteralQuoter) QuoteString(s string) string {
	if q.Backslash {
		s = strings.ReplaceAll(s, `\`, `\\`)
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// QuoteValue renders v for a column of kind k. Booleans stored in integer
// columns become 1/0 and times stored in integer columns become epoch
// seconds.
func (q LiteralQuoter) QuoteValue(v any, k Kind) (string, error) {
	switch val := v.(type) {
	case nil:
		return "NULL", nil
	case Expr:
		return string(val), nil
	case bool:
		if k == KindInteger {
			if val {
				return "1", nil
			}
			return "0", nil
		}
		if val {
			return q.True, nil
		}
		return q.False, nil
	case int:
		return strconv.FormatInt(int64(val), 10), nil
	case int32:
		return strconv.FormatInt(int64(val), 10), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case uint:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint64:
		return strconv.FormatUint(val, 10), nil
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case time.Time:
		if k == KindInteger {
			return strconv.FormatInt(val.Unix(), 10), nil
		}
		return q.QuoteString(val.Format("2006-01-02 15:04:05")), nil
	case []byte:
		if q.Blob != nil {
			return q.Blob(val), nil
		}
		return q.QuoteString(string(val)), nil
	case string:
		switch k {
		case KindInteger:
			if _, err := strconv.ParseInt(val, 10, 64); err != nil {
				return "", errs.Newf(errs.ErrKindInvalidInput, "default %q is not an integer", val)
			}
			return val, nil
		case KindFloat, KindDecimal:
			if _, err := strconv.ParseFloat(val, 64); err != nil {
				return "", errs.Newf(errs.ErrKindInvalidInput, "default %q is not a number", val)
			}
			return val, nil
		}
		return q.QuoteString(val), nil
	default:
		return "", errs.Newf(errs.ErrKindInvalidInput, "cannot quote value of type %T", v)
	}
}

// HexBlob renders X'...' blob literals as understood by SQLite and MySQL.
func HexBlob(b []byte) string {
	return fmt.Sprintf("X'%s'", hex.EncodeToString(b))
}
