package database

import (
	"strconv"
	"strings"

	"github.com/koustreak/reshape/internal/errs"
)

// Dialect selects the placeholder and identifier quoting style of built
// queries.
type Dialect int

const (
	DialectPostgres Dialect = iota // $1, $2 and "ident"
	DialectMySQL                   // ? and `ident`
	DialectSQLite                  // ? and "ident"
)

// DialectFor returns the query dialect of a driver.
func DialectFor(d Driver) Dialect {
	switch d {
	case DriverMySQL:
		return DialectMySQL
	case DriverSQLite:
		return DialectSQLite
	default:
		return DialectPostgres
	}
}

// comparisons lists the WHERE operators accepted. The operator cannot be
// bound as a parameter, so anything else is refused.
var comparisons = map[string]bool{
	"=": true, "!=": true, "<>": true,
	"<": true, ">": true, "<=": true, ">=": true,
	"LIKE": true, "ILIKE": true,
}

// SortDirection controls the ORDER BY direction.
type SortDirection bool

const (
	Asc  SortDirection = false
	Desc SortDirection = true
)

// SelectBuilder builds a parameterized SELECT over one table. Values only
// ever travel as arguments.
//
//	sql, args, err := Select("users", DialectSQLite).
//	    Columns("id", "name").
//	    Where("active", "=", true).
//	    OrderBy("id", Asc).
//	    Limit(20).
//	    Build()
type SelectBuilder struct {
	table   string
	dialect Dialect
	columns []string
	filters []filter
	order   []ordering
	limit   *int
	offset  *int
}

type filter struct {
	column string
	op     string
	value  any
}

type ordering struct {
	column string
	dir    SortDirection
}

func Select(table string, d Dialect) *SelectBuilder {
	return &SelectBuilder{table: table, dialect: d}
}

// Columns restricts the result to cols; without it every column is read.
func (b *SelectBuilder) Columns(cols ...string) *SelectBuilder {
	b.columns = cols
	return b
}

// Where adds a condition. Conditions are joined with AND.
func (b *SelectBuilder) Where(column, op string, value any) *SelectBuilder {
	b.filters = append(b.filters, filter{column: column, op: op, value: value})
	return b
}

// WhereNull adds an IS NULL condition.
func (b *SelectBuilder) WhereNull(column string) *SelectBuilder {
	b.filters = append(b.filters, filter{column: column, op: "IS NULL"})
	return b
}

func (b *SelectBuilder) OrderBy(column string, dir SortDirection) *SelectBuilder {
	b.order = append(b.order, ordering{column: column, dir: dir})
	return b
}

func (b *SelectBuilder) Limit(n int) *SelectBuilder {
	b.limit = &n
	return b
}

func (b *SelectBuilder) Offset(n int) *SelectBuilder {
	b.offset = &n
	return b
}

// Build renders the query and its arguments. An operator outside the
// allowlist is invalid_input.
func (b *SelectBuilder) Build() (string, []any, error) {
	cols := "*"
	if len(b.columns) > 0 {
		cols = b.quoteList(b.columns)
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + cols)
	args, err := b.writeFrom(&sb)
	if err != nil {
		return "", nil, err
	}

	if len(b.order) > 0 {
		parts := make([]string, len(b.order))
		for i, o := range b.order {
			parts[i] = b.quoteIdent(o.column) + " ASC"
			if o.dir == Desc {
				parts[i] = b.quoteIdent(o.column) + " DESC"
			}
		}
		sb.WriteString(" ORDER BY " + strings.Join(parts, ", "))
	}

	if b.limit != nil {
		args = append(args, *b.limit)
		sb.WriteString(" LIMIT " + b.placeholder(len(args)))
	}
	if b.offset != nil {
		// MySQL and SQLite need a LIMIT before OFFSET.
		if b.limit == nil {
			switch b.dialect {
			case DialectSQLite:
				sb.WriteString(" LIMIT -1")
			case DialectMySQL:
				sb.WriteString(" LIMIT 18446744073709551615")
			}
		}
		args = append(args, *b.offset)
		sb.WriteString(" OFFSET " + b.placeholder(len(args)))
	}
	return sb.String(), args, nil
}

// BuildCount renders SELECT COUNT(*) under the same conditions, ignoring
// columns, order and paging.
func (b *SelectBuilder) BuildCount() (string, []any, error) {
	var sb strings.Builder
	sb.WriteString("SELECT COUNT(*)")
	args, err := b.writeFrom(&sb)
	if err != nil {
		return "", nil, err
	}
	return sb.String(), args, nil
}

// writeFrom writes the FROM and WHERE clauses and returns their arguments.
func (b *SelectBuilder) writeFrom(sb *strings.Builder) ([]any, error) {
	sb.WriteString(" FROM " + b.quoteIdent(b.table))
	if len(b.filters) == 0 {
		return nil, nil
	}

	var args []any
	parts := make([]string, len(b.filters))
	for i, f := range b.filters {
		if f.op == "IS NULL" {
			parts[i] = b.quoteIdent(f.column) + " IS NULL"
			continue
		}
		op := strings.ToUpper(f.op)
		if !comparisons[op] {
			return nil, errs.Newf(errs.ErrKindInvalidInput, "unsupported WHERE operator: %q", f.op)
		}
		args = append(args, f.value)
		parts[i] = b.quoteIdent(f.column) + " " + op + " " + b.placeholder(len(args))
	}
	sb.WriteString(" WHERE " + strings.Join(parts, " AND "))
	return args, nil
}

// placeholder returns the n-th parameter marker, counting from 1.
func (b *SelectBuilder) placeholder(n int) string {
	if b.dialect == DialectPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func (b *SelectBuilder) quoteIdent(name string) string {
	if b.dialect == DialectMySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (b *SelectBuilder) quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = b.quoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}
