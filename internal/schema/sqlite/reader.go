package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/koustreak/reshape/internal/database"
	"github.com/koustreak/reshape/internal/errs"
	"github.com/koustreak/reshape/internal/schema"
)

// Reader answers structural questions about SQLite tables from PRAGMA
// introspection. Raw PRAGMA rows are cached per table; columns and the
// primary key share one cache entry.
type Reader struct {
	exec    database.Execer
	cache   schema.Cache
	dialect Dialect
}

// NewReader returns a Reader that queries exec and caches in cache.
func NewReader(exec database.Execer, cache schema.Cache) *Reader {
	if cache == nil {
		cache = schema.NopCache{}
	}
	return &Reader{exec: exec, cache: cache, dialect: NewDialect()}
}

// columnRow is one row of PRAGMA table_info.
type columnRow struct {
	Name    string  `json:"name"`
	Type    string  `json:"type"`
	NotNull bool    `json:"notnull"`
	Default *string `json:"dflt_value"`
	PK      int     `json:"pk"`
}

// indexRow is one entry of PRAGMA index_list with its index_info columns.
type indexRow struct {
	Name    string   `json:"name"`
	Unique  bool     `json:"unique"`
	Origin  string   `json:"origin"`
	Columns []string `json:"columns"`
}

// Tables returns the user tables of the main and temp catalogs.
func (r *Reader) Tables(ctx context.Context) ([]string, error) {
	const q = `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite\_%' ESCAPE '\'
		UNION ALL
		SELECT name FROM sqlite_temp_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite\_%' ESCAPE '\'
		ORDER BY name`

	rows, err := r.exec.Query(ctx, q)
	if err != nil {
		return nil, errs.Annotate(err, "list tables")
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errs.Annotate(err, "scan table name")
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// TableExists checks the main and temp catalogs for a table.
func (r *Reader) TableExists(ctx context.Context, table string) (bool, error) {
	const q = `
		SELECT COUNT(*) FROM (
			SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?
			UNION ALL
			SELECT name FROM sqlite_temp_master WHERE type = 'table' AND name = ?
		)`

	var n int64
	if err := r.exec.QueryRow(ctx, q, table, table).Scan(&n); err != nil {
		return false, errs.Annotate(err, "table exists check")
	}
	return n > 0, nil
}

// Columns returns the columns of table in declaration order.
func (r *Reader) Columns(ctx context.Context, table string) ([]schema.Column, error) {
	rows, err := r.columnRows(ctx, table)
	if err != nil {
		return nil, err
	}
	cols := make([]schema.Column, len(rows))
	for i, row := range rows {
		typ := parseType(row.Type)
		cols[i] = schema.Column{
			Name:    row.Name,
			Type:    typ,
			Default: parseDefault(row.Default, typ.Kind),
			NotNull: row.NotNull,
		}
	}
	return cols, nil
}

// PrimaryKey returns the key columns ordered by their key position.
func (r *Reader) PrimaryKey(ctx context.Context, table string) (schema.Index, error) {
	rows, err := r.columnRows(ctx, table)
	if err != nil {
		return schema.Index{}, err
	}

	keyed := slices.DeleteFunc(slices.Clone(rows), func(c columnRow) bool { return c.PK == 0 })
	slices.SortFunc(keyed, func(a, b columnRow) int { return a.PK - b.PK })

	pk := schema.Index{
		Table:   table,
		Name:    schema.PrimaryKeyName,
		Columns: make([]string, 0, len(keyed)),
		Unique:  true,
		Primary: true,
	}
	for _, c := range keyed {
		pk.Columns = append(pk.Columns, c.Name)
	}
	return pk, nil
}

// Indexes returns the indexes of table, skipping the sqlite_ autoindexes
// the engine creates for key and UNIQUE constraints.
func (r *Reader) Indexes(ctx context.Context, table string) ([]schema.Index, error) {
	rows, err := r.indexRows(ctx, table)
	if err != nil {
		return nil, err
	}
	indexes := []schema.Index{}
	for _, row := range rows {
		if strings.Contains(row.Name, "sqlite_") || len(row.Columns) == 0 {
			continue
		}
		indexes = append(indexes, schema.Index{
			Table:   table,
			Name:    row.Name,
			Columns: row.Columns,
			Unique:  row.Unique,
		})
	}
	return indexes, nil
}

// uniqueConstraints returns the column sets of inline UNIQUE constraints.
// The engine backs them with autoindexes that Indexes does not report.
func (r *Reader) uniqueConstraints(ctx context.Context, table string) ([][]string, error) {
	rows, err := r.indexRows(ctx, table)
	if err != nil {
		return nil, err
	}
	var sets [][]string
	for _, row := range rows {
		if row.Origin == "u" && strings.HasPrefix(row.Name, "sqlite_autoindex_") && len(row.Columns) > 0 {
			sets = append(sets, row.Columns)
		}
	}
	return sets, nil
}

// IsAutoincrementColumn reports whether the stored CREATE TABLE text
// declares column PRIMARY KEY AUTOINCREMENT, whatever else sits in the
// column definition.
func (r *Reader) IsAutoincrementColumn(ctx context.Context, table, column string) (bool, error) {
	const q = `
		SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?
		UNION ALL
		SELECT sql FROM sqlite_temp_master WHERE type = 'table' AND name = ?`

	var ddl string
	err := r.exec.QueryRow(ctx, q, table, table).Scan(&ddl)
	if errs.IsNotFound(err) {
		return false, errs.Newf(errs.ErrKindNotFound, "no table %q", table)
	}
	if err != nil {
		return false, errs.Annotate(err, "read table definition of "+table)
	}

	return declaresAutoincrement(ddl, column), nil
}

func (r *Reader) columnRows(ctx context.Context, table string) ([]columnRow, error) {
	key := schema.ColumnsKey(table)
	if b, ok := r.cache.Get(key); ok {
		var rows []columnRow
		if err := json.Unmarshal(b, &rows); err == nil {
			return rows, nil
		}
		r.cache.Delete(key)
	}

	res, err := r.exec.Query(ctx, "PRAGMA table_info("+r.dialect.QuoteIdent(table)+")")
	if err != nil {
		return nil, errs.Annotate(err, "read columns of "+table)
	}
	maps, err := database.ScanRows(res)
	if err != nil {
		return nil, errs.Annotate(err, "read columns of "+table)
	}
	if len(maps) == 0 {
		return nil, errs.Newf(errs.ErrKindNotFound, "no table %q", table)
	}

	rows := make([]columnRow, len(maps))
	for i, m := range maps {
		rows[i] = columnRow{
			Name:    asString(m["name"]),
			Type:    asString(m["type"]),
			NotNull: asInt(m["notnull"]) != 0,
			PK:      int(asInt(m["pk"])),
		}
		if m["dflt_value"] != nil {
			d := asString(m["dflt_value"])
			rows[i].Default = &d
		}
	}

	if b, err := json.Marshal(rows); err == nil {
		r.cache.Set(key, b)
	}
	return rows, nil
}

func (r *Reader) indexRows(ctx context.Context, table string) ([]indexRow, error) {
	key := schema.IndexesKey(table)
	if b, ok := r.cache.Get(key); ok {
		var rows []indexRow
		if err := json.Unmarshal(b, &rows); err == nil {
			return rows, nil
		}
		r.cache.Delete(key)
	}

	// index_list returns no rows for a missing table, so check first.
	if _, err := r.columnRows(ctx, table); err != nil {
		return nil, err
	}

	res, err := r.exec.Query(ctx, "PRAGMA index_list("+r.dialect.QuoteIdent(table)+")")
	if err != nil {
		return nil, errs.Annotate(err, "read indexes of "+table)
	}
	list, err := database.ScanRows(res)
	if err != nil {
		return nil, errs.Annotate(err, "read indexes of "+table)
	}

	rows := make([]indexRow, 0, len(list))
	for _, m := range list {
		row := indexRow{
			Name:   asString(m["name"]),
			Unique: asInt(m["unique"]) != 0,
			Origin: asString(m["origin"]),
		}
		cols, err := r.indexColumns(ctx, row.Name)
		if err != nil {
			return nil, err
		}
		row.Columns = cols
		rows = append(rows, row)
	}

	if b, err := json.Marshal(rows); err == nil {
		r.cache.Set(key, b)
	}
	return rows, nil
}

// indexColumns lists the columns of one index in key order. Expression
// indexes yield nil because they cannot be rebuilt from column names.
func (r *Reader) indexColumns(ctx context.Context, index string) ([]string, error) {
	res, err := r.exec.Query(ctx, "PRAGMA index_info("+r.dialect.QuoteIdent(index)+")")
	if err != nil {
		return nil, errs.Annotate(err, "read index "+index)
	}
	info, err := database.ScanRows(res)
	if err != nil {
		return nil, errs.Annotate(err, "read index "+index)
	}
	slices.SortFunc(info, func(a, b map[string]any) int { return int(asInt(a["seqno"]) - asInt(b["seqno"])) })

	cols := make([]string, 0, len(info))
	for _, m := range info {
		if m["name"] == nil {
			return nil, nil
		}
		cols = append(cols, asString(m["name"]))
	}
	return cols, nil
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	case int64:
		return strconv.FormatInt(s, 10)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(s)
	}
}

func asInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case bool:
		if n {
			return 1
		}
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}
