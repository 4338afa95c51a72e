package mysql

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/koustreak/reshape/internal/database"
	"github.com/koustreak/reshape/internal/errs"
	"github.com/koustreak/reshape/internal/schema"
)

// Reader reads table structure of the current database with SHOW FIELDS
// and SHOW KEYS. Raw rows are cached per table.
type Reader struct {
	exec    database.Execer
	cache   schema.Cache
	dialect Dialect
}

func NewReader(exec database.Execer, cache schema.Cache) *Reader {
	if cache == nil {
		cache = schema.NopCache{}
	}
	return &Reader{exec: exec, cache: cache, dialect: NewDialect()}
}

// fieldRow is one row of SHOW FIELDS.
type fieldRow struct {
	Field   string  `json:"field"`
	Type    string  `json:"type"`
	Null    bool    `json:"null"`
	Key     string  `json:"key"`
	Default *string `json:"default"`
	Extra   string  `json:"extra"`
}

func (f fieldRow) autoIncrement() bool {
	return strings.Contains(strings.ToLower(f.Extra), "auto_increment")
}

// keyRow is one index of SHOW KEYS with its columns in order.
type keyRow struct {
	Name    string   `json:"name"`
	Unique  bool     `json:"unique"`
	Columns []string `json:"columns"`
}

// Tables returns the base tables of the current database.
func (r *Reader) Tables(ctx context.Context) ([]string, error) {
	const q = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = DATABASE()
		  AND table_type = 'BASE TABLE'
		ORDER BY table_name`

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

func (r *Reader) TableExists(ctx context.Context, table string) (bool, error) {
	const q = `
		SELECT COUNT(*) > 0
		FROM information_schema.tables
		WHERE table_schema = DATABASE() AND table_name = ?`

	var exists bool
	if err := r.exec.QueryRow(ctx, q, table).Scan(&exists); err != nil {
		return false, errs.Annotate(err, "table exists check")
	}
	return exists, nil
}

func (r *Reader) Columns(ctx context.Context, table string) ([]schema.Column, error) {
	fields, err := r.fieldRows(ctx, table)
	if err != nil {
		return nil, err
	}
	cols := make([]schema.Column, len(fields))
	for i, f := range fields {
		cols[i] = toColumn(f)
	}
	return cols, nil
}

func toColumn(f fieldRow) schema.Column {
	if f.autoIncrement() && f.Key == "PRI" {
		return schema.Column{Name: f.Field, Type: schema.AutoincrementKey(), NotNull: true}
	}
	typ := parseType(f.Type)
	generated := strings.Contains(strings.ToUpper(f.Extra), "DEFAULT_GENERATED")
	return schema.Column{
		Name:    f.Field,
		Type:    typ,
		Default: parseDefault(f.Default, typ.Kind, generated),
		NotNull: !f.Null,
	}
}

// PrimaryKey returns the key columns in key order, which SHOW FIELDS
// does not give.
func (r *Reader) PrimaryKey(ctx context.Context, table string) (schema.Index, error) {
	keys, err := r.keyRows(ctx, table)
	if err != nil {
		return schema.Index{}, err
	}
	pk := schema.Index{
		Table:   table,
		Name:    schema.PrimaryKeyName,
		Columns: []string{},
		Unique:  true,
		Primary: true,
	}
	for _, k := range keys {
		if k.Name == schema.PrimaryKeyName {
			pk.Columns = append(pk.Columns, k.Columns...)
		}
	}
	return pk, nil
}

func (r *Reader) Indexes(ctx context.Context, table string) ([]schema.Index, error) {
	keys, err := r.keyRows(ctx, table)
	if err != nil {
		return nil, err
	}
	indexes := []schema.Index{}
	for _, k := range keys {
		if k.Name == schema.PrimaryKeyName {
			continue
		}
		indexes = append(indexes, schema.Index{Table: table, Name: k.Name, Columns: k.Columns, Unique: k.Unique})
	}
	return indexes, nil
}

// field returns the SHOW FIELDS row of one column.
func (r *Reader) field(ctx context.Context, table, column string) (fieldRow, error) {
	fields, err := r.fieldRows(ctx, table)
	if err != nil {
		return fieldRow{}, err
	}
	for _, f := range fields {
		if f.Field == column {
			return f, nil
		}
	}
	return fieldRow{}, errs.Newf(errs.ErrKindNotFound, "no column %q in table %q", column, table)
}

func (r *Reader) fieldRows(ctx context.Context, table string) ([]fieldRow, error) {
	key := schema.ColumnsKey(table)
	if b, ok := r.cache.Get(key); ok {
		var rows []fieldRow
		if err := json.Unmarshal(b, &rows); err == nil {
			return rows, nil
		}
		r.cache.Delete(key)
	}

	res, err := r.exec.Query(ctx, "SHOW FIELDS FROM "+r.dialect.QuoteIdent(table))
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

	rows := make([]fieldRow, len(maps))
	for i, m := range maps {
		rows[i] = fieldRow{
			Field: text(m["Field"]),
			Type:  text(m["Type"]),
			Null:  text(m["Null"]) == "YES",
			Key:   text(m["Key"]),
			Extra: text(m["Extra"]),
		}
		if m["Default"] != nil {
			d := text(m["Default"])
			rows[i].Default = &d
		}
	}

	if b, err := json.Marshal(rows); err == nil {
		r.cache.Set(key, b)
	}
	return rows, nil
}

func (r *Reader) keyRows(ctx context.Context, table string) ([]keyRow, error) {
	key := schema.IndexesKey(table)
	if b, ok := r.cache.Get(key); ok {
		var rows []keyRow
		if err := json.Unmarshal(b, &rows); err == nil {
			return rows, nil
		}
		r.cache.Delete(key)
	}

	if _, err := r.fieldRows(ctx, table); err != nil {
		return nil, err
	}

	res, err := r.exec.Query(ctx, "SHOW KEYS FROM "+r.dialect.QuoteIdent(table))
	if err != nil {
		return nil, errs.Annotate(err, "read indexes of "+table)
	}
	maps, err := database.ScanRows(res)
	if err != nil {
		return nil, errs.Annotate(err, "read indexes of "+table)
	}

	// SHOW KEYS lists one row per index column, grouped by index in
	// Seq_in_index order.
	rows := []keyRow{}
	for _, m := range maps {
		name := text(m["Key_name"])
		col := text(m["Column_name"])
		if n := len(rows); n > 0 && rows[n-1].Name == name {
			rows[n-1].Columns = append(rows[n-1].Columns, col)
			continue
		}
		rows = append(rows, keyRow{Name: name, Unique: text(m["Non_unique"]) == "0", Columns: []string{col}})
	}

	if b, err := json.Marshal(rows); err == nil {
		r.cache.Set(key, b)
	}
	return rows, nil
}

// text renders a scanned SHOW value. The driver returns text columns as
// bytes, which ScanRows already turns into strings.
func text(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}
