package postgres

import (
	"context"
	"encoding/json"

	"github.com/koustreak/reshape/internal/database"
	"github.com/koustreak/reshape/internal/errs"
	"github.com/koustreak/reshape/internal/schema"
)

// Reader reads table structure from information_schema and pg_catalog
// within one namespace.
type Reader struct {
	exec      database.Execer
	cache     schema.Cache
	namespace string
}

// NewReader returns a Reader for tables in namespace (e.g. "public").
func NewReader(exec database.Execer, cache schema.Cache, namespace string) *Reader {
	if cache == nil {
		cache = schema.NopCache{}
	}
	return &Reader{exec: exec, cache: cache, namespace: namespace}
}

// tableRows is the cached structure of one table.
type tableRows struct {
	Columns []columnRow `json:"columns"`
	Key     []string    `json:"key"`
	KeyName string      `json:"key_name"`
}

type columnRow struct {
	Name      string  `json:"name"`
	DataType  string  `json:"data_type"`
	Nullable  bool    `json:"nullable"`
	Default   *string `json:"default"`
	MaxLength *int64  `json:"max_length"`
	Precision *int64  `json:"precision"`
	Scale     *int64  `json:"scale"`
}

type indexRow struct {
	Name    string   `json:"name"`
	Unique  bool     `json:"unique"`
	Columns []string `json:"columns"`
}

// Tables returns the base tables of the namespace.
func (r *Reader) Tables(ctx context.Context) ([]string, error) {
	const q = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1
		  AND table_type = 'BASE TABLE'
		ORDER BY table_name`

	rows, err := r.exec.Query(ctx, q, r.namespace)
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
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2
		)`

	var exists bool
	if err := r.exec.QueryRow(ctx, q, r.namespace, table).Scan(&exists); err != nil {
		return false, errs.Annotate(err, "table exists check")
	}
	return exists, nil
}

// Columns returns the columns of table. A serial column that is the whole
// primary key reads back as an autoincrement key.
func (r *Reader) Columns(ctx context.Context, table string) ([]schema.Column, error) {
	t, err := r.tableRows(ctx, table)
	if err != nil {
		return nil, err
	}
	cols := make([]schema.Column, len(t.Columns))
	for i, row := range t.Columns {
		typ := parseType(row.DataType, row.MaxLength, row.Precision, row.Scale)
		col := schema.Column{
			Name:    row.Name,
			Type:    typ,
			Default: parseDefault(row.Default, typ.Kind),
			NotNull: !row.Nullable,
		}
		if len(t.Key) == 1 && t.Key[0] == row.Name && typ.Kind == schema.KindInteger && isSequenceDefault(row.Default) {
			col.Type = schema.AutoincrementKey()
			col.Default = nil
		}
		cols[i] = col
	}
	return cols, nil
}

func (r *Reader) PrimaryKey(ctx context.Context, table string) (schema.Index, error) {
	t, err := r.tableRows(ctx, table)
	if err != nil {
		return schema.Index{}, err
	}
	return schema.Index{
		Table:   table,
		Name:    schema.PrimaryKeyName,
		Columns: append([]string{}, t.Key...),
		Unique:  true,
		Primary: true,
	}, nil
}

// primaryKeyConstraint returns the constraint name of the key, or "".
func (r *Reader) primaryKeyConstraint(ctx context.Context, table string) (string, error) {
	t, err := r.tableRows(ctx, table)
	if err != nil {
		return "", err
	}
	return t.KeyName, nil
}

// Indexes returns the non-primary indexes of table. Expression indexes
// are skipped.
func (r *Reader) Indexes(ctx context.Context, table string) ([]schema.Index, error) {
	rows, err := r.indexRows(ctx, table)
	if err != nil {
		return nil, err
	}
	indexes := make([]schema.Index, 0, len(rows))
	for _, row := range rows {
		indexes = append(indexes, schema.Index{
			Table:   table,
			Name:    row.Name,
			Columns: row.Columns,
			Unique:  row.Unique,
		})
	}
	return indexes, nil
}

func (r *Reader) tableRows(ctx context.Context, table string) (*tableRows, error) {
	key := schema.ColumnsKey(table)
	if b, ok := r.cache.Get(key); ok {
		var t tableRows
		if err := json.Unmarshal(b, &t); err == nil {
			return &t, nil
		}
		r.cache.Delete(key)
	}

	const columnsQuery = `
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable = 'YES' AS is_nullable,
			c.column_default,
			c.character_maximum_length,
			c.numeric_precision,
			c.numeric_scale
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`

	rows, err := r.exec.Query(ctx, columnsQuery, r.namespace, table)
	if err != nil {
		return nil, errs.Annotate(err, "read columns of "+table)
	}
	t := &tableRows{Key: []string{}}
	for rows.Next() {
		var c columnRow
		if err := rows.Scan(&c.Name, &c.DataType, &c.Nullable, &c.Default, &c.MaxLength, &c.Precision, &c.Scale); err != nil {
			rows.Close()
			return nil, errs.Annotate(err, "scan column")
		}
		t.Columns = append(t.Columns, c)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, errs.Annotate(err, "read columns of "+table)
	}
	if len(t.Columns) == 0 {
		return nil, errs.Newf(errs.ErrKindNotFound, "no table %q", table)
	}

	const keyQuery = `
		SELECT kcu.column_name, tc.constraint_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
			AND tc.table_name = kcu.table_name
		WHERE tc.constraint_type = 'PRIMARY KEY'
		  AND tc.table_schema = $1
		  AND tc.table_name   = $2
		ORDER BY kcu.ordinal_position`

	keys, err := r.exec.Query(ctx, keyQuery, r.namespace, table)
	if err != nil {
		return nil, errs.Annotate(err, "read primary key of "+table)
	}
	defer keys.Close()
	for keys.Next() {
		var col, name string
		if err := keys.Scan(&col, &name); err != nil {
			return nil, errs.Annotate(err, "scan key column")
		}
		t.Key = append(t.Key, col)
		t.KeyName = name
	}
	if err := keys.Err(); err != nil {
		return nil, errs.Annotate(err, "read primary key of "+table)
	}

	if b, err := json.Marshal(t); err == nil {
		r.cache.Set(key, b)
	}
	return t, nil
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

	if _, err := r.tableRows(ctx, table); err != nil {
		return nil, err
	}

	const q = `
		SELECT i.relname, ix.indisunique, a.attname
		FROM pg_class t
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_index ix ON ix.indrelid = t.oid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN LATERAL unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ord) ON true
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum
		WHERE n.nspname = $1
		  AND t.relname = $2
		  AND NOT ix.indisprimary
		  AND ix.indexprs IS NULL
		ORDER BY i.relname, k.ord`

	res, err := r.exec.Query(ctx, q, r.namespace, table)
	if err != nil {
		return nil, errs.Annotate(err, "read indexes of "+table)
	}
	defer res.Close()

	rows := []indexRow{}
	for res.Next() {
		var name, col string
		var unique bool
		if err := res.Scan(&name, &unique, &col); err != nil {
			return nil, errs.Annotate(err, "scan index column")
		}
		if n := len(rows); n > 0 && rows[n-1].Name == name {
			rows[n-1].Columns = append(rows[n-1].Columns, col)
			continue
		}
		rows = append(rows, indexRow{Name: name, Unique: unique, Columns: []string{col}})
	}
	if err := res.Err(); err != nil {
		return nil, errs.Annotate(err, "read indexes of "+table)
	}

	if b, err := json.Marshal(rows); err == nil {
		r.cache.Set(key, b)
	}
	return rows, nil
}
