package sqlite

import (
	"context"
	"slices"
	"strings"

	"github.com/koustreak/reshape/internal/errs"
	"github.com/koustreak/reshape/internal/schema"
)

const (
	alteredPrefix   = "altered_"
	tempIndexPrefix = "temp_"
)

// copyOptions control one table copy.
type copyOptions struct {
	temporary bool

	// rename maps source column names to target names.
	rename map[string]string
}

// moveTable copies from into to and drops from.
func (s *Schema) moveTable(ctx context.Context, from, to string, opts copyOptions, ops ...schema.Op) error {
	if err := s.copyTable(ctx, from, to, opts, ops...); err != nil {
		return err
	}
	if _, err := s.Conn().Exec(ctx, "DROP TABLE "+s.dialect.QuoteIdent(from)); err != nil {
		return errs.Annotate(err, "drop table "+from)
	}
	schema.Invalidate(s.cache, from)
	return nil
}

// copyTable creates to with the structure of from, applies ops to the new
// definition, then copies the surviving indexes, the rows and the
// autoincrement sequence.
func (s *Schema) copyTable(ctx context.Context, from, to string, opts copyOptions, ops ...schema.Op) error {
	fromColumns, err := s.Columns(ctx, from)
	if err != nil {
		return err
	}
	pk, err := s.PrimaryKey(ctx, from)
	if err != nil {
		return err
	}

	for src := range opts.rename {
		if !slices.ContainsFunc(fromColumns, func(c schema.Column) bool { return c.Name == src }) {
			return errs.Newf(errs.ErrKindNotFound, "no column %q in table %q", src, from)
		}
	}

	// A single-column key is not necessarily an autoincrement key; only
	// the stored DDL tells.
	var autoincColumn string
	if len(pk.Columns) == 1 {
		ok, err := s.IsAutoincrementColumn(ctx, from, pk.Columns[0])
		if err != nil {
			return err
		}
		if ok {
			autoincColumn = pk.Columns[0]
		}
	}

	var defOpts []schema.DefinitionOption
	if opts.temporary {
		defOpts = append(defOpts, schema.Temporary())
	}
	def := schema.NewTableDefinition(to, s.dialect, defOpts...)

	for _, c := range fromColumns {
		target := c
		target.Name = renamed(opts.rename, c.Name)
		if c.Name == autoincColumn {
			target.Type = schema.AutoincrementKey()
		}
		if err := def.Column(target); err != nil {
			return err
		}
	}

	if autoincColumn == "" && len(pk.Columns) > 0 {
		keyCols := make([]string, len(pk.Columns))
		for i, c := range pk.Columns {
			keyCols[i] = renamed(opts.rename, c)
		}
		if err := def.PrimaryKey(keyCols...); err != nil {
			return err
		}
	}

	if err := schema.Apply(def, ops...); err != nil {
		return err
	}

	if err := def.End(ctx, s.Conn()); err != nil {
		return err
	}
	schema.Invalidate(s.cache, to)

	if err := s.copyIndexes(ctx, from, to, def, opts.rename); err != nil {
		return err
	}
	if err := s.copyContents(ctx, from, to, fromColumns, def.ColumnNames(), opts.rename); err != nil {
		return err
	}
	if _, ok := def.AutoincrementColumn(); ok && autoincColumn != "" {
		return s.copySequence(ctx, from, to)
	}
	return nil
}

// copyIndexes recreates the indexes of from on to. Index columns are
// renamed with the copy; an index whose columns do not all exist on to is
// dropped. Inline UNIQUE constraints come back as named unique indexes.
func (s *Schema) copyIndexes(ctx context.Context, from, to string, def *schema.TableDefinition, rename map[string]string) error {
	indexes, err := s.Indexes(ctx, from)
	if err != nil {
		return err
	}
	uniques, err := s.uniqueConstraints(ctx, from)
	if err != nil {
		return err
	}
	for _, cols := range uniques {
		indexes = append(indexes, schema.Index{
			Table:   from,
			Name:    schema.IndexName(from, cols...),
			Columns: cols,
			Unique:  true,
		})
	}

	seen := map[string]bool{}
	for _, idx := range indexes {
		cols := make([]string, len(idx.Columns))
		complete := true
		for i, c := range idx.Columns {
			cols[i] = renamed(rename, c)
			if _, ok := def.Lookup(cols[i]); !ok {
				complete = false
			}
		}
		if !complete {
			s.log.DebugWith("dropping index with removed columns", map[string]interface{}{
				"index": idx.Name, "table": to,
			})
			continue
		}

		name := indexName(idx.Name, from, to)
		if seen[name] {
			continue
		}
		seen[name] = true

		if _, err := s.Conn().Exec(ctx, createIndexSQL(s.dialect, to, name, cols, idx.Unique)); err != nil {
			return errs.Annotate(err, "copy index "+idx.Name)
		}
	}
	schema.Invalidate(s.cache, to)
	return nil
}

// indexName moves an index name from table from to table to. Index names
// share one namespace per database, so the hop to the altered_ twin adds a
// temp_ prefix and the hop back removes it.
func indexName(name, from, to string) string {
	switch {
	case to == alteredPrefix+from:
		return tempIndexPrefix + substituteTable(name, from, to)
	case from == alteredPrefix+to:
		return substituteTable(strings.TrimPrefix(name, tempIndexPrefix), from, to)
	default:
		return substituteTable(name, from, to)
	}
}

// substituteTable replaces the table name embedded in an index name,
// either as _<from>_ or as a leading <from>_.
func substituteTable(name, from, to string) string {
	name = strings.ReplaceAll(name, "_"+from+"_", "_"+to+"_")
	if strings.HasPrefix(name, from+"_") {
		name = to + "_" + strings.TrimPrefix(name, from+"_")
	}
	return name
}

// copyContents copies every row. Target columns are paired with their
// source counterparts through the inverted rename map; target columns
// without one keep their default.
func (s *Schema) copyContents(ctx context.Context, from, to string, fromColumns []schema.Column, toColumns []string, rename map[string]string) error {
	source := make(map[string]bool, len(fromColumns))
	for _, c := range fromColumns {
		source[c.Name] = true
	}
	inverse := make(map[string]string, len(rename))
	for src, dst := range rename {
		inverse[dst] = src
	}

	var targets, sources []string
	for _, col := range toColumns {
		src, ok := inverse[col]
		if !ok {
			src = col
			// A renamed-away source column does not feed a new column
			// that reuses its old name.
			if dst, moved := rename[col]; moved && dst != col {
				continue
			}
		}
		if source[src] {
			targets = append(targets, col)
			sources = append(sources, src)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	sql := "INSERT INTO " + s.dialect.QuoteIdent(to) + " (" + schema.QuoteColumns(s.dialect, targets) + ")" +
		" SELECT " + schema.QuoteColumns(s.dialect, sources) + " FROM " + s.dialect.QuoteIdent(from)
	n, err := s.Conn().Exec(ctx, sql)
	if err != nil {
		return errs.Annotate(err, "copy rows from "+from+" to "+to)
	}
	s.log.DebugWith("rows copied", map[string]interface{}{"from": from, "to": to, "rows": n})
	return nil
}

// copySequence carries the AUTOINCREMENT high-water mark of from over to
// to, so ids of deleted rows are not handed out again.
func (s *Schema) copySequence(ctx context.Context, from, to string) error {
	fromCatalog, err := s.catalogOf(ctx, from)
	if err != nil {
		return err
	}
	toCatalog, err := s.catalogOf(ctx, to)
	if err != nil {
		return err
	}

	var seq int64
	err = s.Conn().QueryRow(ctx,
		"SELECT seq FROM "+s.dialect.QuoteIdent(fromCatalog)+".sqlite_sequence WHERE name = ?", from).Scan(&seq)
	if errs.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return errs.Annotate(err, "read sequence of "+from)
	}

	seqTable := s.dialect.QuoteIdent(toCatalog) + ".sqlite_sequence"
	n, err := s.Conn().Exec(ctx, "UPDATE "+seqTable+" SET seq = MAX(seq, ?) WHERE name = ?", seq, to)
	if err != nil {
		return errs.Annotate(err, "update sequence of "+to)
	}
	if n == 0 {
		if _, err := s.Conn().Exec(ctx, "INSERT INTO "+seqTable+" (name, seq) VALUES (?, ?)", to, seq); err != nil {
			return errs.Annotate(err, "insert sequence of "+to)
		}
	}
	return nil
}

// catalogOf reports whether table lives in the temp or the main catalog.
func (s *Schema) catalogOf(ctx context.Context, table string) (string, error) {
	var n int64
	err := s.Conn().QueryRow(ctx,
		"SELECT COUNT(*) FROM sqlite_temp_master WHERE type = 'table' AND name = ?", table).Scan(&n)
	if err != nil {
		return "", errs.Annotate(err, "locate table "+table)
	}
	if n > 0 {
		return "temp", nil
	}
	return "main", nil
}

func renamed(rename map[string]string, name string) string {
	if to, ok := rename[name]; ok {
		return to
	}
	return name
}
