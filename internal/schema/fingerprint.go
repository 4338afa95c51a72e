package schema

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/koustreak/reshape/internal/database"
	"github.com/koustreak/reshape/internal/errs"
)

// Fingerprint returns a hex BLAKE3-256 digest of a table's columns, its
// indexes (sorted by name), its primary key and every row ordered by all
// columns. Two tables with equal fingerprints have identical structure and
// content.
func Fingerprint(ctx context.Context, m Migrator, table string) (string, error) {
	info, err := Describe(ctx, m, table)
	if err != nil {
		return "", err
	}

	h := blake3.New()
	writeStructure(h, info)

	rowCount, err := writeRows(ctx, h, m.Conn(), m.Dialect(), info)
	if err != nil {
		return "", errs.Annotate(err, "fingerprint rows of "+table)
	}
	fmt.Fprintf(h, "rows=%d\n", rowCount)

	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeStructure(w io.Writer, info *TableInfo) {
	for _, c := range info.Columns {
		fmt.Fprintf(w, "column %s %s notnull=%t default=%s\n",
			strconv.Quote(c.Name), c.Type, c.NotNull, valueText(c.Default))
	}

	idx := slices.Clone(info.Indexes)
	slices.SortFunc(idx, func(a, b Index) int { return strings.Compare(a.Name, b.Name) })
	for _, i := range idx {
		fmt.Fprintf(w, "index %s unique=%t %q\n", strconv.Quote(i.Name), i.Unique, i.Columns)
	}
	fmt.Fprintf(w, "primary %q\n", info.PrimaryKey.Columns)
}

func writeRows(ctx context.Context, w io.Writer, exec database.Execer, d Dialect, info *TableInfo) (int, error) {
	names := make([]string, len(info.Columns))
	order := make([]string, len(info.Columns))
	for i, c := range info.Columns {
		names[i] = c.Name
		order[i] = strconv.Itoa(i + 1)
	}

	q := "SELECT " + QuoteColumns(d, names) + " FROM " + d.QuoteIdent(info.Name) +
		" ORDER BY " + strings.Join(order, ", ")
	rows, err := exec.Query(ctx, q)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		vals := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return 0, err
		}
		for _, v := range vals {
			io.WriteString(w, valueText(v))
			io.WriteString(w, "\x1f")
		}
		io.WriteString(w, "\x1e")
		n++
	}
	return n, rows.Err()
}

// valueText renders a scanned value with its Go type so that 1 and "1"
// hash differently.
func valueText(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case []byte:
		return "bytes:" + hex.EncodeToString(val)
	default:
		return fmt.Sprintf("%T:%v", v, val)
	}
}
