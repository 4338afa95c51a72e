package database

import "github.com/koustreak/reshape/internal/errs"

// ScanRows reads all rows from the result set and returns them as a slice
// of maps, where each key is the column name and each value is the Go-native
// representation of the DB value.
//
// The returned slice is always non-nil (empty slice on zero rows).
// ScanRows always closes the Rows, so callers need not call Close().
func ScanRows(rows Rows) ([]map[string]any, error) {
	columns, values, err := ScanValues(rows)
	if err != nil {
		return nil, err
	}

	result := make([]map[string]any, 0, len(values))
	for _, v := range values {
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalize(v[i])
		}
		result = append(result, row)
	}
	return result, nil
}

// ScanValues reads all rows positionally. It returns the column names and
// one slice of values per row, in result-set order. Rows is always closed.
func ScanValues(rows Rows) ([]string, [][]any, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to read column names", err)
	}

	result := make([][]any, 0)
	for rows.Next() {
		// Allocate scan targets as *any so the driver can write any type.
		dest := make([]any, len(columns))
		destPtrs := make([]any, len(columns))
		for i := range dest {
			destPtrs[i] = &dest[i]
		}

		if err := rows.Scan(destPtrs...); err != nil {
			return nil, nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to scan row", err)
		}
		result = append(result, dest)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, errs.Wrap(errs.ErrKindQueryFailed, "error during row iteration", err)
	}

	return columns, result, nil
}

// normalize turns driver byte slices of text columns into strings so the
// maps encode cleanly as JSON.
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
