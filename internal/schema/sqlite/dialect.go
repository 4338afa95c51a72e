package sqlite

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/koustreak/reshape/internal/errs"
	"github.com/koustreak/reshape/internal/schema"
)

// autoincrementSQL is the declaration of an autoincrement key column. It
// makes the column a rowid alias whose values are never reused.
const autoincrementSQL = "INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL"

// Dialect renders SQLite identifiers, literals and types.
type Dialect struct {
	schema.LiteralQuoter
}

// NewDialect returns the SQLite dialect.
func NewDialect() Dialect {
	return Dialect{LiteralQuoter: schema.LiteralQuoter{
		True:  "1",
		False: "0",
		Blob:  schema.HexBlob,
	}}
}

func (Dialect) Name() string { return "sqlite" }

func (Dialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// nativeTypes maps abstract kinds to SQLite declarations and their default
// limit. Integer renders as "integer" so an INTEGER PRIMARY KEY stays a
// rowid alias after a rebuild.
var nativeTypes = map[schema.Kind]struct {
	name  string
	limit int
}{
	schema.KindString:     {"varchar", 255},
	schema.KindText:       {"text", 0},
	schema.KindMediumText: {"text", 0},
	schema.KindLongText:   {"text", 0},
	schema.KindInteger:    {"integer", 0},
	schema.KindFloat:      {"float", 0},
	schema.KindDecimal:    {"decimal", 0},
	schema.KindDatetime:   {"datetime", 0},
	schema.KindTimestamp:  {"datetime", 0},
	schema.KindTime:       {"time", 0},
	schema.KindDate:       {"date", 0},
	schema.KindBinary:     {"blob", 0},
	schema.KindBoolean:    {"boolean", 0},
}

func (Dialect) TypeSQL(t schema.Type) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	switch t.Kind {
	case schema.KindAutoincrementKey:
		return autoincrementSQL, nil
	case schema.KindNative:
		return t.Native, nil
	case schema.KindDecimal:
		switch {
		case t.Precision > 0 && t.Scale > 0:
			return fmt.Sprintf("decimal(%d,%d)", t.Precision, t.Scale), nil
		case t.Precision > 0:
			return fmt.Sprintf("decimal(%d)", t.Precision), nil
		}
		return "decimal", nil
	}

	native, ok := nativeTypes[t.Kind]
	if !ok {
		return "", errs.Newf(errs.ErrKindInvalidInput, "sqlite has no type for %s", t.Kind)
	}
	limit := t.Limit
	if limit == 0 {
		limit = native.limit
	}
	if limit > 0 {
		return fmt.Sprintf("%s(%d)", native.name, limit), nil
	}
	return native.name, nil
}

var typePattern = regexp.MustCompile(`^\s*([a-zA-Z ]+?)\s*(?:\(\s*(\d+)\s*(?:,\s*(\d+)\s*)?\))?\s*$`)

// parseType turns a declared column type back into a Type. Declarations
// outside the abstract vocabulary are kept verbatim as native types.
func parseType(decl string) schema.Type {
	m := typePattern.FindStringSubmatch(decl)
	if m == nil {
		return schema.Native(decl)
	}
	name := strings.ToLower(m[1])
	arg1, _ := strconv.Atoi(m[2])
	arg2, _ := strconv.Atoi(m[3])
	twoArgs := m[3] != ""

	switch name {
	case "varchar", "char", "character", "nvarchar", "nchar", "character varying", "varying character":
		if !twoArgs {
			return schema.String(arg1)
		}
	case "text", "mediumtext", "longtext":
		if m[2] == "" {
			kind := map[string]schema.Kind{
				"text":       schema.KindText,
				"mediumtext": schema.KindMediumText,
				"longtext":   schema.KindLongText,
			}[name]
			return schema.Type{Kind: kind}
		}
	case "int", "integer":
		if !twoArgs {
			return schema.Type{Kind: schema.KindInteger, Limit: arg1}
		}
	case "float":
		if m[2] == "" {
			return schema.Float()
		}
	case "decimal":
		if t := schema.Decimal(arg1, arg2); t.Validate() == nil {
			return t
		}
	case "datetime":
		if m[2] == "" {
			return schema.Datetime()
		}
	case "timestamp":
		if m[2] == "" {
			return schema.Type{Kind: schema.KindTimestamp}
		}
	case "time":
		if m[2] == "" {
			return schema.Type{Kind: schema.KindTime}
		}
	case "date":
		if m[2] == "" {
			return schema.Date()
		}
	case "blob":
		if !twoArgs {
			return schema.Type{Kind: schema.KindBinary, Limit: arg1}
		}
	case "boolean":
		if m[2] == "" {
			return schema.Boolean()
		}
	}
	return schema.Native(decl)
}

var hexBlobPattern = regexp.MustCompile(`^[xX]'([0-9a-fA-F]*)'$`)

// parseDefault decodes a dflt_value literal from PRAGMA table_info.
// Anything that is not a plain literal is kept as an expression.
func parseDefault(lit *string, kind schema.Kind) any {
	if lit == nil {
		return nil
	}
	s := strings.TrimSpace(*lit)
	if strings.EqualFold(s, "NULL") {
		return nil
	}

	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return strings.ReplaceAll(s[1:len(s)-1], "''", "'")
	}

	if m := hexBlobPattern.FindStringSubmatch(s); m != nil {
		if b, err := hex.DecodeString(m[1]); err == nil {
			return b
		}
	}

	if kind == schema.KindBoolean {
		switch strings.ToLower(s) {
		case "1", "true":
			return true
		case "0", "false":
			return false
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return schema.Expr(s)
}

var _ schema.Dialect = Dialect{}
