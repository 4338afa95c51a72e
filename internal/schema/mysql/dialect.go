package mysql

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/koustreak/reshape/internal/errs"
	"github.com/koustreak/reshape/internal/schema"
)

const autoincrementSQL = "int(10) UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY"

// maxIdentLength is the longest identifier MySQL accepts.
const maxIdentLength = 64

// Dialect renders MySQL identifiers, literals and types.
type Dialect struct {
	schema.LiteralQuoter
}

// NewDialect returns the MySQL dialect. String literals escape
// backslashes since MySQL treats them as escape characters.
func NewDialect() Dialect {
	return Dialect{LiteralQuoter: schema.LiteralQuoter{
		True:      "1",
		False:     "0",
		Backslash: true,
		Blob:      schema.HexBlob,
	}}
}

func (Dialect) Name() string { return "mysql" }

func (Dialect) QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

var nativeTypes = map[schema.Kind]struct {
	name  string
	limit int
}{
	schema.KindString:     {"varchar", 255},
	schema.KindText:       {"text", 0},
	schema.KindMediumText: {"mediumtext", 0},
	schema.KindLongText:   {"longtext", 0},
	schema.KindInteger:    {"int", 11},
	schema.KindFloat:      {"float", 0},
	schema.KindDatetime:   {"datetime", 0},
	schema.KindTimestamp:  {"datetime", 0},
	schema.KindTime:       {"time", 0},
	schema.KindDate:       {"date", 0},
	schema.KindBinary:     {"blob", 0},
	schema.KindBoolean:    {"tinyint", 1},
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
		return "", errs.Newf(errs.ErrKindInvalidInput, "mysql has no type for %s", t.Kind)
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

var typePattern = regexp.MustCompile(`^([a-z]+)(?:\((\d+)(?:,(\d+))?\))?$`)

// parseType maps a SHOW FIELDS type back to a Type. Unsigned and other
// qualified declarations stay native.
func parseType(decl string) schema.Type {
	m := typePattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(decl)))
	if m == nil {
		return schema.Native(decl)
	}
	arg1, _ := strconv.Atoi(m[2])
	arg2, _ := strconv.Atoi(m[3])
	hasArgs := m[2] != ""

	switch m[1] {
	case "varchar", "char":
		return schema.String(arg1)
	case "text", "mediumtext", "longtext":
		if !hasArgs {
			return schema.Type{Kind: map[string]schema.Kind{
				"text":       schema.KindText,
				"mediumtext": schema.KindMediumText,
				"longtext":   schema.KindLongText,
			}[m[1]]}
		}
	case "int":
		if m[3] == "" {
			if arg1 == 11 {
				arg1 = 0
			}
			return schema.Type{Kind: schema.KindInteger, Limit: arg1}
		}
	case "tinyint":
		if arg1 == 1 && m[3] == "" {
			return schema.Boolean()
		}
	case "float":
		if !hasArgs {
			return schema.Float()
		}
	case "decimal":
		if t := schema.Decimal(arg1, arg2); t.Validate() == nil {
			return t
		}
	case "datetime":
		if !hasArgs {
			return schema.Datetime()
		}
	case "time":
		if !hasArgs {
			return schema.Type{Kind: schema.KindTime}
		}
	case "date":
		if !hasArgs {
			return schema.Date()
		}
	case "blob":
		if !hasArgs {
			return schema.Binary()
		}
	}
	return schema.Native(decl)
}

// parseDefault decodes a SHOW FIELDS Default, which MySQL reports
// unquoted. generated marks expression defaults.
func parseDefault(raw *string, kind schema.Kind, generated bool) any {
	if raw == nil {
		return nil
	}
	s := *raw
	if generated || strings.EqualFold(s, "CURRENT_TIMESTAMP") {
		return schema.Expr(s)
	}
	switch kind {
	case schema.KindBoolean:
		switch s {
		case "1":
			return true
		case "0":
			return false
		}
	case schema.KindInteger:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	case schema.KindFloat, schema.KindDecimal:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return s
}

// indexName truncates derived names to the identifier limit.
func indexName(table string, columns ...string) string {
	name := schema.IndexName(table, columns...)
	if len(name) > maxIdentLength {
		name = name[:maxIdentLength]
	}
	return name
}

var _ schema.Dialect = Dialect{}
