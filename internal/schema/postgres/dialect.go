package postgres

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/koustreak/reshape/internal/errs"
	"github.com/koustreak/reshape/internal/schema"
)

// Dialect renders PostgreSQL identifiers, literals and types.
type Dialect struct {
	schema.LiteralQuoter
}

// NewDialect returns the PostgreSQL dialect.
func NewDialect() Dialect {
	return Dialect{LiteralQuoter: schema.LiteralQuoter{
		True:  "'t'",
		False: "'f'",
		Blob:  byteaLiteral,
	}}
}

func byteaLiteral(b []byte) string {
	return `'\x` + hex.EncodeToString(b) + `'::bytea`
}

func (Dialect) Name() string { return "postgres" }

func (Dialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

var nativeTypes = map[schema.Kind]struct {
	name  string
	limit int
}{
	schema.KindString:     {"character varying", 255},
	schema.KindText:       {"text", 0},
	schema.KindMediumText: {"text", 0},
	schema.KindLongText:   {"text", 0},
	schema.KindFloat:      {"float", 0},
	schema.KindDatetime:   {"timestamp", 0},
	schema.KindTimestamp:  {"timestamp", 0},
	schema.KindTime:       {"time", 0},
	schema.KindDate:       {"date", 0},
	schema.KindBinary:     {"bytea", 0},
	schema.KindBoolean:    {"boolean", 0},
}

func (Dialect) TypeSQL(t schema.Type) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	switch t.Kind {
	case schema.KindAutoincrementKey:
		return "serial primary key", nil
	case schema.KindNative:
		return t.Native, nil
	case schema.KindInteger:
		return integerSQL(t.Limit)
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
		return "", errs.Newf(errs.ErrKindInvalidInput, "postgres has no type for %s", t.Kind)
	}
	limit := t.Limit
	if limit == 0 {
		limit = native.limit
	}
	// Only character types take a length.
	if limit > 0 && t.Kind == schema.KindString {
		return fmt.Sprintf("%s(%d)", native.name, limit), nil
	}
	return native.name, nil
}

// integerSQL picks the integer type by byte size.
func integerSQL(limit int) (string, error) {
	switch {
	case limit == 0:
		return "integer", nil
	case limit <= 2:
		return "smallint", nil
	case limit <= 4:
		return "integer", nil
	case limit <= 8:
		return "bigint", nil
	}
	return "", errs.Newf(errs.ErrKindInvalidInput, "no integer type has byte size %d", limit)
}

// parseType maps an information_schema data_type back to a Type.
func parseType(dataType string, maxLen, precision, scale *int64) schema.Type {
	switch dataType {
	case "character varying", "character":
		return schema.String(intOf(maxLen))
	case "text":
		return schema.Text()
	case "integer":
		return schema.Integer()
	case "smallint":
		return schema.Type{Kind: schema.KindInteger, Limit: 2}
	case "bigint":
		return schema.Type{Kind: schema.KindInteger, Limit: 8}
	case "real", "double precision":
		return schema.Float()
	case "numeric":
		if t := schema.Decimal(intOf(precision), intOf(scale)); t.Validate() == nil {
			return t
		}
		return schema.Decimal(0, 0)
	case "timestamp without time zone":
		return schema.Datetime()
	case "time without time zone":
		return schema.Type{Kind: schema.KindTime}
	case "date":
		return schema.Date()
	case "bytea":
		return schema.Binary()
	case "boolean":
		return schema.Boolean()
	}
	return schema.Native(dataType)
}

func intOf(p *int64) int {
	if p == nil {
		return 0
	}
	return int(*p)
}

// castSuffix strips a trailing ::type cast from a column_default.
var castSuffix = regexp.MustCompile(`^(.*?)::[\w\s."\[\]]+$`)

// isSequenceDefault reports whether a column_default draws from a
// sequence, which is how serial columns are stored.
func isSequenceDefault(raw *string) bool {
	return raw != nil && strings.HasPrefix(strings.TrimSpace(*raw), "nextval(")
}

// parseDefault decodes a column_default. Anything that is not a plain
// literal is kept as an expression.
func parseDefault(raw *string, kind schema.Kind) any {
	if raw == nil || isSequenceDefault(raw) {
		return nil
	}
	full := strings.TrimSpace(*raw)
	s := full
	if m := castSuffix.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	if strings.EqualFold(s, "NULL") {
		return nil
	}

	quoted := len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\''
	if quoted {
		s = strings.ReplaceAll(s[1:len(s)-1], "''", "'")
	}

	switch kind {
	case schema.KindBoolean:
		switch strings.ToLower(s) {
		case "true", "t":
			return true
		case "false", "f":
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
	if quoted {
		return s
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return schema.Expr(full)
}

var _ schema.Dialect = Dialect{}
