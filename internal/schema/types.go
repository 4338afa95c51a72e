package schema

import (
	"fmt"
	"strings"

	"github.com/koustreak/reshape/internal/errs"
)

// Kind is the abstract column type vocabulary shared by every dialect.
type Kind int

const (
	KindString Kind = iota
	KindText
	KindMediumText
	KindLongText
	KindInteger
	KindFloat
	KindDecimal
	KindDatetime
	KindTimestamp
	KindTime
	KindDate
	KindBinary
	KindBoolean
	KindAutoincrementKey

	// KindNative carries an engine type outside the vocabulary. Its SQL is
	// kept verbatim in Type.Native so a rebuild does not lose it.
	KindNative
)

var kindNames = map[Kind]string{
	KindString:           "string",
	KindText:             "text",
	KindMediumText:       "mediumtext",
	KindLongText:         "longtext",
	KindInteger:          "integer",
	KindFloat:            "float",
	KindDecimal:          "decimal",
	KindDatetime:         "datetime",
	KindTimestamp:        "timestamp",
	KindTime:             "time",
	KindDate:             "date",
	KindBinary:           "binary",
	KindBoolean:          "boolean",
	KindAutoincrementKey: "autoincrementKey",
	KindNative:           "native",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind accepts the abstract type names used by migrations and the CLI.
// Matching is case-insensitive. "native" is not accepted: native types only
// come from introspection.
func ParseKind(name string) (Kind, error) {
	for k, s := range kindNames {
		if k != KindNative && strings.EqualFold(s, name) {
			return k, nil
		}
	}
	return 0, errs.Newf(errs.ErrKindInvalidInput, "unknown column type %q", name)
}

// MarshalText lets kinds appear by name in JSON and YAML.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	if string(b) == "native" {
		*k = KindNative
		return nil
	}
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Type is a column kind together with its parameters. Only the parameters
// meaningful for the kind may be set, see Validate.
type Type struct {
	Kind      Kind   `json:"kind"`
	Limit     int    `json:"limit,omitempty"`
	Precision int    `json:"precision,omitempty"`
	Scale     int    `json:"scale,omitempty"`
	Native    string `json:"native,omitempty"`
}

// Convenience constructors for the common kinds.

func String(limit int) Type { return Type{Kind: KindString, Limit: limit} }
func Text() Type            { return Type{Kind: KindText} }
func Integer() Type         { return Type{Kind: KindInteger} }
func Float() Type           { return Type{Kind: KindFloat} }
func Boolean() Type         { return Type{Kind: KindBoolean} }
func Datetime() Type        { return Type{Kind: KindDatetime} }
func Date() Type            { return Type{Kind: KindDate} }
func Binary() Type          { return Type{Kind: KindBinary} }
func AutoincrementKey() Type {
	return Type{Kind: KindAutoincrementKey}
}

func Decimal(precision, scale int) Type {
	return Type{Kind: KindDecimal, Precision: precision, Scale: scale}
}

// Native wraps an engine-specific type declaration verbatim.
func Native(sql string) Type { return Type{Kind: KindNative, Native: sql} }

// Validate rejects parameter combinations the kind cannot carry.
func (t Type) Validate() error {
	if t.Limit < 0 || t.Precision < 0 || t.Scale < 0 {
		return errs.Newf(errs.ErrKindInvalidInput, "%s: negative type parameter", t.Kind)
	}
	switch t.Kind {
	case KindString, KindInteger, KindBinary:
		if t.Precision != 0 || t.Scale != 0 {
			return errs.Newf(errs.ErrKindInvalidInput, "%s does not take precision or scale", t.Kind)
		}
	case KindDecimal:
		if t.Limit != 0 {
			return errs.New(errs.ErrKindInvalidInput, "decimal takes precision and scale, not a limit")
		}
		if t.Scale > 0 && t.Precision == 0 {
			return errs.New(errs.ErrKindInvalidInput, "decimal scale requires a precision")
		}
		if t.Scale > t.Precision && t.Precision > 0 {
			return errs.Newf(errs.ErrKindInvalidInput, "decimal scale %d exceeds precision %d", t.Scale, t.Precision)
		}
	case KindNative:
		// An empty declaration is a typeless column; dialects that cannot
		// express one reject it when rendering.
		return nil
	case KindText, KindMediumText, KindLongText, KindFloat, KindDatetime,
		KindTimestamp, KindTime, KindDate, KindBoolean, KindAutoincrementKey:
		if t.Limit != 0 || t.Precision != 0 || t.Scale != 0 {
			return errs.Newf(errs.ErrKindInvalidInput, "%s takes no parameters", t.Kind)
		}
	default:
		return errs.Newf(errs.ErrKindInvalidInput, "unknown column kind %d", int(t.Kind))
	}
	if t.Native != "" {
		return errs.Newf(errs.ErrKindInvalidInput, "%s cannot carry a native declaration", t.Kind)
	}
	return nil
}

func (t Type) String() string {
	switch {
	case t.Kind == KindNative:
		return t.Native
	case t.Kind == KindDecimal && t.Precision > 0 && t.Scale > 0:
		return fmt.Sprintf("decimal(%d,%d)", t.Precision, t.Scale)
	case t.Kind == KindDecimal && t.Precision > 0:
		return fmt.Sprintf("decimal(%d)", t.Precision)
	case t.Limit > 0:
		return fmt.Sprintf("%s(%d)", t.Kind, t.Limit)
	default:
		return t.Kind.String()
	}
}

// Expr is a raw SQL default expression, emitted unquoted
// (for example CURRENT_TIMESTAMP).
type Expr string

// Column describes one column of a table.
type Column struct {
	Name string `json:"name"`
	Type Type   `json:"type"`

	// Default is nil when the column has no default. Strings, numbers,
	// booleans, []byte, time.Time and Expr are supported.
	Default any `json:"default,omitempty"`

	NotNull bool `json:"not_null,omitempty"`
}

// IsAutoincrement reports whether the column is the table's autoincrement key.
func (c Column) IsAutoincrement() bool {
	return c.Type.Kind == KindAutoincrementKey
}

// PrimaryKeyName is the name under which a table's primary key is reported.
const PrimaryKeyName = "PRIMARY"

// Index describes an index of a table. A primary key is reported as an
// Index named PrimaryKeyName with Primary and Unique set.
type Index struct {
	Table   string   `json:"table"`
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
	Primary bool     `json:"primary,omitempty"`
}

// IndexOptions tune AddIndex. An empty Name derives one with IndexName.
type IndexOptions struct {
	Name   string
	Unique bool
}

// ChangeOptions carry the optional parts of a column change. Nil / unset
// fields leave the existing setting untouched.
type ChangeOptions struct {
	NotNull *bool

	// Default replaces the default when SetDefault is true. A nil Default
	// with SetDefault removes the default.
	Default    any
	SetDefault bool
}

// TableInfo is the full structural description of one table.
type TableInfo struct {
	Name       string   `json:"name"`
	Columns    []Column `json:"columns"`
	Indexes    []Index  `json:"indexes"`
	PrimaryKey Index    `json:"primary_key"`
}

// Lookup returns the column with the given name.
func (t *TableInfo) Lookup(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}
