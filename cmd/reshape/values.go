package main

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/koustreak/reshape/internal/errs"
	"github.com/koustreak/reshape/internal/schema"
)

var typePattern = regexp.MustCompile(`^([A-Za-z]+)(?:\((\d+)(?:,\s*(\d+))?\))?$`)

// parseType reads a column type such as "string(80)", "decimal(10,2)" or
// "autoincrementKey".
func parseType(decl string) (schema.Type, error) {
	m := typePattern.FindStringSubmatch(strings.TrimSpace(decl))
	if m == nil {
		return schema.Type{}, errs.Newf(errs.ErrKindInvalidInput, "cannot parse column type %q", decl)
	}
	kind, err := schema.ParseKind(m[1])
	if err != nil {
		return schema.Type{}, err
	}
	t := schema.Type{Kind: kind}
	a, _ := strconv.Atoi(m[2])
	b, _ := strconv.Atoi(m[3])
	if kind == schema.KindDecimal {
		t.Precision, t.Scale = a, b
	} else {
		t.Limit = a
		if m[3] != "" {
			return schema.Type{}, errs.Newf(errs.ErrKindInvalidInput, "type %s takes one parameter", kind)
		}
	}
	return t, t.Validate()
}

// parseValue converts a command-line default for a column of kind k.
// "expr:" marks a raw SQL expression, e.g. expr:CURRENT_TIMESTAMP.
func parseValue(s string, k schema.Kind) (any, error) {
	if expr, ok := strings.CutPrefix(s, "expr:"); ok {
		return schema.Expr(expr), nil
	}
	switch k {
	case schema.KindInteger:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, errs.Newf(errs.ErrKindInvalidInput, "default %q is not an integer", s)
		}
		return n, nil
	case schema.KindFloat, schema.KindDecimal:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, errs.Newf(errs.ErrKindInvalidInput, "default %q is not a number", s)
		}
		return f, nil
	case schema.KindBoolean:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, errs.Newf(errs.ErrKindInvalidInput, "default %q is not a boolean", s)
		}
		return b, nil
	}
	return s, nil
}
