package sqlite

import "strings"

// ddlToken is one lexical token of stored CREATE TABLE text. Quoted
// identifiers and strings carry their unescaped value.
type ddlToken struct {
	text   string
	quoted bool
}

// is reports whether t is the unquoted keyword kw.
func (t ddlToken) is(kw string) bool {
	return !t.quoted && strings.EqualFold(t.text, kw)
}

var closingQuote = map[byte]byte{'"': '"', '`': '`', '\'': '\'', '[': ']'}

// tokenizeDDL splits sql into words, quoted names and single punctuation
// characters. Comments and whitespace are dropped.
func tokenizeDDL(sql string) []ddlToken {
	var tokens []ddlToken
	for i := 0; i < len(sql); {
		c := sql[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case strings.HasPrefix(sql[i:], "--"):
			end := strings.IndexByte(sql[i:], '\n')
			if end < 0 {
				return tokens
			}
			i += end + 1
		case strings.HasPrefix(sql[i:], "/*"):
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				return tokens
			}
			i += end + 4
		case closingQuote[c] != 0:
			closer := closingQuote[c]
			var sb strings.Builder
			j := i + 1
			for j < len(sql) {
				if sql[j] == closer {
					// A doubled quote is an escaped quote, except in [brackets].
					if closer != ']' && j+1 < len(sql) && sql[j+1] == closer {
						sb.WriteByte(closer)
						j += 2
						continue
					}
					break
				}
				sb.WriteByte(sql[j])
				j++
			}
			tokens = append(tokens, ddlToken{text: sb.String(), quoted: true})
			i = j + 1
		case isWordByte(c):
			j := i
			for j < len(sql) && isWordByte(sql[j]) {
				j++
			}
			tokens = append(tokens, ddlToken{text: sql[i:j]})
			i = j
		default:
			tokens = append(tokens, ddlToken{text: string(c)})
			i++
		}
	}
	return tokens
}

func isWordByte(c byte) bool {
	return c == '_' || c == '$' || c >= 0x80 ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

// tableElements returns the comma separated items of the top-level
// parenthesized list: column definitions and table constraints.
func tableElements(tokens []ddlToken) [][]ddlToken {
	var (
		elements [][]ddlToken
		current  []ddlToken
		depth    int
	)
	for _, t := range tokens {
		if !t.quoted {
			switch t.text {
			case "(":
				depth++
				if depth == 1 {
					continue
				}
			case ")":
				depth--
				if depth == 0 {
					if len(current) > 0 {
						elements = append(elements, current)
					}
					return elements
				}
			case ",":
				if depth == 1 {
					elements = append(elements, current)
					current = nil
					continue
				}
			}
		}
		if depth >= 1 {
			current = append(current, t)
		}
	}
	return elements
}

// constraintWords open a table constraint rather than a column definition.
var constraintWords = []string{"CONSTRAINT", "PRIMARY", "UNIQUE", "CHECK", "FOREIGN"}

// declaresAutoincrement reports whether the definition of column in ddl
// carries PRIMARY KEY followed by AUTOINCREMENT. Names compare
// case-insensitively, as SQLite does.
func declaresAutoincrement(ddl, column string) bool {
	for _, el := range tableElements(tokenizeDDL(ddl)) {
		if len(el) == 0 {
			continue
		}
		name := el[0]
		if !strings.EqualFold(name.text, column) {
			continue
		}
		if !name.quoted && isConstraintWord(name) {
			continue
		}
		primary := false
		for i := 1; i < len(el); i++ {
			switch {
			case el[i].is("PRIMARY") && i+1 < len(el) && el[i+1].is("KEY"):
				primary = true
			case el[i].is("AUTOINCREMENT") && primary:
				return true
			}
		}
		return false
	}
	return false
}

func isConstraintWord(t ddlToken) bool {
	for _, w := range constraintWords {
		if t.is(w) {
			return true
		}
	}
	return false
}
