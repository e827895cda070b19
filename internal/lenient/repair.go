package lenient

import (
	"strings"
	"unicode"
)

// Repair applies the normalization passes in their fixed order:
// trailing commas, single quotes, bare keys, bare Python literals, control
// characters. Each pass is string-aware and leaves quoted content alone except
// where the pass is about quoted content.
func Repair(s string) string {
	s = StripTrailingCommas(s)
	s = SingleToDoubleQuotes(s)
	s = QuoteBareKeys(s)
	s = NormalizeLiterals(s)
	s = EscapeControlChars(s)
	return s
}

// Collapse replaces every whitespace or control-character run, including runs
// inside strings, with a single space.
func Collapse(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			if !space {
				b.WriteByte(' ')
				space = true
			}
			continue
		}
		space = false
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// scanner walks s tracking whether the cursor is inside a quoted string.
type scanner struct {
	src    string
	i      int
	quote  byte
	escape bool
}

// step advances one byte and reports whether that byte was outside any string
// (including opening quotes, which are reported as outside).
func (sc *scanner) step() (byte, bool) {
	c := sc.src[sc.i]
	sc.i++
	if sc.quote != 0 {
		if sc.escape {
			sc.escape = false
		} else if c == '\\' {
			sc.escape = true
		} else if c == sc.quote {
			sc.quote = 0
		}
		return c, false
	}
	if c == '"' || c == '\'' {
		sc.quote = c
	}
	return c, true
}

// StripTrailingCommas removes commas that directly precede a closing bracket.
func StripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	sc := &scanner{src: s}
	for sc.i < len(s) {
		c, outside := sc.step()
		if outside && c == ',' {
			j := sc.i
			for j < len(s) && isJSONSpace(s[j]) {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// SingleToDoubleQuotes rewrites 'single-quoted' strings as "double-quoted"
// strings, escaping embedded double quotes and unescaping \'.
// Apostrophes inside double-quoted strings are untouched.
func SingleToDoubleQuotes(s string) string {
	if !strings.Contains(s, "'") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	inDouble, inSingle, escape := false, false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inDouble:
			b.WriteByte(c)
			if escape {
				escape = false
			} else if c == '\\' {
				escape = true
			} else if c == '"' {
				inDouble = false
			}
		case inSingle:
			if escape {
				escape = false
				if c == '\'' {
					b.WriteByte('\'')
				} else {
					b.WriteByte('\\')
					b.WriteByte(c)
				}
				continue
			}
			switch c {
			case '\\':
				escape = true
			case '\'':
				inSingle = false
				b.WriteByte('"')
			case '"':
				b.WriteString(`\"`)
			default:
				b.WriteByte(c)
			}
		default:
			switch c {
			case '"':
				inDouble = true
				b.WriteByte(c)
			case '\'':
				inSingle = true
				b.WriteByte('"')
			default:
				b.WriteByte(c)
			}
		}
	}
	return b.String()
}

// QuoteBareKeys wraps unquoted object keys (identifiers followed by a colon
// after '{' or ',') in double quotes.
func QuoteBareKeys(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)
	sc := &scanner{src: s}
	expectKey := false
	for sc.i < len(s) {
		start := sc.i
		c, outside := sc.step()
		if !outside {
			b.WriteByte(c)
			continue
		}
		if c == '{' || c == ',' {
			expectKey = true
			b.WriteByte(c)
			continue
		}
		if expectKey && isIdentStart(c) {
			j := start
			for j < len(s) && isIdentPart(s[j]) {
				j++
			}
			k := j
			for k < len(s) && isJSONSpace(s[k]) {
				k++
			}
			if k < len(s) && s[k] == ':' {
				b.WriteByte('"')
				b.WriteString(s[start:j])
				b.WriteByte('"')
				sc.i = j
				expectKey = false
				continue
			}
		}
		if !isJSONSpace(c) {
			expectKey = false
		}
		b.WriteByte(c)
	}
	return b.String()
}

// NormalizeLiterals converts bare True/False/None tokens to JSON literals.
func NormalizeLiterals(s string) string {
	replacements := map[string]string{"True": "true", "False": "false", "None": "null"}
	var b strings.Builder
	b.Grow(len(s))
	sc := &scanner{src: s}
	for sc.i < len(s) {
		start := sc.i
		c, outside := sc.step()
		if outside && isIdentStart(c) && (start == 0 || !isIdentPart(s[start-1])) {
			j := start
			for j < len(s) && isIdentPart(s[j]) {
				j++
			}
			if rep, ok := replacements[s[start:j]]; ok {
				b.WriteString(rep)
				sc.i = j
				continue
			}
			b.WriteString(s[start:j])
			sc.i = j
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// EscapeControlChars escapes raw control characters that appear inside
// double-quoted strings. Control characters outside strings become spaces.
func EscapeControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	inString, escape := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x20 {
			if !inString {
				if isJSONSpace(c) {
					b.WriteByte(c)
				} else {
					b.WriteByte(' ')
				}
				continue
			}
			escape = false
			switch c {
			case '\n':
				b.WriteString(`\n`)
			case '\r':
				b.WriteString(`\r`)
			case '\t':
				b.WriteString(`\t`)
			default:
				b.WriteByte(' ')
			}
			continue
		}
		b.WriteByte(c)
		if inString {
			if escape {
				escape = false
			} else if c == '\\' {
				escape = true
			} else if c == '"' {
				inString = false
			}
		} else if c == '"' {
			inString = true
		}
	}
	return b.String()
}

func isJSONSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9') || c == '-'
}
