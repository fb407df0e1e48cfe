// Package frontmatter converts boards and cards to and from the markdown
// files stored in the repository. Output is deterministic: the same entity
// always produces byte-identical text so commits only carry real changes.
package frontmatter

import "strings"

var reservedWords = map[string]struct{}{
	"true":  {},
	"false": {},
	"null":  {},
}

// NeedsQuoting reports whether s must be written as a double-quoted scalar.
func NeedsQuoting(s string) bool {
	if _, ok := reservedWords[s]; ok {
		return true
	}
	if s == "" {
		return false
	}
	switch s[0] {
	case ' ', '-', '[', '{':
		return true
	}
	if s[0] >= '0' && s[0] <= '9' {
		return true
	}
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == ':' || c == '#' || c == '"' || c == '\'' || c == '\n':
			return true
		case c >= 0x80:
			return true
		}
	}
	return false
}

var quoteReplacer = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

// EscapeValue returns s unchanged when it is safe as a plain scalar and a
// double-quoted, backslash-escaped form otherwise.
func EscapeValue(s string) string {
	if !NeedsQuoting(s) {
		return s
	}
	return `"` + quoteReplacer.Replace(s) + `"`
}

// unquote reverses EscapeValue for a raw value read from a file.
func unquote(raw string) (string, error) {
	if !strings.HasPrefix(raw, `"`) {
		return raw, nil
	}
	var b strings.Builder
	b.Grow(len(raw))
	for i := 1; i < len(raw); i++ {
		c := raw[i]
		switch c {
		case '"':
			if rest := strings.TrimSpace(raw[i+1:]); rest != "" {
				return "", errorf("trailing characters after quoted value %q", raw)
			}
			return b.String(), nil
		case '\\':
			i++
			if i >= len(raw) {
				return "", errorf("dangling escape in %q", raw)
			}
			switch raw[i] {
			case 'n':
				b.WriteByte('\n')
			case '\\', '"':
				b.WriteByte(raw[i])
			default:
				return "", errorf("unknown escape \\%c in %q", raw[i], raw)
			}
		default:
			b.WriteByte(c)
		}
	}
	return "", errorf("unterminated quoted value %q", raw)
}
