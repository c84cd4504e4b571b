package sqlguard

import (
	"strings"
	"unicode"
)

// stripLeadingComments removes whitespace and leading -- / /* */ comments.
// An unterminated block comment swallows the rest of the text.
func stripLeadingComments(s string) string {
	for {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		switch {
		case strings.HasPrefix(s, "--"):
			i := strings.IndexByte(s, '\n')
			if i < 0 {
				return ""
			}
			s = s[i+1:]
		case strings.HasPrefix(s, "/*"):
			i := strings.Index(s[2:], "*/")
			if i < 0 {
				return ""
			}
			s = s[i+4:]
		default:
			return s
		}
	}
}

// firstWord returns the leading identifier-like token of s.
func firstWord(s string) string {
	end := 0
	for end < len(s) && isWordByte(s[end]) {
		end++
	}
	return s[:end]
}

func isWordByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

// splitStatements cuts s at the first ';' that is outside a quoted literal or
// identifier. Quotes follow SQLite rules: doubled quotes escape, backslash
// does not. rest is everything after the separator, or "" if there is none.
func splitStatements(s string) (head, rest string, found bool) {
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case ';':
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

// findDialectHazard reports the first backslash anywhere in s, or the first
// '#' outside a quoted literal or identifier.
func findDialectHazard(s string) (string, bool) {
	if strings.ContainsRune(s, '\\') {
		return "\\", true
	}
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '#':
			return "#", true
		}
	}
	return "", false
}

// hasStackedStatement reports whether a top-level ';' is followed by anything
// other than whitespace. A single trailing separator is tolerated.
func hasStackedStatement(s string) bool {
	_, rest, found := splitStatements(s)
	if !found {
		return false
	}
	return strings.TrimSpace(rest) != ""
}
