package pathutil

import "strings"

// SplitGlobList splits a comma separated list of glob patterns. Commas inside
// {a,b} alternation belong to the pattern. Entries are trimmed and empty ones
// dropped. A backslash escapes the next byte.
func SplitGlobList(s string) []string {
	var (
		out   []string
		depth int
		start int
	)
	add := func(p string) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '{':
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				add(s[start:i])
				start = i + 1
			}
		}
	}
	add(s[start:])
	return out
}

// BalancedBraces reports whether every unescaped "{" in pattern is closed by
// a later "}" and no "}" appears without an opener.
func BalancedBraces(pattern string) bool {
	depth := 0
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '\\':
			i++
		case '{':
			depth++
		case '}':
			if depth == 0 {
				return false
			}
			depth--
		}
	}
	return depth == 0
}
