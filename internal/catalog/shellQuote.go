package catalog

import "strings"

// argSafe reports whether r may appear unquoted in a device argument.
func argSafe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune("-_./@:,+=", r)
}

// shellQuote leaves s bare when every rune is argSafe and otherwise wraps it
// in single quotes, writing embedded quotes as '\''.
func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool { return !argSafe(r) }) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
