package metadata

import (
	"unicode"
	"unicode/utf8"
)

// underscore converts a Go identifier to the column form bun derives when a
// field has no explicit name: CustomerID -> customer_id, PostalCode -> postal_code.
// An upper-case letter starts a new word when it sits between a lower-case
// letter and anything, or before a lower-case letter, but never at the end.
func underscore(s string) string {
	b := make([]byte, 0, len(s)+4)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !isUpper(c) {
			b = append(b, c)
			continue
		}
		if i > 0 && i+1 < len(s) && (isLower(s[i-1]) || isLower(s[i+1])) {
			b = append(b, '_')
		}
		b = append(b, c+('a'-'A'))
	}
	return string(b)
}

func isUpper(c byte) bool { return c >= 'A' && c <= 'Z' }
func isLower(c byte) bool { return c >= 'a' && c <= 'z' }

// propertyName turns an exported Go field name into a property id:
// CustomerName -> customerName, ID -> id, URLPath -> urlPath.
func propertyName(goName string) string {
	runes := []rune(goName)
	n := 0
	for n < len(runes) && unicode.IsUpper(runes[n]) {
		n++
	}
	switch {
	case n == 0:
		return goName
	case n == 1 || n == len(runes):
		// leading single capital, or an all-caps acronym
	default:
		// keep the last capital of an acronym for the next word: URLPath -> urlPath
		n--
	}
	for i := 0; i < n; i++ {
		runes[i] = unicode.ToLower(runes[i])
	}
	return string(runes)
}

func isExportedName(name string) bool {
	r, _ := utf8.DecodeRuneInString(name)
	return unicode.IsUpper(r)
}
