package device

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeName returns the URI-safe form of a camera name: spaces become
// underscores, accents are folded, anything outside [A-Za-z0-9_+-] is dropped
// and the result is upper-cased.
func NormalizeName(name string) string {
	folded, _, err := transform.String(
		transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
		strings.TrimSpace(name),
	)
	if err != nil {
		folded = strings.TrimSpace(name)
	}
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range strings.ReplaceAll(folded, " ", "_") {
		switch {
		case r > unicode.MaxASCII:
		case r == '_', r == '-', r == '+':
			b.WriteRune(r)
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		}
	}
	return strings.ToUpper(b.String())
}

// PathName is the lower-case relay path for a camera name.
func PathName(name string) string {
	return strings.ToLower(NormalizeName(name))
}

// SameName compares two camera names after normalization.
func SameName(a, b string) bool {
	return NormalizeName(a) == NormalizeName(b)
}
