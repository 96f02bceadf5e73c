package rules

import (
	"regexp"
	"strings"
	"unicode"
)

var leadingNumberRe = regexp.MustCompile(`^\s*\d+(?:\.\d+)*[.)]?\s+`)

// NormalizeName folds a section name or heading into its comparison form:
// lower case, "&" spelled "and", leading numbering removed, punctuation
// dropped and whitespace collapsed. "2.1 Roles & Responsibilities:" and
// "roles and responsibilities" normalize to the same string.
func NormalizeName(s string) string {
	s = leadingNumberRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "&", " and ")

	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
			space = false
			continue
		}
		space = true
	}
	return b.String()
}
