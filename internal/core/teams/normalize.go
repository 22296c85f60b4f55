package teams

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// clubAffixes are dropped when they stand alone as the first or last word,
// so "Malmö FF" and "malmo" compare equal.
var clubAffixes = map[string]bool{
	"fc": true, "cf": true, "afc": true, "sc": true, "ff": true, "if": true,
	"ac": true, "ssc": true, "club": true,
}

// Normalize lowercases, strips diacritics and punctuation, collapses
// whitespace, drops a leading or trailing club affix, then resolves
// through aliases.
func Normalize(s string, aliases map[string]string) string {
	if s == "" {
		return ""
	}
	s = stripDiacritics(s)
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '&' {
			return r
		}
		return ' '
	}, s)
	words := strings.Fields(s)
	if len(words) > 1 && clubAffixes[words[len(words)-1]] {
		words = words[:len(words)-1]
	}
	if len(words) > 1 && clubAffixes[words[0]] {
		words = words[1:]
	}
	s = strings.Join(words, " ")
	if canonical, ok := aliases[s]; ok {
		return canonical
	}
	return s
}

func stripDiacritics(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range norm.NFD.String(s) {
		if !unicode.Is(unicode.Mn, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
