package reconcile

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Locale is the collation and casing locale for entity names.
var Locale = language.BrazilianPortuguese

// particles stay lower case inside a title-cased name.
var particles = map[string]struct{}{
	"da": {}, "de": {}, "do": {}, "das": {}, "dos": {}, "e": {}, "di": {}, "du": {},
}

// NormalizeIdentifier keeps only the ASCII letters and digits [A-Za-z0-9].
func NormalizeIdentifier(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if ('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// CleanName trims and collapses inner whitespace.
func CleanName(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

// FoldName produces the case and accent insensitive key stored in
// nome_normalizado. Two names fold to the same key when they are equal under
// the base-strength pt-BR collation.
func FoldName(raw string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, CleanName(raw))
	if err != nil {
		folded = CleanName(raw)
	}
	return cases.Fold().String(folded)
}

// TitleCase capitalizes each word of a name, keeping Portuguese particles in
// lower case unless they open the name.
func TitleCase(raw string) string {
	words := strings.Fields(raw)
	title := cases.Title(Locale)
	lower := cases.Lower(Locale)
	for i, w := range words {
		lw := lower.String(w)
		if _, ok := particles[lw]; ok && i > 0 {
			words[i] = lw
			continue
		}
		words[i] = title.String(w)
	}
	return strings.Join(words, " ")
}

// NameMatcher compares names with the pt-BR collation at base strength. A
// matcher is not safe for concurrent use.
type NameMatcher struct {
	collator *collate.Collator
}

func NewNameMatcher() *NameMatcher {
	return &NameMatcher{collator: collate.New(Locale, collate.IgnoreCase, collate.IgnoreDiacritics, collate.IgnoreWidth)}
}

func (m *NameMatcher) Equal(a, b string) bool {
	return m.collator.CompareString(CleanName(a), CleanName(b)) == 0
}

func (m *NameMatcher) Compare(a, b string) int {
	return m.collator.CompareString(CleanName(a), CleanName(b))
}
