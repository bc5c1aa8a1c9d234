package detect

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultKeywords are label words that usually sit next to a signature area.
var DefaultKeywords = []string{
	"firma",
	"firmado",
	"nombre",
	"signature",
	"signed",
	"sign here",
	"name",
	"autorizado",
	"conforme",
	"unterschrift",
	"signataire",
}

// FoldText lowercases s, strips diacritics and collapses every run of
// non-letter, non-digit characters into a single space. "FIRMÁ:" becomes
// "firma".
func FoldText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	folded := cases.Fold().String(stripped)
	words := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(words, " ")
}

// MatchKeyword reports the first keyword that occurs in text as a whole word
// or phrase after folding both sides.
func MatchKeyword(text string, keywords []string) (string, bool) {
	haystack := " " + FoldText(text) + " "
	if strings.TrimSpace(haystack) == "" {
		return "", false
	}
	for _, kw := range keywords {
		needle := FoldText(kw)
		if needle == "" {
			continue
		}
		if strings.Contains(haystack, " "+needle+" ") {
			return kw, true
		}
	}
	return "", false
}
