package refdata

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeCode folds a free-form label into a vocabulary code: diacritics are
// stripped, letters upper-cased, and runs of spaces or dashes become "_".
// "Depósito à vista" becomes "DEPOSITO_A_VISTA".
func NormalizeCode(label string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.TrimSpace(label))
	if err != nil {
		folded = strings.TrimSpace(label)
	}
	var b strings.Builder
	b.Grow(len(folded))
	pendingSep := false
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToUpper(r))
		case r == '_' || r == '-' || unicode.IsSpace(r):
			pendingSep = true
		}
	}
	return b.String()
}
