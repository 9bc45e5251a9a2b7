// Package textnorm provides the text cleanup applied to rendered documents
// before tokenization: Unicode normalization-form fixup and wikitext
// detokenization.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"
)

// formByName maps normalization-form names as they appear in dataset configs.
var formByName = map[string]norm.Form{
	"NFC":  norm.NFC,
	"NFD":  norm.NFD,
	"NFKC": norm.NFKC,
	"NFKD": norm.NFKD,
}

// FixText applies the given Unicode normalization form and strips stray
// control characters (C0/C1 except tab, newline and carriage return) and
// replacement characters left behind by earlier decoding mistakes.
func FixText(text, form string) (string, error) {
	f, ok := formByName[form]
	if !ok {
		return "", errors.Errorf("unknown normalization form %q", form)
	}
	normalized := f.String(text)
	var sb strings.Builder
	sb.Grow(len(normalized))
	for _, r := range normalized {
		if r == 0xFFFD {
			continue
		}
		if unicode.IsControl(r) && r != '\t' && r != '\n' && r != '\r' {
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String(), nil
}

var (
	parenRE   = regexp.MustCompile(`\(\s*([^)]*?)\s*\)`)
	bracketRE = regexp.MustCompile(`\[\s*([^\]]*?)\s*\]`)
	braceRE   = regexp.MustCompile(`\{\s*([^}]*?)\s*\}`)
	dquoteRE  = regexp.MustCompile(`"\s*([^"]*?)\s*"`)
	squoteRE  = regexp.MustCompile(`'\s*([^']*?)\s*'`)
)

// WikitextDetokenize undoes the word-level tokenization of the wikitext
// datasets: rejoins punctuation, number separators ("@-@", "@,@", "@.@"),
// brackets and quotes, and collapses the spaced-out heading markers.
func WikitextDetokenize(text string) string {
	// Contractions.
	text = strings.ReplaceAll(text, "s '", "s'")

	// Number separators.
	text = strings.ReplaceAll(text, " @-@ ", "-")
	text = strings.ReplaceAll(text, " @,@ ", ",")
	text = strings.ReplaceAll(text, " @.@ ", ".")

	// Punctuation.
	text = strings.ReplaceAll(text, " : ", ": ")
	text = strings.ReplaceAll(text, " ; ", "; ")
	text = strings.ReplaceAll(text, " . ", ". ")
	text = strings.ReplaceAll(text, " ! ", "! ")
	text = strings.ReplaceAll(text, " ? ", "? ")
	text = strings.ReplaceAll(text, " , ", ", ")

	// Brackets and quotes.
	text = parenRE.ReplaceAllString(text, "($1)")
	text = bracketRE.ReplaceAllString(text, "[$1]")
	text = braceRE.ReplaceAllString(text, "{$1}")
	text = dquoteRE.ReplaceAllString(text, `"$1"`)
	text = squoteRE.ReplaceAllString(text, "'$1'")

	// Heading markers and leftovers.
	text = strings.ReplaceAll(text, "= = = =", "====")
	text = strings.ReplaceAll(text, "= = =", "===")
	text = strings.ReplaceAll(text, "= =", "==")
	text = strings.ReplaceAll(text, " ° ", "°")
	text = strings.ReplaceAll(text, " \n", "\n")
	text = strings.ReplaceAll(text, "\n ", "\n")
	text = strings.ReplaceAll(text, " N ", " 1 ")
	text = strings.ReplaceAll(text, " 's", "'s")
	return text
}
