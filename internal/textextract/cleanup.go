package textextract

import (
	"regexp"
	"strings"
)

var (
	reRunSpaces  = regexp.MustCompile(`[ \t]+`)
	reBlankLines = regexp.MustCompile(`\n\s*\n+`)

	// Digits misread as letters inside currency amounts, e.g. "$1O.5O".
	reCurrencyDigits = regexp.MustCompile(`(\$|AUD\$?)([0-9]*[OlIS][0-9OlIS]*\.?[0-9OlIS]*)`)

	digitFixer = strings.NewReplacer("O", "0", "l", "1", "I", "1", "S", "5")

	// Whole-word OCR misreads seen on scanned utility bills.
	wordFixer = strings.NewReplacer(
		"arnount", "amount",
		"tota1", "total",
		"tot al", "total",
		"bil1", "bill",
		"bi11", "bill",
		"KWH", "kWh",
		"kwh", "kWh",
		"KW H", "kWh",
	)
)

// CleanText normalizes extracted text for template matching: collapses
// whitespace runs (newlines survive, patterns are line-oriented) and repairs
// common OCR misrecognitions in numeric contexts.
func CleanText(text string) string {
	if text == "" {
		return ""
	}

	text = reRunSpaces.ReplaceAllString(text, " ")
	text = reBlankLines.ReplaceAllString(text, "\n")

	text = reCurrencyDigits.ReplaceAllStringFunc(text, func(m string) string {
		sub := reCurrencyDigits.FindStringSubmatch(m)
		return sub[1] + digitFixer.Replace(sub[2])
	})
	text = wordFixer.Replace(text)

	return strings.TrimSpace(text)
}
