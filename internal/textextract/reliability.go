package textextract

import (
	"regexp"
	"strings"
)

var (
	reDate   = regexp.MustCompile(`\b\d{1,2}[/\-]\d{1,2}[/\-]\d{2,4}\b|\b\d{4}-\d{2}-\d{2}\b`)
	reCurr   = regexp.MustCompile(`\b(aud|usd|eur|gbp)\b|[$£€]`)
	reAmount = regexp.MustCompile(`\b\d{1,3}(,\d{3})*(\.\d{2})\b|\b\d+\.\d{2}\b`)
	reUsage  = regexp.MustCompile(`\b(kwh|mj|kl|litres?)\b`)
)

// heuristicReliability estimates how usable OCR output is from the artifacts
// an invoice is expected to carry (dates, currency, amounts, usage units).
func heuristicReliability(txt string) float64 {
	txtL := strings.ToLower(txt)
	score := 0.2 // base
	if reDate.MatchString(txtL) {
		score += 0.2
	}
	if reCurr.MatchString(txtL) {
		score += 0.15
	}
	if reAmount.MatchString(txtL) {
		score += 0.15
	}
	if reUsage.MatchString(txtL) {
		score += 0.1
	}
	if len(txt) > 120 {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// significantChars counts non-whitespace runes; the threshold separating a
// usable text layer from a scan wrapper.
func significantChars(s string) int {
	n := 0
	for _, r := range s {
		if !strings.ContainsRune(" \t\r\n\f", r) {
			n++
		}
	}
	return n
}
