// Package extract applies a template's patterns to extracted text. Fields
// are attempted independently, in template declaration order; a field that
// fails to match never aborts the rest.
package extract

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/utilitrack/invoice-pipeline/internal/template"
)

// FieldValue is one field's raw capture.
type FieldValue struct {
	Name string
	// Raw is the captured text as it appeared in the document.
	Raw string
	// Cleaned has thousands separators and currency symbols stripped for
	// numeric fields; identical to Raw otherwise.
	Cleaned string
	Found   bool
	// Fuzzy marks a capture recovered by the generic fallback patterns
	// rather than the template's own.
	Fuzzy bool
}

// Result carries per-field captures in template order.
type Result struct {
	Fields []FieldValue
}

// Get returns the value captured for name.
func (r Result) Get(name string) (FieldValue, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldValue{}, false
}

// FoundCount returns how many fields produced a raw value.
func (r Result) FoundCount() int {
	n := 0
	for _, f := range r.Fields {
		if f.Found {
			n++
		}
	}
	return n
}

// currencyJunk strips thousands separators, currency symbols, and embedded
// spaces from numeric captures before normalization.
var currencyJunk = regexp.MustCompile(`[,$£€\s]|AUD`)

// fuzzyPatterns are last-resort captures for required fields that the
// template's own patterns missed, typically after lossy OCR.
var fuzzyPatterns = map[string][]*regexp.Regexp{
	"total_amount": {
		regexp.MustCompile(`(?i)total[:\s]*\$?([0-9,]+\.?[0-9]*)`),
		regexp.MustCompile(`(?i)amount[:\s]*\$?([0-9,]+\.?[0-9]*)`),
		regexp.MustCompile(`(?i)due[:\s]*\$?([0-9,]+\.?[0-9]*)`),
		regexp.MustCompile(`(?i)\$([0-9,]+\.[0-9]{2})\s*(?:total|due|amount)`),
	},
	"invoice_date": {
		regexp.MustCompile(`(\d{1,2}[/\-]\d{1,2}[/\-]\d{4})`),
		regexp.MustCompile(`(\d{4}[/\-]\d{1,2}[/\-]\d{1,2})`),
	},
	"usage_quantity": {
		regexp.MustCompile(`(?i)([0-9,]+\.?[0-9]*)\s*kwh`),
		regexp.MustCompile(`(?i)usage[:\s]*([0-9,]+\.?[0-9]*)`),
		regexp.MustCompile(`(?i)consumption[:\s]*([0-9,]+\.?[0-9]*)`),
	},
}

// Extractor applies templates to text.
type Extractor struct {
	logger *slog.Logger
}

// New builds an Extractor.
func New(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger}
}

// Extract runs every field of the template against text. For each field the
// patterns are tried in declared order and the first match in document order
// wins; there is no backtracking across fields. A field absent from the text
// yields Found=false, which is not an error here — required-ness is judged
// by the validator.
func (e *Extractor) Extract(text string, tpl *template.Template) Result {
	res := Result{Fields: make([]FieldValue, 0, len(tpl.Fields))}

	for _, field := range tpl.Fields {
		fv := FieldValue{Name: field.Name}

		for _, re := range field.Patterns {
			m := re.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			fv.Raw = strings.TrimSpace(m[1])
			fv.Found = true
			break
		}

		if !fv.Found && field.Required {
			if raw, ok := fuzzyExtract(text, field.Name); ok {
				fv.Raw = raw
				fv.Found = true
				fv.Fuzzy = true
				e.logger.Debug("fuzzy extraction", "field", field.Name, "raw", raw)
			}
		}

		if fv.Found {
			fv.Cleaned = cleanCapture(fv.Raw, field.Type)
		}
		res.Fields = append(res.Fields, fv)
	}

	return res
}

func fuzzyExtract(text, fieldName string) (string, bool) {
	for _, re := range fuzzyPatterns[fieldName] {
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1]), true
		}
	}
	return "", false
}

func cleanCapture(raw string, ft template.FieldType) string {
	switch ft {
	case template.FieldDecimal, template.FieldInteger:
		return currencyJunk.ReplaceAllString(raw, "")
	default:
		return raw
	}
}
