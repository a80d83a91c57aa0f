// Package validate normalizes raw field captures, range-checks them against
// the template's rules, and scores the record. Per-field problems never
// abort the run; they are recorded and lower confidence.
package validate

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/utilitrack/invoice-pipeline/constants"
	"github.com/utilitrack/invoice-pipeline/internal/extract"
	"github.com/utilitrack/invoice-pipeline/internal/template"
)

// FieldResult is one field after normalization and rule checks. Raw is
// always retained so operators can inspect what was actually captured.
type FieldResult struct {
	Name  string
	Raw   string
	Found bool
	Fuzzy bool

	// Parsed means the raw value normalized cleanly (non-null value).
	Parsed bool
	// Valid means Parsed and within the field's declared rule.
	Valid bool
	// HasRule marks fields carrying a numeric range or date format.
	HasRule bool

	Number *float64
	Date   *time.Time
	Text   string
	// Display is the normalized value rendered per post-processing rules.
	Display string

	Issue string
}

// ScoredRecord is the validator's output: normalized fields, the confidence
// score, and the resulting status (validated, needs_review, or failed).
type ScoredRecord struct {
	Template   *template.Template
	Fields     []FieldResult
	Confidence float64
	Status     constants.Status
	Issues     []string
}

// Field returns the named field result, or nil.
func (s *ScoredRecord) Field(name string) *FieldResult {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i]
		}
	}
	return nil
}

// Number returns the normalized numeric value for name, if parsed.
func (s *ScoredRecord) Number(name string) *float64 {
	if f := s.Field(name); f != nil && f.Parsed {
		return f.Number
	}
	return nil
}

// Date returns the normalized date for name, if parsed.
func (s *ScoredRecord) Date(name string) *time.Time {
	if f := s.Field(name); f != nil && f.Parsed {
		return f.Date
	}
	return nil
}

// Validator scores extraction results against a threshold.
type Validator struct {
	logger    *slog.Logger
	threshold float64
}

// New builds a Validator. threshold <= 0 falls back to 0.7.
func New(threshold float64, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	if threshold <= 0 {
		threshold = 0.7
	}
	return &Validator{logger: logger, threshold: threshold}
}

// Fields the historical post-processing applies the currency multiplier to.
func multiplied(name string) bool {
	return name == "total_amount" || name == "service_charge"
}

// Fields rounded to the template's round_decimals.
func rounded(name string) bool {
	switch name {
	case "total_amount", "usage_rate", "service_charge":
		return true
	}
	return false
}

// Validate normalizes every captured field, applies range/format rules and
// the template's cross-field checks, computes the confidence score, and
// decides validated / needs_review / failed.
func (v *Validator) Validate(res extract.Result, tpl *template.Template) ScoredRecord {
	out := ScoredRecord{Template: tpl, Fields: make([]FieldResult, 0, len(tpl.Fields))}

	for _, spec := range tpl.Fields {
		fv, _ := res.Get(spec.Name)
		fr := v.validateField(fv, spec, tpl)
		if fr.Issue != "" {
			out.Issues = append(out.Issues, fr.Issue)
		}
		out.Fields = append(out.Fields, fr)
	}

	out.Confidence = score(tpl, out.Fields)
	out.Status = v.status(res, tpl, &out)

	if out.Status != constants.StatusFailed {
		if issues := crossFieldIssues(tpl, &out); len(issues) > 0 {
			out.Issues = append(out.Issues, issues...)
			// structurally usable but suspicious: keep it, flag it
			if out.Status == constants.StatusValidated {
				out.Status = constants.StatusNeedsReview
			}
		}
	}

	v.logger.Debug("validated record",
		"provider", tpl.Provider,
		"confidence", out.Confidence,
		"status", out.Status,
		"issues", len(out.Issues),
	)
	return out
}

func (v *Validator) validateField(fv extract.FieldValue, spec template.Field, tpl *template.Template) FieldResult {
	fr := FieldResult{
		Name:    spec.Name,
		Raw:     fv.Raw,
		Found:   fv.Found,
		Fuzzy:   fv.Fuzzy,
		HasRule: spec.Range != nil || spec.Type == template.FieldDate,
	}

	if !fv.Found {
		if spec.Required {
			fr.Issue = fmt.Sprintf("required field %q not found", spec.Name)
		}
		return fr
	}

	switch spec.Type {
	case template.FieldDecimal:
		n, err := strconv.ParseFloat(fv.Cleaned, 64)
		if err != nil {
			fr.Issue = fmt.Sprintf("field %q: cannot parse %q as decimal", spec.Name, fv.Raw)
			return fr
		}
		if multiplied(spec.Name) && tpl.AmountMultiplier != 1.0 {
			n *= tpl.AmountMultiplier
		}
		if rounded(spec.Name) {
			n = roundTo(n, tpl.RoundDecimals)
		}
		fr.Parsed = true
		fr.Number = &n
		fr.Display = strconv.FormatFloat(n, 'f', tpl.RoundDecimals, 64)
		fr.Valid = inRange(n, spec.Range)
		if !fr.Valid {
			fr.Issue = fmt.Sprintf("field %q: value %s outside validation range", spec.Name, fr.Display)
		}

	case template.FieldInteger:
		i, err := strconv.ParseInt(fv.Cleaned, 10, 64)
		if err != nil {
			fr.Issue = fmt.Sprintf("field %q: cannot parse %q as integer", spec.Name, fv.Raw)
			return fr
		}
		n := float64(i)
		fr.Parsed = true
		fr.Number = &n
		fr.Display = strconv.FormatInt(i, 10)
		fr.Valid = inRange(n, spec.Range)
		if !fr.Valid {
			fr.Issue = fmt.Sprintf("field %q: value %d outside validation range", spec.Name, i)
		}

	case template.FieldDate:
		d, err := time.Parse(spec.DateLayout, fv.Raw)
		if err != nil {
			fr.Issue = fmt.Sprintf("field %q: cannot parse %q with declared date format", spec.Name, fv.Raw)
			return fr
		}
		fr.Parsed = true
		fr.Date = &d
		fr.Display = d.Format(tpl.DateOutputLayout)
		fr.Valid = true

	case template.FieldString:
		fr.Parsed = true
		fr.Valid = true
		fr.Text = fv.Raw
		fr.Display = fv.Raw
	}

	return fr
}

func (v *Validator) status(res extract.Result, tpl *template.Template, out *ScoredRecord) constants.Status {
	usable := 0
	for _, fr := range out.Fields {
		if fr.Parsed {
			usable++
		}
	}
	// zero usable fields means the template simply did not fit this text
	if usable == 0 {
		return constants.StatusFailed
	}

	allRequired := true
	for _, spec := range tpl.Fields {
		if !spec.Required {
			continue
		}
		fr := out.Field(spec.Name)
		if fr == nil || !fr.Parsed {
			allRequired = false
			break
		}
	}

	// an out-of-range value is kept for review, never auto-validated
	anyInvalid := false
	for _, fr := range out.Fields {
		if fr.Parsed && !fr.Valid {
			anyInvalid = true
			break
		}
	}

	if allRequired && !anyInvalid && out.Confidence >= v.threshold {
		return constants.StatusValidated
	}
	return constants.StatusNeedsReview
}

func inRange(n float64, r *template.RangeRule) bool {
	if r == nil {
		return true
	}
	if r.Min != nil && n < *r.Min {
		return false
	}
	if r.Max != nil && n > *r.Max {
		return false
	}
	return true
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow10(decimals)
	return math.Round(v*p) / p
}
