// Package template holds per-provider, per-service-type extraction templates.
// The on-disk JSON format is the pipeline's primary configuration surface and
// is kept compatible with existing template files: named fields with regex
// capture patterns, a validation rule, and post-processing settings.
package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/utilitrack/invoice-pipeline/constants"
)

// FieldType is the declared type of an extracted field.
type FieldType string

const (
	FieldDecimal FieldType = "decimal"
	FieldDate    FieldType = "date"
	FieldInteger FieldType = "integer"
	FieldString  FieldType = "string"
)

// RangeRule bounds a numeric field. Nil ends are unbounded.
type RangeRule struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// ValidationRules are the template's cross-field checks.
type ValidationRules struct {
	AmountUsageCorrelation bool `json:"amount_usage_correlation,omitempty"`
	DateSequenceCheck      bool `json:"date_sequence_check,omitempty"`
	ReasonableRatesCheck   bool `json:"reasonable_rates_check,omitempty"`
}

// Field is one compiled extraction field, in template declaration order.
type Field struct {
	Name     string
	Type     FieldType
	Required bool
	Patterns []*regexp.Regexp
	// DateLayout is the Go layout converted from the template's strptime
	// format; only set for date fields.
	DateLayout string
	Range      *RangeRule
}

// Template is an immutable compiled template. The registry replaces whole
// templates on update; nothing mutates a Template after Compile.
type Template struct {
	Provider    string
	ServiceType constants.ServiceType
	Version     string
	Fields      []Field

	// Post-processing settings.
	DateOutputLayout string
	AmountMultiplier float64
	RoundDecimals    int
	Rules            ValidationRules
}

// Field returns the named field spec, or nil.
func (t *Template) Field(name string) *Field {
	for i := range t.Fields {
		if t.Fields[i].Name == name {
			return &t.Fields[i]
		}
	}
	return nil
}

// RequiredFields lists the names of required fields in declaration order.
func (t *Template) RequiredFields() []string {
	var out []string
	for _, f := range t.Fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// --- on-disk representation ---

// patternConfig mirrors one entry of the "patterns" object.
type patternConfig struct {
	Regex      []string   `json:"regex"`
	Type       string     `json:"type"`
	Required   bool       `json:"required,omitempty"`
	Format     string     `json:"format,omitempty"`
	Validation *RangeRule `json:"validation,omitempty"`
}

type namedPattern struct {
	Name   string
	Config patternConfig
}

// orderedPatterns preserves the JSON object's declaration order, which
// defines field extraction order.
type orderedPatterns []namedPattern

func (o *orderedPatterns) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("patterns: expected object, got %v", tok)
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("patterns: unexpected key token %v", keyTok)
		}
		var cfg patternConfig
		if err := dec.Decode(&cfg); err != nil {
			return fmt.Errorf("patterns.%s: %w", name, err)
		}
		*o = append(*o, namedPattern{Name: name, Config: cfg})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

type postProcessing struct {
	DateFormat       string          `json:"date_format,omitempty"`
	AmountMultiplier *float64        `json:"amount_multiplier,omitempty"`
	RoundDecimals    *int            `json:"round_decimals,omitempty"`
	ValidationRules  ValidationRules `json:"validation_rules,omitempty"`
}

type templateFile struct {
	Provider    string          `json:"provider"`
	ServiceType string          `json:"service_type"`
	Version     string          `json:"version,omitempty"`
	Patterns    orderedPatterns `json:"patterns"`
	Post        postProcessing  `json:"post_processing,omitempty"`
}

// defaultFieldDateFormat matches the historical template default.
const defaultFieldDateFormat = "%d/%m/%Y"

// Parse validates raw template JSON against the schema, compiles every
// pattern, and returns an immutable Template. All structural problems
// surface here, at load time; a template that parses is safe to select.
func Parse(raw []byte) (*Template, error) {
	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	var tf templateFile
	if err := json.Unmarshal(raw, &tf); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}

	st, ok := constants.ParseServiceType(tf.ServiceType)
	if !ok {
		return nil, fmt.Errorf("template %q: unknown service_type %q", tf.Provider, tf.ServiceType)
	}

	t := &Template{
		Provider:         tf.Provider,
		ServiceType:      st,
		Version:          tf.Version,
		AmountMultiplier: 1.0,
		RoundDecimals:    2,
		Rules:            tf.Post.ValidationRules,
	}
	if tf.Post.AmountMultiplier != nil {
		t.AmountMultiplier = *tf.Post.AmountMultiplier
	}
	if tf.Post.RoundDecimals != nil {
		t.RoundDecimals = *tf.Post.RoundDecimals
	}
	outFormat := tf.Post.DateFormat
	if outFormat == "" {
		outFormat = "%Y-%m-%d"
	}
	layout, err := StrptimeLayout(outFormat)
	if err != nil {
		return nil, fmt.Errorf("template %q: post_processing.date_format: %w", tf.Provider, err)
	}
	t.DateOutputLayout = layout

	for _, np := range tf.Patterns {
		f, err := compileField(np)
		if err != nil {
			return nil, fmt.Errorf("template %q: %w", tf.Provider, err)
		}
		t.Fields = append(t.Fields, f)
	}
	if len(t.Fields) == 0 {
		return nil, fmt.Errorf("template %q: no patterns declared", tf.Provider)
	}
	return t, nil
}

func compileField(np namedPattern) (Field, error) {
	f := Field{
		Name:     np.Name,
		Type:     FieldType(np.Config.Type),
		Required: np.Config.Required,
		Range:    np.Config.Validation,
	}

	switch f.Type {
	case FieldDecimal, FieldInteger, FieldString:
	case FieldDate:
		format := np.Config.Format
		if format == "" {
			format = defaultFieldDateFormat
		}
		layout, err := StrptimeLayout(format)
		if err != nil {
			return Field{}, fmt.Errorf("field %q: %w", np.Name, err)
		}
		f.DateLayout = layout
	default:
		return Field{}, fmt.Errorf("field %q: unknown type %q", np.Name, np.Config.Type)
	}

	if f.Range != nil && f.Range.Min != nil && f.Range.Max != nil && *f.Range.Min > *f.Range.Max {
		return Field{}, fmt.Errorf("field %q: validation min %v exceeds max %v", np.Name, *f.Range.Min, *f.Range.Max)
	}

	for _, p := range np.Config.Regex {
		// templates match case-insensitively across lines
		re, err := regexp.Compile("(?im)" + p)
		if err != nil {
			return Field{}, fmt.Errorf("field %q: pattern %q: %w", np.Name, p, err)
		}
		if re.NumSubexp() < 1 {
			return Field{}, fmt.Errorf("field %q: pattern %q has no capture group", np.Name, p)
		}
		f.Patterns = append(f.Patterns, re)
	}
	if len(f.Patterns) == 0 {
		return Field{}, fmt.Errorf("field %q: no patterns", np.Name)
	}
	return f, nil
}
