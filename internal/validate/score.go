package validate

import (
	"fmt"
	"math"
	"time"

	"github.com/utilitrack/invoice-pipeline/constants"
	"github.com/utilitrack/invoice-pipeline/internal/template"
)

// score computes the confidence formula:
//
//	0.6 * (required fields present / required fields total)
//	  + 0.4 * (fields within validation range / fields with rules)
//
// "Present" means normalized non-null. A component with an empty
// denominator is vacuously satisfied.
func score(tpl *template.Template, fields []FieldResult) float64 {
	reqTotal, reqPresent := 0, 0
	ruleTotal, ruleOK := 0, 0

	byName := make(map[string]*FieldResult, len(fields))
	for i := range fields {
		byName[fields[i].Name] = &fields[i]
	}

	for _, spec := range tpl.Fields {
		fr := byName[spec.Name]
		if spec.Required {
			reqTotal++
			if fr != nil && fr.Parsed {
				reqPresent++
			}
		}
		if fr != nil && fr.HasRule && fr.Found {
			ruleTotal++
			if fr.Valid {
				ruleOK++
			}
		}
	}

	reqComponent := 1.0
	if reqTotal > 0 {
		reqComponent = float64(reqPresent) / float64(reqTotal)
	}
	ruleComponent := 1.0
	if ruleTotal > 0 {
		ruleComponent = float64(ruleOK) / float64(ruleTotal)
	}

	s := 0.6*reqComponent + 0.4*ruleComponent
	return math.Max(0, math.Min(1, s))
}

// Reasonable unit-rate windows by service type, in AUD per billing unit
// (kWh for electricity, MJ for gas, L for water).
var reasonableRates = map[constants.ServiceType][2]float64{
	constants.Electricity: {0.10, 0.60},
	constants.Gas:         {0.02, 0.10},
	constants.Water:       {0.001, 0.01},
}

// crossFieldIssues runs the template's cross-field validation rules over
// normalized values. Violations are reported, never fatal.
func crossFieldIssues(tpl *template.Template, rec *ScoredRecord) []string {
	var issues []string

	if tpl.Rules.AmountUsageCorrelation {
		total := rec.Number("total_amount")
		qty := rec.Number("usage_quantity")
		rate := rec.Number("usage_rate")
		if total != nil && qty != nil && rate != nil && *total != 0 {
			expected := *qty * *rate
			// allow 20% variance for service charges etc.
			if math.Abs(expected-*total)/math.Abs(*total) > 0.2 {
				issues = append(issues,
					fmt.Sprintf("amount/usage correlation check failed: expected ~$%.2f, got $%.2f", expected, *total))
			}
		}
	}

	if tpl.Rules.DateSequenceCheck {
		start := rec.Date("billing_period_start")
		end := rec.Date("billing_period_end")
		if start != nil && end != nil {
			if !start.Before(*end) {
				issues = append(issues, "billing period start date is not before end date")
			} else if days := int(end.Sub(*start) / (24 * time.Hour)); days < 1 || days > 100 {
				issues = append(issues, fmt.Sprintf("billing period length unusual: %d days", days))
			}
		}
	}

	if tpl.Rules.ReasonableRatesCheck {
		if rate := rec.Number("usage_rate"); rate != nil {
			if window, ok := reasonableRates[tpl.ServiceType]; ok {
				if *rate < window[0] || *rate > window[1] {
					issues = append(issues,
						fmt.Sprintf("usage rate $%.3f outside reasonable range for %s", *rate, tpl.ServiceType))
				}
			}
		}
	}

	return issues
}
