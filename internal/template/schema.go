package template

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// templateSchema is the structural contract for template files, enforced
// eagerly at load. Top-level extras (ocr_settings and friends) are allowed
// so older template files keep loading unchanged.
const templateSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["provider", "service_type", "patterns"],
  "properties": {
    "provider": {"type": "string", "minLength": 1},
    "service_type": {"type": "string"},
    "version": {"type": "string"},
    "patterns": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {
        "type": "object",
        "required": ["regex", "type"],
        "additionalProperties": false,
        "properties": {
          "regex": {"type": "array", "minItems": 1, "items": {"type": "string", "minLength": 1}},
          "type": {"enum": ["decimal", "date", "integer", "string"]},
          "required": {"type": "boolean"},
          "format": {"type": "string", "minLength": 1},
          "validation": {
            "type": "object",
            "additionalProperties": false,
            "properties": {
              "min": {"type": "number"},
              "max": {"type": "number"}
            }
          }
        }
      }
    },
    "post_processing": {
      "type": "object",
      "additionalProperties": true,
      "properties": {
        "date_format": {"type": "string", "minLength": 1},
        "amount_multiplier": {"type": "number", "exclusiveMinimum": 0},
        "round_decimals": {"type": "integer", "minimum": 0, "maximum": 6},
        "validation_rules": {
          "type": "object",
          "additionalProperties": false,
          "properties": {
            "amount_usage_correlation": {"type": "boolean"},
            "date_sequence_check": {"type": "boolean"},
            "reasonable_rates_check": {"type": "boolean"}
          }
        }
      }
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("template.schema.json", templateSchema)

// validateSchema checks raw template JSON against the embedded schema.
func validateSchema(raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("template is not valid JSON: %w", err)
	}
	if err := compiledSchema.Validate(v); err != nil {
		return fmt.Errorf("template schema: %w", err)
	}
	return nil
}
