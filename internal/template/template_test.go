package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utilitrack/invoice-pipeline/constants"
)

const sampleTemplate = `{
  "provider": "AGL",
  "service_type": "electricity",
  "version": "1.2",
  "patterns": {
    "invoice_date": {
      "regex": ["issue date[:\\s]*([0-9]{1,2}/[0-9]{1,2}/[0-9]{4})"],
      "type": "date",
      "required": true,
      "format": "%d/%m/%Y"
    },
    "total_amount": {
      "regex": ["total amount due[:\\s]*\\$?([0-9,]+\\.[0-9]{2})"],
      "type": "decimal",
      "required": true,
      "validation": {"min": 1, "max": 5000}
    },
    "usage_quantity": {
      "regex": ["total usage[:\\s]*([0-9,]+\\.?[0-9]*)\\s*kwh"],
      "type": "decimal"
    }
  },
  "post_processing": {
    "date_format": "%Y-%m-%d",
    "round_decimals": 2,
    "validation_rules": {"date_sequence_check": true}
  }
}`

func TestParse(t *testing.T) {
	tpl, err := Parse([]byte(sampleTemplate))
	require.NoError(t, err)

	assert.Equal(t, "AGL", tpl.Provider)
	assert.Equal(t, constants.Electricity, tpl.ServiceType)
	assert.Equal(t, "1.2", tpl.Version)
	assert.Equal(t, "2006-01-02", tpl.DateOutputLayout)
	assert.Equal(t, 1.0, tpl.AmountMultiplier)
	assert.Equal(t, 2, tpl.RoundDecimals)
	assert.True(t, tpl.Rules.DateSequenceCheck)
	assert.False(t, tpl.Rules.AmountUsageCorrelation)

	require.Len(t, tpl.Fields, 3)
	assert.Equal(t, []string{"invoice_date", "total_amount"}, tpl.RequiredFields())

	date := tpl.Field("invoice_date")
	require.NotNil(t, date)
	assert.Equal(t, FieldDate, date.Type)
	assert.Equal(t, "02/01/2006", date.DateLayout)

	amount := tpl.Field("total_amount")
	require.NotNil(t, amount)
	require.NotNil(t, amount.Range)
	assert.Equal(t, 1.0, *amount.Range.Min)
	assert.Equal(t, 5000.0, *amount.Range.Max)
}

func TestParse_PreservesFieldOrder(t *testing.T) {
	tpl, err := Parse([]byte(sampleTemplate))
	require.NoError(t, err)

	var names []string
	for _, f := range tpl.Fields {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"invoice_date", "total_amount", "usage_quantity"}, names)
}

func TestParse_PatternsMatchCaseInsensitively(t *testing.T) {
	tpl, err := Parse([]byte(sampleTemplate))
	require.NoError(t, err)

	re := tpl.Field("total_amount").Patterns[0]
	m := re.FindStringSubmatch("TOTAL AMOUNT DUE: $245.67")
	require.NotNil(t, m)
	assert.Equal(t, "245.67", m[1])
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{
			name: "missing provider",
			raw:  `{"service_type":"gas","patterns":{"x":{"regex":["(a)"],"type":"string"}}}`,
		},
		{
			name: "unknown service type",
			raw:  `{"provider":"P","service_type":"internet","patterns":{"x":{"regex":["(a)"],"type":"string"}}}`,
		},
		{
			name: "no patterns",
			raw:  `{"provider":"P","service_type":"gas","patterns":{}}`,
		},
		{
			name: "pattern without capture group",
			raw:  `{"provider":"P","service_type":"gas","patterns":{"x":{"regex":["abc"],"type":"string"}}}`,
		},
		{
			name: "invalid regex",
			raw:  `{"provider":"P","service_type":"gas","patterns":{"x":{"regex":["(["],"type":"string"}}}`,
		},
		{
			name: "unknown field type",
			raw:  `{"provider":"P","service_type":"gas","patterns":{"x":{"regex":["(a)"],"type":"money"}}}`,
		},
		{
			name: "min exceeds max",
			raw:  `{"provider":"P","service_type":"gas","patterns":{"x":{"regex":["(a)"],"type":"decimal","validation":{"min":10,"max":1}}}}`,
		},
		{
			name: "unknown strptime directive",
			raw:  `{"provider":"P","service_type":"gas","patterns":{"x":{"regex":["(a)"],"type":"date","format":"%Q"}}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestParse_DateFieldDefaultFormat(t *testing.T) {
	raw := `{"provider":"P","service_type":"water","patterns":{
		"invoice_date":{"regex":["(\\d+/\\d+/\\d+)"],"type":"date","required":true}}}`
	tpl, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "02/01/2006", tpl.Field("invoice_date").DateLayout)
}

func TestStrptimeLayout(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"%d/%m/%Y", "02/01/2006"},
		{"%Y-%m-%d", "2006-01-02"},
		{"%d %b %Y", "02 Jan 2006"},
		{"%d %B %Y", "02 January 2006"},
		{"%d.%m.%y", "02.01.06"},
		{"%H:%M:%S", "15:04:05"},
		{"100%%", "100%"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := StrptimeLayout(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := StrptimeLayout("%d/%m/%Q")
	assert.Error(t, err)
}
