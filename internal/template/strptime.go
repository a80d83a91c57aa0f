package template

import (
	"fmt"
	"strings"
)

// strptime directives the template format uses, mapped to Go layouts.
// Existing template files carry Python-style date formats; they are
// converted once at load.
var strptimeDirectives = map[byte]string{
	'd': "02",
	'e': "_2",
	'm': "01",
	'b': "Jan",
	'B': "January",
	'y': "06",
	'Y': "2006",
	'H': "15",
	'M': "04",
	'S': "05",
	'%': "%",
}

// StrptimeLayout converts a strptime-style format (e.g. "%d/%m/%Y") into a
// Go time layout. Unknown directives are a load-time error.
func StrptimeLayout(format string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(format) {
			return "", fmt.Errorf("date format %q: trailing %%", format)
		}
		layout, ok := strptimeDirectives[format[i]]
		if !ok {
			return "", fmt.Errorf("date format %q: unsupported directive %%%c", format, format[i])
		}
		b.WriteString(layout)
	}
	return b.String(), nil
}
