package cleaning

import (
	"fmt"
	"strings"
)

// strftimeToLayout converts the strftime-style patterns used by feed
// configs (e.g. "%d/%m/%Y") into Go time layouts. Only the verbs that
// actually appear in feed configs are supported; anything else is a
// config authoring error surfaced at load time.
func strftimeToLayout(pattern string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(pattern) {
			return "", fmt.Errorf("dangling %% in pattern %q", pattern)
		}
		i++
		switch pattern[i] {
		case 'Y':
			b.WriteString("2006")
		case 'y':
			b.WriteString("06")
		case 'm':
			b.WriteString("01")
		case 'd':
			b.WriteString("02")
		case 'H':
			b.WriteString("15")
		case 'M':
			b.WriteString("04")
		case 'S':
			b.WriteString("05")
		case '%':
			b.WriteByte('%')
		default:
			return "", fmt.Errorf("unsupported strftime verb %%%c in pattern %q", pattern[i], pattern)
		}
	}
	return b.String(), nil
}
