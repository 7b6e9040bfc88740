package mirror

import (
	"strings"
	"unicode/utf8"
)

// splitText cuts text into units of at most max runes, preferring to break
// after a newline, then after a space.
func splitText(text string, max int) []string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return []string{text}
	}

	var units []string
	runes := []rune(text)
	for len(runes) > max {
		cut := max
		window := string(runes[:max])
		if i := strings.LastIndex(window, "\n"); i > 0 {
			cut = utf8.RuneCountInString(window[:i+1])
		} else if i := strings.LastIndex(window, " "); i > 0 {
			cut = utf8.RuneCountInString(window[:i+1])
		}
		units = append(units, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		units = append(units, string(runes))
	}
	return units
}
