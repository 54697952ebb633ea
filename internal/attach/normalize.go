package attach

import (
	"html"
	"regexp"
	"strings"
)

var (
	separatorReplacer = strings.NewReplacer(
		"-", " ",
		"/", " ",
		`\`, " ",
		"_", " ",
		",", " ",
		".", " ",
	)
	trailingNumber = regexp.MustCompile(`\s\d+$`)
)

// CleanSKU decodes HTML entities and trims surrounding whitespace.
func CleanSKU(raw string) string {
	return strings.TrimSpace(html.UnescapeString(strings.TrimSpace(raw)))
}

// SearchTerm derives the media search keyword from a raw SKU. Separator characters become
// single spaces and a trailing number is dropped only when a space precedes it, so
// "WDG-100-2024" yields "WDG 100" while "SHIRT42" is kept as is. ok is false for an empty SKU.
func SearchTerm(raw string) (string, bool) {
	sku := CleanSKU(raw)
	if sku == "" {
		return "", false
	}
	term := separatorReplacer.Replace(sku)
	term = trailingNumber.ReplaceAllString(term, "")
	return term, true
}
