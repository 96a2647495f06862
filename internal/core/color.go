package core

import (
	"strings"
)

// DefaultCategoryColor is used when a category has no colour or an invalid one.
const DefaultCategoryColor = "#000000"

// NormalizeColor returns c as an upper-case "#RRGGBB" string. Short "#RGB"
// values are expanded; anything else becomes DefaultCategoryColor.
func NormalizeColor(c string) string {
	c = strings.TrimSpace(c)
	if !strings.HasPrefix(c, "#") {
		return DefaultCategoryColor
	}
	hex := strings.ToUpper(c[1:])
	for _, r := range hex {
		if !strings.ContainsRune("0123456789ABCDEF", r) {
			return DefaultCategoryColor
		}
	}
	switch len(hex) {
	case 3:
		var b strings.Builder
		b.WriteByte('#')
		for i := 0; i < 3; i++ {
			b.WriteByte(hex[i])
			b.WriteByte(hex[i])
		}
		return b.String()
	case 6:
		return "#" + hex
	default:
		return DefaultCategoryColor
	}
}
