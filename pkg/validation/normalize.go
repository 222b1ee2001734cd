package validation

import (
	"strings"
	"unicode"
)

// TrimFields trims surrounding whitespace from each referenced request field.
func TrimFields(fields ...*string) {
	for _, f := range fields {
		if f != nil {
			*f = strings.TrimSpace(*f)
		}
	}
}

// TrimEach trims every element of values in place.
func TrimEach(values []string) {
	for i, v := range values {
		values[i] = strings.TrimSpace(v)
	}
}

// snakeCase turns a JSON field name into the form used in error messages:
// holderIdentifier becomes holder_identifier and VPToken becomes vp_token.
func snakeCase(name string) string {
	runes := []rune(name)
	var b strings.Builder
	b.Grow(len(name) + 4)
	for i, r := range runes {
		if unicode.IsUpper(r) && i > 0 {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || nextLower {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
