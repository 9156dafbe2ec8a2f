package conversation

import "strings"

// NormalizePhone canonicalizes a Russian mobile number to +7XXXXXXXXXX.
// Accepted inputs after stripping separators: ten digits starting with 9,
// or eleven digits starting with 79 or 89. Anything else is rejected.
func NormalizePhone(raw string) (string, bool) {
	digits := digitsOnly(raw)
	switch {
	case len(digits) == 10 && digits[0] == '9':
		return "+7" + digits, true
	case len(digits) == 11 && strings.HasPrefix(digits, "79"):
		return "+" + digits, true
	case len(digits) == 11 && strings.HasPrefix(digits, "89"):
		return "+7" + digits[1:], true
	default:
		return "", false
	}
}

// ValidPhone reports whether the input normalizes to a known format.
func ValidPhone(raw string) bool {
	_, ok := NormalizePhone(raw)
	return ok
}

// NormalizeContactPhone handles numbers arriving in a shared contact
// payload. The platform already verified ownership, so an unusual format
// (a foreign number) is kept verbatim with a + prefix rather than refused.
func NormalizeContactPhone(raw string) string {
	if normalized, ok := NormalizePhone(raw); ok {
		return normalized
	}
	digits := digitsOnly(raw)
	if digits == "" {
		return ""
	}
	return "+" + digits
}

func digitsOnly(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
