package dialplan

import (
	"strings"

	"flexphone/internal/models"
)

// Dial-string handling: normalizing "how people dial" into what goes on
// the wire, and pulling the user part back out of SIP URIs for display
// and directory lookup.

// ExtractUser strips the sip:/sips: scheme and @domain from a URI to
// get the raw user part.
func ExtractUser(uri string) string {
	s := uri
	s = strings.TrimPrefix(s, "sip:")
	s = strings.TrimPrefix(s, "sips:")
	if idx := strings.Index(s, "@"); idx >= 0 {
		s = s[:idx]
	}
	if idx := strings.Index(s, ";"); idx >= 0 {
		s = s[:idx]
	}
	return s
}

// Normalize cleans a user-entered dial string: visual separators are
// dropped, a leading + is kept, and the result is validated against the
// dialable symbol set. A full sip: URI passes through untouched.
func Normalize(number string) (string, error) {
	trimmed := strings.TrimSpace(number)
	if trimmed == "" {
		return "", &models.InvalidNumberError{Number: number}
	}
	if strings.HasPrefix(trimmed, "sip:") || strings.HasPrefix(trimmed, "sips:") {
		return trimmed, nil
	}

	var b strings.Builder
	for i, r := range trimmed {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == '*' || r == '#':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
			// visual separators
		default:
			return "", &models.InvalidNumberError{Number: number}
		}
	}
	if b.Len() == 0 {
		return "", &models.InvalidNumberError{Number: number}
	}
	return b.String(), nil
}

// IsDTMF reports whether every rune in digits is a sendable DTMF
// symbol: 0-9, *, # or A-D. Empty input is not valid.
func IsDTMF(digits string) bool {
	if digits == "" {
		return false
	}
	for _, r := range digits {
		switch {
		case r >= '0' && r <= '9':
		case r == '*' || r == '#':
		case r >= 'A' && r <= 'D':
		default:
			return false
		}
	}
	return true
}
