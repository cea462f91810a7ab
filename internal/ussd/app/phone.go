package app

import (
	"strings"

	"github.com/satmobi/satsgate/internal/ussd/domain"
)

// NormalizePhone folds the gateway's phone-number variants onto one canonical
// digit string: "+254712345678", "0712345678" and "712345678" all become
// "254712345678" for country code "254".
func NormalizePhone(raw, countryCode string) (string, error) {
	var digits strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == '+' || r == ' ' || r == '-':
			// separators and the leading plus are dropped
		default:
			return "", domain.ErrInvalidPhoneNumber
		}
	}

	n := digits.String()
	switch {
	case n == "":
		return "", domain.ErrInvalidPhoneNumber
	case strings.HasPrefix(n, countryCode):
		// already canonical
	case strings.HasPrefix(n, "0"):
		n = countryCode + n[1:]
	default:
		n = countryCode + n
	}

	if len(n) < 10 || len(n) > 15 {
		return "", domain.ErrInvalidPhoneNumber
	}
	return n, nil
}

// LatestInput extracts the newest token from the gateway's cumulative
// *-delimited input trail. The gateway resends the full trail on every call.
func LatestInput(trail string) string {
	if trail == "" {
		return ""
	}
	parts := strings.Split(trail, "*")
	return strings.TrimSpace(parts[len(parts)-1])
}

// trailTokens counts the inputs carried by a trail. The opening request has
// an empty trail and counts as zero, so after every step the token count
// equals the session's step counter.
func trailTokens(trail string) int {
	if trail == "" {
		return 0
	}
	return strings.Count(trail, "*") + 1
}
