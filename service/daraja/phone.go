package daraja

import (
	"fmt"
	"strings"
)

const canonicalPhoneLen = 12

var knownMobilePrefixes = func() map[string]struct{} {
	prefixes := map[string]struct{}{}
	for i := 700; i <= 759; i++ {
		prefixes[fmt.Sprintf("254%d", i)] = struct{}{}
	}
	for _, p := range []string{"768", "769", "790", "791", "792", "793", "794", "795", "796", "797", "798", "799",
		"110", "111", "112", "113", "114", "115"} {
		prefixes["254"+p] = struct{}{}
	}
	return prefixes
}()

// FormatPhoneNumber normalises 07XXXXXXXX, +2547XXXXXXXX, 2547XXXXXXXX and
// 7XXXXXXXX into 2547XXXXXXXX. Only a malformed number is an error.
func FormatPhoneNumber(raw string) (string, error) {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	phone := digits.String()

	switch {
	case strings.HasPrefix(phone, "254"):
	case strings.HasPrefix(phone, "0"):
		phone = "254" + phone[1:]
	case strings.HasPrefix(phone, "7"), strings.HasPrefix(phone, "1"):
		phone = "254" + phone
	default:
		return "", fmt.Errorf("%w: unrecognised format %q", ErrInvalidPhone, raw)
	}

	if len(phone) != canonicalPhoneLen {
		return "", fmt.Errorf("%w: %q has %d digits", ErrInvalidPhone, raw, len(phone))
	}
	return phone, nil
}

// IsKnownMobilePrefix reports whether a canonical number uses a known Kenyan
// mobile prefix.
func IsKnownMobilePrefix(phone string) bool {
	if len(phone) < 6 {
		return false
	}
	_, ok := knownMobilePrefixes[phone[:6]]
	return ok
}
