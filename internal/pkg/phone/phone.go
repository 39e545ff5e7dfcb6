// Package phone turns SIP URIs into the digit strings used for routing and
// directory naming, and classifies local extensions.
//
// The PBX on the recorded segment prefixes some user parts with a routing
// code ending in a letter (109Q1427 is extension 1427), so the dialed number
// is always the last run of digits in the user part.
package phone

import "strings"

// URIFromHeader extracts the URI from a From/To/Refer-To header value.
// Example: "Alice" <sip:1427@pbx>;tag=1234 → sip:1427@pbx
func URIFromHeader(value string) string {
	value = strings.TrimSpace(value)
	if start := strings.IndexByte(value, '<'); start != -1 {
		end := strings.IndexByte(value[start:], '>')
		if end == -1 {
			return value[start+1:]
		}
		return value[start+1 : start+end]
	}

	// No brackets: the URI is the first token, header params follow ';'
	if fields := strings.Fields(value); len(fields) > 0 {
		value = fields[0]
	}
	if semi := strings.IndexByte(value, ';'); semi != -1 {
		value = value[:semi]
	}
	return value
}

// UserPart returns the substring between the last ':' before '@' and the '@'.
// Without an '@' it is everything after the scheme, up to URI parameters.
//   - sip:1427@host → 1427
//   - sip:user:secret@host → secret
//   - tel:+49123;phone-context=x → +49123
func UserPart(uri string) string {
	s := URIFromHeader(uri)

	if at := strings.IndexByte(s, '@'); at != -1 {
		head := s[:at]
		if colon := strings.LastIndexByte(head, ':'); colon != -1 {
			head = head[colon+1:]
		}
		return head
	}

	if colon := strings.IndexByte(s, ':'); colon != -1 {
		s = s[colon+1:]
	}
	if semi := strings.IndexByte(s, ';'); semi != -1 {
		s = s[:semi]
	}
	if q := strings.IndexByte(s, '?'); q != -1 {
		s = s[:q]
	}
	return s
}

// Digits extracts the dialed number from a URI, header value or bare number:
// the last run of ASCII digits in the user part. It returns "" when there are
// no digits. Digits is idempotent on its own output.
func Digits(uri string) string {
	return LastDigitRun(UserPart(uri))
}

// LastDigitRun returns the last maximal run of ASCII digits in s.
//   - 109Q1427 → 1427
//   - 01077141436 → 01077141436
//   - +821012345678 → 821012345678
func LastDigitRun(s string) string {
	end := -1
	for i := len(s) - 1; i >= 0; i-- {
		if isDigit(s[i]) {
			end = i + 1
			break
		}
	}
	if end == -1 {
		return ""
	}
	start := end - 1
	for start > 0 && isDigit(s[start-1]) {
		start--
	}
	return s[start:end]
}

// IsExtension reports whether digits is a local station number: exactly four
// digits with a leading 1-9.
func IsExtension(digits string) bool {
	return len(digits) == 4 && digits[0] >= '1' && digits[0] <= '9' && IsDigitsOnly(digits)
}

// IsDigitsOnly returns true if the string contains only ASCII digits.
func IsDigitsOnly(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
