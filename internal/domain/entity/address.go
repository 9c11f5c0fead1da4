package entity

import "strings"

const addressHexLength = 40

// NormalizeAddress canonicalizes a wallet address string: trims whitespace,
// lower-cases, and for 0x-prefixed hex addresses collapses leading zeros and
// re-pads to exactly 40 hex digits. Non-conforming input is returned
// trimmed and lower-cased, otherwise unmodified. Idempotent.
func NormalizeAddress(address string) string {
	addr := strings.ToLower(strings.TrimSpace(address))
	if !strings.HasPrefix(addr, "0x") {
		return addr
	}

	digits := strings.TrimLeft(addr[2:], "0")
	if len(digits) > addressHexLength || !isHexDigits(digits) {
		return addr
	}

	return "0x" + strings.Repeat("0", addressHexLength-len(digits)) + digits
}

func isHexDigits(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
