// Package privacy reduces client identifiers before they reach logs.
// Guard decisions always use the full values; only log lines are anonymized.
package privacy

import (
	"fmt"
	"net/netip"
	"strings"
)

// AnonymizeIP truncates an address to its network prefix: /24 for IPv4
// ("192.168.1.47" -> "192.168.1.0") and /48 for IPv6.
// Returns "unknown" for empty input and "invalid" for unparseable input.
func AnonymizeIP(ip string) string {
	if ip == "" || ip == "unknown" {
		return "unknown"
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "invalid"
	}
	addr = addr.Unmap()

	if addr.Is4() {
		b := addr.As4()
		return fmt.Sprintf("%d.%d.%d.0", b[0], b[1], b[2])
	}

	b := addr.As16()
	return fmt.Sprintf("%02x%02x:%02x%02x:%02x%02x::", b[0], b[1], b[2], b[3], b[4], b[5])
}

// MaskEmail keeps the first character of the local part and the domain:
// "alice@example.com" -> "a***@example.com".
func MaskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		if email == "" {
			return ""
		}
		return "***"
	}
	return local[:1] + "***@" + domain
}
