// Package device summarizes User-Agent strings for logs. Raw agents are long,
// high-cardinality and partly identifying, so guards log these summaries.
package device

import (
	"strings"

	"github.com/mssola/useragent"
)

// Describe returns a display name such as "Chrome on macOS" or
// "Safari on iPhone".
func Describe(userAgentString string) string {
	if userAgentString == "" {
		return "Unknown Device"
	}

	ua := useragent.New(userAgentString)
	browser, _ := ua.Browser()
	os := ua.OS()

	if ua.Mobile() {
		if platform := ua.Platform(); platform != "" {
			return strings.TrimSpace(browser + " on " + platform)
		}
	}
	if browser == "" {
		browser = "Unknown Browser"
	}
	if os == "" {
		os = "Unknown OS"
	}
	return strings.TrimSpace(browser + " on " + os)
}

// Family reduces a User-Agent to "browser|major|os|platform", lowercased.
// Minor browser updates keep the family; a different browser or OS does not.
func Family(userAgentString string) string {
	if userAgentString == "" {
		return ""
	}

	ua := useragent.New(userAgentString)
	browser, version := ua.Browser()

	major := "unknown"
	if v, _, _ := strings.Cut(version, "."); v != "" {
		major = v
	}
	platform := "desktop"
	if ua.Mobile() {
		platform = "mobile"
	}

	return strings.Join([]string{
		orUnknown(browser),
		major,
		orUnknown(ua.OS()),
		platform,
	}, "|")
}

// SameFamily reports whether two User-Agents belong to the same family.
func SameFamily(a, b string) bool {
	return Family(a) == Family(b)
}

func orUnknown(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "unknown"
	}
	return s
}
