package models

import (
	"strings"
)

// Key layout shared with every other instance of the service. Changing a
// format here orphans live counters.
const (
	GlobalRequestsKey   = "global:all_requests"
	GlobalSuccessKey    = "success:global"
	accountKeyPrefix    = "account:"
	attemptKeyPrefix    = "failed_attempts:"
	lockoutKeyPrefix    = "locked:"
	ipSuccessKeyPrefix  = "success:ip:"
	defaultEndpointName = "default"
)

// IPKey is the plain per-IP counter key.
func IPKey(ip string) string {
	return ip
}

// EndpointKey is the per-IP per-endpoint counter key.
func EndpointKey(ip, endpoint string) string {
	return ip + ":" + endpoint
}

// AccountKey is the per-account per-action counter key.
func AccountKey(userID, action string) string {
	return accountKeyPrefix + escapeKeySegment(userID) + ":" + escapeKeySegment(action)
}

// AccountKeyPrefix matches every action counter of one account.
func AccountKeyPrefix(userID string) string {
	return accountKeyPrefix + escapeKeySegment(userID) + ":"
}

// FailedAttemptsKey is the rolling failed-login counter key.
func FailedAttemptsKey(userID string) string {
	return attemptKeyPrefix + escapeKeySegment(userID)
}

// LockoutKey holds the JSON LockoutRecord of a locked account.
func LockoutKey(userID string) string {
	return lockoutKeyPrefix + escapeKeySegment(userID)
}

// IPSuccessKey counts successful requests per IP.
func IPSuccessKey(ip string) string {
	return ipSuccessKeyPrefix + ip
}

// KeyFor builds the counter key an admin reset addresses. For endpoint
// limits identifier is "{ip}:{endpoint}"; for account limits it is
// "{userID}:{action}" or a bare user ID meaning the default action.
func KeyFor(limitType LimitType, identifier, defaultAction string) string {
	switch limitType {
	case LimitTypeGlobal:
		return GlobalRequestsKey
	case LimitTypeAccount:
		userID, action := identifier, defaultAction
		if i := strings.LastIndex(identifier, ":"); i > 0 {
			userID, action = identifier[:i], identifier[i+1:]
		}
		return AccountKey(userID, action)
	case LimitTypeEndpoint, LimitTypeIP:
		return identifier
	}
	return ""
}

// EndpointFromPath maps a request path to its endpoint name: the last
// non-empty path segment, lowercased with underscores folded to hyphens.
// Paths ending in "/" or empty paths map to "default".
func EndpointFromPath(path string) string {
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		path = path[i+1:]
	}
	if path == "" {
		return defaultEndpointName
	}
	return strings.ReplaceAll(strings.ToLower(path), "_", "-")
}

// escapeKeySegment percent-escapes the delimiter inside caller-controlled
// segments so "a:b"+"c" and "a"+"b:c" cannot share a bucket. Identifiers
// without ':' or '%' pass through unchanged.
func escapeKeySegment(s string) string {
	if !strings.ContainsAny(s, ":%") {
		return s
	}
	s = strings.ReplaceAll(s, "%", "%25")
	return strings.ReplaceAll(s, ":", "%3A")
}
