package metadata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"authguard/pkg/requestcontext"
)

func prefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		out = append(out, netip.MustParsePrefix(c))
	}
	return out
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		trusted    []netip.Prefix
		remoteAddr string
		headers    map[string]string
		expected   string
	}{
		{
			name:       "forwarded header ignored without trusted proxies",
			remoteAddr: "192.168.1.1:12345",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.1"},
			expected:   "192.168.1.1",
		},
		{
			name:       "forwarded header ignored from untrusted peer",
			trusted:    prefixes("10.0.0.0/8"),
			remoteAddr: "198.51.100.7:443",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.1"},
			expected:   "198.51.100.7",
		},
		{
			name:       "trusted peer forwards client",
			trusted:    prefixes("10.0.0.0/8"),
			remoteAddr: "10.0.0.1:12345",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.1"},
			expected:   "203.0.113.1",
		},
		{
			name:       "spoofed leftmost hop is skipped",
			trusted:    prefixes("10.0.0.0/8"),
			remoteAddr: "10.0.0.1:12345",
			headers:    map[string]string{"X-Forwarded-For": "1.2.3.4, 203.0.113.9, 10.0.0.2"},
			expected:   "203.0.113.9",
		},
		{
			name:       "chain of trusted hops resolves to leftmost",
			trusted:    prefixes("10.0.0.0/8"),
			remoteAddr: "10.0.0.1:12345",
			headers:    map[string]string{"X-Forwarded-For": "10.1.1.1, 10.0.0.2"},
			expected:   "10.1.1.1",
		},
		{
			name:       "malformed hop falls back to peer",
			trusted:    prefixes("10.0.0.0/8"),
			remoteAddr: "10.0.0.1:12345",
			headers:    map[string]string{"X-Forwarded-For": "not-an-ip"},
			expected:   "10.0.0.1",
		},
		{
			name:       "oversized header falls back to peer",
			trusted:    prefixes("10.0.0.0/8"),
			remoteAddr: "10.0.0.1:12345",
			headers:    map[string]string{"X-Forwarded-For": strings.Repeat("1", MaxForwardedHeaderLength+1)},
			expected:   "10.0.0.1",
		},
		{
			name:       "real ip header from trusted peer",
			trusted:    prefixes("10.0.0.0/8"),
			remoteAddr: "10.0.0.1:12345",
			headers:    map[string]string{"X-Real-IP": "203.0.113.5"},
			expected:   "203.0.113.5",
		},
		{
			name:       "ipv6 peer with brackets",
			remoteAddr: "[2001:db8::1]:8443",
			expected:   "2001:db8::1",
		},
		{
			name:       "ipv4-mapped peer is unmapped",
			remoteAddr: "[::ffff:192.0.2.1]:80",
			expected:   "192.0.2.1",
		},
		{
			name:       "peer without port",
			remoteAddr: "192.0.2.44",
			expected:   "192.0.2.44",
		},
		{
			name:       "unparseable peer",
			remoteAddr: "garbage",
			expected:   UnknownIP,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, New(tt.trusted).ClientIP(req))
		})
	}
}

func TestHandlerStoresMetadata(t *testing.T) {
	var captured context.Context
	h := New(nil).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Context()
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.RemoteAddr = "192.0.2.8:5000"
	req.Header.Set("User-Agent", "curl/8.4.0")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "192.0.2.8", requestcontext.ClientIP(captured))
	assert.Equal(t, "curl/8.4.0", requestcontext.UserAgent(captured))
}

func TestFromTrustedProxy(t *testing.T) {
	resolver := New(prefixes("10.0.0.0/8"))
	cases := map[string]bool{
		"10.1.2.3:443":         true,
		"10.1.2.3":             true,
		"[::ffff:10.0.0.9]:80": true,
		"198.51.100.7:443":     false,
		"":                     false,
		"not-an-address:80":    false,
	}
	for remoteAddr, want := range cases {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = remoteAddr
		assert.Equal(t, want, resolver.FromTrustedProxy(r), remoteAddr)
	}
}
