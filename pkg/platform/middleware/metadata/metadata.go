// Package metadata resolves the client address and User-Agent of a request
// and stores them in the request context. Guards key IP limits on the value
// resolved here, so forwarded headers are only honored from trusted proxies.
package metadata

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"authguard/pkg/requestcontext"
)

// MaxForwardedHeaderLength caps X-Forwarded-For and X-Real-IP values.
// Longer headers are ignored and the peer address is used.
const MaxForwardedHeaderLength = 512

// UnknownIP is stored when the peer address cannot be parsed.
const UnknownIP = "unknown"

// Resolver extracts client metadata from requests.
type Resolver struct {
	trusted []netip.Prefix
}

// New returns a Resolver trusting forwarded headers only from the given
// proxy prefixes. With no prefixes forwarded headers are never read.
func New(trustedProxies []netip.Prefix) *Resolver {
	return &Resolver{trusted: trustedProxies}
}

// Handler stores the resolved client IP and User-Agent in the context.
func (m *Resolver) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithClientMetadata(r.Context(), m.ClientIP(r), r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromTrustedProxy reports whether the request's peer is a trusted proxy.
// Identity headers set by an upstream layer are only honored when it is.
func (m *Resolver) FromTrustedProxy(r *http.Request) bool {
	peer, ok := peerAddr(r.RemoteAddr)
	return ok && m.isTrusted(peer)
}

// ClientIP returns the address the request originated from.
//
// X-Forwarded-For is walked from the right, skipping trusted proxies; the
// first untrusted hop is the client. A chain made only of trusted hops
// resolves to its leftmost entry.
func (m *Resolver) ClientIP(r *http.Request) string {
	peer, ok := peerAddr(r.RemoteAddr)
	if !ok {
		return UnknownIP
	}
	if !m.isTrusted(peer) {
		return peer.String()
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if len(xff) > MaxForwardedHeaderLength {
			return peer.String()
		}
		if client, ok := m.fromForwardedFor(xff); ok {
			return client.String()
		}
		return peer.String()
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" && len(xri) <= MaxForwardedHeaderLength {
		if addr, err := netip.ParseAddr(xri); err == nil {
			return addr.Unmap().String()
		}
	}
	return peer.String()
}

func (m *Resolver) fromForwardedFor(xff string) (netip.Addr, bool) {
	hops := strings.Split(xff, ",")
	var last netip.Addr
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			// A malformed hop means the chain cannot be trusted past this point.
			return netip.Addr{}, false
		}
		addr = addr.Unmap()
		if !m.isTrusted(addr) {
			return addr, true
		}
		last = addr
	}
	return last, last.IsValid()
}

func (m *Resolver) isTrusted(addr netip.Addr) bool {
	for _, prefix := range m.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// peerAddr parses RemoteAddr with or without a port.
func peerAddr(remoteAddr string) (netip.Addr, bool) {
	if remoteAddr == "" {
		return netip.Addr{}, false
	}
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(strings.Trim(host, "[]"))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
