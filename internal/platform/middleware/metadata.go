package middleware

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"signlink/pkg/requestcontext"
)

// ClientMetadata extracts client IP address and User-Agent from the request
// and adds them to the context for use by handlers and services.
func ClientMetadata(trust ProxyTrust) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithClientMetadata(r.Context(), ClientIPFromRequest(r, trust), r.Header.Get("User-Agent"))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestTime pins one "now" for the whole request.
func RequestTime(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ProxyTrust lists the peers allowed to report the client address through
// X-Forwarded-For or X-Real-IP. The zero value trusts nobody.
type ProxyTrust struct {
	prefixes []netip.Prefix
}

// ParseTrustedProxies accepts single addresses and CIDR ranges.
func ParseTrustedProxies(entries []string) (ProxyTrust, error) {
	var trust ProxyTrust
	for _, e := range entries {
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return ProxyTrust{}, fmt.Errorf("trusted proxy %q: %w", e, err)
			}
			trust.prefixes = append(trust.prefixes, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(e)
		if err != nil {
			return ProxyTrust{}, fmt.Errorf("trusted proxy %q: %w", e, err)
		}
		a = a.Unmap()
		trust.prefixes = append(trust.prefixes, netip.PrefixFrom(a, a.BitLen()))
	}
	return trust, nil
}

func (t ProxyTrust) trusts(raw string) bool {
	a, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	a = a.Unmap()
	for _, p := range t.prefixes {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

// ClientIPFromRequest resolves the client address. Forwarding headers count
// only when the direct peer is a trusted proxy; X-Forwarded-For is then read
// right to left up to the first untrusted hop.
func ClientIPFromRequest(r *http.Request, trust ProxyTrust) string {
	peer := remoteHost(r.RemoteAddr)
	if peer == "" {
		return "unknown"
	}
	if !trust.trusts(peer) {
		return peer
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if !trust.trusts(hop) {
				return hop
			}
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

func remoteHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return strings.Trim(addr, "[]")
}
