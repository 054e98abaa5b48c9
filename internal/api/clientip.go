package api

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/natssync/mstress/internal/config"
)

type ClientIPResolver struct {
	trustProxyHeaders bool
	trustedProxies    []netip.Prefix
}

func NewClientIPResolver(cfg *config.Config) *ClientIPResolver {
	if cfg == nil {
		return &ClientIPResolver{}
	}
	return &ClientIPResolver{
		trustProxyHeaders: cfg.TrustProxyHeaders,
		trustedProxies:    parseTrustedProxyCIDRs(cfg.TrustedProxyCIDRs),
	}
}

func (r *ClientIPResolver) FromRequest(req *http.Request) string {
	remote := parseRemoteIP(req.RemoteAddr)
	if !r.trustProxyHeaders || !r.isTrustedProxy(remote) {
		return ipString(remote)
	}

	if client := r.rightmostUntrustedIP(req.Header.Get("X-Forwarded-For")); client.IsValid() {
		return ipString(client)
	}
	if client := parseHeaderIP(req.Header.Get("X-Real-IP")); client.IsValid() {
		return ipString(client)
	}
	return ipString(remote)
}

// rightmostUntrustedIP walks X-Forwarded-For from the right, skipping our own
// proxies. Entries left of the first untrusted hop are client-controlled.
func (r *ClientIPResolver) rightmostUntrustedIP(xff string) netip.Addr {
	if xff == "" {
		return netip.Addr{}
	}
	parts := strings.Split(xff, ",")
	for i := len(parts) - 1; i >= 0; i-- {
		ip := parseHeaderIP(parts[i])
		if !ip.IsValid() || r.isTrustedProxy(ip) {
			continue
		}
		return ip
	}
	return netip.Addr{}
}

func (r *ClientIPResolver) isTrustedProxy(ip netip.Addr) bool {
	if !ip.IsValid() {
		return false
	}
	for _, p := range r.trustedProxies {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

func parseTrustedProxyCIDRs(cidrs []string) []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, entry := range cidrs {
		p, err := netip.ParsePrefix(strings.TrimSpace(entry))
		if err == nil {
			prefixes = append(prefixes, p.Masked())
		}
	}
	return prefixes
}

func parseRemoteIP(remoteAddr string) netip.Addr {
	if remoteAddr == "" {
		return netip.Addr{}
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return parseHeaderIP(host)
	}
	return parseHeaderIP(remoteAddr)
}

func parseHeaderIP(value string) netip.Addr {
	clean := strings.TrimSpace(value)
	if clean == "" {
		return netip.Addr{}
	}
	clean = strings.TrimSuffix(strings.TrimPrefix(clean, "["), "]")
	if ip, err := netip.ParseAddr(clean); err == nil {
		return ip.Unmap()
	}
	if ap, err := netip.ParseAddrPort(strings.TrimSpace(value)); err == nil {
		return ap.Addr().Unmap()
	}
	return netip.Addr{}
}

func ipString(ip netip.Addr) string {
	if !ip.IsValid() {
		return "unknown"
	}
	return ip.String()
}
