// Package origin matches browser Origin headers against ALLOWED_ORIGINS
// entries. An entry is "*", an exact origin, a bare host, or "*.suffix".
package origin

import (
	"net"
	"net/url"
	"strings"
)

// Allowed reports whether origin matches any entry of allowed. An empty
// list allows nothing.
func Allowed(allowed []string, origin string) bool {
	originHost := Host(origin)
	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		switch {
		case entry == "":
			continue
		case entry == "*":
			return true
		case strings.EqualFold(entry, origin):
			return true
		case strings.HasPrefix(entry, "*."):
			suffix := strings.TrimPrefix(entry, "*.")
			if originHost != "" && (strings.EqualFold(originHost, suffix) || strings.HasSuffix(strings.ToLower(originHost), "."+strings.ToLower(suffix))) {
				return true
			}
		default:
			if h := Host(entry); h != "" && originHost != "" && strings.EqualFold(h, originHost) {
				return true
			}
		}
	}
	return false
}

// AllowsAll reports whether the list contains the "*" wildcard.
func AllowsAll(allowed []string) bool {
	for _, entry := range allowed {
		if strings.TrimSpace(entry) == "*" {
			return true
		}
	}
	return false
}

// SameHost reports whether origin points at the host serving the request.
func SameHost(origin, requestHost string) bool {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	return strings.EqualFold(stripPort(parsed.Host), stripPort(requestHost))
}

// Host extracts the hostname from an origin URL or a bare host[:port].
func Host(origin string) string {
	parsed, err := url.Parse(origin)
	if err == nil && parsed.Host != "" {
		return stripPort(parsed.Host)
	}
	return stripPort(origin)
}

func stripPort(host string) string {
	if host == "" {
		return host
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
}
