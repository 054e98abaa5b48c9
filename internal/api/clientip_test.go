package api

import (
	"net/http/httptest"
	"testing"

	"github.com/natssync/mstress/internal/config"
)

func resolveFor(t *testing.T, trusted []string, remote string, headers map[string]string) string {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.TrustProxyHeaders = true
	cfg.TrustedProxyCIDRs = trusted

	req := httptest.NewRequest("GET", "http://example.com", nil)
	req.RemoteAddr = remote
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return NewClientIPResolver(cfg).FromRequest(req)
}

func TestClientIPResolver_TrustedProxy(t *testing.T) {
	ip := resolveFor(t, []string{"127.0.0.0/8", "10.0.0.0/8"}, "127.0.0.1:1234",
		map[string]string{"X-Forwarded-For": "198.51.100.7, 203.0.113.10, 10.0.0.1"})
	if ip != "203.0.113.10" {
		t.Fatalf("client ip = %s, want 203.0.113.10", ip)
	}
}

func TestClientIPResolver_UntrustedProxy(t *testing.T) {
	ip := resolveFor(t, []string{"10.0.0.0/8"}, "127.0.0.1:1234",
		map[string]string{"X-Forwarded-For": "203.0.113.10"})
	if ip != "127.0.0.1" {
		t.Fatalf("client ip = %s, want 127.0.0.1", ip)
	}
}

func TestClientIPResolver_FallbackToRealIP(t *testing.T) {
	ip := resolveFor(t, []string{"127.0.0.0/8"}, "127.0.0.1:1234",
		map[string]string{"X-Real-IP": "198.51.100.5"})
	if ip != "198.51.100.5" {
		t.Fatalf("client ip = %s, want 198.51.100.5", ip)
	}
}

func TestClientIPResolver_HeadersIgnoredWhenDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.TrustedProxyCIDRs = []string{"127.0.0.0/8"}
	req := httptest.NewRequest("GET", "http://example.com", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.10")

	if ip := NewClientIPResolver(cfg).FromRequest(req); ip != "127.0.0.1" {
		t.Fatalf("client ip = %s, want 127.0.0.1", ip)
	}
}

func TestParseHeaderIP(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"203.0.113.1", "203.0.113.1"},
		{" 203.0.113.1 ", "203.0.113.1"},
		{"[2001:db8::1]", "2001:db8::1"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"203.0.113.1:8080", "203.0.113.1"},
		{"::ffff:192.0.2.4", "192.0.2.4"},
		{"not-an-ip", "unknown"},
		{"", "unknown"},
	}
	for _, tt := range tests {
		if got := ipString(parseHeaderIP(tt.in)); got != tt.want {
			t.Errorf("parseHeaderIP(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
