package realip

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		cfg        Config
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "no proxy trust ignores headers",
			cfg:        Config{},
			remoteAddr: "203.0.113.7:5555",
			headers:    map[string]string{"X-Forwarded-For": "1.2.3.4"},
			want:       "203.0.113.7",
		},
		{
			name:       "untrusted peer ignores headers",
			cfg:        Config{TrustProxy: true, TrustedProxies: []string{"10.0.0.0/8"}},
			remoteAddr: "203.0.113.7:5555",
			headers:    map[string]string{"X-Forwarded-For": "1.2.3.4"},
			want:       "203.0.113.7",
		},
		{
			name:       "trusted peer uses forwarded client",
			cfg:        Config{TrustProxy: true, TrustedProxies: []string{"10.0.0.0/8"}},
			remoteAddr: "10.1.2.3:443",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.9"},
			want:       "198.51.100.9",
		},
		{
			name:       "skips trusted hops from the right",
			cfg:        Config{TrustProxy: true, TrustedProxies: []string{"10.0.0.0/8", "192.168.1.1"}},
			remoteAddr: "10.0.0.2:443",
			headers:    map[string]string{"X-Forwarded-For": "6.6.6.6, 198.51.100.9, 192.168.1.1, 10.0.0.5"},
			want:       "198.51.100.9",
		},
		{
			name:       "all hops trusted returns leftmost",
			cfg:        Config{TrustProxy: true, TrustedProxies: []string{"10.0.0.0/8"}},
			remoteAddr: "10.0.0.2:443",
			headers:    map[string]string{"X-Forwarded-For": "10.0.0.9, 10.0.0.8"},
			want:       "10.0.0.9",
		},
		{
			name:       "falls back to X-Real-IP",
			cfg:        Config{TrustProxy: true, TrustedProxies: []string{"127.0.0.1"}},
			remoteAddr: "127.0.0.1:8080",
			headers:    map[string]string{"X-Real-IP": " 198.51.100.20 "},
			want:       "198.51.100.20",
		},
		{
			name:       "ipv6 peer",
			cfg:        Config{},
			remoteAddr: "[2001:db8::1]:443",
			want:       "2001:db8::1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := Middleware(tt.cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = GetClientIP(r)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/artworks", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePrefixes(t *testing.T) {
	got := ParsePrefixes([]string{"10.0.0.0/8", "192.168.1.1", "::1", "not-an-ip", " 172.16.5.0/12 "})
	var strs []string
	for _, p := range got {
		strs = append(strs, p.String())
	}
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.1/32", "::1/128", "172.16.0.0/12"}, strs)
}

func TestGetClientIP_WithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", GetClientIP(req))
}
