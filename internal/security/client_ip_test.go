package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request(remote string, headers map[string]string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/rules", nil)
	r.RemoteAddr = remote
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestClientIPIgnoresForwardingFromUntrustedPeer(t *testing.T) {
	res, err := NewClientIPResolver(nil)
	require.NoError(t, err)

	r := request("198.51.100.4:5555", map[string]string{
		"X-Forwarded-For": "203.0.113.9",
		"X-Real-IP":       "203.0.113.10",
	})
	assert.Equal(t, "198.51.100.4", res.ClientIP(r))
}

func TestClientIPBehindTrustedProxy(t *testing.T) {
	res, err := NewClientIPResolver([]string{"10.0.0.0/8", "192.168.1.2"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{"no headers", "10.0.0.7:5555", nil, "10.0.0.7"},
		{"real ip", "10.0.0.7:5555", map[string]string{"X-Real-IP": "203.0.113.9"}, "203.0.113.9"},
		{"single hop", "10.0.0.7:5555", map[string]string{"X-Forwarded-For": "203.0.113.9"}, "203.0.113.9"},
		// the client controls the left side of the chain
		{"spoofed prefix", "10.0.0.7:5555", map[string]string{"X-Forwarded-For": "1.2.3.4, 203.0.113.9"}, "203.0.113.9"},
		{"proxy chain", "192.168.1.2:80", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.1.1.1"}, "203.0.113.9"},
		{"untrusted peer", "198.51.100.4:5555", map[string]string{"X-Forwarded-For": "203.0.113.9"}, "198.51.100.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, res.ClientIP(request(tt.remote, tt.headers)))
		})
	}
}

func TestNewClientIPResolverRejectsBadEntries(t *testing.T) {
	_, err := NewClientIPResolver([]string{"10.0.0.0/33"})
	assert.Error(t, err)

	_, err = NewClientIPResolver([]string{"proxy.local"})
	assert.Error(t, err)
}

func TestRemoteIP(t *testing.T) {
	assert.Equal(t, "10.0.0.7", RemoteIP(request("10.0.0.7:5555", nil)))
	assert.Equal(t, "pipe", RemoteIP(request("pipe", nil)))
}
