package metadata

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"certledger/pkg/requestcontext"
)

func TestClientIPFromRequest(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain takes first", map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"}, "1.1.1.1:80", "10.0.0.1"},
		{"real ip", map[string]string{"X-Real-IP": " 10.0.0.9 "}, "1.1.1.1:80", "10.0.0.9"},
		{"garbage header falls through", map[string]string{"X-Forwarded-For": "bucket-of-my-choice"}, "1.1.1.1:80", "1.1.1.1"},
		{"mapped v4 is unwrapped", nil, "[::ffff:192.0.2.7]:80", "192.0.2.7"},
		{"remote addr v4", nil, "192.168.1.4:5555", "192.168.1.4"},
		{"remote addr v6", nil, "[::1]:5555", "::1"},
		{"no usable address", nil, "pipe", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIPFromRequest(r))
		})
	}
}

func TestClientMetadata(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/certificates/verify/x", nil)
	r.RemoteAddr = "203.0.113.5:1234"
	r.Header.Set("User-Agent", "curl/8.0 "+strings.Repeat("x", 1000))

	var called bool
	ClientMetadata(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, "203.0.113.5", requestcontext.ClientIP(r.Context()))
		ua := requestcontext.UserAgent(r.Context())
		assert.Len(t, ua, maxUserAgent)
		assert.True(t, strings.HasPrefix(ua, "curl/8.0"))
	})).ServeHTTP(httptest.NewRecorder(), r)
	assert.True(t, called)
}
