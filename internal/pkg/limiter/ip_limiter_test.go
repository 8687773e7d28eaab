package limiter

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"203.0.113.7:5123", "203.0.113.7"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"198.51.100.2", "198.51.100.2"},
		{"", "unknown_ip"},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = tt.remote
		assert.Equal(t, tt.want, ClientIP(r), tt.remote)
	}
}

func TestMiddlewareRejectsOverBurst(t *testing.T) {
	l := NewIPRateLimiter(rate.Every(time.Hour), 2)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(remote string) int {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.RemoteAddr = remote
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}

	assert.Equal(t, http.StatusNoContent, call("10.0.0.1:1"))
	assert.Equal(t, http.StatusNoContent, call("10.0.0.1:2"))
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.1:3"))

	// Buckets are per IP.
	assert.Equal(t, http.StatusNoContent, call("10.0.0.2:1"))
	assert.Equal(t, 2, l.Len())
}

func TestSweepRemovesRefilledBuckets(t *testing.T) {
	l := NewIPRateLimiter(rate.Every(time.Second), 1)

	require.True(t, l.GetLimiter("a").Allow())
	l.GetLimiter("b")

	removed, remaining := l.sweep(time.Now())
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, remaining)

	removed, remaining = l.sweep(time.Now().Add(2 * time.Second))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, remaining)
}
