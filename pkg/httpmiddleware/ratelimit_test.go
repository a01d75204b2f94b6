package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestFrom(addr string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/purchase", nil)
	req.RemoteAddr = addr
	return req
}

func TestLimiter_SlidingWindow(t *testing.T) {
	l := newLimiter(RateLimitConfig{Max: 2, Window: time.Minute})
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	ok, remaining, reset := l.take("reg-1", base)
	require.True(t, ok)
	assert.Equal(t, 1, remaining)
	assert.Equal(t, base.Add(time.Minute), reset)

	ok, remaining, _ = l.take("reg-1", base.Add(10*time.Second))
	require.True(t, ok)
	assert.Zero(t, remaining)

	ok, _, _ = l.take("reg-1", base.Add(20*time.Second))
	assert.False(t, ok)

	// Halfway into the next window the previous two requests count as one.
	ok, _, _ = l.take("reg-1", base.Add(90*time.Second))
	assert.True(t, ok)
	ok, _, _ = l.take("reg-1", base.Add(90*time.Second))
	assert.False(t, ok)

	// Two idle windows later the history is gone.
	ok, remaining, _ = l.take("reg-1", base.Add(3*time.Minute))
	assert.True(t, ok)
	assert.Equal(t, 1, remaining)
}

func TestLimiter_Evict(t *testing.T) {
	l := newLimiter(RateLimitConfig{Max: 5, Window: time.Minute})
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	l.take("a", base)
	l.take("b", base.Add(90*time.Second))
	require.Equal(t, 2, l.size())

	l.evict(base.Add(2 * time.Minute))
	assert.Equal(t, 1, l.size())

	l.evict(base.Add(4 * time.Minute))
	assert.Zero(t, l.size())
}

func TestRateLimit_OverLimit(t *testing.T) {
	handler := RateLimit(RateLimitConfig{Max: 2, Window: time.Minute})(okHandler())

	for range 2 {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("10.0.0.1:9999"))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.1:1111"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, http.StatusTooManyRequests, body.Code)
	assert.Equal(t, "rate limit exceeded", body.Message)
}

func TestRateLimit_IndependentClients(t *testing.T) {
	handler := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.1:1234"))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.2:1234"))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.1:5678"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRateLimit_CustomKeyFunc(t *testing.T) {
	handler := RateLimit(RateLimitConfig{
		Max:    1,
		Window: time.Minute,
		KeyFunc: func(r *http.Request) string {
			return r.Header.Get("X-Register")
		},
	})(okHandler())

	send := func(register string) int {
		req := requestFrom("10.0.0.1:1")
		req.Header.Set("X-Register", register)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("30-90"))
	assert.Equal(t, http.StatusTooManyRequests, send("30-90"))
	assert.Equal(t, http.StatusOK, send("30-91"))
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{name: "remote addr", remote: "192.168.1.1:4444", want: "192.168.1.1"},
		{name: "remote without port", remote: "192.168.1.1", want: "192.168.1.1"},
		{name: "forwarded first hop", remote: "192.168.1.1:4444", headers: map[string]string{"X-Forwarded-For": "203.0.113.50, 70.41.3.18"}, want: "203.0.113.50"},
		{name: "real ip", remote: "192.168.1.1:4444", headers: map[string]string{"X-Real-IP": "198.51.100.7"}, want: "198.51.100.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := requestFrom(tt.remote)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}
