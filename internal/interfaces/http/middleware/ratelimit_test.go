package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestLimiter(requests int, window time.Duration) (*RateLimiter, *time.Time) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(requests, window)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestRateLimiter(t *testing.T) {
	t.Run("allows a burst up to the limit", func(t *testing.T) {
		rl, _ := newTestLimiter(3, time.Minute)
		for i := range 3 {
			assert.True(t, rl.Allow("client"), "request %d", i+1)
		}
		assert.False(t, rl.Allow("client"))
	})

	t.Run("separate buckets per client", func(t *testing.T) {
		rl, _ := newTestLimiter(1, time.Minute)
		assert.True(t, rl.Allow("a"))
		assert.False(t, rl.Allow("a"))
		assert.True(t, rl.Allow("b"))
	})

	t.Run("refills over time", func(t *testing.T) {
		rl, now := newTestLimiter(2, time.Minute)
		assert.True(t, rl.Allow("client"))
		assert.True(t, rl.Allow("client"))

		ok, wait := rl.Reserve("client")
		assert.False(t, ok)
		assert.InDelta(t, 30*time.Second, wait, float64(time.Second))

		*now = now.Add(31 * time.Second)
		assert.True(t, rl.Allow("client"))
	})

	t.Run("sweeps idle clients", func(t *testing.T) {
		rl, now := newTestLimiter(5, time.Minute)
		rl.Allow("old")
		*now = now.Add(90 * time.Second)
		rl.Allow("fresh")
		*now = now.Add(60 * time.Second)

		assert.Equal(t, 1, rl.Sweep())
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	rl, _ := newTestLimiter(1, time.Minute)
	router := newEngine(RateLimit(rl))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "ERR_RATE_LIMITED")
}
