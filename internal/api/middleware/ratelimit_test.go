package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OfficialDeepSwap/A2A/internal/models"
)

func newTestLimiter(t *testing.T, cfg RateLimiterConfig) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRateLimiter(client, zerolog.Nop(), cfg), mr
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func serveFrom(h http.Handler, method, path, ip string, caller *models.Address) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = ip + ":40000"
	if caller != nil {
		req = req.WithContext(WithCaller(req.Context(), *caller))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiterLimitsRegistrationPerIP(t *testing.T) {
	rl, _ := newTestLimiter(t, RateLimiterConfig{})
	h := rl.Middleware(okHandler)

	for i := 0; i < 10; i++ {
		rec := serveFrom(h, http.MethodPost, "/register", "10.0.0.1", nil)
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
		assert.Equal(t, strconv.Itoa(9-i), rec.Header().Get("X-RateLimit-Remaining"))
	}

	rec := serveFrom(h, http.MethodPost, "/register", "10.0.0.1", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")

	assert.Equal(t, http.StatusOK, serveFrom(h, http.MethodPost, "/register", "10.0.0.2", nil).Code)
	// Unlimited routes are untouched.
	assert.Equal(t, http.StatusOK, serveFrom(h, http.MethodGet, "/health", "10.0.0.1", nil).Code)
}

func TestRateLimiterWhitelist(t *testing.T) {
	rl, _ := newTestLimiter(t, RateLimiterConfig{Whitelist: []string{"10.1.0.0/16", "10.2.0.9", "not-a-cidr/x"}})
	h := rl.Middleware(okHandler)

	for i := 0; i < 15; i++ {
		require.Equal(t, http.StatusOK, serveFrom(h, http.MethodPost, "/register", "10.1.2.3", nil).Code)
		require.Equal(t, http.StatusOK, serveFrom(h, http.MethodPost, "/register", "10.2.0.9", nil).Code)
	}
}

func TestCallerLimitKeysOnVerifiedAddress(t *testing.T) {
	rl, _ := newTestLimiter(t, RateLimiterConfig{})
	h := rl.CallerMiddleware(okHandler)
	alice, bob := models.Address{0x01}, models.Address{0x02}

	for i := 0; i < 60; i++ {
		req := httptest.NewRequest(http.MethodPost, "/messages", nil)
		// A different key header on every request does not reset the count.
		req.Header.Set(HeaderKey, strconv.Itoa(i))
		req = req.WithContext(WithCaller(req.Context(), alice))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}

	assert.Equal(t, http.StatusTooManyRequests, serveFrom(h, http.MethodPost, "/messages", "10.0.0.1", &alice).Code)
	// Same IP, different caller.
	assert.Equal(t, http.StatusOK, serveFrom(h, http.MethodPost, "/messages", "10.0.0.1", &bob).Code)
	// No caller in context: nothing to key on.
	assert.Equal(t, http.StatusOK, serveFrom(h, http.MethodPost, "/messages", "10.0.0.1", nil).Code)
}

func TestAutoBlockAfterRepeatedViolations(t *testing.T) {
	rl, mr := newTestLimiter(t, RateLimiterConfig{AutoBlockEnabled: true})
	h := rl.Middleware(okHandler)
	ip := "10.0.0.7"

	for i := 0; i < 10; i++ {
		require.Equal(t, http.StatusOK, serveFrom(h, http.MethodPost, "/register", ip, nil).Code)
	}
	for i := 0; i < autoBlockThreshold; i++ {
		require.Equal(t, http.StatusTooManyRequests, serveFrom(h, http.MethodPost, "/register", ip, nil).Code)
	}

	assert.True(t, mr.Exists(blockKey(ip)))
	rec := serveFrom(h, http.MethodGet, "/health", ip, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "temporarily blocked")

	assert.Equal(t, http.StatusOK, serveFrom(h, http.MethodGet, "/health", "10.0.0.8", nil).Code)
}

func TestNoAutoBlockWhenDisabled(t *testing.T) {
	rl, mr := newTestLimiter(t, RateLimiterConfig{})
	h := rl.Middleware(okHandler)
	ip := "10.0.0.7"

	for i := 0; i < 25; i++ {
		serveFrom(h, http.MethodPost, "/register", ip, nil)
	}
	assert.False(t, mr.Exists(blockKey(ip)))
	assert.Equal(t, http.StatusOK, serveFrom(h, http.MethodGet, "/health", ip, nil).Code)
}
