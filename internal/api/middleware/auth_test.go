package middleware

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OfficialDeepSwap/A2A/internal/crypto"
	"github.com/OfficialDeepSwap/A2A/internal/models"
)

type signer struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func newSigner(t *testing.T) signer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return signer{pub: pub, priv: priv}
}

func (s signer) sign(r *http.Request, body string, nonce string, ts time.Time) {
	ms := ts.UnixMilli()
	payload := crypto.SignaturePayload(BodyHash([]byte(body)), nonce, ms)
	r.Header.Set(HeaderKey, base64.StdEncoding.EncodeToString(s.pub))
	r.Header.Set(HeaderNonce, nonce)
	r.Header.Set(HeaderTimestamp, strconv.FormatInt(ms, 10))
	r.Header.Set(HeaderSignature, base64.StdEncoding.EncodeToString(ed25519.Sign(s.priv, payload)))
}

func echoCaller(t *testing.T, seen *models.Address) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		require.True(t, ok)
		*seen = caller
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestRequireAuthAcceptsSignedRequest(t *testing.T) {
	s := newSigner(t)
	auth := NewAuthMiddleware(NewMemoryNonces(), 30*time.Second)
	var seen models.Address
	h := auth.RequireAuth(echoCaller(t, &seen))

	body := `{"name":"alice"}`
	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body))
	s.sign(req, body, crypto.NewNonce(), time.Now())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, crypto.AddressFromPublicKey(s.pub), seen)
}

func TestRequireAuthRejects(t *testing.T) {
	s := newSigner(t)
	other := newSigner(t)
	now := time.Now()

	cases := []struct {
		name  string
		setup func(r *http.Request)
		want  string
	}{
		{
			name:  "missing headers",
			setup: func(r *http.Request) {},
			want:  "missing auth headers",
		},
		{
			name: "stale timestamp",
			setup: func(r *http.Request) {
				s.sign(r, "", crypto.NewNonce(), now.Add(-time.Minute))
			},
			want: crypto.ErrSignatureExpired.Error(),
		},
		{
			name: "future timestamp",
			setup: func(r *http.Request) {
				s.sign(r, "", crypto.NewNonce(), now.Add(time.Minute))
			},
			want: crypto.ErrSignatureExpired.Error(),
		},
		{
			name: "short nonce",
			setup: func(r *http.Request) {
				s.sign(r, "", "abc", now)
			},
			want: crypto.ErrInvalidNonce.Error(),
		},
		{
			name: "body tampered",
			setup: func(r *http.Request) {
				s.sign(r, `{"x":2}`, crypto.NewNonce(), now)
			},
			want: crypto.ErrInvalidSignature.Error(),
		},
		{
			name: "key swapped",
			setup: func(r *http.Request) {
				s.sign(r, `{"x":1}`, crypto.NewNonce(), now)
				r.Header.Set(HeaderKey, base64.StdEncoding.EncodeToString(other.pub))
			},
			want: crypto.ErrInvalidSignature.Error(),
		},
		{
			name: "bad key",
			setup: func(r *http.Request) {
				s.sign(r, `{"x":1}`, crypto.NewNonce(), now)
				r.Header.Set(HeaderKey, "AAAA")
			},
			want: crypto.ErrInvalidPublicKey.Error(),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			auth := NewAuthMiddleware(NewMemoryNonces(), 30*time.Second)
			called := false
			h := auth.RequireAuth(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

			req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(`{"x":1}`))
			tc.setup(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.False(t, called)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.want)
		})
	}
}

func TestRequireAuthRejectsReplay(t *testing.T) {
	s := newSigner(t)
	auth := NewAuthMiddleware(NewMemoryNonces(), 30*time.Second)
	var seen models.Address
	h := auth.RequireAuth(echoCaller(t, &seen))

	nonce := crypto.NewNonce()
	ts := time.Now()

	first := httptest.NewRequest(http.MethodGet, "/messages/unread", nil)
	s.sign(first, "", nonce, ts)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, first)
	require.Equal(t, http.StatusNoContent, rec.Code)

	replay := httptest.NewRequest(http.MethodGet, "/messages/unread", nil)
	s.sign(replay, "", nonce, ts)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, replay)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), crypto.ErrInvalidNonce.Error())
}

func TestMemoryNonces(t *testing.T) {
	n := NewMemoryNonces()
	ctx := context.Background()

	fresh, err := n.UseNonce(ctx, "a", "nonce", time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, _ = n.UseNonce(ctx, "a", "nonce", time.Minute)
	assert.False(t, fresh)

	fresh, _ = n.UseNonce(ctx, "b", "nonce", time.Minute)
	assert.True(t, fresh)
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/agents/by-name/{name}", normalizePath("/agents/by-name/alice"))
	assert.Equal(t, "/agents/{id}", normalizePath("/agents/0xabc"))
	assert.Equal(t, "/messages/{id}", normalizePath("/messages/0x01"))
	assert.Equal(t, "/health", normalizePath("/health"))
}

func TestRateLimiterWithoutRedisPassesThrough(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{})
	calls := 0
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { calls++ })
	rl.Middleware(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/register", nil))
	rl.CallerMiddleware(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/messages", nil))
	assert.Equal(t, 2, calls)
}

func TestValidateRequest(t *testing.T) {
	h := ValidateRequest(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader("x"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/agents/me/deactivate", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/agents/search", nil)
	req.URL.RawQuery = "capability=<script>"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/agents/by-name/x", nil)
	req.URL.Path = "/agents/../stats"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMaxBodySize(t *testing.T) {
	h := MaxBodySize(8)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader("0123456789")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader("{}")))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}
