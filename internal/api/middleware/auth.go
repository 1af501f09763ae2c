package middleware

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/OfficialDeepSwap/A2A/internal/crypto"
	"github.com/OfficialDeepSwap/A2A/internal/models"
)

// Signed request headers.
const (
	HeaderKey       = "X-A2A-Key"
	HeaderNonce     = "X-A2A-Nonce"
	HeaderTimestamp = "X-A2A-Timestamp"
	HeaderSignature = "X-A2A-Signature"
)

type contextKey string

const CallerContextKey contextKey = "caller"

// NonceStore records request nonces. UseNonce reports false when the nonce
// was already used by the same key.
type NonceStore interface {
	UseNonce(ctx context.Context, key, nonce string, ttl time.Duration) (bool, error)
}

// MemoryNonces is an in-process NonceStore for single-node deployments
// without Redis.
type MemoryNonces struct {
	cache *cache.Cache
}

// NewMemoryNonces creates an in-memory nonce store.
func NewMemoryNonces() *MemoryNonces {
	return &MemoryNonces{cache: cache.New(5*time.Minute, 10*time.Minute)}
}

func (m *MemoryNonces) UseNonce(_ context.Context, key, nonce string, ttl time.Duration) (bool, error) {
	// Add fails when the key is present, which makes the check atomic.
	return m.cache.Add(key+":"+nonce, struct{}{}, ttl) == nil, nil
}

// AuthMiddleware handles signature verification for authenticated endpoints.
type AuthMiddleware struct {
	nonces NonceStore
	window time.Duration
	now    func() time.Time
}

// NewAuthMiddleware creates a new auth middleware. Timestamps older than
// window are rejected.
func NewAuthMiddleware(nonces NonceStore, window time.Duration) *AuthMiddleware {
	if window <= 0 {
		window = 30 * time.Second
	}
	return &AuthMiddleware{
		nonces: nonces,
		window: window,
		now:    time.Now,
	}
}

// RequireAuth middleware verifies Ed25519 signatures on requests and puts
// the caller's address in the request context.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Read body and compute hash
		body, err := io.ReadAll(r.Body)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewBuffer(body)) // Reset for handler

		caller, err := m.verify(r, body)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), CallerContextKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) verify(r *http.Request, body []byte) (models.Address, error) {
	key := r.Header.Get(HeaderKey)
	nonce := r.Header.Get(HeaderNonce)
	timestamp := r.Header.Get(HeaderTimestamp)
	signature := r.Header.Get(HeaderSignature)

	if key == "" || nonce == "" || timestamp == "" || signature == "" {
		return models.Address{}, errors.New("missing auth headers")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return models.Address{}, errors.New("invalid timestamp format")
	}
	if !m.isTimestampValid(ts) {
		return models.Address{}, crypto.ErrSignatureExpired
	}

	// Validate nonce format (min 24 chars for adequate entropy)
	if len(nonce) < 24 || len(nonce) > 128 {
		return models.Address{}, fmt.Errorf("%w: must be 24 to 128 characters", crypto.ErrInvalidNonce)
	}

	pubkey, err := crypto.ValidatePublicKey(key)
	if err != nil {
		return models.Address{}, err
	}

	signed := crypto.SignaturePayload(BodyHash(body), nonce, ts)
	if err := crypto.VerifySignature(pubkey, signed, signature); err != nil {
		return models.Address{}, err
	}

	// The nonce is spent only once the signature checks out.
	caller := crypto.AddressFromPublicKey(pubkey)
	fresh, err := m.nonces.UseNonce(r.Context(), caller.Hex(), nonce, 2*m.window)
	if err != nil {
		return models.Address{}, fmt.Errorf("nonce check failed: %w", err)
	}
	if !fresh {
		return models.Address{}, crypto.ErrInvalidNonce
	}
	return caller, nil
}

func (m *AuthMiddleware) isTimestampValid(ts int64) bool {
	now := m.now().UnixMilli()
	windowMs := m.window.Milliseconds()
	// Only accept timestamps from the past (within window), reject future timestamps
	return ts > now-windowMs && ts <= now
}

// BodyHash is the hex keccak256 of a request body, the first field of the
// signed payload.
func BodyHash(body []byte) string {
	return hex.EncodeToString(crypto.Keccak256(body))
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// CallerFromContext retrieves the authenticated caller from the request context.
func CallerFromContext(ctx context.Context) (models.Address, bool) {
	caller, ok := ctx.Value(CallerContextKey).(models.Address)
	return caller, ok
}

// WithCaller returns a context carrying caller, as RequireAuth would.
func WithCaller(ctx context.Context, caller models.Address) context.Context {
	return context.WithValue(ctx, CallerContextKey, caller)
}
