package middleware

import (
	"net/http"
	"strings"
)

// apiHeaders are set on every response. The service only returns JSON, so
// nothing may be framed, sniffed or loaded from it.
var apiHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Strict-Transport-Security", "max-age=31536000; includeSubDomains"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Cache-Control", "no-store"},
}

// SecurityHeaders adds apiHeaders to all responses.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, h := range apiHeaders {
			w.Header().Set(h[0], h[1])
		}
		next.ServeHTTP(w, r)
	})
}

// MaxBodySize rejects bodies above maxBytes. Declared lengths fail up front;
// chunked bodies fail when the handler reads past the limit.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				jsonError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// rejectedInput lists fragments no valid route or query contains: every
// path segment is an address, a hash, a name or a fixed word.
var rejectedInput = []string{"..", "//", "\x00", "%00", "<script", "javascript:"}

// ValidateRequest requires JSON bodies on writes and rejects paths and
// queries carrying traversal or injection fragments.
func ValidateRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			// Bodiless writes such as /agents/me/deactivate need no type.
			if r.ContentLength > 0 && !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
				jsonError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
				return
			}
		}
		if suspicious(r.URL.Path) || suspicious(r.URL.RawQuery) {
			jsonError(w, http.StatusBadRequest, "invalid request")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func suspicious(input string) bool {
	lower := strings.ToLower(input)
	for _, s := range rejectedInput {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
