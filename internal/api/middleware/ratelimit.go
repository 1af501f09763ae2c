package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/OfficialDeepSwap/A2A/internal/metrics"
)

// RateLimit caps requests whose "METHOD /path" starts with Route.
type RateLimit struct {
	Route    string
	Requests int
	Window   time.Duration
}

// Client IPs are limited before authentication; callers are limited by
// their verified address once RequireAuth has run. Registration stays per IP
// so fresh keys cannot multiply it.
var (
	ipLimits = []RateLimit{
		{"POST /register", 10, time.Hour},
		{"GET /agents", 120, time.Minute},
		{"GET /messages", 120, time.Minute},
		{"GET /threads/", 120, time.Minute},
		{"GET /stats", 60, time.Minute},
	}
	callerLimits = []RateLimit{
		{"PUT /agents/", 30, time.Minute},
		{"POST /agents/", 30, time.Minute},
		{"POST /messages", 60, time.Minute},
		{"GET /notifications", 60, time.Minute},
	}
)

const (
	autoBlockThreshold = 10
	autoBlockDuration  = 24 * time.Hour
)

// RateLimiterConfig holds configuration for the rate limiter.
type RateLimiterConfig struct {
	Whitelist        []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled bool     // block an IP after repeated violations
}

// RateLimiter counts requests in fixed windows stored in Redis. A limiter
// without a Redis client lets every request through.
type RateLimiter struct {
	client       *redis.Client
	logger       zerolog.Logger
	whitelist    []*net.IPNet
	whitelistIPs map[string]bool
	autoBlock    bool
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(client *redis.Client, logger zerolog.Logger, cfg RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		client:       client,
		logger:       logger,
		whitelistIPs: make(map[string]bool),
		autoBlock:    cfg.AutoBlockEnabled,
	}
	for _, entry := range cfg.Whitelist {
		if !strings.Contains(entry, "/") {
			rl.whitelistIPs[entry] = true
			continue
		}
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			logger.Warn().Str("entry", entry).Err(err).Msg("invalid CIDR in whitelist")
			continue
		}
		rl.whitelist = append(rl.whitelist, ipNet)
	}
	if len(cfg.Whitelist) > 0 {
		logger.Info().
			Int("ips", len(rl.whitelistIPs)).
			Int("cidrs", len(rl.whitelist)).
			Msg("rate limit whitelist configured")
	}
	return rl
}

func (rl *RateLimiter) isWhitelisted(ipStr string) bool {
	if rl.whitelistIPs[ipStr] {
		return true
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, ipNet := range rl.whitelist {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// RealIP extracts the client IP from proxy headers or the connection.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("Fly-Client-IP"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func findLimit(limits []RateLimit, r *http.Request) (RateLimit, bool) {
	route := r.Method + " " + r.URL.Path
	for _, l := range limits {
		if strings.HasPrefix(route, l.Route) {
			return l, true
		}
	}
	return RateLimit{}, false
}

// hit counts one request against key and reports whether it fits the limit.
// Redis failures let the request through.
func (rl *RateLimiter) hit(ctx context.Context, key string, limit RateLimit) (allowed bool, remaining int, resetAt time.Time) {
	bucket := time.Now().UnixNano() / int64(limit.Window)
	resetAt = time.Unix(0, (bucket+1)*int64(limit.Window))
	windowKey := fmt.Sprintf("%s:%d", key, bucket)

	pipe := rl.client.TxPipeline()
	count := pipe.Incr(ctx, windowKey)
	pipe.ExpireAt(ctx, windowKey, resetAt.Add(time.Second))
	if _, err := pipe.Exec(ctx); err != nil {
		rl.logger.Warn().Err(err).Str("key", key).Msg("rate limit check failed")
		return true, limit.Requests, resetAt
	}
	n := int(count.Val())
	return n <= limit.Requests, max(limit.Requests-n, 0), resetAt
}

// enforce applies limit to key. It writes the rejection and returns false
// when the request is over the limit.
func (rl *RateLimiter) enforce(w http.ResponseWriter, r *http.Request, key string, limit RateLimit) bool {
	allowed, remaining, resetAt := rl.hit(r.Context(), key, limit)
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
	if allowed {
		return true
	}

	ip := RealIP(r)
	rl.trackViolation(r.Context(), ip)
	metrics.RateLimitHits.WithLabelValues(normalizePath(r.URL.Path)).Inc()
	rl.logger.Warn().
		Str("type", "security").
		Str("event", "rate_limit_exceeded").
		Str("ip", ip).
		Str("endpoint", r.URL.Path).
		Str("key", key).
		Msg("rate limit exceeded")

	w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(resetAt).Seconds())+1))
	jsonError(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}

// Middleware rejects blocked IPs and applies the per-IP limits.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if rl.client == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := RealIP(r)
		if rl.isWhitelisted(ip) {
			next.ServeHTTP(w, r)
			return
		}
		if rl.isBlocked(r.Context(), ip) {
			rl.logger.Warn().
				Str("type", "security").
				Str("event", "blocked_request").
				Str("ip", ip).
				Str("endpoint", r.URL.Path).
				Msg("blocked IP attempted request")
			metrics.BlockedRequests.WithLabelValues("ip_blocked").Inc()
			jsonError(w, http.StatusForbidden, "temporarily blocked")
			return
		}
		if limit, ok := findLimit(ipLimits, r); ok && !rl.enforce(w, r, "ratelimit:ip:"+ip, limit) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CallerMiddleware applies the per-caller limits. It must run after
// RequireAuth so the key is the verified caller address, not a header.
func (rl *RateLimiter) CallerMiddleware(next http.Handler) http.Handler {
	if rl.client == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		if !ok || rl.isWhitelisted(RealIP(r)) {
			next.ServeHTTP(w, r)
			return
		}
		if limit, ok := findLimit(callerLimits, r); ok && !rl.enforce(w, r, "ratelimit:agent:"+caller.Hex(), limit) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

func blockKey(ip string) string {
	return "blocked:ip:" + ip
}

func (rl *RateLimiter) isBlocked(ctx context.Context, ip string) bool {
	n, _ := rl.client.Exists(ctx, blockKey(ip)).Result()
	return n > 0
}

// trackViolation counts violations per IP over an hour and blocks repeat
// offenders when auto-blocking is enabled.
func (rl *RateLimiter) trackViolation(ctx context.Context, ip string) {
	if !rl.autoBlock {
		return
	}
	key := "violations:ip:" + ip
	count, err := rl.client.Incr(ctx, key).Result()
	if err != nil {
		return
	}
	rl.client.Expire(ctx, key, time.Hour)
	if count < autoBlockThreshold {
		return
	}
	rl.client.Set(ctx, blockKey(ip), "repeated rate limit violations", autoBlockDuration)
	rl.logger.Warn().
		Str("type", "security").
		Str("event", "ip_auto_blocked").
		Str("ip", ip).
		Int64("violations", count).
		Msg("IP auto-blocked for repeated violations")
}
