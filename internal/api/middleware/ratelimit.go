package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimiter implements fixed window rate limiting using Redis. With no
// Redis client every request is allowed.
type RateLimiter struct {
	redis  *redis.Client
	logger *zap.Logger
	now    func() time.Time
}

// RateLimitConfig defines rate limit rules
type RateLimitConfig struct {
	Name     string                     // Distinguishes limits sharing a key
	Requests int                        // Number of requests allowed
	Window   time.Duration              // Time window
	KeyFunc  func(*http.Request) string // Function to generate rate limit key
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(redis *redis.Client, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		redis:  redis,
		logger: logger,
		now:    time.Now,
	}
}

// Limit returns a middleware that enforces rate limiting
func (rl *RateLimiter) Limit(config RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.redis == nil {
				next.ServeHTTP(w, r)
				return
			}

			key := config.KeyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed, remaining, resetTime, err := rl.checkLimit(r.Context(), key, config)
			if err != nil {
				// Fail open
				rl.logger.Error("Rate limit check failed", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.Requests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))

			if !allowed {
				retry := int64(resetTime.Sub(rl.now()).Seconds())
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
				http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)

				rl.logger.Warn("Rate limit exceeded",
					zap.String("limit", config.Name),
					zap.String("key", key),
					zap.String("path", r.URL.Path),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// checkLimit counts the request in the current window
func (rl *RateLimiter) checkLimit(ctx context.Context, key string, config RateLimitConfig) (bool, int, time.Time, error) {
	now := rl.now()
	windowSecs := int64(config.Window / time.Second)
	if windowSecs < 1 {
		windowSecs = 1
	}
	bucket := now.Unix() / windowSecs

	redisKey := fmt.Sprintf("ratelimit:%s:%s:%d", config.Name, key, bucket)

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, config.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, time.Time{}, err
	}

	count := int(incr.Val())
	remaining := config.Requests - count
	if remaining < 0 {
		remaining = 0
	}

	resetTime := time.Unix((bucket+1)*windowSecs, 0)
	return count <= config.Requests, remaining, resetTime, nil
}

// GetRealIP extracts the client IP, preferring proxy headers over RemoteAddr
func GetRealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// "client, proxy1, proxy2"
		if clientIP := strings.TrimSpace(strings.Split(xff, ",")[0]); clientIP != "" {
			return clientIP
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// KeyByIP generates rate limit key based on IP address
func KeyByIP(r *http.Request) string {
	return "ip:" + GetRealIP(r)
}

// KeyBySession keys on the {id} route parameter, falling back to the IP
func KeyBySession(r *http.Request) string {
	if id := chi.URLParam(r, "id"); id != "" {
		return "session:" + id
	}
	return KeyByIP(r)
}

// GlobalRateLimit applies to all requests from an IP
var GlobalRateLimit = RateLimitConfig{
	Name:     "global",
	Requests: 600,
	Window:   1 * time.Minute,
	KeyFunc:  KeyByIP,
}

// SessionCreateRateLimit bounds how many sessions one IP can open
var SessionCreateRateLimit = RateLimitConfig{
	Name:     "session-create",
	Requests: 20,
	Window:   1 * time.Hour,
	KeyFunc:  KeyByIP,
}

// EncodeRateLimit bounds apply, save and export requests per session
var EncodeRateLimit = RateLimitConfig{
	Name:     "encode",
	Requests: 60,
	Window:   1 * time.Minute,
	KeyFunc:  KeyBySession,
}

// ExportRateLimit bounds exports per session
var ExportRateLimit = RateLimitConfig{
	Name:     "export",
	Requests: 10,
	Window:   1 * time.Hour,
	KeyFunc:  KeyBySession,
}

// UploadRateLimit bounds source uploads per IP
var UploadRateLimit = RateLimitConfig{
	Name:     "upload",
	Requests: 10,
	Window:   1 * time.Hour,
	KeyFunc:  KeyByIP,
}
