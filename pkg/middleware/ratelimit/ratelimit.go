// Package ratelimit throttles public API clients with per-key token buckets.
package ratelimit

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nimburion/bucketstore/pkg/controller"
	"github.com/nimburion/bucketstore/pkg/middleware/requestid"
	"github.com/nimburion/bucketstore/pkg/server/router"
	"golang.org/x/time/rate"
)

// RateLimiter decides whether a request for key may proceed.
// Implementations must be safe for concurrent use.
type RateLimiter interface {
	// Reserve reports whether the request is allowed and, when it is not,
	// how long the caller should wait before retrying.
	Reserve(key string) (allowed bool, retryAfter time.Duration)
}

// TokenBucketLimiter keeps one golang.org/x/time/rate limiter per key.
type TokenBucketLimiter struct {
	limiters sync.Map // map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewTokenBucketLimiter allows requestsPerSecond on average per key with
// bursts of up to burst requests.
func NewTokenBucketLimiter(requestsPerSecond int, burst int) *TokenBucketLimiter {
	if burst < 1 {
		burst = 1
	}
	return &TokenBucketLimiter{
		rate:  rate.Limit(requestsPerSecond),
		burst: burst,
	}
}

// Reserve implements RateLimiter. A denied request does not consume a token.
func (l *TokenBucketLimiter) Reserve(key string) (bool, time.Duration) {
	limiter := l.getLimiter(key)
	now := time.Now()
	r := limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	delay := r.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	r.CancelAt(now)
	return false, delay
}

// Allow reports whether a request for key is allowed.
func (l *TokenBucketLimiter) Allow(key string) bool {
	ok, _ := l.Reserve(key)
	return ok
}

func (l *TokenBucketLimiter) getLimiter(key string) *rate.Limiter {
	if limiter, ok := l.limiters.Load(key); ok {
		return limiter.(*rate.Limiter)
	}
	limiter, _ := l.limiters.LoadOrStore(key, rate.NewLimiter(l.rate, l.burst))
	return limiter.(*rate.Limiter)
}

// Config defines the configuration for rate limiting middleware.
type Config struct {
	// KeyFunc extracts the rate limiting key. Defaults to the client IP.
	KeyFunc func(router.Context) string
	// ExcludedPathPrefixes are never throttled.
	ExcludedPathPrefixes []string
}

// RateLimit rejects requests over the limit with 429 and a Retry-After header.
func RateLimit(limiter RateLimiter, cfg Config) router.MiddlewareFunc {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = func(c router.Context) string { return ExtractIPFromRequest(c.Request()) }
	}
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			for _, prefix := range cfg.ExcludedPathPrefixes {
				if prefix != "" && strings.HasPrefix(c.Request().URL.Path, prefix) {
					return next(c)
				}
			}

			allowed, retryAfter := limiter.Reserve(keyFunc(c))
			if allowed {
				return next(c)
			}

			seconds := int(math.Ceil(retryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			c.Response().Header().Set("Retry-After", strconv.Itoa(seconds))
			return c.JSON(http.StatusTooManyRequests, controller.ErrorResponse{
				Error:     "rate_limited",
				Code:      "request.rate_limited",
				Message:   "rate limit exceeded",
				RequestID: requestid.GetRequestID(c.Request().Context()),
			})
		}
	}
}

// ExtractIPFromRequest returns the client IP, preferring the first
// X-Forwarded-For entry, then X-Real-IP, then RemoteAddr.
func ExtractIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
