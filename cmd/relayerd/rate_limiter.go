// rate_limiter.go - per-client-IP rate limiting for the HTTP surface,
// adapted from cmd/auctiond/rate_limiter.go's per-participant token bucket.
package main

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// RateLimiter is a simple token bucket.
type RateLimiter struct {
	mu           sync.Mutex
	tokens       int
	maxTokens    int
	refillRate   int
	lastRefill   time.Time
	refillPeriod time.Duration
}

// NewRateLimiter builds a bucket starting full.
func NewRateLimiter(maxTokens, refillRate int, refillPeriod time.Duration) *RateLimiter {
	return &RateLimiter{
		tokens:       maxTokens,
		maxTokens:    maxTokens,
		refillRate:   refillRate,
		lastRefill:   time.Now(),
		refillPeriod: refillPeriod,
	}
}

// Allow consumes a token if one is available, refilling first.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	refillCount := int(now.Sub(rl.lastRefill) / rl.refillPeriod)
	if refillCount > 0 {
		rl.tokens += refillCount * rl.refillRate
		if rl.tokens > rl.maxTokens {
			rl.tokens = rl.maxTokens
		}
		rl.lastRefill = now
	}

	if rl.tokens > 0 {
		rl.tokens--
		return true
	}
	return false
}

// IPRateLimiter keys a RateLimiter per remote address, since the relayer's
// HTTP surface has no notion of an authenticated caller identity — unlike
// the teacher's per-participant limiter, the only identity available at the
// transport layer is the client's IP.
type IPRateLimiter struct {
	limiters     map[string]*RateLimiter
	mu           sync.RWMutex
	maxTokens    int
	refillRate   int
	refillPeriod time.Duration
}

// NewIPRateLimiter builds a limiter that allocates one bucket per new IP.
func NewIPRateLimiter(maxTokens, refillRate int, refillPeriod time.Duration) *IPRateLimiter {
	return &IPRateLimiter{
		limiters:     make(map[string]*RateLimiter),
		maxTokens:    maxTokens,
		refillRate:   refillRate,
		refillPeriod: refillPeriod,
	}
}

// Allow checks whether ip may proceed, creating its bucket on first sight.
func (rl *IPRateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	limiter, exists := rl.limiters[ip]
	if !exists {
		limiter = NewRateLimiter(rl.maxTokens, rl.refillRate, rl.refillPeriod)
		rl.limiters[ip] = limiter
	}
	rl.mu.Unlock()
	return limiter.Allow()
}

// clientIP extracts the remote IP, stripping the port net/http leaves on
// http.Request.RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// middleware wraps next, rejecting requests from an IP that has exhausted
// its token bucket with 429 before the request reaches any handler.
func (rl *IPRateLimiter) middleware(metrics *MetricsCollector, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !rl.Allow(ip) {
			metrics.RecordRateLimitRejection(ip)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"success":false,"error":"rate_limited"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
