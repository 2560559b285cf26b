package main

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements a token bucket rate limiter
// Allows bursts up to maxTokens, refilling at refillRate tokens per second
type RateLimiter struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a bucket holding burst tokens that refills at
// perSecond tokens per second. A non-positive rate always allows.
func NewRateLimiter(burst int, perSecond float64) *RateLimiter {
	if burst <= 0 || perSecond <= 0 {
		return &RateLimiter{lastRefill: time.Now()}
	}

	return &RateLimiter{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: perSecond,
		lastRefill: time.Now(),
	}
}

// Allow checks if an action is allowed under the rate limit
// Returns true if allowed, false if rate limit exceeded
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// If refillRate is 0, always allow (unlimited)
	if rl.refillRate == 0 {
		return true
	}

	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()

	// Refill tokens based on elapsed time
	rl.tokens += elapsed * rl.refillRate
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = now

	// Check if we have at least 1 token
	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return true
	}

	return false
}

// idle reports whether the limiter has not been used for d
func (rl *RateLimiter) idle(now time.Time, d time.Duration) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return now.Sub(rl.lastRefill) > d
}

// IPRateLimiter manages one token bucket per client IP
type IPRateLimiter struct {
	limiters map[string]*RateLimiter
	rate     int // requests per minute per IP
	mu       sync.RWMutex
}

// NewIPRateLimiter creates a per-IP limiter
// rate is the number of requests per minute (e.g., 10 = 10 requests per 60 seconds)
func NewIPRateLimiter(rate int) *IPRateLimiter {
	return &IPRateLimiter{
		limiters: make(map[string]*RateLimiter),
		rate:     rate,
	}
}

// AllowRequest checks if a request is allowed for the given IP
// Returns true if allowed, false if rate limit exceeded
func (irl *IPRateLimiter) AllowRequest(ip string) bool {
	if irl.rate <= 0 {
		return true // Rate limiting disabled
	}

	irl.mu.Lock()
	limiter, exists := irl.limiters[ip]
	if !exists {
		// rate tokens max, refilling at rate/60 tokens/sec
		limiter = NewRateLimiter(irl.rate, float64(irl.rate)/60.0)
		irl.limiters[ip] = limiter
	}
	irl.mu.Unlock()

	return limiter.Allow()
}

// Cleanup removes rate limiters for IPs that haven't been used recently
func (irl *IPRateLimiter) Cleanup() {
	irl.mu.Lock()
	defer irl.mu.Unlock()

	now := time.Now()
	for ip, limiter := range irl.limiters {
		// Remove limiters that haven't been used in the last 10 minutes
		if limiter.idle(now, 10*time.Minute) {
			delete(irl.limiters, ip)
		}
	}
}

// StartCleanup sweeps idle limiters every interval until ctx is done
func (irl *IPRateLimiter) StartCleanup(ctx context.Context, interval time.Duration, metrics *PrometheusMetrics) {
	irl.sweep(metrics)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				irl.sweep(metrics)
			}
		}
	}()
}

// sweep drops idle limiters and reports how many IPs remain tracked
func (irl *IPRateLimiter) sweep(metrics *PrometheusMetrics) {
	irl.Cleanup()
	metrics.SetRateLimiterIPs(irl.GetStats())
}

// GetStats returns the current number of tracked IPs
func (irl *IPRateLimiter) GetStats() int {
	irl.mu.RLock()
	defer irl.mu.RUnlock()
	return len(irl.limiters)
}
