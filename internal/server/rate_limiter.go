// Package server implements a token bucket rate limiter for per-connection
// throttling that protects the hub from abuse.
package server

import (
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter allows burst messages per interval, refilled continuously.
type rateLimiter struct {
	limiter  *rate.Limiter
	burst    int
	interval time.Duration
}

func newRateLimiter(burst int, interval time.Duration) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	// rate.Every(0) is rate.Inf, so the per-token interval never rounds to zero.
	perToken := interval / time.Duration(burst)
	if perToken <= 0 {
		perToken = time.Nanosecond
	}

	return &rateLimiter{
		limiter:  rate.NewLimiter(rate.Every(perToken), burst),
		burst:    burst,
		interval: interval,
	}
}

func (rl *rateLimiter) allow() bool {
	return rl.limiter.Allow()
}
