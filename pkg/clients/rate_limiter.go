package clients

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles API calls. Every engine sharing one HTTPClient draws
// from the same limiter, so a bulk upload and a composite commit running
// side by side stay inside the org's request allowance together.
type RateLimiter interface {
	Allow() bool
	Wait(ctx context.Context) error
	SetRate(perSecond float64)
	SetBurst(burst int)
	GetStats() RateLimiterStats
}

// RateLimiterStats is a snapshot of limiter activity.
type RateLimiterStats struct {
	Rate            float64       `json:"rate"`
	Burst           int           `json:"burst"`
	AllowedRequests int64         `json:"allowed_requests"`
	BlockedRequests int64         `json:"blocked_requests"`
	CurrentTokens   float64       `json:"current_tokens"`
	AverageWaitTime time.Duration `json:"average_wait_time"`
}

// TokenBucketRateLimiter is a RateLimiter backed by x/time/rate.
type TokenBucketRateLimiter struct {
	limiter *rate.Limiter

	allowed atomic.Int64
	blocked atomic.Int64
	waited  atomic.Int64 // nanoseconds spent in Wait
}

// NewTokenBucketRateLimiter allows perSecond calls on average with bursts of
// up to burst calls.
func NewTokenBucketRateLimiter(perSecond float64, burst int) *TokenBucketRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &TokenBucketRateLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Allow takes a token if one is available without waiting.
func (l *TokenBucketRateLimiter) Allow() bool {
	if l.limiter.Allow() {
		l.allowed.Add(1)
		return true
	}
	l.blocked.Add(1)
	return false
}

// Wait blocks until a token is available or ctx ends.
func (l *TokenBucketRateLimiter) Wait(ctx context.Context) error {
	start := time.Now()
	err := l.limiter.Wait(ctx)
	l.waited.Add(int64(time.Since(start)))
	if err != nil {
		l.blocked.Add(1)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	l.allowed.Add(1)
	return nil
}

func (l *TokenBucketRateLimiter) SetRate(perSecond float64) {
	l.limiter.SetLimit(rate.Limit(perSecond))
}

func (l *TokenBucketRateLimiter) SetBurst(burst int) {
	l.limiter.SetBurst(burst)
}

func (l *TokenBucketRateLimiter) GetStats() RateLimiterStats {
	allowed := l.allowed.Load()
	blocked := l.blocked.Load()
	var avg time.Duration
	if n := allowed + blocked; n > 0 {
		avg = time.Duration(l.waited.Load() / n)
	}
	return RateLimiterStats{
		Rate:            float64(l.limiter.Limit()),
		Burst:           l.limiter.Burst(),
		AllowedRequests: allowed,
		BlockedRequests: blocked,
		CurrentTokens:   l.limiter.Tokens(),
		AverageWaitTime: avg,
	}
}
