package base

import (
	"sync"
	"time"
)

// RateLimiter is a token-bucket throttle applied per plugin during routing
// eligibility. A zero rate means unlimited.
type RateLimiter struct {
	mu       sync.Mutex
	rate     float64
	burst    int
	tokens   float64
	lastTime time.Time

	allowed int64
	blocked int64
}

// NewRateLimiter creates a limiter admitting rate requests per second with
// the given burst. rate <= 0 disables limiting.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		rate:     rate,
		burst:    burst,
		tokens:   float64(burst),
		lastTime: time.Now(),
	}
}

// Allow reports whether a request may proceed now, consuming a token when
// it does.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.rate <= 0 {
		rl.allowed++
		return true
	}

	rl.refillLocked()

	if rl.tokens >= 1 {
		rl.tokens--
		rl.allowed++
		return true
	}
	rl.blocked++
	return false
}

// SetRate updates the refill rate without resetting accumulated tokens.
func (rl *RateLimiter) SetRate(rate float64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refillLocked()
	rl.rate = rate
}

// Stats returns allowed and blocked request counts.
func (rl *RateLimiter) Stats() (allowed, blocked int64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.allowed, rl.blocked
}

func (rl *RateLimiter) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(rl.lastTime).Seconds()
	rl.lastTime = now

	rl.tokens += elapsed * rl.rate
	if rl.tokens > float64(rl.burst) {
		rl.tokens = float64(rl.burst)
	}
}
