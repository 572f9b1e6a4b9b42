package channel

import (
	"sync"
	"time"
)

// RateLimiter is a token bucket guarding the push endpoint.
type RateLimiter struct {
	mu       sync.Mutex
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastTime time.Time
	now      func() time.Time
}

func NewRateLimiter(maxBurst int, ratePerMinute float64) *RateLimiter {
	if maxBurst <= 0 {
		maxBurst = 10
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 60
	}
	rl := &RateLimiter{
		tokens: float64(maxBurst),
		max:    float64(maxBurst),
		rate:   ratePerMinute / 60.0,
		now:    time.Now,
	}
	rl.lastTime = rl.now()
	return rl
}

// Allow takes a token if one is available. It never blocks; the second
// return value is how long until the next token.
func (rl *RateLimiter) Allow() (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.tokens += now.Sub(rl.lastTime).Seconds() * rl.rate
	if rl.tokens > rl.max {
		rl.tokens = rl.max
	}
	rl.lastTime = now

	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return true, 0
	}
	wait := (1.0 - rl.tokens) / rl.rate
	return false, time.Duration(wait * float64(time.Second))
}
