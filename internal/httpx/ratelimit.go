package httpx

import (
	"sync"
	"time"

	"github.com/arcsign/exitbook/internal/errs"
)

// RateLimitConfig configures the token-bucket rate limiter. At least one of
// PerSecond/PerMinute/PerHour must be positive; Burst defaults to 1. Per
// spec §4.1: "Rate-limit state is invalid if any configured rate is
// non-positive — fail at construction."
type RateLimitConfig struct {
	Burst     int
	PerSecond float64
	PerMinute float64
	PerHour   float64
}

func (c RateLimitConfig) refillPerSecond() float64 {
	var rate float64
	if c.PerSecond > 0 {
		rate += c.PerSecond
	}
	if c.PerMinute > 0 {
		rate += c.PerMinute / 60.0
	}
	if c.PerHour > 0 {
		rate += c.PerHour / 3600.0
	}
	return rate
}

func (c RateLimitConfig) validate() error {
	if c.PerSecond < 0 || c.PerMinute < 0 || c.PerHour < 0 {
		return errs.New(errs.InvalidArgs, "invalid rate limit config: configured rate must not be negative")
	}
	if c.PerSecond <= 0 && c.PerMinute <= 0 && c.PerHour <= 0 {
		return errs.New(errs.InvalidArgs, "invalid rate limit config: at least one of PerSecond/PerMinute/PerHour must be positive")
	}
	if c.Burst < 0 {
		return errs.New(errs.InvalidArgs, "invalid rate limit config: burst must not be negative")
	}
	return nil
}

// TokenBucket is a burst-capable token bucket rate limiter with
// second/minute/hour refill rates folded into one combined rate.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	last       time.Time
	clock      Clock
}

// NewTokenBucket builds a TokenBucket, failing construction if cfg is
// invalid (non-positive configured rate).
func NewTokenBucket(cfg RateLimitConfig, clock Clock) (*TokenBucket, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &TokenBucket{
		capacity:   float64(burst),
		tokens:     float64(burst),
		refillRate: cfg.refillPerSecond(),
		last:       clock.Now(),
		clock:      clock,
	}, nil
}

// Allow attempts to consume one token, returning true if one was available.
func (b *TokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// WaitDuration returns how long the caller must wait before a token would
// become available, given current state. Zero if one is already available.
func (b *TokenBucket) WaitDuration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.tokens >= 1 {
		return 0
	}
	if b.refillRate <= 0 {
		return time.Hour // effectively unreachable; guarded by validate()
	}
	deficit := 1 - b.tokens
	seconds := deficit / b.refillRate
	return time.Duration(seconds * float64(time.Second))
}

func (b *TokenBucket) refill() {
	now := b.clock.Now()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.last = now
}
