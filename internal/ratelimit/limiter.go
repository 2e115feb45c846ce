// Package ratelimit throttles requests to the processing service with a token
// bucket and honours server-requested cooldowns.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rescale/sheetjobs/internal/logging"
)

// longWait is the wait after which the limiter logs that it is throttling.
const longWait = 2 * time.Second

// RateLimiter implements a token bucket rate limiter.
// It allows bursts up to maxTokens, then refills at refillRate tokens/second.
// A refill rate of zero disables the bucket; cooldowns still apply.
type RateLimiter struct {
	tokens        float64
	maxTokens     float64
	refillRate    float64
	lastRefill    time.Time
	cooldownUntil time.Time
	lastWarn      time.Time
	logger        *logging.Logger
	mu            sync.Mutex
}

// NewRateLimiter creates a limiter that starts with a full bucket.
// burstSize below one is raised to one.
func NewRateLimiter(tokensPerSecond, burstSize float64, logger *logging.Logger) *RateLimiter {
	if burstSize < 1 {
		burstSize = 1
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &RateLimiter{
		tokens:     burstSize,
		maxTokens:  burstSize,
		refillRate: tokensPerSecond,
		lastRefill: time.Now(),
		logger:     logger,
	}
}

// Wait blocks until a token is available and any cooldown has passed, or ctx
// is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	start := time.Now()
	for {
		wait := rl.reserve()
		if wait == 0 {
			if d := time.Since(start); d > longWait {
				rl.logger.Debug().Dur("waited", d).Msg("Rate limit wait completed")
			}
			return nil
		}
		rl.warn(wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve takes a token and returns zero, or returns how long to wait
// before trying again.
func (rl *RateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Before(rl.cooldownUntil) {
		return rl.cooldownUntil.Sub(now)
	}
	if rl.refillRate <= 0 {
		return 0
	}

	rl.refill(now)
	if rl.tokens >= 1 {
		rl.tokens--
		return 0
	}
	return time.Duration((1 - rl.tokens) / rl.refillRate * float64(time.Second))
}

func (rl *RateLimiter) refill(now time.Time) {
	rl.tokens += now.Sub(rl.lastRefill).Seconds() * rl.refillRate
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = now
}

func (rl *RateLimiter) warn(wait time.Duration) {
	if wait <= longWait {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	// at most one warning every 10 seconds
	if time.Since(rl.lastWarn) < 10*time.Second {
		return
	}
	rl.lastWarn = time.Now()
	rl.logger.Warn().Dur("wait", wait).Msg("Rate limited: waiting for API capacity")
}

// SetCooldown blocks all waiters for d. A cooldown never shortens one that is
// already in effect.
func (rl *RateLimiter) SetCooldown(d time.Duration) {
	if d <= 0 {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if until := time.Now().Add(d); until.After(rl.cooldownUntil) {
		rl.cooldownUntil = until
	}
}

// CooldownRemaining returns the time left in the current cooldown, or zero.
func (rl *RateLimiter) CooldownRemaining() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if d := time.Until(rl.cooldownUntil); d > 0 {
		return d
	}
	return 0
}

// GetCurrentTokens returns the current number of tokens (for testing/debugging).
func (rl *RateLimiter) GetCurrentTokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.refillRate > 0 {
		rl.refill(time.Now())
	}
	return rl.tokens
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP
// date. It returns zero when the header is absent or unparseable.
func ParseRetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
