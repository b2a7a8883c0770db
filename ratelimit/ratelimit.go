// Package ratelimit paces calls against the record store and remote asset
// hosts, with exponential backoff when the other side starts pushing back.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter wraps a token-bucket limiter with backoff state for retryable errors.
type Limiter struct {
	limiter           *rate.Limiter
	mu                sync.Mutex
	consecutiveErrors int
	currentDelay      time.Duration
	config            *Config
}

// Config holds limiter configuration.
type Config struct {
	Delay             time.Duration // minimum spacing between calls
	BackoffMultiplier float64
	MaxDelay          time.Duration
	MaxAttempts       int
}

// DefaultConfig returns the configuration used for bulk loading: 100ms
// between store calls, doubling on pushback up to 30s.
func DefaultConfig() *Config {
	return &Config{
		Delay:             100 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          30 * time.Second,
		MaxAttempts:       5,
	}
}

// New creates a limiter from cfg, falling back to DefaultConfig when nil.
func New(cfg *Config) *Limiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	rps := float64(time.Second) / float64(cfg.Delay)

	return &Limiter{
		limiter:      rate.NewLimiter(rate.Limit(rps), 1),
		currentDelay: cfg.Delay,
		config:       cfg,
	}
}

// Wait blocks until the limiter allows the next call.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// HandleError inspects an error and reports whether to retry and how long to
// wait first. Only rate-limit style errors are retryable; everything else is
// the caller's problem.
func (l *Limiter) HandleError(err error) (shouldRetry bool, waitTime time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") {
		l.consecutiveErrors++

		waitTime = time.Duration(math.Min(
			float64(l.currentDelay)*math.Pow(l.config.BackoffMultiplier, float64(l.consecutiveErrors-1)),
			float64(l.config.MaxDelay),
		))

		// Slow the bucket down to the backed-off rate
		if waitTime > l.currentDelay {
			l.currentDelay = waitTime
			rps := float64(time.Second) / float64(waitTime)
			l.limiter.SetLimit(rate.Limit(rps))
		}

		return l.consecutiveErrors < l.config.MaxAttempts, waitTime
	}

	return false, 0
}

// Success resets the backoff state after a successful call.
func (l *Limiter) Success() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.consecutiveErrors > 0 {
		l.consecutiveErrors = 0
		l.currentDelay = l.config.Delay
		rps := float64(time.Second) / float64(l.config.Delay)
		l.limiter.SetLimit(rate.Limit(rps))
	}
}

// ExecuteWithRetry runs fn under the limiter, retrying rate-limited calls
// with backoff until MaxAttempts is reached.
func (l *Limiter) ExecuteWithRetry(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt < l.config.MaxAttempts; attempt++ {
		if err := l.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait: %w", err)
		}

		err := fn()
		if err == nil {
			l.Success()
			return nil
		}

		shouldRetry, waitTime := l.HandleError(err)
		if !shouldRetry {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded", l.config.MaxAttempts)
}
