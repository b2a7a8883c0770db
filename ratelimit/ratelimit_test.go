package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig() returned nil")
	}
	if cfg.Delay != 100*time.Millisecond {
		t.Errorf("Delay = %v, want 100ms", cfg.Delay)
	}
	if cfg.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", cfg.BackoffMultiplier)
	}
	if cfg.MaxDelay != 30*time.Second {
		t.Errorf("MaxDelay = %v, want 30s", cfg.MaxDelay)
	}
	if cfg.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %v, want 5", cfg.MaxAttempts)
	}
}

func TestNew_WithNilConfig(t *testing.T) {
	l := New(nil)

	if l == nil {
		t.Fatal("New(nil) returned nil")
	}
	if l.config.Delay != 100*time.Millisecond {
		t.Errorf("Default Delay = %v, want 100ms", l.config.Delay)
	}
}

func TestLimiter_Wait(t *testing.T) {
	l := New(&Config{
		Delay:             10 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          time.Second,
		MaxAttempts:       3,
	})

	start := time.Now()
	if err := l.Wait(context.Background()); err != nil {
		t.Errorf("Wait() returned error: %v", err)
	}

	// First wait rides the initial burst
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("First Wait() took %v, expected < 100ms", elapsed)
	}
}

func TestLimiter_Wait_CancelledContext(t *testing.T) {
	l := New(&Config{
		Delay:             time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          30 * time.Second,
		MaxAttempts:       3,
	})

	// Use up the initial burst
	_ = l.Wait(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := l.Wait(ctx); err == nil {
		t.Error("Wait() with canceled context should return error")
	}
}

func TestLimiter_HandleError(t *testing.T) {
	cfg := &Config{
		Delay:             100 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          time.Second,
		MaxAttempts:       3,
	}

	tests := []struct {
		name        string
		errMsg      string
		shouldRetry bool
	}{
		{"429 error", "status 429: Too Many Requests", true},
		{"rate limit text", "rate limit exceeded", true},
		{"too many requests text", "too many requests, slow down", true},
		{"not a rate limit error", "connection refused", false},
		{"generic 500 error", "internal server error 500", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(cfg)

			shouldRetry, waitTime := l.HandleError(errors.New(tt.errMsg))

			if shouldRetry != tt.shouldRetry {
				t.Errorf("HandleError(%q).shouldRetry = %v, want %v", tt.errMsg, shouldRetry, tt.shouldRetry)
			}
			if tt.shouldRetry && waitTime < cfg.Delay {
				t.Errorf("HandleError(%q).waitTime = %v, want >= %v", tt.errMsg, waitTime, cfg.Delay)
			}
			if !tt.shouldRetry && waitTime != 0 {
				t.Errorf("HandleError(%q).waitTime = %v, want 0 for non-retryable error", tt.errMsg, waitTime)
			}
		})
	}
}

func TestLimiter_HandleError_ExponentialBackoff(t *testing.T) {
	l := New(&Config{
		Delay:             100 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          10 * time.Second,
		MaxAttempts:       5,
	})
	rateLimitErr := errors.New("429 rate limit")

	_, waitTime1 := l.HandleError(rateLimitErr)
	_, waitTime2 := l.HandleError(rateLimitErr)
	_, waitTime3 := l.HandleError(rateLimitErr)

	if waitTime2 <= waitTime1 {
		t.Errorf("Second waitTime (%v) should be greater than first (%v)", waitTime2, waitTime1)
	}
	if waitTime3 <= waitTime2 {
		t.Errorf("Third waitTime (%v) should be greater than second (%v)", waitTime3, waitTime2)
	}
}

func TestLimiter_HandleError_MaxAttempts(t *testing.T) {
	l := New(&Config{
		Delay:             100 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          10 * time.Second,
		MaxAttempts:       3,
	})
	rateLimitErr := errors.New("429 rate limit")

	for i := 0; i < 2; i++ {
		if shouldRetry, _ := l.HandleError(rateLimitErr); !shouldRetry {
			t.Errorf("Error %d should be retryable", i+1)
		}
	}

	if shouldRetry, _ := l.HandleError(rateLimitErr); shouldRetry {
		t.Error("Error at MaxAttempts should not be retryable")
	}
}

func TestLimiter_HandleError_MaxDelayCap(t *testing.T) {
	cfg := &Config{
		Delay:             time.Second,
		BackoffMultiplier: 10.0,
		MaxDelay:          5 * time.Second,
		MaxAttempts:       10,
	}
	l := New(cfg)
	rateLimitErr := errors.New("429 rate limit")

	var lastWaitTime time.Duration
	for i := 0; i < 5; i++ {
		_, lastWaitTime = l.HandleError(rateLimitErr)
	}

	if lastWaitTime > cfg.MaxDelay {
		t.Errorf("waitTime (%v) exceeded MaxDelay (%v)", lastWaitTime, cfg.MaxDelay)
	}
}

func TestLimiter_Success_ResetsBackoff(t *testing.T) {
	cfg := &Config{
		Delay:             100 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          10 * time.Second,
		MaxAttempts:       5,
	}
	l := New(cfg)
	rateLimitErr := errors.New("429 rate limit")

	for i := 0; i < 3; i++ {
		l.HandleError(rateLimitErr)
	}
	if l.consecutiveErrors != 3 {
		t.Errorf("consecutiveErrors = %d, want 3", l.consecutiveErrors)
	}

	l.Success()

	if l.consecutiveErrors != 0 {
		t.Errorf("After Success(), consecutiveErrors = %d, want 0", l.consecutiveErrors)
	}
	if l.currentDelay != cfg.Delay {
		t.Errorf("After Success(), currentDelay = %v, want %v", l.currentDelay, cfg.Delay)
	}
}

func TestLimiter_ExecuteWithRetry_Success(t *testing.T) {
	l := New(&Config{
		Delay:             10 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          time.Second,
		MaxAttempts:       3,
	})

	callCount := 0
	err := l.ExecuteWithRetry(context.Background(), func() error {
		callCount++
		return nil
	})

	if err != nil {
		t.Errorf("ExecuteWithRetry() returned error: %v", err)
	}
	if callCount != 1 {
		t.Errorf("Function called %d times, want 1", callCount)
	}
}

func TestLimiter_ExecuteWithRetry_EventualSuccess(t *testing.T) {
	l := New(&Config{
		Delay:             10 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          100 * time.Millisecond,
		MaxAttempts:       5,
	})

	callCount := 0
	err := l.ExecuteWithRetry(context.Background(), func() error {
		callCount++
		if callCount < 3 {
			return errors.New("429 rate limit")
		}
		return nil
	})

	if err != nil {
		t.Errorf("ExecuteWithRetry() returned error: %v", err)
	}
	if callCount != 3 {
		t.Errorf("Function called %d times, want 3", callCount)
	}
}

func TestLimiter_ExecuteWithRetry_NonRetryableError(t *testing.T) {
	l := New(&Config{
		Delay:             10 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          100 * time.Millisecond,
		MaxAttempts:       5,
	})

	callCount := 0
	err := l.ExecuteWithRetry(context.Background(), func() error {
		callCount++
		return errors.New("connection refused")
	})

	if err == nil {
		t.Error("ExecuteWithRetry() should return error for non-retryable error")
	}
	if callCount != 1 {
		t.Errorf("Function called %d times, want 1 (non-retryable)", callCount)
	}
}

func TestLimiter_ExecuteWithRetry_MaxRetriesExceeded(t *testing.T) {
	cfg := &Config{
		Delay:             10 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          50 * time.Millisecond,
		MaxAttempts:       3,
	}
	l := New(cfg)

	callCount := 0
	err := l.ExecuteWithRetry(context.Background(), func() error {
		callCount++
		return errors.New("429 rate limit")
	})

	if err == nil {
		t.Error("ExecuteWithRetry() should return error when max retries exceeded")
	}
	if callCount != cfg.MaxAttempts {
		t.Errorf("Function called %d times, want %d", callCount, cfg.MaxAttempts)
	}
}

func TestLimiter_ConcurrentAccess(_ *testing.T) {
	l := New(&Config{
		Delay:             10 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          100 * time.Millisecond,
		MaxAttempts:       5,
	})

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			_ = l.Wait(context.Background())
			l.HandleError(errors.New("429 rate limit"))
			l.Success()
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}
