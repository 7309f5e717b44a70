// Package llm provides retry functionality for outbound model calls with
// exponential backoff.
//
// Examples:
//
// Adapters wrap each non-streaming call:
//
//	resp, err := llm.Retry(ctx, c.retry, func(ctx context.Context) (*llm.ChatResponse, error) {
//		return c.chatOnce(ctx, contents, cfg)
//	})
//
// Retry only rate limits, with predictable timing in tests:
//
//	cfg := llm.RetryConfig{
//		MaxRetries:         3,
//		BaseDelay:          10 * time.Millisecond,
//		RetryOnStatusCodes: []int{429},
//	}
package llm

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"math"
	"slices"
	"time"
)

// secureRandomFloat64 generates a cryptographically secure random float64 between 0 and 1
func secureRandomFloat64() (float64, error) {
	var bytes [8]byte
	_, err := rand.Read(bytes[:])
	if err != nil {
		return 0, err
	}
	return float64(binary.BigEndian.Uint64(bytes[:])) / float64(^uint64(0)), nil
}

// RetryConfig defines configuration options for the retry mechanism.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts. Total requests =
	// MaxRetries + 1. Zero or less calls the operation exactly once.
	MaxRetries int

	// BaseDelay is the initial delay between retries (default: 1 second).
	BaseDelay time.Duration

	// MaxDelay caps the delay between two attempts (default: 20 seconds).
	MaxDelay time.Duration

	// MaxElapsed stops retrying once the next wait would cross this total
	// time since the first attempt (default: 60 seconds).
	MaxElapsed time.Duration

	// BackoffFactor multiplies the delay after each retry (default: 2.0).
	BackoffFactor float64

	// Jitter multiplies each delay by a random factor between 0.5 and 1.5.
	Jitter bool

	// RetryOnStatusCodes, when set, restricts retries to these HTTP status codes.
	RetryOnStatusCodes []int

	// RetryOnErrorTypes, when set, restricts retries to these Error.Type values.
	RetryOnErrorTypes []string

	// OnRetry is called before each wait, typically to log the failure.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig returns the policy used by the provider adapters
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		BaseDelay:     1 * time.Second,
		MaxDelay:      20 * time.Second,
		MaxElapsed:    60 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.MaxElapsed <= 0 {
		c.MaxElapsed = d.MaxElapsed
	}
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = d.BackoffFactor
	}
	return c
}

// Retry runs fn, retrying transient failures with exponential backoff. The
// last error is returned unchanged once attempts or time run out.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	if cfg.MaxRetries <= 0 {
		return fn(ctx)
	}
	cfg = cfg.withDefaults()

	var zero T
	var lastErr error
	start := time.Now()

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if attempt == cfg.MaxRetries || !cfg.IsRetryable(err) {
			break
		}

		delay := cfg.delay(attempt)
		if time.Since(start)+delay > cfg.MaxElapsed {
			break
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, delay)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	return zero, lastErr
}

// IsRetryable determines if an error should trigger a retry. Only *Error
// values are considered; capability and validation errors never are.
func (c RetryConfig) IsRetryable(err error) bool {
	var llmErr *Error
	if !errors.As(err, &llmErr) {
		return false
	}
	if llmErr.Type == ErrorTypeCapability || llmErr.Type == ErrorTypeValidation {
		return false
	}

	if len(c.RetryOnStatusCodes) > 0 || len(c.RetryOnErrorTypes) > 0 {
		return slices.Contains(c.RetryOnStatusCodes, llmErr.StatusCode) ||
			slices.Contains(c.RetryOnErrorTypes, llmErr.Type)
	}

	switch llmErr.Type {
	case ErrorTypeRateLimit, ErrorTypeTimeout, ErrorTypeServer:
		return true
	}
	return llmErr.StatusCode == 429 || llmErr.StatusCode == 408 ||
		(llmErr.StatusCode >= 500 && llmErr.StatusCode < 600)
}

// delay computes the wait before retry number attempt+1
func (c RetryConfig) delay(attempt int) time.Duration {
	delay := float64(c.BaseDelay) * math.Pow(c.BackoffFactor, float64(attempt))

	if c.Jitter {
		randomValue, err := secureRandomFloat64()
		if err != nil {
			randomValue = 1.0
		}
		delay *= 0.5 + randomValue
	}

	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}

	return time.Duration(delay)
}
