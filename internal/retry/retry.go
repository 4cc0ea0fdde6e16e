// Package retry re-runs failed task attempts under a bounded policy with
// backoff. Retries are transparent to the workflow context: no partial
// output of a failed attempt is merged.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/civicflow/civicflow/pkg/models"
)

// Config bounds how a task is retried.
type Config struct {
	// MaxAttempts includes the initial attempt. 1 means no retries.
	MaxAttempts int

	Strategy Strategy

	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err error)
}

// DefaultConfig is one attempt: tasks do not retry unless their definition
// declares a policy.
func DefaultConfig() *Config {
	return &Config{MaxAttempts: 1, Strategy: DefaultExponentialBackoff()}
}

// FromPolicy builds a retry config from a task's declared policy. A nil
// policy means no retries.
func FromPolicy(p *models.RetryPolicy) *Config {
	if p == nil || p.MaxAttempts <= 1 {
		return DefaultConfig()
	}
	base := p.InitialDelay
	if base <= 0 {
		base = time.Second
	}
	max := p.MaxDelay
	if max <= 0 {
		max = 5 * time.Minute
	}
	return &Config{
		MaxAttempts: p.MaxAttempts,
		Strategy:    NewExponentialBackoff(base, max, true),
	}
}

// Do runs fn until it succeeds, attempts are exhausted, or ctx ends. The
// attempt number passed to fn counts from 1.
func Do(ctx context.Context, cfg *Config, fn func(attempt int) error) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt >= cfg.MaxAttempts {
			break
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(cfg.Strategy.NextDelay(attempt)):
		}
	}

	return fmt.Errorf("all %d attempts exhausted: %w", cfg.MaxAttempts, lastErr)
}
