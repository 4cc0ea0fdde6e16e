package retry

import (
	"math"
	"math/rand"
	"time"
)

// Strategy computes the delay before re-running a failed task attempt.
type Strategy interface {
	// NextDelay returns the delay before attempt+1. Attempts count from 1.
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff doubles the delay each attempt, capped at MaxDelay.
type ExponentialBackoff struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool
}

// NewExponentialBackoff creates an exponential backoff strategy.
func NewExponentialBackoff(baseDelay, maxDelay time.Duration, jitter bool) *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:  baseDelay,
		MaxDelay:   maxDelay,
		Multiplier: 2.0,
		Jitter:     jitter,
	}
}

// DefaultExponentialBackoff is 1s base, 5m cap, with jitter.
func DefaultExponentialBackoff() *ExponentialBackoff {
	return NewExponentialBackoff(1*time.Second, 5*time.Minute, true)
}

func (e *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := float64(e.BaseDelay) * math.Pow(e.Multiplier, float64(attempt-1))
	if delay > float64(e.MaxDelay) {
		delay = float64(e.MaxDelay)
	}
	if e.Jitter {
		delay *= jitterFactor()
	}
	return time.Duration(delay)
}

// LinearBackoff grows the delay by a fixed increment each attempt.
type LinearBackoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Increment time.Duration
	Jitter    bool
}

// NewLinearBackoff creates a linear backoff strategy.
func NewLinearBackoff(baseDelay, maxDelay, increment time.Duration, jitter bool) *LinearBackoff {
	return &LinearBackoff{
		BaseDelay: baseDelay,
		MaxDelay:  maxDelay,
		Increment: increment,
		Jitter:    jitter,
	}
}

func (l *LinearBackoff) NextDelay(attempt int) time.Duration {
	delay := l.BaseDelay + l.Increment*time.Duration(attempt-1)
	if delay > l.MaxDelay {
		delay = l.MaxDelay
	}
	if l.Jitter {
		delay = time.Duration(float64(delay) * jitterFactor())
	}
	return delay
}

// FixedDelay waits the same duration between every attempt.
type FixedDelay struct {
	Delay  time.Duration
	Jitter bool
}

// NewFixedDelay creates a fixed-delay strategy.
func NewFixedDelay(delay time.Duration, jitter bool) *FixedDelay {
	return &FixedDelay{Delay: delay, Jitter: jitter}
}

func (f *FixedDelay) NextDelay(attempt int) time.Duration {
	if f.Jitter {
		return time.Duration(float64(f.Delay) * jitterFactor())
	}
	return f.Delay
}

// jitterFactor randomizes a delay by ±25%.
func jitterFactor() float64 {
	return 0.75 + rand.Float64()*0.5
}
