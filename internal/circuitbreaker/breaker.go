// Package circuitbreaker protects outbound integration calls: after a run
// of failures the circuit opens and calls fail fast until a probe
// succeeds.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen is returned while the circuit rejects calls.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTooManyRequests is returned when the half-open probe budget is
	// spent.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// State is the breaker's position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config tunes a breaker.
type Config struct {
	// MaxFailures is the consecutive-failure run that opens the circuit.
	MaxFailures int

	// OpenTimeout is how long the circuit stays open before allowing a
	// half-open probe.
	OpenTimeout time.Duration

	// HalfOpenMaxProbes bounds concurrent half-open probes.
	HalfOpenMaxProbes int

	// OnStateChange observes transitions, used for logging.
	OnStateChange func(from, to State)
}

// DefaultConfig opens after 5 failures, probes after 60 seconds.
func DefaultConfig() *Config {
	return &Config{
		MaxFailures:       5,
		OpenTimeout:       60 * time.Second,
		HalfOpenMaxProbes: 1,
	}
}

// Breaker is one circuit, typically one per external service.
type Breaker struct {
	cfg *Config

	mu              sync.Mutex
	state           State
	failures        int
	probes          int
	lastFailureTime time.Time
}

// New creates a closed breaker.
func New(cfg *Config) *Breaker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Breaker{cfg: cfg, state: StateClosed}
}

// Do runs fn under the breaker. While open it returns ErrCircuitOpen
// without calling fn.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

// Call is Do for functions that return a value.
func Call[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	if err := b.admit(); err != nil {
		return zero, err
	}
	val, err := fn()
	b.record(err)
	return val, err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(b.lastFailureTime) >= b.cfg.OpenTimeout {
			b.transition(StateHalfOpen)
			b.probes = 1
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.probes >= b.cfg.HalfOpenMaxProbes {
			return ErrTooManyRequests
		}
		b.probes++
		return nil
	default:
		return ErrCircuitOpen
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		if err == nil {
			b.failures = 0
			return
		}
		b.failures++
		b.lastFailureTime = time.Now()
		if b.failures >= b.cfg.MaxFailures {
			b.transition(StateOpen)
		}

	case StateHalfOpen:
		if err == nil {
			// One successful probe closes the circuit.
			b.transition(StateClosed)
			b.failures = 0
			return
		}
		b.lastFailureTime = time.Now()
		b.transition(StateOpen)
	}
}

func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}

// State returns the breaker's current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset force-closes the circuit.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
	b.failures = 0
	b.probes = 0
}
