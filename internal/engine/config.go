package engine

import "time"

// Config holds executor tuning knobs.
type Config struct {
	// WorkerCount bounds how many instances make progress concurrently.
	WorkerCount int

	// QueueSize is the capacity of the FIFO admission queue.
	QueueSize int

	// TickRetries bounds how often a tick is re-run after an optimistic
	// concurrency conflict before giving up until the next admission.
	TickRetries int

	ShutdownTimeout time.Duration
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() *Config {
	return &Config{
		WorkerCount:     10,
		QueueSize:       256,
		TickRetries:     3,
		ShutdownTimeout: 30 * time.Second,
	}
}
