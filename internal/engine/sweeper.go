package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/civicflow/civicflow/internal/storage"
	"github.com/civicflow/civicflow/pkg/models"
)

// SweepConfig tunes the recovery sweep.
type SweepConfig struct {
	// Interval between sweeps.
	Interval time.Duration

	// BatchSize caps how many instances one sweep re-admits per status.
	BatchSize int
}

// DefaultSweepConfig returns the default sweep configuration.
func DefaultSweepConfig() *SweepConfig {
	return &SweepConfig{
		Interval:  30 * time.Second,
		BatchSize: 100,
	}
}

// Sweeper periodically re-admits instances the executor may have lost
// track of: PENDING instances created before a crash, and RUNNING
// instances suspended on a child workflow whose wait budget is checked
// lazily on re-entry.
type Sweeper struct {
	executor *Executor
	store    storage.InstanceStore
	cfg      *SweepConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewSweeper wires a sweeper over the executor's store.
func NewSweeper(executor *Executor, store storage.InstanceStore, cfg *SweepConfig) *Sweeper {
	if cfg == nil {
		cfg = DefaultSweepConfig()
	}
	return &Sweeper{
		executor: executor,
		store:    store,
		cfg:      cfg,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true

	s.wg.Add(1)
	go s.loop(ctx)
	log.Printf("Sweeper started, interval %s", s.cfg.Interval)
	return nil
}

// Stop terminates the sweep loop.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass. Exported so boot code can force a recovery pass
// before serving traffic.
func (s *Sweeper) Sweep(ctx context.Context) {
	for _, status := range []models.InstanceStatus{models.InstancePending, models.InstanceRunning} {
		st := status
		instances, err := s.store.ListInstances(ctx, storage.InstanceFilters{
			Status: &st,
			Limit:  s.cfg.BatchSize,
		})
		if err != nil {
			log.Printf("Sweep failed listing %s instances: %v", status, err)
			continue
		}
		for _, inst := range instances {
			s.executor.Wake(inst.ID)
		}
	}
}
