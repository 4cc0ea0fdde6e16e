// Package dlq keeps a record of task failures that exhausted their retry
// policy, so operators can inspect and replay them after fixing the cause.
package dlq

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when an entry does not exist.
	ErrNotFound = errors.New("dlq entry not found")

	// ErrAlreadyExists is returned on a duplicate entry ID.
	ErrAlreadyExists = errors.New("dlq entry already exists")
)

// Entry is one dead-lettered task failure.
type Entry struct {
	ID         string    `json:"id"`
	InstanceID string    `json:"instance_id"`
	TemplateID string    `json:"workflow_id"`
	TaskID     string    `json:"task_id"`

	ErrorMessage string    `json:"error_message"`
	Attempts     int       `json:"attempts"`
	FailureTime  time.Time `json:"failure_time"`

	// ContextSnapshot is the instance context at failure time, kept so a
	// replay can be diagnosed against the inputs the task actually saw.
	ContextSnapshot map[string]interface{} `json:"context_snapshot,omitempty"`

	Replayed   bool       `json:"replayed"`
	ReplayedAt *time.Time `json:"replayed_at,omitempty"`
}

// Filters narrows a List call.
type Filters struct {
	TemplateID string
	InstanceID string
	TaskID     string
	Replayed   *bool
	After      *time.Time
	Before     *time.Time
	Limit      int
	Offset     int
}

// Queue is the dead letter queue contract.
type Queue interface {
	Add(ctx context.Context, entry *Entry) error
	Get(ctx context.Context, id string) (*Entry, error)
	List(ctx context.Context, filters *Filters) ([]*Entry, error)

	// Replay marks an entry replayed; re-running the task is the caller's
	// responsibility.
	Replay(ctx context.Context, id string) error

	Delete(ctx context.Context, id string) error
	Purge(ctx context.Context) error
	Count(ctx context.Context) (int, error)
}

// MemoryQueue is an in-memory Queue.
type MemoryQueue struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{entries: make(map[string]*Entry)}
}

func (q *MemoryQueue) Add(_ context.Context, entry *Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.entries[entry.ID]; exists {
		return ErrAlreadyExists
	}
	q.entries[entry.ID] = entry
	return nil
}

func (q *MemoryQueue) Get(_ context.Context, id string) (*Entry, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	entry, exists := q.entries[id]
	if !exists {
		return nil, ErrNotFound
	}
	return entry, nil
}

func (q *MemoryQueue) List(_ context.Context, filters *Filters) ([]*Entry, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var result []*Entry
	for _, entry := range q.entries {
		if !matches(entry, filters) {
			continue
		}
		result = append(result, entry)
	}

	// Newest failures first.
	sort.Slice(result, func(i, j int) bool {
		return result[i].FailureTime.After(result[j].FailureTime)
	})

	if filters != nil {
		if filters.Offset >= len(result) {
			return nil, nil
		}
		if filters.Offset > 0 {
			result = result[filters.Offset:]
		}
		if filters.Limit > 0 && filters.Limit < len(result) {
			result = result[:filters.Limit]
		}
	}
	return result, nil
}

func matches(entry *Entry, f *Filters) bool {
	if f == nil {
		return true
	}
	if f.TemplateID != "" && entry.TemplateID != f.TemplateID {
		return false
	}
	if f.InstanceID != "" && entry.InstanceID != f.InstanceID {
		return false
	}
	if f.TaskID != "" && entry.TaskID != f.TaskID {
		return false
	}
	if f.Replayed != nil && entry.Replayed != *f.Replayed {
		return false
	}
	if f.After != nil && entry.FailureTime.Before(*f.After) {
		return false
	}
	if f.Before != nil && entry.FailureTime.After(*f.Before) {
		return false
	}
	return true
}

func (q *MemoryQueue) Replay(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, exists := q.entries[id]
	if !exists {
		return ErrNotFound
	}

	now := time.Now().UTC()
	entry.Replayed = true
	entry.ReplayedAt = &now
	return nil
}

func (q *MemoryQueue) Delete(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.entries[id]; !exists {
		return ErrNotFound
	}
	delete(q.entries, id)
	return nil
}

func (q *MemoryQueue) Purge(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = make(map[string]*Entry)
	return nil
}

func (q *MemoryQueue) Count(_ context.Context) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return len(q.entries), nil
}
