// Package event is the publication path for workflow lifecycle events:
// persist first, then fan out asynchronously to hook processing, direct
// subscribers, and external transports.
package event

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/civicflow/civicflow/internal/storage"
	"github.com/civicflow/civicflow/pkg/models"
)

// Handler consumes one event. Handlers run outside the publisher's call
// path; returning an error only logs.
type Handler func(ctx context.Context, event *models.Event) error

// Bus persists events and fans them out. Publication is fire-and-forget
// for the caller; the appended event is the source of truth.
type Bus struct {
	store storage.EventStore

	mu          sync.RWMutex
	subscribers map[models.EventType][]Handler
	sinks       []Handler

	// Per-source-workflow FIFO delivery lanes.
	lanes   map[string]chan *models.Event
	lanesMu sync.Mutex

	wg       sync.WaitGroup
	closed   chan struct{}
	laneSize int
}

// NewBus creates a bus over the given event store.
func NewBus(store storage.EventStore) *Bus {
	return &Bus{
		store:       store,
		subscribers: make(map[models.EventType][]Handler),
		lanes:       make(map[string]chan *models.Event),
		closed:      make(chan struct{}),
		laneSize:    128,
	}
}

// Subscribe registers an in-process handler for one event type. Used by
// infrastructure such as audit and metrics.
func (b *Bus) Subscribe(eventType models.EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// RegisterSink registers a handler that sees every event, in per-source
// FIFO order. The hook engine registers itself here.
func (b *Bus) RegisterSink(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, handler)
}

// Publish persists the event and schedules asynchronous delivery. Events
// from the same source workflow are delivered to sinks in publication
// order; across workflows there is no ordering.
func (b *Bus) Publish(ctx context.Context, event *models.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if err := b.store.AppendEvent(ctx, event); err != nil {
		return err
	}

	// Block when the lane is saturated. Delivering inline instead would
	// let this event overtake ones already queued for the same workflow.
	lane := b.laneFor(event.WorkflowID)
	select {
	case lane <- event:
	case <-b.closed:
	}
	return nil
}

// Emit implements operator.EventEmitter.
func (b *Bus) Emit(ctx context.Context, event *models.Event) error {
	return b.Publish(ctx, event)
}

// laneFor returns the FIFO delivery lane for a source workflow, starting
// its drain goroutine on first use.
func (b *Bus) laneFor(workflowID string) chan *models.Event {
	b.lanesMu.Lock()
	defer b.lanesMu.Unlock()

	lane, ok := b.lanes[workflowID]
	if ok {
		return lane
	}
	lane = make(chan *models.Event, b.laneSize)
	b.lanes[workflowID] = lane

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-b.closed:
				return
			case ev := <-lane:
				b.deliver(ev)
			}
		}
	}()
	return lane
}

func (b *Bus) deliver(event *models.Event) {
	b.mu.RLock()
	sinks := b.sinks
	subs := b.subscribers[event.Type]
	b.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, sink := range sinks {
		if err := sink(ctx, event); err != nil {
			log.Printf("Event sink failed for %s (%s): %v", event.ID, event.Type, err)
		}
	}
	for _, handler := range subs {
		if err := handler(ctx, event); err != nil {
			log.Printf("Event subscriber failed for %s (%s): %v", event.ID, event.Type, err)
		}
	}
}

// Close stops the delivery lanes. Events already persisted but not yet
// delivered are picked up by hook replay on next boot.
func (b *Bus) Close() {
	close(b.closed)
	b.wg.Wait()
}
