package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/civicflow/civicflow/internal/storage"
	"github.com/civicflow/civicflow/pkg/models"
)

func publish(t *testing.T, bus *Bus, eventType models.EventType, workflowID string) *models.Event {
	t.Helper()
	ev := &models.Event{
		Type:       eventType,
		WorkflowID: workflowID,
		InstanceID: "inst-1",
	}
	if err := bus.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	return ev
}

func TestPublishPersistsBeforeFanout(t *testing.T) {
	store := storage.NewMemoryStore()
	bus := NewBus(store)
	defer bus.Close()

	ev := publish(t, bus, models.EventCompleted, "wf-permit")

	if ev.ID == "" || ev.Timestamp.IsZero() {
		t.Error("Publish should assign ID and timestamp")
	}

	stored, err := store.QueryEvents(context.Background(), storage.EventFilters{WorkflowID: "wf-permit"})
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(stored) != 1 || stored[0].ID != ev.ID {
		t.Fatalf("stored events = %v", stored)
	}
}

func TestSubscribeReceivesMatchingTypeOnly(t *testing.T) {
	store := storage.NewMemoryStore()
	bus := NewBus(store)
	defer bus.Close()

	var mu sync.Mutex
	var got []models.EventType
	done := make(chan struct{}, 4)

	bus.Subscribe(models.EventCompleted, func(_ context.Context, ev *models.Event) error {
		mu.Lock()
		got = append(got, ev.Type)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})

	publish(t, bus, models.EventStarted, "wf-a")
	publish(t, bus, models.EventCompleted, "wf-a")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber not invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != models.EventCompleted {
		t.Errorf("received %v, want one COMPLETED", got)
	}
}

func TestSinkSeesEveryEventInSourceOrder(t *testing.T) {
	store := storage.NewMemoryStore()
	bus := NewBus(store)
	defer bus.Close()

	var mu sync.Mutex
	var order []models.EventType
	done := make(chan struct{}, 8)

	bus.RegisterSink(func(_ context.Context, ev *models.Event) error {
		mu.Lock()
		order = append(order, ev.Type)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})

	publish(t, bus, models.EventStarted, "wf-a")
	publish(t, bus, models.EventApprovalRequested, "wf-a")
	publish(t, bus, models.EventCompleted, "wf-a")

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("sink saw %d of 3 events", i)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []models.EventType{models.EventStarted, models.EventApprovalRequested, models.EventCompleted}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("delivery order = %v, want %v", order, want)
		}
	}
}

func TestSaturatedLaneKeepsSourceOrder(t *testing.T) {
	store := storage.NewMemoryStore()
	bus := NewBus(store)
	bus.laneSize = 1
	defer bus.Close()

	gate := make(chan struct{})
	var mu sync.Mutex
	var order []models.EventType
	done := make(chan struct{}, 8)

	bus.RegisterSink(func(_ context.Context, ev *models.Event) error {
		<-gate
		mu.Lock()
		order = append(order, ev.Type)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})

	types := []models.EventType{
		models.EventStarted,
		models.EventApprovalRequested,
		models.EventResumed,
		models.EventCompleted,
	}
	published := make(chan error, 1)
	go func() {
		for _, et := range types {
			ev := &models.Event{Type: et, WorkflowID: "wf-a", InstanceID: "inst-1"}
			if err := bus.Publish(context.Background(), ev); err != nil {
				published <- err
				return
			}
		}
		published <- nil
	}()

	// The publisher must wait on the full lane instead of completing.
	select {
	case err := <-published:
		t.Fatalf("publishes finished against a saturated lane (err=%v)", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	if err := <-published; err != nil {
		t.Fatalf("Publish: %v", err)
	}
	for i := 0; i < len(types); i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("sink saw %d of %d events", i, len(types))
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i := range types {
		if order[i] != types[i] {
			t.Fatalf("delivery order = %v, want %v", order, types)
		}
	}
}
