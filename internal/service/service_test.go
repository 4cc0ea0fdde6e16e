package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/civicflow/civicflow/internal/dag"
	"github.com/civicflow/civicflow/internal/dlq"
	"github.com/civicflow/civicflow/internal/engine"
	"github.com/civicflow/civicflow/internal/operator"
	"github.com/civicflow/civicflow/internal/storage"
	"github.com/civicflow/civicflow/pkg/models"
)

type capturingBus struct {
	mu     sync.Mutex
	events []*models.Event
}

func (b *capturingBus) Publish(_ context.Context, e *models.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	return nil
}

type serviceRig struct {
	store   *storage.MemoryStore
	actions *operator.ActionRegistry
	letters *dlq.MemoryQueue
	bus     *capturingBus
	exec    *engine.Executor
	svc     *Workflows
}

func newServiceRig(t *testing.T) *serviceRig {
	t.Helper()

	rig := &serviceRig{
		store:   storage.NewMemoryStore(),
		actions: operator.NewActionRegistry(),
		letters: dlq.NewMemoryQueue(),
		bus:     &capturingBus{},
	}
	registry := dag.NewRegistry(rig.store)

	cfg := engine.DefaultConfig()
	cfg.WorkerCount = 2
	rig.exec = engine.NewExecutor(registry, rig.store, &operator.Deps{Actions: rig.actions}, rig.letters, cfg)

	if err := rig.exec.Start(context.Background()); err != nil {
		t.Fatalf("start executor: %v", err)
	}
	t.Cleanup(func() { rig.exec.Stop(context.Background()) })

	rig.svc = NewWorkflows(registry, rig.store, rig.exec, nil, rig.bus, nil, rig.letters)
	return rig
}

func (rig *serviceRig) register(t *testing.T, tpl *models.Template, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("build template: %v", err)
	}
	if regErr := rig.svc.RegisterTemplate(context.Background(), tpl); regErr != nil {
		t.Fatalf("register template: %v", regErr)
	}
}

func (rig *serviceRig) waitForStatus(t *testing.T, instanceID string, want models.InstanceStatus) *models.Instance {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		inst, err := rig.store.LoadInstance(context.Background(), instanceID)
		if err != nil {
			t.Fatalf("load instance: %v", err)
		}
		if inst.Status == want {
			return inst
		}
		if time.Now().After(deadline) {
			t.Fatalf("instance %s stuck in %s, want %s", instanceID, inst.Status, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCreateAndStartInstance(t *testing.T) {
	rig := newServiceRig(t)
	tpl, err := dag.NewBuilder("simple").
		Task("done", dag.TerminalTask("OK")).
		Build()
	rig.register(t, tpl, err)

	ctx := context.Background()
	inst, err := rig.svc.CreateInstance(ctx, "simple", "citizen-1", map[string]interface{}{"k": "v"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if inst.Status != models.InstancePending {
		t.Fatalf("status = %s, want PENDING", inst.Status)
	}

	if err := rig.svc.Start(ctx, inst.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	rig.waitForStatus(t, inst.ID, models.InstanceCompleted)
}

func TestCreateInstanceValidation(t *testing.T) {
	rig := newServiceRig(t)
	ctx := context.Background()

	if _, err := rig.svc.CreateInstance(ctx, "", "u", nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty template: %v", err)
	}
	if _, err := rig.svc.CreateInstance(ctx, "tpl", "", nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty user: %v", err)
	}
	if _, err := rig.svc.CreateInstance(ctx, "unknown", "u", nil); !errors.Is(err, dag.ErrTemplateNotFound) {
		t.Fatalf("unknown template: %v", err)
	}
}

func TestSubmitInputValidatesApprovalDecision(t *testing.T) {
	rig := newServiceRig(t)
	tpl, err := dag.NewBuilder("approval").
		Task("review", dag.ApprovalTask()).
		Task("done", dag.TerminalTask("OK")).
		Edge("review", "done").
		Build()
	rig.register(t, tpl, err)

	ctx := context.Background()
	id, err := rig.svc.StartInstance(ctx, "approval", "citizen-1", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	rig.waitForStatus(t, id, models.InstanceWaitingForInput)

	err = rig.svc.SubmitInput(ctx, id, "review", map[string]interface{}{"decision": "MAYBE"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	err = rig.svc.SubmitInput(ctx, id, "review", map[string]interface{}{"decision": operator.DecisionApproved})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	rig.waitForStatus(t, id, models.InstanceCompleted)
}

func TestSubmitInputValidatesForm(t *testing.T) {
	rig := newServiceRig(t)
	form := models.FormSchema{Fields: []models.FormField{
		{Name: "address", Type: models.FieldTypeString, Required: true},
	}}
	tpl, err := dag.NewBuilder("registration").
		Task("details", dag.UserInputTask(form)).
		Task("done", dag.TerminalTask("OK")).
		Edge("details", "done").
		Build()
	rig.register(t, tpl, err)

	ctx := context.Background()
	id, err := rig.svc.StartInstance(ctx, "registration", "citizen-1", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	rig.waitForStatus(t, id, models.InstanceWaitingForInput)

	err = rig.svc.SubmitInput(ctx, id, "details", map[string]interface{}{})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	// A rejected submission leaves the task waiting.
	inst, _ := rig.store.LoadInstance(ctx, id)
	if st := inst.TaskState("details"); st.Status != models.TaskWaiting {
		t.Fatalf("task state after rejected input: %s", st.Status)
	}

	err = rig.svc.SubmitInput(ctx, id, "details", map[string]interface{}{"address": "1 Main St"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	final := rig.waitForStatus(t, id, models.InstanceCompleted)
	if final.Context["address"] != "1 Main St" {
		t.Fatalf("input not merged: %v", final.Context)
	}
}

func TestSubmitInputNonWaitingTask(t *testing.T) {
	rig := newServiceRig(t)
	rig.actions.Register("noop", func(_ context.Context, _, _ map[string]interface{}) (map[string]interface{}, error) {
		return nil, nil
	})
	tpl, err := dag.NewBuilder("plain").
		Task("step", dag.ActionTask("noop")).
		Build()
	rig.register(t, tpl, err)

	ctx := context.Background()
	id, err := rig.svc.StartInstance(ctx, "plain", "citizen-1", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	rig.waitForStatus(t, id, models.InstanceCompleted)

	err = rig.svc.SubmitInput(ctx, id, "step", map[string]interface{}{})
	if !errors.Is(err, ErrTaskNotResumable) {
		t.Fatalf("expected ErrTaskNotResumable, got %v", err)
	}
}

func TestPublishEventValidation(t *testing.T) {
	rig := newServiceRig(t)
	ctx := context.Background()

	err := rig.svc.PublishEvent(ctx, &models.Event{WorkflowID: "wf"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing type: %v", err)
	}
	err = rig.svc.PublishEvent(ctx, &models.Event{Type: models.EventCompleted})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing workflow: %v", err)
	}

	err = rig.svc.PublishEvent(ctx, &models.Event{Type: models.EventCompleted, WorkflowID: "wf"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(rig.bus.events) != 1 {
		t.Fatalf("events published = %d", len(rig.bus.events))
	}
	e := rig.bus.events[0]
	if e.ID == "" || e.Timestamp.IsZero() {
		t.Fatalf("identity not assigned: %+v", e)
	}
}

func TestReplayDeadLetter(t *testing.T) {
	rig := newServiceRig(t)

	// The handler fails until the switch is flipped, so the replayed run
	// succeeds.
	var mu sync.Mutex
	healthy := false
	rig.actions.Register("sync", func(_ context.Context, _, _ map[string]interface{}) (map[string]interface{}, error) {
		mu.Lock()
		defer mu.Unlock()
		if !healthy {
			return nil, errors.New("registry unreachable")
		}
		return nil, nil
	})

	tpl, err := dag.NewBuilder("replayable").
		Task("sync", dag.ActionTask("sync")).
		Task("done", dag.TerminalTask("OK")).
		Edge("sync", "done").
		Build()
	rig.register(t, tpl, err)

	ctx := context.Background()
	id, err := rig.svc.StartInstance(ctx, "replayable", "citizen-1", map[string]interface{}{"case_no": "C-2"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	rig.waitForStatus(t, id, models.InstanceFailed)

	entries, err := rig.svc.ListDeadLetters(ctx, &dlq.Filters{InstanceID: id})
	if err != nil || len(entries) != 1 {
		t.Fatalf("dead letters: %v, %d", err, len(entries))
	}

	mu.Lock()
	healthy = true
	mu.Unlock()

	newID, err := rig.svc.ReplayDeadLetter(ctx, entries[0].ID)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	inst := rig.waitForStatus(t, newID, models.InstanceCompleted)
	if inst.Context["case_no"] != "C-2" {
		t.Fatalf("snapshot not carried: %v", inst.Context)
	}

	replayed, err := rig.svc.ListDeadLetters(ctx, &dlq.Filters{InstanceID: id})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !replayed[0].Replayed {
		t.Fatal("entry not marked replayed")
	}
}
