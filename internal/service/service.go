// Package service is the application facade: it validates requests,
// coordinates the registry, executor, hook engine and event bus, and is
// the only layer the transport talks to.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/civicflow/civicflow/internal/dag"
	"github.com/civicflow/civicflow/internal/dlq"
	"github.com/civicflow/civicflow/internal/engine"
	"github.com/civicflow/civicflow/internal/hook"
	"github.com/civicflow/civicflow/internal/operator"
	"github.com/civicflow/civicflow/internal/storage"
	"github.com/civicflow/civicflow/pkg/models"
)

var (
	// ErrInvalidInput is wrapped around request validation failures.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTaskNotResumable is returned when input targets a task that is
	// not waiting for it.
	ErrTaskNotResumable = errors.New("task is not resumable")
)

// EventPublisher is the slice of the event bus the service uses.
type EventPublisher interface {
	Publish(ctx context.Context, event *models.Event) error
}

// Workflows coordinates instance lifecycle operations.
type Workflows struct {
	registry    *dag.Registry
	store       storage.Store
	exec        *engine.Executor
	hooks       *hook.Engine
	events      EventPublisher
	assigner    engine.Assigner
	deadLetters dlq.Queue
}

// NewWorkflows wires the service. hooks, events, assigner and deadLetters
// may be nil; the corresponding operations then fail or no-op.
func NewWorkflows(registry *dag.Registry, store storage.Store, exec *engine.Executor, hooks *hook.Engine, events EventPublisher, assigner engine.Assigner, deadLetters dlq.Queue) *Workflows {
	return &Workflows{
		registry:    registry,
		store:       store,
		exec:        exec,
		hooks:       hooks,
		events:      events,
		assigner:    assigner,
		deadLetters: deadLetters,
	}
}

// CreateInstance allocates and persists an instance of a registered
// template without admitting it.
func (s *Workflows) CreateInstance(ctx context.Context, templateID, userID string, initial map[string]interface{}) (*models.Instance, error) {
	if templateID == "" {
		return nil, fmt.Errorf("%w: template ID is required", ErrInvalidInput)
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: user ID is required", ErrInvalidInput)
	}

	inst, err := s.registry.NewInstance(templateID, userID, initial)
	if err != nil {
		return nil, err
	}

	if s.assigner != nil && inst.Type == models.WorkflowTypeAdmin {
		if err := s.assigner.Assign(ctx, inst); err != nil {
			// Unassigned admin work still enters the system; a reviewer
			// binds it later.
			inst.Status = models.InstanceWaitingForAssignment
		}
	}

	if err := s.store.CreateInstance(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// Start admits a created instance for execution.
func (s *Workflows) Start(ctx context.Context, instanceID string) error {
	return s.exec.Submit(ctx, instanceID)
}

// StartInstance creates and immediately admits an instance. It implements
// the hook engine's starter contract.
func (s *Workflows) StartInstance(ctx context.Context, templateID, userID string, initial map[string]interface{}) (string, error) {
	inst, err := s.CreateInstance(ctx, templateID, userID, initial)
	if err != nil {
		return "", err
	}
	if inst.Status == models.InstancePending {
		if err := s.exec.Submit(ctx, inst.ID); err != nil {
			return "", err
		}
	}
	return inst.ID, nil
}

// GetInstance loads one instance.
func (s *Workflows) GetInstance(ctx context.Context, instanceID string) (*models.Instance, error) {
	return s.store.LoadInstance(ctx, instanceID)
}

// ListInstances lists instances matching the filters.
func (s *Workflows) ListInstances(ctx context.Context, filters storage.InstanceFilters) ([]*models.Instance, error) {
	return s.store.ListInstances(ctx, filters)
}

// GetTemplate returns a registered template.
func (s *Workflows) GetTemplate(_ context.Context, templateID string) (*models.Template, error) {
	return s.registry.Get(templateID)
}

// ListTemplates returns all registered templates.
func (s *Workflows) ListTemplates(_ context.Context) []*models.Template {
	return s.registry.List()
}

// RegisterTemplate validates and registers a new template.
func (s *Workflows) RegisterTemplate(ctx context.Context, tpl *models.Template) error {
	return s.registry.Register(ctx, tpl)
}

// SubmitInput validates a payload against what the waiting task expects
// and resumes it. Approval tasks require a valid decision; input tasks
// require a payload satisfying the declared form.
func (s *Workflows) SubmitInput(ctx context.Context, instanceID, taskID string, input map[string]interface{}) error {
	inst, err := s.store.LoadInstance(ctx, instanceID)
	if err != nil {
		return err
	}

	st := inst.TaskState(taskID)
	if st == nil {
		return fmt.Errorf("%w: unknown task %s", storage.ErrNotFound, taskID)
	}
	if st.Status != models.TaskWaiting {
		return fmt.Errorf("%w: task %s is %s", ErrTaskNotResumable, taskID, st.Status)
	}

	graph, err := s.registry.Graph(inst.TemplateID)
	if err != nil {
		return err
	}
	def, err := graph.Task(taskID)
	if err != nil {
		return err
	}

	switch def.Kind {
	case models.OperatorApproval:
		decision, _ := input["decision"].(string)
		if !operator.ValidDecision(decision) {
			return fmt.Errorf("%w: approval decision %q", ErrInvalidInput, decision)
		}
	case models.OperatorUserInput, models.OperatorAdminInput:
		if def.Input != nil {
			if errs := def.Input.Form.Validate(input); len(errs) > 0 {
				return fmt.Errorf("%w: %v", ErrInvalidInput, errs[0])
			}
		}
	}

	return s.exec.Resume(ctx, instanceID, taskID, input)
}

// Cancel terminates an instance.
func (s *Workflows) Cancel(ctx context.Context, instanceID string) error {
	return s.exec.Cancel(ctx, instanceID)
}

// Pause suspends scheduling for an instance.
func (s *Workflows) Pause(ctx context.Context, instanceID string) error {
	return s.exec.Pause(ctx, instanceID)
}

// Unpause resumes a paused instance.
func (s *Workflows) Unpause(ctx context.Context, instanceID string) error {
	return s.exec.Unpause(ctx, instanceID)
}

// ListLogs returns the append-only log of an instance.
func (s *Workflows) ListLogs(ctx context.Context, instanceID string, limit int) ([]*storage.InstanceLog, error) {
	return s.store.ListLogs(ctx, instanceID, limit)
}

// RegisterHook validates and stores a hook registration.
func (s *Workflows) RegisterHook(ctx context.Context, h *models.Hook) error {
	if s.hooks == nil {
		return errors.New("hook engine not configured")
	}
	return s.hooks.Register(ctx, h)
}

// UnregisterHook removes a hook registration.
func (s *Workflows) UnregisterHook(ctx context.Context, id string) error {
	if s.hooks == nil {
		return errors.New("hook engine not configured")
	}
	return s.hooks.Unregister(ctx, id)
}

// ListHooks lists registered hooks.
func (s *Workflows) ListHooks(ctx context.Context, filters storage.HookFilters) ([]*models.Hook, error) {
	if s.hooks == nil {
		return nil, errors.New("hook engine not configured")
	}
	return s.hooks.List(ctx, filters)
}

// PublishEvent accepts an externally sourced event into the bus, where
// hooks and subscribers observe it.
func (s *Workflows) PublishEvent(ctx context.Context, event *models.Event) error {
	if s.events == nil {
		return errors.New("event bus not configured")
	}
	if event.Type == "" {
		return fmt.Errorf("%w: event type is required", ErrInvalidInput)
	}
	if event.WorkflowID == "" {
		return fmt.Errorf("%w: workflow ID is required", ErrInvalidInput)
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return s.events.Publish(ctx, event)
}

// QueryEvents returns persisted events matching the filters.
func (s *Workflows) QueryEvents(ctx context.Context, filters storage.EventFilters) ([]*models.Event, error) {
	return s.store.QueryEvents(ctx, filters)
}

// ListDeadLetters returns dead-lettered task failures.
func (s *Workflows) ListDeadLetters(ctx context.Context, filters *dlq.Filters) ([]*dlq.Entry, error) {
	if s.deadLetters == nil {
		return nil, errors.New("dead letter queue not configured")
	}
	return s.deadLetters.List(ctx, filters)
}

// ReplayDeadLetter starts a fresh instance of the failed template from
// the dead letter's context snapshot and marks the entry replayed.
func (s *Workflows) ReplayDeadLetter(ctx context.Context, entryID string) (string, error) {
	if s.deadLetters == nil {
		return "", errors.New("dead letter queue not configured")
	}
	entry, err := s.deadLetters.Get(ctx, entryID)
	if err != nil {
		return "", err
	}

	failed, err := s.store.LoadInstance(ctx, entry.InstanceID)
	if err != nil {
		return "", err
	}

	instanceID, err := s.StartInstance(ctx, entry.TemplateID, failed.UserID, entry.ContextSnapshot)
	if err != nil {
		return "", err
	}
	if err := s.deadLetters.Replay(ctx, entryID); err != nil {
		return "", err
	}
	return instanceID, nil
}
