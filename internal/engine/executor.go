// Package engine drives workflow instances: it admits ready tasks in
// topological order, runs their operators, persists the resulting state,
// and re-admits instances when external input arrives.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/civicflow/civicflow/internal/dag"
	"github.com/civicflow/civicflow/internal/dlq"
	"github.com/civicflow/civicflow/internal/operator"
	"github.com/civicflow/civicflow/internal/retry"
	"github.com/civicflow/civicflow/internal/storage"
	"github.com/civicflow/civicflow/pkg/models"
)

var (
	// ErrNotRunning is returned when work is submitted to a stopped
	// executor.
	ErrNotRunning = errors.New("executor is not running")

	// ErrQueueFull is returned when the admission queue is saturated.
	ErrQueueFull = errors.New("executor queue is full")

	// ErrInstanceTerminal is returned when an operation targets an
	// instance that already reached COMPLETED, FAILED or CANCELLED.
	ErrInstanceTerminal = errors.New("instance is in a terminal state")

	// ErrTaskNotWaiting is returned when a resume targets a task that is
	// not suspended.
	ErrTaskNotWaiting = errors.New("task is not waiting for input")
)

// Executor runs instances over a bounded worker pool. Many instances make
// progress in parallel; within one instance, tasks run sequentially and a
// per-instance lock linearizes ticks with external resumes.
type Executor struct {
	registry    *dag.Registry
	store       storage.Store
	deps        *operator.Deps
	deadLetters dlq.Queue
	assigner    Assigner
	cfg         *Config

	queue chan string
	locks sync.Map // instance ID -> *sync.Mutex

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
	stopCh  chan struct{}
}

// NewExecutor wires an executor. When deps carries no child-workflow
// service, the executor serves that role itself.
func NewExecutor(registry *dag.Registry, store storage.Store, deps *operator.Deps, deadLetters dlq.Queue, cfg *Config) *Executor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if deps == nil {
		deps = &operator.Deps{}
	}

	e := &Executor{
		registry:    registry,
		store:       store,
		deps:        deps,
		deadLetters: deadLetters,
		cfg:         cfg,
		queue:       make(chan string, cfg.QueueSize),
		stopCh:      make(chan struct{}),
	}
	if deps.Children == nil {
		deps.Children = e
	}
	return e
}

// Start launches the worker pool.
func (e *Executor) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("executor already running")
	}
	e.running = true

	for i := 0; i < e.cfg.WorkerCount; i++ {
		e.wg.Add(1)
		go e.worker(ctx, i)
	}

	log.Printf("Executor started with %d workers", e.cfg.WorkerCount)
	return nil
}

// Stop drains the workers, waiting up to the shutdown timeout.
func (e *Executor) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	close(e.stopCh)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("All executor workers stopped")
	case <-time.After(e.cfg.ShutdownTimeout):
		log.Println("Executor shutdown timeout reached")
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (e *Executor) isRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Executor) worker(ctx context.Context, id int) {
	defer e.wg.Done()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case instanceID := <-e.queue:
			e.runInstance(ctx, instanceID)
		}
	}
}

// Submit admits an instance for execution. The instance must already be
// persisted.
func (e *Executor) Submit(ctx context.Context, instanceID string) error {
	if !e.isRunning() {
		return ErrNotRunning
	}
	if _, err := e.store.LoadInstance(ctx, instanceID); err != nil {
		return err
	}
	return e.enqueue(instanceID)
}

// Wake re-admits an instance, used when external state it waits on changed
// (child completion, assignment, timer sweep). Unknown or terminal
// instances are a no-op at tick time.
func (e *Executor) Wake(instanceID string) {
	if !e.isRunning() {
		return
	}
	if err := e.enqueue(instanceID); err != nil {
		log.Printf("Failed to wake instance %s: %v", instanceID, err)
	}
}

func (e *Executor) enqueue(instanceID string) error {
	select {
	case e.queue <- instanceID:
		return nil
	case <-e.stopCh:
		return ErrNotRunning
	default:
		return ErrQueueFull
	}
}

// lockFor returns the mutex linearizing all work on one instance.
func (e *Executor) lockFor(instanceID string) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(instanceID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// runInstance ticks an instance until it settles, re-running the tick on
// optimistic concurrency conflicts.
func (e *Executor) runInstance(ctx context.Context, instanceID string) {
	mu := e.lockFor(instanceID)
	mu.Lock()
	defer mu.Unlock()

	for attempt := 0; attempt <= e.cfg.TickRetries; attempt++ {
		err := e.tick(ctx, instanceID)
		if err == nil {
			return
		}
		if errors.Is(err, storage.ErrConflict) {
			log.Printf("Instance %s: tick conflict, re-reading (attempt %d)", instanceID, attempt+1)
			continue
		}
		log.Printf("Instance %s: tick failed: %v", instanceID, err)
		return
	}
	log.Printf("Instance %s: giving up after %d conflicting ticks", instanceID, e.cfg.TickRetries+1)
}

// tick loads the instance and runs every admissible task once, persisting
// after each task. It returns storage.ErrConflict when a concurrent writer
// invalidated the loaded state.
func (e *Executor) tick(ctx context.Context, instanceID string) error {
	inst, err := e.store.LoadInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	if inst.Status != models.InstancePending && inst.Status != models.InstanceRunning {
		// Terminal, paused, or suspended on input/assignment: only an
		// explicit resume or binding brings the instance back.
		return nil
	}

	graph, err := e.registry.Graph(inst.TemplateID)
	if err != nil {
		return err
	}

	if inst.Status == models.InstancePending {
		now := time.Now().UTC()
		inst.Status = models.InstanceRunning
		inst.StartedAt = &now
		if err := e.saveInstance(ctx, inst); err != nil {
			return err
		}
		e.emit(ctx, inst, models.EventStarted, nil)
		e.logInstance(ctx, inst.ID, "", "INFO", "lifecycle", "Instance started", nil)
	}

	polled := make(map[string]bool)
	for {
		taskID := e.nextAdmissible(graph, inst, polled)
		if taskID == "" {
			return e.settle(ctx, inst, graph)
		}
		polled[taskID] = true

		done, err := e.runTask(ctx, inst, graph, taskID, nil)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// nextAdmissible picks the first task to run this round: a pending ready
// task, or a waiting child-workflow task to poll (at most once per tick).
// Other waiting tasks only re-enter through Resume.
func (e *Executor) nextAdmissible(graph *dag.Graph, inst *models.Instance, polled map[string]bool) string {
	for _, id := range graph.ReadySet(inst) {
		st := inst.TaskState(id)
		if st.Status == models.TaskPending {
			return id
		}
		if st.Status == models.TaskWaiting && st.WaitingFor == operator.WaitChildWorkflow && !polled[id] {
			return id
		}
	}
	return ""
}

// runTask executes one task and persists the outcome. done reports that
// the instance reached a state where this tick must stop (suspended or
// terminal).
func (e *Executor) runTask(ctx context.Context, inst *models.Instance, graph *dag.Graph, taskID string, resumeInput map[string]interface{}) (bool, error) {
	def, err := graph.Task(taskID)
	if err != nil {
		return false, err
	}

	st := inst.TaskState(taskID)
	if st == nil {
		st = &models.TaskState{Status: models.TaskPending}
		inst.TaskStates[taskID] = st
	}
	if st.StartedAt == nil {
		now := time.Now().UTC()
		st.StartedAt = &now
	}
	st.Status = models.TaskExecuting
	inst.CurrentTask = taskID

	ec := &operator.ExecContext{
		Instance:    inst,
		Task:        def,
		Snapshot:    snapshot(inst.Context),
		ResumeInput: resumeInput,
		Deps:        e.deps,
	}

	result := e.execute(ctx, def, st, ec)

	switch result.Status {
	case operator.StatusCompleted, operator.StatusContinue:
		inst.MarkTaskCompleted(taskID, result.Data)
		inst.MergeContext(result.Data)
		inst.CurrentTask = ""
		e.logInstance(ctx, inst.ID, taskID, "INFO", "task", fmt.Sprintf("Task %s completed", taskID), nil)

		if def.Kind == models.OperatorTerminal {
			e.finalize(inst, terminalString(result.Data, "terminal_status"), terminalString(result.Data, "terminal_message"))
			if err := e.saveInstance(ctx, inst); err != nil {
				return false, err
			}
			e.emit(ctx, inst, models.EventCompleted, map[string]interface{}{"terminal_status": inst.TerminalStatus})
			e.logInstance(ctx, inst.ID, "", "INFO", "lifecycle", "Instance completed: "+inst.TerminalStatus, nil)
			e.wakeParent(inst)
			return true, nil
		}
		return false, e.saveInstance(ctx, inst)

	case operator.StatusWaiting:
		st.Status = models.TaskWaiting
		st.WaitingFor = result.WaitingFor
		st.OutputData = waitingOutput(result)
		inst.MergeContext(result.Data)
		inst.CurrentTask = taskID
		if result.WaitingFor != operator.WaitChildWorkflow {
			inst.Status = models.InstanceWaitingForInput
		}
		if err := e.saveInstance(ctx, inst); err != nil {
			return false, err
		}
		e.logInstance(ctx, inst.ID, taskID, "INFO", "task", fmt.Sprintf("Task %s waiting for %s", taskID, result.WaitingFor), nil)
		// A suspended instance leaves the tick; child-workflow waits let
		// the rest of the ready set proceed.
		return result.WaitingFor != operator.WaitChildWorkflow, nil

	case operator.StatusFailed:
		inst.MarkTaskFailed(taskID, result.Error)
		inst.Status = models.InstanceFailed
		now := time.Now().UTC()
		inst.CompletedAt = &now
		inst.CurrentTask = ""
		if err := e.saveInstance(ctx, inst); err != nil {
			return false, err
		}
		e.deadLetter(ctx, inst, taskID, st, result.Error)
		e.emit(ctx, inst, models.EventFailed, map[string]interface{}{"task_id": taskID, "error": result.Error})
		e.logInstance(ctx, inst.ID, taskID, "ERROR", "task", fmt.Sprintf("Task %s failed: %s", taskID, result.Error), nil)
		e.wakeParent(inst)
		return true, nil

	default:
		return false, fmt.Errorf("task %s returned unknown result status %q", taskID, result.Status)
	}
}

// execute runs the operator under the task's retry policy. Suspensions and
// completions are not retried; only FAILED results are, and no partial
// output of a failed attempt survives.
func (e *Executor) execute(ctx context.Context, def *models.TaskDef, st *models.TaskState, ec *operator.ExecContext) *operator.TaskResult {
	op, err := operator.ForTask(def)
	if err != nil {
		return operator.Failed("%v", err)
	}

	cfg := retry.FromPolicy(def.Retry)
	cfg.OnRetry = func(attempt int, err error) {
		log.Printf("Instance %s task %s attempt %d failed, retrying: %v", ec.Instance.ID, def.ID, attempt, err)
	}

	var result *operator.TaskResult
	retryErr := retry.Do(ctx, cfg, func(attempt int) error {
		st.Attempts = attempt
		result = op.Execute(ctx, ec)
		if result.Status == operator.StatusFailed {
			return errors.New(result.Error)
		}
		return nil
	})
	if retryErr != nil && result == nil {
		return operator.Failed("%v", retryErr)
	}
	return result
}

// Resume delivers external input to a waiting task and, when the task
// completes, continues the instance.
func (e *Executor) Resume(ctx context.Context, instanceID, taskID string, input map[string]interface{}) error {
	if !e.isRunning() {
		return ErrNotRunning
	}

	mu := e.lockFor(instanceID)
	mu.Lock()

	err := e.resumeLocked(ctx, instanceID, taskID, input)
	mu.Unlock()
	if err != nil {
		return err
	}

	e.Wake(instanceID)
	return nil
}

func (e *Executor) resumeLocked(ctx context.Context, instanceID, taskID string, input map[string]interface{}) error {
	inst, err := e.store.LoadInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	if inst.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrInstanceTerminal, inst.Status)
	}

	st := inst.TaskState(taskID)
	if st == nil {
		return fmt.Errorf("%w: task %s", storage.ErrNotFound, taskID)
	}
	if st.Status != models.TaskWaiting {
		return fmt.Errorf("%w: task %s is %s", ErrTaskNotWaiting, taskID, st.Status)
	}

	graph, err := e.registry.Graph(inst.TemplateID)
	if err != nil {
		return err
	}

	if inst.Status == models.InstanceWaitingForInput || inst.Status == models.InstanceWaitingForAssignment {
		inst.Status = models.InstanceRunning
		e.emit(ctx, inst, models.EventResumed, map[string]interface{}{"task_id": taskID})
	}

	if input == nil {
		// Resume without payload still counts as external input.
		input = map[string]interface{}{}
	}
	_, err = e.runTask(ctx, inst, graph, taskID, input)
	return err
}

// Cancel marks an instance CANCELLED. In-flight results hit an optimistic
// conflict on persist and are discarded.
func (e *Executor) Cancel(ctx context.Context, instanceID string) error {
	mu := e.lockFor(instanceID)
	mu.Lock()
	defer mu.Unlock()

	inst, err := e.store.LoadInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	if inst.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrInstanceTerminal, inst.Status)
	}

	now := time.Now().UTC()
	inst.Status = models.InstanceCancelled
	inst.CompletedAt = &now
	inst.CurrentTask = ""
	if err := e.saveInstance(ctx, inst); err != nil {
		return err
	}
	e.logInstance(ctx, inst.ID, "", "INFO", "lifecycle", "Instance cancelled", nil)
	return nil
}

// Pause suspends scheduling for an instance until Unpause.
func (e *Executor) Pause(ctx context.Context, instanceID string) error {
	mu := e.lockFor(instanceID)
	mu.Lock()
	defer mu.Unlock()

	inst, err := e.store.LoadInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	if inst.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrInstanceTerminal, inst.Status)
	}

	inst.Status = models.InstancePaused
	if err := e.saveInstance(ctx, inst); err != nil {
		return err
	}
	e.emit(ctx, inst, models.EventPaused, nil)
	return nil
}

// Unpause returns a paused instance to RUNNING and re-admits it.
func (e *Executor) Unpause(ctx context.Context, instanceID string) error {
	mu := e.lockFor(instanceID)
	mu.Lock()

	inst, err := e.store.LoadInstance(ctx, instanceID)
	if err != nil {
		mu.Unlock()
		return err
	}
	if inst.Status != models.InstancePaused {
		mu.Unlock()
		return fmt.Errorf("instance %s is not paused", instanceID)
	}

	inst.Status = models.InstanceRunning
	err = e.saveInstance(ctx, inst)
	if err == nil {
		e.emit(ctx, inst, models.EventResumed, nil)
	}
	mu.Unlock()
	if err != nil {
		return err
	}

	e.Wake(instanceID)
	return nil
}

// settle decides what to do when no task is admissible: stay suspended,
// complete, or fail an exhausted DAG that never reached a terminal task.
func (e *Executor) settle(ctx context.Context, inst *models.Instance, graph *dag.Graph) error {
	if inst.Status != models.InstanceRunning {
		return nil
	}
	if graph.HasWaiting(inst) {
		return nil
	}

	if len(inst.CompletedTasks) == graph.TaskCount() {
		e.finalize(inst, inst.TerminalStatus, inst.TerminalMessage)
		if err := e.saveInstance(ctx, inst); err != nil {
			return err
		}
		e.emit(ctx, inst, models.EventCompleted, map[string]interface{}{"terminal_status": inst.TerminalStatus})
		e.logInstance(ctx, inst.ID, "", "INFO", "lifecycle", "Instance completed", nil)
		e.wakeParent(inst)
		return nil
	}

	// Ready set exhausted with tasks left over: a conditional routed away
	// from every remaining path and no terminal task ran.
	now := time.Now().UTC()
	inst.Status = models.InstanceFailed
	inst.CompletedAt = &now
	if err := e.saveInstance(ctx, inst); err != nil {
		return err
	}
	e.emit(ctx, inst, models.EventFailed, map[string]interface{}{"error": "workflow exhausted without terminal outcome"})
	e.logInstance(ctx, inst.ID, "", "ERROR", "lifecycle", "Workflow exhausted without terminal outcome", nil)
	e.wakeParent(inst)
	return nil
}

func (e *Executor) finalize(inst *models.Instance, terminalStatus, terminalMessage string) {
	now := time.Now().UTC()
	inst.Status = models.InstanceCompleted
	inst.TerminalStatus = terminalStatus
	inst.TerminalMessage = terminalMessage
	inst.CompletedAt = &now
	inst.CurrentTask = ""
}

// wakeParent re-admits the parent of a finished child so its
// workflow-start task can observe the outcome.
func (e *Executor) wakeParent(inst *models.Instance) {
	if inst.ParentInstanceID == "" {
		return
	}
	e.Wake(inst.ParentInstanceID)
}

func (e *Executor) saveInstance(ctx context.Context, inst *models.Instance) error {
	inst.UpdatedAt = time.Now().UTC()
	return e.store.SaveInstance(ctx, inst)
}

// emit publishes a lifecycle event through the configured bus. Emission is
// best effort; the instance state is already persisted.
func (e *Executor) emit(ctx context.Context, inst *models.Instance, eventType models.EventType, data map[string]interface{}) {
	if e.deps.Events == nil {
		return
	}
	err := e.deps.Events.Emit(ctx, &models.Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		WorkflowID: inst.TemplateID,
		InstanceID: inst.ID,
		UserID:     inst.UserID,
		Data:       data,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		log.Printf("Failed to emit %s for instance %s: %v", eventType, inst.ID, err)
	}
}

func (e *Executor) logInstance(ctx context.Context, instanceID, taskID, level, logType, message string, details map[string]interface{}) {
	err := e.store.AppendLog(ctx, &storage.InstanceLog{
		InstanceID: instanceID,
		Timestamp:  time.Now().UTC(),
		Level:      level,
		LogType:    logType,
		TaskID:     taskID,
		Message:    message,
		Details:    details,
	})
	if err != nil {
		log.Printf("Failed to append log for instance %s: %v", instanceID, err)
	}
}

func (e *Executor) deadLetter(ctx context.Context, inst *models.Instance, taskID string, st *models.TaskState, errMsg string) {
	if e.deadLetters == nil {
		return
	}
	err := e.deadLetters.Add(ctx, &dlq.Entry{
		ID:              uuid.NewString(),
		InstanceID:      inst.ID,
		TemplateID:      inst.TemplateID,
		TaskID:          taskID,
		ErrorMessage:    errMsg,
		Attempts:        st.Attempts,
		FailureTime:     time.Now().UTC(),
		ContextSnapshot: snapshot(inst.Context),
	})
	if err != nil {
		log.Printf("Failed to dead-letter task %s of instance %s: %v", taskID, inst.ID, err)
	}
}

// waitingOutput persists what a suspension exposes to callers: the
// operator's data plus the form it expects input for.
func waitingOutput(result *operator.TaskResult) map[string]interface{} {
	out := make(map[string]interface{}, len(result.Data)+1)
	for k, v := range result.Data {
		out[k] = v
	}
	if result.FormConfig != nil {
		out["form_config"] = result.FormConfig
	}
	return out
}

func terminalString(data map[string]interface{}, key string) string {
	s, _ := data[key].(string)
	return s
}

func snapshot(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
