package operator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/civicflow/civicflow/pkg/models"
)

// ResultStatus is the outcome of one operator execution.
type ResultStatus string

const (
	// StatusCompleted marks the task done; downstream readiness is
	// evaluated on the next tick.
	StatusCompleted ResultStatus = "COMPLETED"
	// StatusContinue marks the task done and asks the executor to
	// evaluate downstream readiness immediately, without persisting an
	// intermediate paused state.
	StatusContinue ResultStatus = "CONTINUE"
	// StatusWaiting suspends the task until external input arrives.
	StatusWaiting ResultStatus = "WAITING"
	// StatusFailed marks the task failed.
	StatusFailed ResultStatus = "FAILED"
)

// TaskResult is what every operator returns from Execute.
type TaskResult struct {
	Status     ResultStatus
	Data       map[string]interface{}
	Error      string
	WaitingFor string
	FormConfig *models.FormSchema
}

// Completed builds a successful result carrying output data.
func Completed(data map[string]interface{}) *TaskResult {
	return &TaskResult{Status: StatusCompleted, Data: data}
}

// Continue builds a successful result that requests immediate downstream
// evaluation.
func Continue(data map[string]interface{}) *TaskResult {
	return &TaskResult{Status: StatusContinue, Data: data}
}

// Waiting builds a suspension result.
func Waiting(waitingFor string, data map[string]interface{}) *TaskResult {
	return &TaskResult{Status: StatusWaiting, WaitingFor: waitingFor, Data: data}
}

// Failed builds a failure result.
func Failed(format string, args ...interface{}) *TaskResult {
	return &TaskResult{Status: StatusFailed, Error: fmt.Sprintf(format, args...)}
}

// ExecContext is the snapshot an operator executes against. Operators must
// be pure with respect to Snapshot: side effects go through the returned
// data or the deps.
type ExecContext struct {
	Instance *models.Instance
	Task     *models.TaskDef

	// Snapshot is the instance context at admission time.
	Snapshot map[string]interface{}

	// ResumeInput carries the external payload on re-entry of a waiting
	// task; nil on first entry.
	ResumeInput map[string]interface{}

	Deps *Deps
}

// Operator is the uniform behavior bound to a task kind.
type Operator interface {
	Kind() models.OperatorKind
	Execute(ctx context.Context, ec *ExecContext) *TaskResult
}

// EventEmitter publishes lifecycle events on behalf of operators.
type EventEmitter interface {
	Emit(ctx context.Context, event *models.Event) error
}

// ChildWorkflows starts and inspects child instances for the
// workflow-start operator.
type ChildWorkflows interface {
	StartChild(ctx context.Context, parent *models.Instance, parentTaskID string, cfg *models.ChildWorkflowConfig, childContext map[string]interface{}) (string, error)
	ChildStatus(ctx context.Context, instanceID string) (*models.Instance, error)
}

// Entity is the external entity service's view of a created entity.
type Entity struct {
	ID               string                 `json:"id"`
	Type             string                 `json:"type"`
	ValidationStatus string                 `json:"validation_status"`
	ValidationErrors []string               `json:"validation_errors,omitempty"`
	AutoFilledFields map[string]interface{} `json:"auto_filled_fields,omitempty"`
	Data             map[string]interface{} `json:"data,omitempty"`
}

// EntityService is the external collaborator used by the entity-validation
// operator.
type EntityService interface {
	CreateEntity(ctx context.Context, entityType string, data map[string]interface{}) (*Entity, error)
	ValidateEntities(ctx context.Context, entities []*Entity) error
}

// IntegrationClient performs outbound calls for the integration operator.
type IntegrationClient interface {
	Call(ctx context.Context, service, operation string, payload map[string]interface{}) (map[string]interface{}, error)
}

// Deps bundles the collaborators operators may use. Nil members make the
// corresponding operator kinds fail with a configuration error.
type Deps struct {
	Actions      *ActionRegistry
	Events       EventEmitter
	Children     ChildWorkflows
	Entities     EntityService
	Integrations IntegrationClient
}

// ErrUnknownKind is returned when a task declares a kind with no operator.
var ErrUnknownKind = errors.New("unknown operator kind")

// ForTask returns the operator implementing the task's kind. The set of
// kinds is closed.
func ForTask(def *models.TaskDef) (Operator, error) {
	switch def.Kind {
	case models.OperatorAction:
		return &ActionOperator{}, nil
	case models.OperatorConditional:
		return &ConditionalOperator{}, nil
	case models.OperatorApproval:
		return &ApprovalOperator{}, nil
	case models.OperatorUserInput:
		return &InputOperator{kind: models.OperatorUserInput, waitingFor: "user_input"}, nil
	case models.OperatorAdminInput:
		return &InputOperator{kind: models.OperatorAdminInput, waitingFor: "admin_input"}, nil
	case models.OperatorIntegration:
		return &IntegrationOperator{}, nil
	case models.OperatorTerminal:
		return &TerminalOperator{}, nil
	case models.OperatorWorkflowStart:
		return &WorkflowStartOperator{}, nil
	case models.OperatorEntityValidation:
		return &EntityValidationOperator{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, def.Kind)
	}
}

// ActionFunc is a pure function of the resolved inputs and the context
// snapshot.
type ActionFunc func(ctx context.Context, inputs map[string]interface{}, snapshot map[string]interface{}) (map[string]interface{}, error)

// ActionRegistry maps handler names to action functions. Handlers register
// at process assembly time, before any template referencing them runs.
type ActionRegistry struct {
	mu       sync.RWMutex
	handlers map[string]ActionFunc
}

// NewActionRegistry creates an empty registry.
func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{handlers: make(map[string]ActionFunc)}
}

// Register binds a handler name to a function. Re-registration replaces.
func (r *ActionRegistry) Register(name string, fn ActionFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
}

// Get returns the handler for name, or nil.
func (r *ActionRegistry) Get(name string) ActionFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[name]
}
