package models

import "time"

// WorkflowType categorizes what a workflow template is for
type WorkflowType string

const (
	WorkflowTypeProcess            WorkflowType = "PROCESS"
	WorkflowTypeAdmin              WorkflowType = "ADMIN"
	WorkflowTypeDocumentProcessing WorkflowType = "DOCUMENT_PROCESSING"
	WorkflowTypeIntegration        WorkflowType = "INTEGRATION"
	WorkflowTypeMonitoring         WorkflowType = "MONITORING"
	WorkflowTypeValidation         WorkflowType = "VALIDATION"
)

// OperatorKind identifies the behavior bound to a task. The set is closed:
// every task in a template is exactly one of these kinds.
type OperatorKind string

const (
	OperatorAction           OperatorKind = "action"
	OperatorConditional      OperatorKind = "conditional"
	OperatorApproval         OperatorKind = "approval"
	OperatorUserInput        OperatorKind = "user_input"
	OperatorAdminInput       OperatorKind = "admin_input"
	OperatorIntegration      OperatorKind = "integration"
	OperatorTerminal         OperatorKind = "terminal"
	OperatorWorkflowStart    OperatorKind = "workflow_start"
	OperatorEntityValidation OperatorKind = "entity_validation"
)

// Template is a workflow definition: a directed acyclic graph of tasks.
// Templates are immutable once registered with the DAG registry.
type Template struct {
	ID          string              `json:"id"`
	Version     int                 `json:"version"`
	Type        WorkflowType        `json:"workflow_type"`
	Category    string              `json:"category"`
	Description string              `json:"description"`
	Tags        []string            `json:"tags"`
	Tasks       map[string]*TaskDef `json:"tasks"`
	Edges       []Edge              `json:"edges"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Edge is a directed dependency between two tasks: To runs after From.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// TaskDef declares a single task within a template. Exactly one of the
// kind-specific config fields is set, matching Kind.
type TaskDef struct {
	ID   string       `json:"id"`
	Name string       `json:"name"`
	Kind OperatorKind `json:"kind"`

	Retry *RetryPolicy `json:"retry,omitempty"`

	Action           *ActionConfig           `json:"action,omitempty"`
	Conditional      *ConditionalConfig      `json:"conditional,omitempty"`
	Approval         *ApprovalConfig         `json:"approval,omitempty"`
	Input            *InputConfig            `json:"input,omitempty"`
	Integration      *IntegrationConfig      `json:"integration,omitempty"`
	Terminal         *TerminalConfig         `json:"terminal,omitempty"`
	ChildWorkflow    *ChildWorkflowConfig    `json:"child_workflow,omitempty"`
	EntityValidation *EntityValidationConfig `json:"entity_validation,omitempty"`
}

// RetryPolicy bounds how often the executor re-runs a failed task before
// the failure becomes final.
type RetryPolicy struct {
	MaxAttempts  int           `json:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
}

// ActionConfig configures an action task. Handler names a function in the
// process-wide action registry.
type ActionConfig struct {
	Handler        string   `json:"handler"`
	RequiredInputs []string `json:"required_inputs,omitempty"`
	OptionalInputs []string `json:"optional_inputs,omitempty"`
}

// PredicateOp is a comparison operator used by conditional branches and
// hook conditions.
type PredicateOp string

const (
	OpEq  PredicateOp = "eq"
	OpNeq PredicateOp = "neq"
	OpGt  PredicateOp = "gt"
	OpLt  PredicateOp = "lt"
	OpIn  PredicateOp = "in"
)

// Predicate compares a context value against an expected value.
type Predicate struct {
	Key   string      `json:"key"`
	Op    PredicateOp `json:"op"`
	Value interface{} `json:"value"`
}

// Branch is one conditional edge: if When matches, the task with ID To is
// the selected downstream.
type Branch struct {
	When Predicate `json:"when"`
	To   string    `json:"to"`
}

// ConditionalConfig configures a conditional task. Branches are evaluated in
// declaration order; the first match wins. Default, when set, is used when
// no branch matches.
type ConditionalConfig struct {
	Branches []Branch `json:"branches"`
	Default  string   `json:"default,omitempty"`
}

// ApprovalConfig configures an approval task.
type ApprovalConfig struct {
	// Role that is expected to decide, informational only.
	ApproverRole string `json:"approver_role,omitempty"`
	// Message shown to the approver.
	Message string `json:"message,omitempty"`
}

// InputConfig configures a user or admin input task.
type InputConfig struct {
	Form FormSchema `json:"form"`
}

// IntegrationConfig configures an outbound integration call.
type IntegrationConfig struct {
	Service   string            `json:"service"`
	Operation string            `json:"operation"`
	// Payload maps request field names to context keys.
	Payload   map[string]string `json:"payload,omitempty"`
	OutputKey string            `json:"output_key,omitempty"`
	Timeout   time.Duration     `json:"timeout,omitempty"`
}

// TerminalConfig configures a terminal task. Running it completes the
// whole instance with the given terminal status.
type TerminalConfig struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ChildWorkflowConfig configures a workflow-start task.
type ChildWorkflowConfig struct {
	TemplateID        string            `json:"template_id"`
	// ContextMapping maps parent context keys to child context keys.
	ContextMapping    map[string]string `json:"context_mapping,omitempty"`
	WaitForCompletion bool              `json:"wait_for_completion"`
	// RequiredStatus is the child terminal status the parent waits for;
	// "any" (or empty) accepts every terminal status.
	RequiredStatus string `json:"required_status,omitempty"`
	TimeoutMinutes int    `json:"timeout_minutes,omitempty"`
	Assign         bool   `json:"assign"`
}

// EntityMapping declares one entity to create and validate from context data.
type EntityMapping struct {
	EntityType  string   `json:"entity_type"`
	InputFields []string `json:"input_fields"`
	OutputKey   string   `json:"output_key"`
	Optional    bool     `json:"optional,omitempty"`
}

// EntityValidationConfig configures an entity-validation task.
type EntityValidationConfig struct {
	Mappings []EntityMapping `json:"mappings"`
}

// Task returns the task definition for id, or nil.
func (t *Template) Task(id string) *TaskDef {
	return t.Tasks[id]
}

// UpstreamOf returns the IDs of tasks that id directly depends on.
func (t *Template) UpstreamOf(id string) []string {
	var ups []string
	for _, e := range t.Edges {
		if e.To == id {
			ups = append(ups, e.From)
		}
	}
	return ups
}

// DownstreamOf returns the IDs of tasks that directly depend on id.
func (t *Template) DownstreamOf(id string) []string {
	var downs []string
	for _, e := range t.Edges {
		if e.From == id {
			downs = append(downs, e.To)
		}
	}
	return downs
}
