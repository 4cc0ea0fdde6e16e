package dag

import (
	"fmt"
	"time"

	"github.com/civicflow/civicflow/pkg/models"
)

// Builder is a scoped template-building session. Task constructors register
// themselves with the open template; Build validates and freezes it.
type Builder struct {
	tpl *models.Template
}

// NewBuilder opens a building session for a template with the given ID.
func NewBuilder(id string) *Builder {
	return &Builder{
		tpl: &models.Template{
			ID:        id,
			Version:   1,
			Type:      models.WorkflowTypeProcess,
			Tasks:     make(map[string]*models.TaskDef),
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		},
	}
}

// Type sets the workflow type.
func (b *Builder) Type(t models.WorkflowType) *Builder {
	b.tpl.Type = t
	return b
}

// Description sets the template description.
func (b *Builder) Description(desc string) *Builder {
	b.tpl.Description = desc
	return b
}

// Category sets the template category.
func (b *Builder) Category(category string) *Builder {
	b.tpl.Category = category
	return b
}

// Tags appends template tags.
func (b *Builder) Tags(tags ...string) *Builder {
	b.tpl.Tags = append(b.tpl.Tags, tags...)
	return b
}

// Version sets the template version.
func (b *Builder) Version(v int) *Builder {
	b.tpl.Version = v
	return b
}

// Task registers a task with the open template.
func (b *Builder) Task(id string, tb *TaskBuilder) *Builder {
	b.tpl.Tasks[id] = tb.build(id)
	return b
}

// Edge adds a dependency edge: to runs after from.
func (b *Builder) Edge(from, to string) *Builder {
	b.tpl.Edges = append(b.tpl.Edges, models.Edge{From: from, To: to})
	return b
}

// Build validates the assembled template and returns it frozen.
func (b *Builder) Build() (*models.Template, error) {
	if err := NewValidator().Validate(b.tpl); err != nil {
		return nil, fmt.Errorf("template build failed: %w", err)
	}
	return b.tpl, nil
}

// MustBuild builds the template and panics on error. Intended for tests
// and static template declarations.
func (b *Builder) MustBuild() *models.Template {
	tpl, err := b.Build()
	if err != nil {
		panic(err)
	}
	return tpl
}

// TaskBuilder assembles one task definition.
type TaskBuilder struct {
	def models.TaskDef
}

// ActionTask creates an action task bound to a registered handler.
func ActionTask(handler string) *TaskBuilder {
	return &TaskBuilder{def: models.TaskDef{
		Kind:   models.OperatorAction,
		Action: &models.ActionConfig{Handler: handler},
	}}
}

// ConditionalTask creates a conditional task with the given branches.
func ConditionalTask(branches ...models.Branch) *TaskBuilder {
	return &TaskBuilder{def: models.TaskDef{
		Kind:        models.OperatorConditional,
		Conditional: &models.ConditionalConfig{Branches: branches},
	}}
}

// ApprovalTask creates an approval task.
func ApprovalTask() *TaskBuilder {
	return &TaskBuilder{def: models.TaskDef{
		Kind:     models.OperatorApproval,
		Approval: &models.ApprovalConfig{},
	}}
}

// UserInputTask creates a user-input task waiting for the given form.
func UserInputTask(form models.FormSchema) *TaskBuilder {
	return &TaskBuilder{def: models.TaskDef{
		Kind:  models.OperatorUserInput,
		Input: &models.InputConfig{Form: form},
	}}
}

// AdminInputTask creates an admin-input task waiting for the given form.
func AdminInputTask(form models.FormSchema) *TaskBuilder {
	return &TaskBuilder{def: models.TaskDef{
		Kind:  models.OperatorAdminInput,
		Input: &models.InputConfig{Form: form},
	}}
}

// IntegrationTask creates an integration task calling an external service.
func IntegrationTask(service, operation string) *TaskBuilder {
	return &TaskBuilder{def: models.TaskDef{
		Kind:        models.OperatorIntegration,
		Integration: &models.IntegrationConfig{Service: service, Operation: operation},
	}}
}

// TerminalTask creates a terminal task that completes the instance with the
// given terminal status.
func TerminalTask(status string) *TaskBuilder {
	return &TaskBuilder{def: models.TaskDef{
		Kind:     models.OperatorTerminal,
		Terminal: &models.TerminalConfig{Status: status},
	}}
}

// WorkflowStartTask creates a child-workflow starter task.
func WorkflowStartTask(templateID string) *TaskBuilder {
	return &TaskBuilder{def: models.TaskDef{
		Kind:          models.OperatorWorkflowStart,
		ChildWorkflow: &models.ChildWorkflowConfig{TemplateID: templateID},
	}}
}

// EntityValidationTask creates an entity-validation task.
func EntityValidationTask(mappings ...models.EntityMapping) *TaskBuilder {
	return &TaskBuilder{def: models.TaskDef{
		Kind:             models.OperatorEntityValidation,
		EntityValidation: &models.EntityValidationConfig{Mappings: mappings},
	}}
}

// Name sets the human-readable task name.
func (tb *TaskBuilder) Name(name string) *TaskBuilder {
	tb.def.Name = name
	return tb
}

// Retry attaches a retry policy.
func (tb *TaskBuilder) Retry(maxAttempts int, initialDelay time.Duration) *TaskBuilder {
	tb.def.Retry = &models.RetryPolicy{
		MaxAttempts:  maxAttempts,
		InitialDelay: initialDelay,
		MaxDelay:     5 * time.Minute,
	}
	return tb
}

// Inputs declares required context inputs for an action task.
func (tb *TaskBuilder) Inputs(required ...string) *TaskBuilder {
	if tb.def.Action != nil {
		tb.def.Action.RequiredInputs = append(tb.def.Action.RequiredInputs, required...)
	}
	return tb
}

// OptionalInputs declares optional context inputs for an action task.
func (tb *TaskBuilder) OptionalInputs(optional ...string) *TaskBuilder {
	if tb.def.Action != nil {
		tb.def.Action.OptionalInputs = append(tb.def.Action.OptionalInputs, optional...)
	}
	return tb
}

// Default sets the fallback branch of a conditional task.
func (tb *TaskBuilder) Default(taskID string) *TaskBuilder {
	if tb.def.Conditional != nil {
		tb.def.Conditional.Default = taskID
	}
	return tb
}

// Message sets the terminal message or approval prompt.
func (tb *TaskBuilder) Message(msg string) *TaskBuilder {
	if tb.def.Terminal != nil {
		tb.def.Terminal.Message = msg
	}
	if tb.def.Approval != nil {
		tb.def.Approval.Message = msg
	}
	return tb
}

// WaitForCompletion makes a workflow-start task suspend until the child
// reaches the required terminal status.
func (tb *TaskBuilder) WaitForCompletion(requiredStatus string, timeoutMinutes int) *TaskBuilder {
	if tb.def.ChildWorkflow != nil {
		tb.def.ChildWorkflow.WaitForCompletion = true
		tb.def.ChildWorkflow.RequiredStatus = requiredStatus
		tb.def.ChildWorkflow.TimeoutMinutes = timeoutMinutes
	}
	return tb
}

// MapContext declares the parent-to-child context projection of a
// workflow-start task.
func (tb *TaskBuilder) MapContext(mapping map[string]string) *TaskBuilder {
	if tb.def.ChildWorkflow != nil {
		tb.def.ChildWorkflow.ContextMapping = mapping
	}
	return tb
}

// Assigned routes the child instance through the assignment service.
func (tb *TaskBuilder) Assigned() *TaskBuilder {
	if tb.def.ChildWorkflow != nil {
		tb.def.ChildWorkflow.Assign = true
	}
	return tb
}

// build finalizes the task definition under its template-scoped ID.
func (tb *TaskBuilder) build(id string) *models.TaskDef {
	def := tb.def
	def.ID = id
	if def.Name == "" {
		def.Name = id
	}
	return &def
}
