package operator

import (
	"context"
	"time"

	"github.com/civicflow/civicflow/pkg/models"
)

// WaitChildWorkflow is the WaitingFor marker for a task suspended on a
// child instance reaching a terminal status.
const WaitChildWorkflow = "child_workflow"

// WorkflowStartOperator launches a child instance from a template. When the
// task is configured to wait for completion it suspends until the child
// reaches a terminal status, then merges the child context into its output.
type WorkflowStartOperator struct{}

// Kind implements Operator.
func (o *WorkflowStartOperator) Kind() models.OperatorKind {
	return models.OperatorWorkflowStart
}

func (o *WorkflowStartOperator) Execute(ctx context.Context, ec *ExecContext) *TaskResult {
	cfg := ec.Task.ChildWorkflow
	if cfg == nil {
		return Failed("task %s has no child_workflow config", ec.Task.ID)
	}
	if ec.Deps == nil || ec.Deps.Children == nil {
		return Failed("task %s: no child workflow service configured", ec.Task.ID)
	}

	st := ec.Instance.TaskState(ec.Task.ID)
	childKey := ec.Task.ID + "_child_instance_id"

	childID := o.startedChildID(st, childKey)
	if childID == "" {
		return o.start(ctx, ec, cfg, childKey)
	}
	return o.poll(ctx, ec, cfg, st, childKey, childID)
}

// startedChildID returns the child instance ID recorded on a prior entry,
// or "" when this is the first entry.
func (o *WorkflowStartOperator) startedChildID(st *models.TaskState, childKey string) string {
	if st == nil || st.OutputData == nil {
		return ""
	}
	if id, ok := st.OutputData[childKey].(string); ok {
		return id
	}
	return ""
}

func (o *WorkflowStartOperator) start(ctx context.Context, ec *ExecContext, cfg *models.ChildWorkflowConfig, childKey string) *TaskResult {
	childCtx := make(map[string]interface{})
	if len(cfg.ContextMapping) == 0 {
		for k, v := range ec.Snapshot {
			childCtx[k] = v
		}
	} else {
		for parentKey, childCtxKey := range cfg.ContextMapping {
			if v, ok := ec.Snapshot[parentKey]; ok {
				childCtx[childCtxKey] = v
			}
		}
	}

	childID, err := ec.Deps.Children.StartChild(ctx, ec.Instance, ec.Task.ID, cfg, childCtx)
	if err != nil {
		return Failed("task %s: start child workflow %s: %v", ec.Task.ID, cfg.TemplateID, err)
	}

	data := map[string]interface{}{childKey: childID}
	if !cfg.WaitForCompletion {
		return Completed(data)
	}
	return Waiting(WaitChildWorkflow, data)
}

func (o *WorkflowStartOperator) poll(ctx context.Context, ec *ExecContext, cfg *models.ChildWorkflowConfig, st *models.TaskState, childKey, childID string) *TaskResult {
	child, err := ec.Deps.Children.ChildStatus(ctx, childID)
	if err != nil {
		return Failed("task %s: load child instance %s: %v", ec.Task.ID, childID, err)
	}

	if !child.Status.IsTerminal() {
		if o.timedOut(cfg, st) {
			return Failed("task %s: child workflow %s did not complete within %d minutes", ec.Task.ID, childID, cfg.TimeoutMinutes)
		}
		return Waiting(WaitChildWorkflow, map[string]interface{}{childKey: childID})
	}

	if child.Status != models.InstanceCompleted {
		return Failed("task %s: child workflow %s ended %s", ec.Task.ID, childID, child.Status)
	}
	if !o.statusAccepted(cfg, child.TerminalStatus) {
		return Failed("task %s: child workflow %s ended with status %q, wanted %q",
			ec.Task.ID, childID, child.TerminalStatus, cfg.RequiredStatus)
	}

	data := map[string]interface{}{
		childKey: childID,
		ec.Task.ID + "_child_status": child.TerminalStatus,
	}
	for k, v := range child.Context {
		data[k] = v
	}
	return Continue(data)
}

func (o *WorkflowStartOperator) statusAccepted(cfg *models.ChildWorkflowConfig, terminal string) bool {
	switch cfg.RequiredStatus {
	case "", "any":
		return true
	default:
		return cfg.RequiredStatus == terminal
	}
}

func (o *WorkflowStartOperator) timedOut(cfg *models.ChildWorkflowConfig, st *models.TaskState) bool {
	if cfg.TimeoutMinutes <= 0 || st == nil || st.StartedAt == nil {
		return false
	}
	deadline := st.StartedAt.Add(time.Duration(cfg.TimeoutMinutes) * time.Minute)
	return time.Now().UTC().After(deadline)
}
