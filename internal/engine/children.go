package engine

import (
	"context"
	"log"

	"github.com/civicflow/civicflow/pkg/models"
)

// Assigner binds a newly created admin instance to a team or user. The
// assignment service implements it.
type Assigner interface {
	Assign(ctx context.Context, inst *models.Instance) error
}

// SetAssigner installs the assignment service used for child instances
// whose starter requests assignment. Call before Start.
func (e *Executor) SetAssigner(a Assigner) {
	e.assigner = a
}

// StartChild creates, persists and admits a child instance for a
// workflow-start task. It implements operator.ChildWorkflows.
func (e *Executor) StartChild(ctx context.Context, parent *models.Instance, parentTaskID string, cfg *models.ChildWorkflowConfig, childContext map[string]interface{}) (string, error) {
	child, err := e.registry.NewInstance(cfg.TemplateID, parent.UserID, childContext)
	if err != nil {
		return "", err
	}
	child.ParentInstanceID = parent.ID
	child.ParentTaskID = parentTaskID
	child.Priority = parent.Priority

	if cfg.Assign && e.assigner != nil {
		child.Status = models.InstanceWaitingForAssignment
		if err := e.assigner.Assign(ctx, child); err != nil {
			// Leave the child suspended on assignment; a later sweep or
			// manual binding admits it.
			log.Printf("Failed to assign child instance %s of %s: %v", child.ID, parent.ID, err)
		} else {
			child.Status = models.InstancePending
		}
	}

	if err := e.store.CreateInstance(ctx, child); err != nil {
		return "", err
	}

	if child.Status == models.InstancePending {
		e.Wake(child.ID)
	}
	return child.ID, nil
}

// ChildStatus returns the current persisted state of a child instance. It
// implements operator.ChildWorkflows.
func (e *Executor) ChildStatus(ctx context.Context, instanceID string) (*models.Instance, error) {
	return e.store.LoadInstance(ctx, instanceID)
}
