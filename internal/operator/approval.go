package operator

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/civicflow/civicflow/pkg/models"
)

// Decision values an approval resume accepts.
const (
	DecisionApproved       = "APPROVED"
	DecisionRejected       = "REJECTED"
	DecisionRequestChanges = "REQUEST_CHANGES"
	DecisionEscalate       = "ESCALATE"
)

// ValidDecision reports whether a submitted approval decision is one of
// the accepted values.
func ValidDecision(decision string) bool {
	switch decision {
	case DecisionApproved, DecisionRejected, DecisionRequestChanges, DecisionEscalate:
		return true
	}
	return false
}

// ApprovalOperator suspends until an external caller supplies a typed
// decision, then completes with the decision record.
type ApprovalOperator struct{}

// Kind implements Operator.
func (o *ApprovalOperator) Kind() models.OperatorKind {
	return models.OperatorApproval
}

// Execute emits APPROVAL_REQUESTED and waits on first entry; on resume it
// emits APPROVAL_COMPLETED and completes with the decision output.
func (o *ApprovalOperator) Execute(ctx context.Context, ec *ExecContext) *TaskResult {
	if ec.ResumeInput == nil {
		o.emit(ctx, ec, models.EventApprovalRequested, map[string]interface{}{
			"task_id": ec.Task.ID,
			"message": o.message(ec),
		})
		result := Waiting("approval", nil)
		result.FormConfig = approvalForm()
		return result
	}

	decision, _ := ec.ResumeInput["decision"].(string)
	if !ValidDecision(decision) {
		return Failed("invalid approval decision %q", decision)
	}

	comments, _ := ec.ResumeInput["comments"].(string)
	decidedBy, _ := ec.ResumeInput["decided_by"].(string)
	decidedAt := time.Now().UTC().Format(time.RFC3339)

	o.emit(ctx, ec, models.EventApprovalCompleted, map[string]interface{}{
		"task_id":    ec.Task.ID,
		"decision":   decision,
		"decided_by": decidedBy,
		"comments":   comments,
	})

	return Completed(map[string]interface{}{
		"decision":   decision,
		"decided_by": decidedBy,
		"comments":   comments,
		"decided_at": decidedAt,
	})
}

func (o *ApprovalOperator) message(ec *ExecContext) string {
	if ec.Task.Approval != nil {
		return ec.Task.Approval.Message
	}
	return ""
}

func (o *ApprovalOperator) emit(ctx context.Context, ec *ExecContext, eventType models.EventType, data map[string]interface{}) {
	if ec.Deps == nil || ec.Deps.Events == nil {
		return
	}
	err := ec.Deps.Events.Emit(ctx, &models.Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		WorkflowID: ec.Instance.TemplateID,
		InstanceID: ec.Instance.ID,
		UserID:     ec.Instance.UserID,
		Data:       data,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		log.Printf("Failed to emit %s for instance %s: %v", eventType, ec.Instance.ID, err)
	}
}

// approvalForm is the fixed payload shape an approval resume expects.
func approvalForm() *models.FormSchema {
	return &models.FormSchema{
		Title: "Approval decision",
		Fields: []models.FormField{
			{
				Name:     "decision",
				Type:     models.FieldTypeSelect,
				Required: true,
				Options: []string{
					DecisionApproved,
					DecisionRejected,
					DecisionRequestChanges,
					DecisionEscalate,
				},
			},
			{Name: "comments", Type: models.FieldTypeString},
		},
	}
}
