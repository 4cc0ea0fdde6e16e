package operator

import (
	"context"

	"github.com/civicflow/civicflow/pkg/models"
)

// InputOperator implements both user-input and admin-input tasks: it
// suspends with the declared form and completes with the submitted
// payload on resume. The service layer validates the payload against the
// form before resuming.
type InputOperator struct {
	kind       models.OperatorKind
	waitingFor string
}

// Kind implements Operator.
func (o *InputOperator) Kind() models.OperatorKind {
	return o.kind
}

// Execute waits on first entry and completes with the payload on resume.
func (o *InputOperator) Execute(_ context.Context, ec *ExecContext) *TaskResult {
	cfg := ec.Task.Input
	if cfg == nil {
		return Failed("task %s has no input config", ec.Task.ID)
	}

	if ec.ResumeInput == nil {
		result := Waiting(o.waitingFor, nil)
		form := cfg.Form
		result.FormConfig = &form
		return result
	}

	if errs := cfg.Form.Validate(ec.ResumeInput); len(errs) > 0 {
		return Failed("input payload invalid: %v", errs[0])
	}

	output := make(map[string]interface{}, len(ec.ResumeInput))
	for k, v := range ec.ResumeInput {
		output[k] = v
	}
	return Completed(output)
}
