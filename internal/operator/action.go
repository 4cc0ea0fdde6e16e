package operator

import (
	"context"

	"github.com/civicflow/civicflow/pkg/models"
)

// ActionOperator runs a registered pure function over its declared inputs.
type ActionOperator struct{}

// Kind implements Operator.
func (o *ActionOperator) Kind() models.OperatorKind {
	return models.OperatorAction
}

// Execute resolves the declared inputs from the context snapshot and calls
// the handler. A missing required input fails before invocation.
func (o *ActionOperator) Execute(ctx context.Context, ec *ExecContext) *TaskResult {
	cfg := ec.Task.Action
	if cfg == nil {
		return Failed("task %s has no action config", ec.Task.ID)
	}
	if ec.Deps == nil || ec.Deps.Actions == nil {
		return Failed("no action registry configured")
	}

	fn := ec.Deps.Actions.Get(cfg.Handler)
	if fn == nil {
		return Failed("unknown action handler %q", cfg.Handler)
	}

	inputs := make(map[string]interface{}, len(cfg.RequiredInputs)+len(cfg.OptionalInputs))
	for _, key := range cfg.RequiredInputs {
		val, ok := ec.Snapshot[key]
		if !ok {
			return Failed("missing required input %q", key)
		}
		inputs[key] = val
	}
	for _, key := range cfg.OptionalInputs {
		if val, ok := ec.Snapshot[key]; ok {
			inputs[key] = val
		}
	}

	output, err := fn(ctx, inputs, ec.Snapshot)
	if err != nil {
		return Failed("action %q failed: %v", cfg.Handler, err)
	}
	return Completed(output)
}
