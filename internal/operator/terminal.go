package operator

import (
	"context"

	"github.com/civicflow/civicflow/pkg/models"
)

// TerminalOperator records a terminal status. The executor recognizes the
// kind and marks the whole instance completed.
type TerminalOperator struct{}

// Kind implements Operator.
func (o *TerminalOperator) Kind() models.OperatorKind {
	return models.OperatorTerminal
}

// Execute records the configured terminal status.
func (o *TerminalOperator) Execute(_ context.Context, ec *ExecContext) *TaskResult {
	cfg := ec.Task.Terminal
	if cfg == nil {
		return Failed("task %s has no terminal config", ec.Task.ID)
	}

	return Completed(map[string]interface{}{
		"terminal_status":  cfg.Status,
		"terminal_message": cfg.Message,
	})
}
