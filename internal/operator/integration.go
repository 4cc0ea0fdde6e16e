package operator

import (
	"context"

	"github.com/civicflow/civicflow/pkg/models"
)

// IntegrationOperator performs one outbound call through the configured
// external-service adapter. Retries are the executor's responsibility.
type IntegrationOperator struct{}

// Kind implements Operator.
func (o *IntegrationOperator) Kind() models.OperatorKind {
	return models.OperatorIntegration
}

// Execute builds the request payload from the context snapshot and calls
// the adapter. Transport errors and timeouts are FAILED results, not
// crashes.
func (o *IntegrationOperator) Execute(ctx context.Context, ec *ExecContext) *TaskResult {
	cfg := ec.Task.Integration
	if cfg == nil {
		return Failed("task %s has no integration config", ec.Task.ID)
	}
	if ec.Deps == nil || ec.Deps.Integrations == nil {
		return Failed("no integration client configured")
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	payload := make(map[string]interface{}, len(cfg.Payload))
	for field, contextKey := range cfg.Payload {
		if val, ok := ec.Snapshot[contextKey]; ok {
			payload[field] = val
		}
	}

	response, err := ec.Deps.Integrations.Call(ctx, cfg.Service, cfg.Operation, payload)
	if err != nil {
		return Failed("integration %s.%s failed: %v", cfg.Service, cfg.Operation, err)
	}

	outputKey := cfg.OutputKey
	if outputKey == "" {
		outputKey = ec.Task.ID + "_result"
	}
	return Completed(map[string]interface{}{outputKey: response})
}
