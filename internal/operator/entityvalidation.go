package operator

import (
	"context"

	"github.com/civicflow/civicflow/pkg/models"
)

// Aggregate validation outcomes, from best to worst.
const (
	ValidationValid         = "valid"
	ValidationHasWarnings   = "has_warnings"
	ValidationHasErrors     = "has_errors"
	ValidationCriticalError = "critical_error"
)

// EntityValidationOperator creates domain entities from context data and
// runs them through the external validation service. Per-entity results
// land in the context under each mapping's output key; the aggregate
// outcome lands under "overall_status".
type EntityValidationOperator struct{}

// Kind implements Operator.
func (o *EntityValidationOperator) Kind() models.OperatorKind {
	return models.OperatorEntityValidation
}

func (o *EntityValidationOperator) Execute(ctx context.Context, ec *ExecContext) *TaskResult {
	cfg := ec.Task.EntityValidation
	if cfg == nil || len(cfg.Mappings) == 0 {
		return Failed("task %s has no entity mappings", ec.Task.ID)
	}
	if ec.Deps == nil || ec.Deps.Entities == nil {
		return Failed("task %s: no entity service configured", ec.Task.ID)
	}

	out := make(map[string]interface{})
	var created []*Entity
	var keys []string
	overall := ValidationValid

	for _, m := range cfg.Mappings {
		data, missing := o.collectFields(ec.Snapshot, m.InputFields)
		if len(missing) > 0 {
			if m.Optional {
				continue
			}
			return Failed("task %s: entity %s missing input fields %v", ec.Task.ID, m.EntityType, missing)
		}

		entity, err := ec.Deps.Entities.CreateEntity(ctx, m.EntityType, data)
		if err != nil {
			if m.Optional {
				out[m.OutputKey] = map[string]interface{}{
					"entity_type":       m.EntityType,
					"validation_status": ValidationCriticalError,
					"error":             err.Error(),
				}
				overall = worseStatus(overall, ValidationCriticalError)
				continue
			}
			return Failed("task %s: create entity %s: %v", ec.Task.ID, m.EntityType, err)
		}
		created = append(created, entity)
		keys = append(keys, m.OutputKey)
	}

	if len(created) > 0 {
		if err := ec.Deps.Entities.ValidateEntities(ctx, created); err != nil {
			return Failed("task %s: validate entities: %v", ec.Task.ID, err)
		}
	}

	for i, entity := range created {
		record := map[string]interface{}{
			"entity_id":         entity.ID,
			"entity_type":       entity.Type,
			"validation_status": entity.ValidationStatus,
		}
		if len(entity.ValidationErrors) > 0 {
			record["validation_errors"] = entity.ValidationErrors
		}
		if len(entity.AutoFilledFields) > 0 {
			record["auto_filled_fields"] = entity.AutoFilledFields
		}
		out[keys[i]] = record
		overall = worseStatus(overall, entity.ValidationStatus)
	}

	out["overall_status"] = overall
	return Completed(out)
}

func (o *EntityValidationOperator) collectFields(snapshot map[string]interface{}, fields []string) (map[string]interface{}, []string) {
	data := make(map[string]interface{}, len(fields))
	var missing []string
	for _, f := range fields {
		v, ok := snapshot[f]
		if !ok {
			missing = append(missing, f)
			continue
		}
		data[f] = v
	}
	return data, missing
}

var statusRank = map[string]int{
	ValidationValid:         0,
	ValidationHasWarnings:   1,
	ValidationHasErrors:     2,
	ValidationCriticalError: 3,
}

// worseStatus keeps the more severe of two aggregate outcomes. Unknown
// statuses rank as errors.
func worseStatus(a, b string) string {
	ra, ok := statusRank[a]
	if !ok {
		ra = statusRank[ValidationHasErrors]
		a = ValidationHasErrors
	}
	rb, ok := statusRank[b]
	if !ok {
		rb = statusRank[ValidationHasErrors]
		b = ValidationHasErrors
	}
	if rb > ra {
		return b
	}
	return a
}
