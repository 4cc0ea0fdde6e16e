package operator

import (
	"context"
	"fmt"
	"reflect"

	"github.com/civicflow/civicflow/pkg/models"
)

// ConditionalOperator evaluates its branches in declaration order and
// selects the outgoing edge of the first matching predicate. Only the
// selected downstream task becomes eligible.
type ConditionalOperator struct{}

// Kind implements Operator.
func (o *ConditionalOperator) Kind() models.OperatorKind {
	return models.OperatorConditional
}

// Execute picks a branch. No match and no default is a task failure.
func (o *ConditionalOperator) Execute(_ context.Context, ec *ExecContext) *TaskResult {
	cfg := ec.Task.Conditional
	if cfg == nil {
		return Failed("task %s has no conditional config", ec.Task.ID)
	}

	for _, branch := range cfg.Branches {
		match, err := EvalPredicate(branch.When, ec.Snapshot)
		if err != nil {
			return Failed("predicate on %q: %v", branch.When.Key, err)
		}
		if match {
			return Continue(map[string]interface{}{
				"selected_task": branch.To,
				"matched_key":   branch.When.Key,
			})
		}
	}

	if cfg.Default != "" {
		return Continue(map[string]interface{}{
			"selected_task": cfg.Default,
			"matched_key":   "",
		})
	}

	return Failed("no branch matched and no default edge declared")
}

// EvalPredicate compares a context value against the predicate. Missing
// keys never match.
func EvalPredicate(p models.Predicate, snapshot map[string]interface{}) (bool, error) {
	val, ok := snapshot[p.Key]
	if !ok {
		return false, nil
	}

	switch p.Op {
	case models.OpEq, "":
		return looselyEqual(val, p.Value), nil
	case models.OpNeq:
		return !looselyEqual(val, p.Value), nil
	case models.OpGt:
		a, aok := toFloat(val)
		b, bok := toFloat(p.Value)
		if !aok || !bok {
			return false, fmt.Errorf("gt requires numeric operands")
		}
		return a > b, nil
	case models.OpLt:
		a, aok := toFloat(val)
		b, bok := toFloat(p.Value)
		if !aok || !bok {
			return false, fmt.Errorf("lt requires numeric operands")
		}
		return a < b, nil
	case models.OpIn:
		list, err := toSlice(p.Value)
		if err != nil {
			return false, err
		}
		for _, candidate := range list {
			if looselyEqual(val, candidate) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("unknown operator %q", p.Op)
	}
}

// looselyEqual compares values the way JSON round-trips leave them:
// numbers compare numerically regardless of concrete type.
func looselyEqual(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	default:
		return 0, false
	}
}

func toSlice(v interface{}) ([]interface{}, error) {
	if list, ok := v.([]interface{}); ok {
		return list, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("in requires a list operand")
	}
	out := make([]interface{}, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}
