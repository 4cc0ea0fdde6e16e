package dag

import (
	"errors"
	"fmt"

	"github.com/civicflow/civicflow/pkg/models"
)

// ErrTemplateInvalid is returned when a template fails structural
// validation. It is raised at registration, never at run time.
var ErrTemplateInvalid = errors.New("invalid workflow template")

// Validator checks the structural invariants of a workflow template.
type Validator struct{}

// NewValidator creates a new template validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks that the template has a usable identity, unique task IDs,
// edges that reference existing tasks, no cycles, and no task unreachable
// from a root.
func (v *Validator) Validate(tpl *models.Template) error {
	if tpl.ID == "" {
		return fmt.Errorf("%w: template ID cannot be empty", ErrTemplateInvalid)
	}
	if len(tpl.Tasks) == 0 {
		return fmt.Errorf("%w: template must have at least one task", ErrTemplateInvalid)
	}

	for id, task := range tpl.Tasks {
		if task == nil {
			return fmt.Errorf("%w: task %s has no definition", ErrTemplateInvalid, id)
		}
		if task.ID != "" && task.ID != id {
			return fmt.Errorf("%w: task key %s does not match task ID %s", ErrTemplateInvalid, id, task.ID)
		}
		if err := v.validateTaskConfig(task); err != nil {
			return err
		}
	}

	for _, e := range tpl.Edges {
		if _, ok := tpl.Tasks[e.From]; !ok {
			return fmt.Errorf("%w: edge references unknown task %s", ErrTemplateInvalid, e.From)
		}
		if _, ok := tpl.Tasks[e.To]; !ok {
			return fmt.Errorf("%w: edge references unknown task %s", ErrTemplateInvalid, e.To)
		}
		if e.From == e.To {
			return fmt.Errorf("%w: task %s depends on itself", ErrTemplateInvalid, e.From)
		}
	}

	if err := v.detectCycle(tpl); err != nil {
		return err
	}

	return v.checkReachability(tpl)
}

// validateTaskConfig checks that the kind-specific config matching the
// task's kind is present.
func (v *Validator) validateTaskConfig(task *models.TaskDef) error {
	missing := func(what string) error {
		return fmt.Errorf("%w: task %s (%s) is missing its %s config", ErrTemplateInvalid, task.ID, task.Kind, what)
	}

	switch task.Kind {
	case models.OperatorAction:
		if task.Action == nil || task.Action.Handler == "" {
			return missing("action")
		}
	case models.OperatorConditional:
		if task.Conditional == nil || len(task.Conditional.Branches) == 0 {
			return missing("conditional")
		}
	case models.OperatorApproval:
		// Approval config is optional; defaults apply.
	case models.OperatorUserInput, models.OperatorAdminInput:
		if task.Input == nil || len(task.Input.Form.Fields) == 0 {
			return missing("input form")
		}
	case models.OperatorIntegration:
		if task.Integration == nil || task.Integration.Service == "" {
			return missing("integration")
		}
	case models.OperatorTerminal:
		if task.Terminal == nil || task.Terminal.Status == "" {
			return missing("terminal")
		}
	case models.OperatorWorkflowStart:
		if task.ChildWorkflow == nil || task.ChildWorkflow.TemplateID == "" {
			return missing("child workflow")
		}
	case models.OperatorEntityValidation:
		if task.EntityValidation == nil || len(task.EntityValidation.Mappings) == 0 {
			return missing("entity validation")
		}
	default:
		return fmt.Errorf("%w: task %s has unknown kind %q", ErrTemplateInvalid, task.ID, task.Kind)
	}
	return nil
}

// detectCycle runs a colored DFS over the edge set.
func (v *Validator) detectCycle(tpl *models.Template) error {
	adj := make(map[string][]string, len(tpl.Tasks))
	for _, e := range tpl.Edges {
		adj[e.From] = append(adj[e.From], e.To)
	}

	// 0 = unvisited, 1 = visiting, 2 = done
	visited := make(map[string]int, len(tpl.Tasks))

	var dfs func(string) error
	dfs = func(id string) error {
		if visited[id] == 1 {
			return fmt.Errorf("%w: cycle detected involving task %s", ErrTemplateInvalid, id)
		}
		if visited[id] == 2 {
			return nil
		}
		visited[id] = 1
		for _, next := range adj[id] {
			if err := dfs(next); err != nil {
				return err
			}
		}
		visited[id] = 2
		return nil
	}

	for id := range tpl.Tasks {
		if visited[id] == 0 {
			if err := dfs(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkReachability verifies every task is reachable from some root
// (in-degree zero) task.
func (v *Validator) checkReachability(tpl *models.Template) error {
	inDegree := make(map[string]int, len(tpl.Tasks))
	adj := make(map[string][]string, len(tpl.Tasks))
	for id := range tpl.Tasks {
		inDegree[id] = 0
	}
	for _, e := range tpl.Edges {
		inDegree[e.To]++
		adj[e.From] = append(adj[e.From], e.To)
	}

	reached := make(map[string]bool, len(tpl.Tasks))
	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
			reached[id] = true
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range adj[id] {
			if !reached[next] {
				reached[next] = true
				queue = append(queue, next)
			}
		}
	}

	for id := range tpl.Tasks {
		if !reached[id] {
			return fmt.Errorf("%w: task %s is not reachable from any root", ErrTemplateInvalid, id)
		}
	}
	return nil
}
