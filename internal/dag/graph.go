package dag

import (
	"fmt"
	"sort"

	"github.com/civicflow/civicflow/pkg/models"
)

// Graph is the adjacency view of a template used by the executor to compute
// ready sets and admission order.
type Graph struct {
	tasks      map[string]*models.TaskDef
	adjList    map[string][]string // task -> tasks depending on it
	revAdjList map[string][]string // task -> its dependencies
	topoOrder  []string            // cached stable topological order
}

// NewGraph builds the adjacency view for a validated template and
// precomputes its topological order.
func NewGraph(tpl *models.Template) (*Graph, error) {
	g := &Graph{
		tasks:      make(map[string]*models.TaskDef, len(tpl.Tasks)),
		adjList:    make(map[string][]string, len(tpl.Tasks)),
		revAdjList: make(map[string][]string, len(tpl.Tasks)),
	}

	for id, task := range tpl.Tasks {
		g.tasks[id] = task
		g.adjList[id] = nil
		g.revAdjList[id] = nil
	}
	for _, e := range tpl.Edges {
		g.adjList[e.From] = append(g.adjList[e.From], e.To)
		g.revAdjList[e.To] = append(g.revAdjList[e.To], e.From)
	}

	order, err := g.topologicalSort()
	if err != nil {
		return nil, err
	}
	g.topoOrder = order

	return g, nil
}

// topologicalSort runs Kahn's algorithm. Ties are broken by task ID string
// order so the result is stable across processes.
func (g *Graph) topologicalSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.tasks))
	for id := range g.tasks {
		inDegree[id] = len(g.revAdjList[id])
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	var result []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		result = append(result, id)

		var released []string
		for _, next := range g.adjList[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				released = append(released, next)
			}
		}
		sort.Strings(released)
		queue = append(queue, released...)
	}

	if len(result) != len(g.tasks) {
		return nil, fmt.Errorf("%w: cycle detected", ErrTemplateInvalid)
	}
	return result, nil
}

// TopologicalOrder returns the cached stable order.
func (g *Graph) TopologicalOrder() []string {
	return g.topoOrder
}

// Roots returns all tasks with no dependencies, in stable order.
func (g *Graph) Roots() []string {
	var roots []string
	for _, id := range g.topoOrder {
		if len(g.revAdjList[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// Upstream returns the direct dependencies of a task.
func (g *Graph) Upstream(taskID string) []string {
	return g.revAdjList[taskID]
}

// Downstream returns the tasks that directly depend on taskID.
func (g *Graph) Downstream(taskID string) []string {
	return g.adjList[taskID]
}

// Task returns a task definition by ID.
func (g *Graph) Task(taskID string) (*models.TaskDef, error) {
	task, ok := g.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task not found: %s", taskID)
	}
	return task, nil
}

// TaskCount returns the number of tasks in the graph.
func (g *Graph) TaskCount() int {
	return len(g.tasks)
}

// ReadySet returns the tasks that may run now, in topological order. A task
// is ready when it is pending or waiting and every upstream task completed.
// Conditional routing narrows this further: when an upstream conditional
// selected a branch, only the selected downstream is eligible.
func (g *Graph) ReadySet(inst *models.Instance) []string {
	var ready []string

	for _, id := range g.topoOrder {
		st := inst.TaskState(id)
		if st == nil {
			continue
		}
		if st.Status != models.TaskPending && st.Status != models.TaskWaiting {
			continue
		}

		eligible := true
		for _, up := range g.revAdjList[id] {
			upState := inst.TaskState(up)
			if upState == nil || upState.Status != models.TaskCompleted {
				eligible = false
				break
			}
			if !g.branchSelected(inst, up, id) {
				eligible = false
				break
			}
		}
		if eligible {
			ready = append(ready, id)
		}
	}

	return ready
}

// branchSelected reports whether a completed upstream task admits the given
// downstream. Non-conditional tasks admit every downstream; a conditional
// admits only the branch it selected.
func (g *Graph) branchSelected(inst *models.Instance, upstream, downstream string) bool {
	task := g.tasks[upstream]
	if task == nil || task.Kind != models.OperatorConditional {
		return true
	}
	st := inst.TaskState(upstream)
	if st == nil || st.OutputData == nil {
		return false
	}
	selected, _ := st.OutputData["selected_task"].(string)
	return selected == downstream
}

// HasWaiting reports whether any task in the instance is waiting.
func (g *Graph) HasWaiting(inst *models.Instance) bool {
	for id := range g.tasks {
		if st := inst.TaskState(id); st != nil && st.Status == models.TaskWaiting {
			return true
		}
	}
	return false
}

// HasExecuting reports whether any task in the instance is executing.
func (g *Graph) HasExecuting(inst *models.Instance) bool {
	for id := range g.tasks {
		if st := inst.TaskState(id); st != nil && st.Status == models.TaskExecuting {
			return true
		}
	}
	return false
}
