package dag

import (
	"testing"

	"github.com/civicflow/civicflow/pkg/models"
)

func buildPermitTemplate(t *testing.T) *models.Template {
	t.Helper()
	tpl, err := NewBuilder("permit-application").
		Task("intake", ActionTask("permit.intake")).
		Task("assess", ActionTask("permit.assess")).
		Task("notify", ActionTask("permit.notify")).
		Task("close", TerminalTask("RESOLVED")).
		Edge("intake", "assess").
		Edge("intake", "notify").
		Edge("assess", "close").
		Edge("notify", "close").
		Build()
	if err != nil {
		t.Fatalf("Failed to build template: %v", err)
	}
	return tpl
}

func newPendingInstance(tpl *models.Template) *models.Instance {
	inst := &models.Instance{
		ID:         "inst-1",
		TemplateID: tpl.ID,
		Status:     models.InstancePending,
		Context:    make(map[string]interface{}),
		TaskStates: make(map[string]*models.TaskState, len(tpl.Tasks)),
	}
	for id := range tpl.Tasks {
		inst.TaskStates[id] = &models.TaskState{Status: models.TaskPending}
	}
	return inst
}

func TestNewGraph_TopologicalOrder(t *testing.T) {
	graph, err := NewGraph(buildPermitTemplate(t))
	if err != nil {
		t.Fatalf("Failed to build graph: %v", err)
	}

	if graph.TaskCount() != 4 {
		t.Errorf("Expected 4 tasks, got %d", graph.TaskCount())
	}

	// The diamond admits "assess" before "notify" in the tie-broken order.
	want := []string{"intake", "assess", "notify", "close"}
	got := graph.TopologicalOrder()
	if len(got) != len(want) {
		t.Fatalf("Expected %d tasks in order, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %s at position %d, got %s", want[i], i, got[i])
		}
	}
}

func TestNewGraph_RootTiebreak(t *testing.T) {
	tpl, err := NewBuilder("parallel-intake").
		Task("zoning-check", ActionTask("zoning.check")).
		Task("fee-check", ActionTask("fee.check")).
		Task("combine", ActionTask("combine")).
		Edge("zoning-check", "combine").
		Edge("fee-check", "combine").
		Build()
	if err != nil {
		t.Fatalf("Failed to build template: %v", err)
	}

	graph, err := NewGraph(tpl)
	if err != nil {
		t.Fatalf("Failed to build graph: %v", err)
	}

	// Two roots with no edge between them are ordered by ID.
	order := graph.TopologicalOrder()
	if order[0] != "fee-check" || order[1] != "zoning-check" {
		t.Errorf("Expected roots ordered fee-check, zoning-check, got %v", order[:2])
	}

	roots := graph.Roots()
	if len(roots) != 2 {
		t.Fatalf("Expected 2 roots, got %d", len(roots))
	}
	if roots[0] != "fee-check" || roots[1] != "zoning-check" {
		t.Errorf("Expected roots [fee-check zoning-check], got %v", roots)
	}
}

func TestNewGraph_CycleRejected(t *testing.T) {
	tpl := &models.Template{
		ID: "looping",
		Tasks: map[string]*models.TaskDef{
			"a": {ID: "a", Kind: models.OperatorAction, Action: &models.ActionConfig{Handler: "h"}},
			"b": {ID: "b", Kind: models.OperatorAction, Action: &models.ActionConfig{Handler: "h"}},
		},
		Edges: []models.Edge{{From: "a", To: "b"}, {From: "b", To: "a"}},
	}

	_, err := NewGraph(tpl)
	if err == nil {
		t.Fatal("Expected error for cyclic template, got nil")
	}
}

func TestUpstreamDownstream(t *testing.T) {
	graph, err := NewGraph(buildPermitTemplate(t))
	if err != nil {
		t.Fatalf("Failed to build graph: %v", err)
	}

	up := graph.Upstream("close")
	if len(up) != 2 {
		t.Errorf("Expected close to have 2 upstream tasks, got %d", len(up))
	}
	down := graph.Downstream("intake")
	if len(down) != 2 {
		t.Errorf("Expected intake to have 2 downstream tasks, got %d", len(down))
	}
	if _, err := graph.Task("missing"); err == nil {
		t.Error("Expected error for unknown task, got nil")
	}
}

func TestReadySet_Progression(t *testing.T) {
	tpl := buildPermitTemplate(t)
	graph, err := NewGraph(tpl)
	if err != nil {
		t.Fatalf("Failed to build graph: %v", err)
	}
	inst := newPendingInstance(tpl)

	// Nothing completed, only the root is ready.
	ready := graph.ReadySet(inst)
	if len(ready) != 1 || ready[0] != "intake" {
		t.Fatalf("Expected ready set [intake], got %v", ready)
	}

	inst.MarkTaskCompleted("intake", nil)
	ready = graph.ReadySet(inst)
	if len(ready) != 2 {
		t.Fatalf("Expected 2 ready tasks after intake, got %v", ready)
	}
	if ready[0] != "assess" || ready[1] != "notify" {
		t.Errorf("Expected ready set [assess notify], got %v", ready)
	}

	// The join is held back until every upstream completed.
	inst.MarkTaskCompleted("assess", nil)
	ready = graph.ReadySet(inst)
	if len(ready) != 1 || ready[0] != "notify" {
		t.Errorf("Expected ready set [notify], got %v", ready)
	}

	inst.MarkTaskCompleted("notify", nil)
	ready = graph.ReadySet(inst)
	if len(ready) != 1 || ready[0] != "close" {
		t.Errorf("Expected ready set [close], got %v", ready)
	}

	inst.MarkTaskCompleted("close", nil)
	if ready = graph.ReadySet(inst); len(ready) != 0 {
		t.Errorf("Expected empty ready set, got %v", ready)
	}
}

func TestReadySet_WaitingTaskStaysEligible(t *testing.T) {
	tpl := buildPermitTemplate(t)
	graph, err := NewGraph(tpl)
	if err != nil {
		t.Fatalf("Failed to build graph: %v", err)
	}
	inst := newPendingInstance(tpl)
	inst.MarkTaskCompleted("intake", nil)
	inst.TaskStates["assess"].Status = models.TaskWaiting

	ready := graph.ReadySet(inst)
	if len(ready) != 2 || ready[0] != "assess" || ready[1] != "notify" {
		t.Errorf("Expected waiting task to remain in ready set, got %v", ready)
	}
	if !graph.HasWaiting(inst) {
		t.Error("Expected HasWaiting to be true")
	}

	inst.TaskStates["notify"].Status = models.TaskExecuting
	if !graph.HasExecuting(inst) {
		t.Error("Expected HasExecuting to be true")
	}
}

func TestReadySet_ConditionalBranchGating(t *testing.T) {
	tpl, err := NewBuilder("complaint-triage").
		Task("triage", ConditionalTask(
			models.Branch{When: models.Predicate{Key: "severity", Op: models.OpEq, Value: "high"}, To: "escalate"},
		).Default("dismiss")).
		Task("escalate", ActionTask("complaint.escalate")).
		Task("dismiss", TerminalTask("DISMISSED")).
		Edge("triage", "escalate").
		Edge("triage", "dismiss").
		Build()
	if err != nil {
		t.Fatalf("Failed to build template: %v", err)
	}
	graph, err := NewGraph(tpl)
	if err != nil {
		t.Fatalf("Failed to build graph: %v", err)
	}

	inst := newPendingInstance(tpl)
	inst.MarkTaskCompleted("triage", map[string]interface{}{"selected_task": "escalate"})

	// Only the selected branch is admitted; the other stays blocked.
	ready := graph.ReadySet(inst)
	if len(ready) != 1 || ready[0] != "escalate" {
		t.Errorf("Expected ready set [escalate], got %v", ready)
	}

	// A conditional that recorded no selection admits nothing.
	inst2 := newPendingInstance(tpl)
	inst2.MarkTaskCompleted("triage", nil)
	if ready := graph.ReadySet(inst2); len(ready) != 0 {
		t.Errorf("Expected empty ready set without a selection, got %v", ready)
	}
}
