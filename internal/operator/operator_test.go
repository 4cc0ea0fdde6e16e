package operator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/civicflow/civicflow/pkg/models"
)

func execCtx(task *models.TaskDef, snapshot map[string]interface{}, deps *Deps) *ExecContext {
	return &ExecContext{
		Instance: &models.Instance{
			ID:         "inst-1",
			TemplateID: "wf-test",
			UserID:     "user-1",
			TaskStates: map[string]*models.TaskState{},
		},
		Task:     task,
		Snapshot: snapshot,
		Deps:     deps,
	}
}

func TestForTaskClosedSet(t *testing.T) {
	kinds := []models.OperatorKind{
		models.OperatorAction,
		models.OperatorConditional,
		models.OperatorApproval,
		models.OperatorUserInput,
		models.OperatorAdminInput,
		models.OperatorIntegration,
		models.OperatorTerminal,
		models.OperatorWorkflowStart,
		models.OperatorEntityValidation,
	}
	for _, kind := range kinds {
		op, err := ForTask(&models.TaskDef{ID: "t", Kind: kind})
		if err != nil {
			t.Fatalf("ForTask(%s): %v", kind, err)
		}
		if op.Kind() != kind {
			t.Errorf("ForTask(%s) returned operator for %s", kind, op.Kind())
		}
	}

	if _, err := ForTask(&models.TaskDef{ID: "t", Kind: "python_operator"}); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}

func TestActionOperator(t *testing.T) {
	reg := NewActionRegistry()
	reg.Register("sum", func(_ context.Context, inputs, _ map[string]interface{}) (map[string]interface{}, error) {
		a := inputs["a"].(float64)
		b := inputs["b"].(float64)
		return map[string]interface{}{"total": a + b}, nil
	})
	deps := &Deps{Actions: reg}
	task := &models.TaskDef{
		ID:   "add",
		Kind: models.OperatorAction,
		Action: &models.ActionConfig{
			Handler:        "sum",
			RequiredInputs: []string{"a", "b"},
		},
	}

	res := (&ActionOperator{}).Execute(context.Background(), execCtx(task, map[string]interface{}{"a": 2.0, "b": 3.0}, deps))
	if res.Status != StatusCompleted {
		t.Fatalf("status = %s, error = %s", res.Status, res.Error)
	}
	if res.Data["total"] != 5.0 {
		t.Errorf("total = %v, want 5", res.Data["total"])
	}

	// Missing required input fails before the handler is invoked.
	res = (&ActionOperator{}).Execute(context.Background(), execCtx(task, map[string]interface{}{"a": 2.0}, deps))
	if res.Status != StatusFailed {
		t.Errorf("expected FAILED on missing input, got %s", res.Status)
	}

	task.Action.Handler = "nope"
	res = (&ActionOperator{}).Execute(context.Background(), execCtx(task, map[string]interface{}{"a": 1.0, "b": 1.0}, deps))
	if res.Status != StatusFailed {
		t.Errorf("expected FAILED on unregistered handler, got %s", res.Status)
	}
}

func TestConditionalBranchOrder(t *testing.T) {
	task := &models.TaskDef{
		ID:   "route",
		Kind: models.OperatorConditional,
		Conditional: &models.ConditionalConfig{
			Branches: []models.Branch{
				{When: models.Predicate{Key: "amount", Op: models.OpGt, Value: 1000}, To: "manual_review"},
				{When: models.Predicate{Key: "amount", Op: models.OpGt, Value: 0}, To: "auto_approve"},
			},
			Default: "reject",
		},
	}
	op := &ConditionalOperator{}

	res := op.Execute(context.Background(), execCtx(task, map[string]interface{}{"amount": 5000.0}, nil))
	if res.Status != StatusContinue {
		t.Fatalf("status = %s", res.Status)
	}
	if res.Data["selected_task"] != "manual_review" {
		t.Errorf("selected %v, want manual_review", res.Data["selected_task"])
	}

	res = op.Execute(context.Background(), execCtx(task, map[string]interface{}{"amount": 10.0}, nil))
	if res.Data["selected_task"] != "auto_approve" {
		t.Errorf("selected %v, want auto_approve", res.Data["selected_task"])
	}

	// Missing key never matches; the default edge takes over.
	res = op.Execute(context.Background(), execCtx(task, map[string]interface{}{}, nil))
	if res.Status != StatusContinue || res.Data["selected_task"] != "reject" {
		t.Errorf("status %s, selected %v, want default reject", res.Status, res.Data["selected_task"])
	}

	task.Conditional.Default = ""
	res = op.Execute(context.Background(), execCtx(task, map[string]interface{}{}, nil))
	if res.Status != StatusFailed {
		t.Errorf("expected FAILED without default, got %s", res.Status)
	}
}

func TestEvalPredicate(t *testing.T) {
	snapshot := map[string]interface{}{
		"status": "approved",
		"score":  42.0,
		"region": "north",
	}

	cases := []struct {
		name string
		p    models.Predicate
		want bool
	}{
		{"eq match", models.Predicate{Key: "status", Op: models.OpEq, Value: "approved"}, true},
		{"eq default op", models.Predicate{Key: "status", Value: "approved"}, true},
		{"neq", models.Predicate{Key: "status", Op: models.OpNeq, Value: "rejected"}, true},
		{"gt numeric coercion", models.Predicate{Key: "score", Op: models.OpGt, Value: 40}, true},
		{"lt", models.Predicate{Key: "score", Op: models.OpLt, Value: 40}, false},
		{"in", models.Predicate{Key: "region", Op: models.OpIn, Value: []interface{}{"south", "north"}}, true},
		{"missing key", models.Predicate{Key: "absent", Op: models.OpEq, Value: "x"}, false},
	}
	for _, tc := range cases {
		got, err := EvalPredicate(tc.p, snapshot)
		if err != nil {
			t.Errorf("%s: %v", tc.name, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}

	if _, err := EvalPredicate(models.Predicate{Key: "status", Op: models.OpGt, Value: 1}, snapshot); err == nil {
		t.Error("expected error for gt over non-numeric value")
	}
	if _, err := EvalPredicate(models.Predicate{Key: "status", Op: "regex", Value: "x"}, snapshot); err == nil {
		t.Error("expected error for unknown operator")
	}
}

type recordingEmitter struct {
	events []*models.Event
}

func (r *recordingEmitter) Emit(_ context.Context, e *models.Event) error {
	r.events = append(r.events, e)
	return nil
}

func TestApprovalLifecycle(t *testing.T) {
	emitter := &recordingEmitter{}
	deps := &Deps{Events: emitter}
	task := &models.TaskDef{
		ID:       "sign_off",
		Kind:     models.OperatorApproval,
		Approval: &models.ApprovalConfig{Message: "Please review"},
	}
	op := &ApprovalOperator{}

	res := op.Execute(context.Background(), execCtx(task, nil, deps))
	if res.Status != StatusWaiting || res.WaitingFor != "approval" {
		t.Fatalf("first entry: status %s, waiting_for %q", res.Status, res.WaitingFor)
	}
	if res.FormConfig == nil {
		t.Fatal("first entry should carry the decision form")
	}
	if len(emitter.events) != 1 || emitter.events[0].Type != models.EventApprovalRequested {
		t.Fatalf("expected one APPROVAL_REQUESTED event, got %v", emitter.events)
	}

	ec := execCtx(task, nil, deps)
	ec.ResumeInput = map[string]interface{}{
		"decision":   DecisionApproved,
		"decided_by": "manager-1",
		"comments":   "ok",
	}
	res = op.Execute(context.Background(), ec)
	if res.Status != StatusCompleted {
		t.Fatalf("resume: status %s, error %s", res.Status, res.Error)
	}
	if res.Data["decision"] != DecisionApproved || res.Data["decided_by"] != "manager-1" {
		t.Errorf("decision record = %v", res.Data)
	}
	if len(emitter.events) != 2 || emitter.events[1].Type != models.EventApprovalCompleted {
		t.Errorf("expected APPROVAL_COMPLETED, got %v", emitter.events)
	}

	ec.ResumeInput = map[string]interface{}{"decision": "MAYBE"}
	res = op.Execute(context.Background(), ec)
	if res.Status != StatusFailed {
		t.Errorf("expected FAILED for invalid decision, got %s", res.Status)
	}
}

func TestInputOperatorValidatesForm(t *testing.T) {
	task := &models.TaskDef{
		ID:   "citizen_details",
		Kind: models.OperatorUserInput,
		Input: &models.InputConfig{
			Form: models.FormSchema{
				Title: "Citizen details",
				Fields: []models.FormField{
					{Name: "full_name", Type: models.FieldTypeString, Required: true},
					{Name: "age", Type: models.FieldTypeNumber},
				},
			},
		},
	}
	op := &InputOperator{kind: models.OperatorUserInput, waitingFor: "user_input"}

	res := op.Execute(context.Background(), execCtx(task, nil, nil))
	if res.Status != StatusWaiting || res.WaitingFor != "user_input" {
		t.Fatalf("first entry: status %s, waiting_for %q", res.Status, res.WaitingFor)
	}
	if res.FormConfig == nil || res.FormConfig.Title != "Citizen details" {
		t.Fatal("first entry should carry the declared form")
	}

	ec := execCtx(task, nil, nil)
	ec.ResumeInput = map[string]interface{}{"age": 30.0}
	res = op.Execute(context.Background(), ec)
	if res.Status != StatusFailed {
		t.Errorf("expected FAILED on missing required field, got %s", res.Status)
	}

	ec.ResumeInput = map[string]interface{}{"full_name": "Ada", "age": 30.0}
	res = op.Execute(context.Background(), ec)
	if res.Status != StatusCompleted {
		t.Fatalf("resume: status %s, error %s", res.Status, res.Error)
	}
	if res.Data["full_name"] != "Ada" {
		t.Errorf("payload not carried into output: %v", res.Data)
	}
}

type fakeIntegration struct {
	service   string
	operation string
	payload   map[string]interface{}
	response  map[string]interface{}
	err       error
}

func (f *fakeIntegration) Call(_ context.Context, service, operation string, payload map[string]interface{}) (map[string]interface{}, error) {
	f.service, f.operation, f.payload = service, operation, payload
	return f.response, f.err
}

func TestIntegrationOperator(t *testing.T) {
	client := &fakeIntegration{response: map[string]interface{}{"ref": "ext-9"}}
	deps := &Deps{Integrations: client}
	task := &models.TaskDef{
		ID:   "notify",
		Kind: models.OperatorIntegration,
		Integration: &models.IntegrationConfig{
			Service:   "notifications",
			Operation: "send_email",
			Payload:   map[string]string{"recipient": "citizen_email"},
		},
	}

	res := (&IntegrationOperator{}).Execute(context.Background(), execCtx(task, map[string]interface{}{"citizen_email": "a@b.c"}, deps))
	if res.Status != StatusCompleted {
		t.Fatalf("status %s, error %s", res.Status, res.Error)
	}
	if client.payload["recipient"] != "a@b.c" {
		t.Errorf("payload = %v", client.payload)
	}
	result, ok := res.Data["notify_result"].(map[string]interface{})
	if !ok || result["ref"] != "ext-9" {
		t.Errorf("output = %v", res.Data)
	}

	client.err = errors.New("connection refused")
	res = (&IntegrationOperator{}).Execute(context.Background(), execCtx(task, map[string]interface{}{}, deps))
	if res.Status != StatusFailed {
		t.Errorf("expected FAILED on transport error, got %s", res.Status)
	}
}

func TestTerminalOperator(t *testing.T) {
	task := &models.TaskDef{
		ID:       "done",
		Kind:     models.OperatorTerminal,
		Terminal: &models.TerminalConfig{Status: "PERMIT_ISSUED", Message: "Permit granted"},
	}
	res := (&TerminalOperator{}).Execute(context.Background(), execCtx(task, nil, nil))
	if res.Status != StatusCompleted {
		t.Fatalf("status %s", res.Status)
	}
	if res.Data["terminal_status"] != "PERMIT_ISSUED" || res.Data["terminal_message"] != "Permit granted" {
		t.Errorf("data = %v", res.Data)
	}
}

type fakeChildren struct {
	started      bool
	startedCtx   map[string]interface{}
	childID      string
	child        *models.Instance
	startErr     error
	statusCalled bool
}

func (f *fakeChildren) StartChild(_ context.Context, _ *models.Instance, _ string, _ *models.ChildWorkflowConfig, childContext map[string]interface{}) (string, error) {
	f.started = true
	f.startedCtx = childContext
	return f.childID, f.startErr
}

func (f *fakeChildren) ChildStatus(_ context.Context, _ string) (*models.Instance, error) {
	f.statusCalled = true
	return f.child, nil
}

func TestWorkflowStartFireAndForget(t *testing.T) {
	children := &fakeChildren{childID: "child-1"}
	deps := &Deps{Children: children}
	task := &models.TaskDef{
		ID:   "spawn",
		Kind: models.OperatorWorkflowStart,
		ChildWorkflow: &models.ChildWorkflowConfig{
			TemplateID:     "wf-child",
			ContextMapping: map[string]string{"case_id": "parent_case"},
		},
	}

	res := (&WorkflowStartOperator{}).Execute(context.Background(), execCtx(task, map[string]interface{}{"case_id": "c-7", "noise": true}, deps))
	if res.Status != StatusCompleted {
		t.Fatalf("status %s, error %s", res.Status, res.Error)
	}
	if res.Data["spawn_child_instance_id"] != "child-1" {
		t.Errorf("data = %v", res.Data)
	}
	if children.startedCtx["parent_case"] != "c-7" {
		t.Errorf("child context = %v, want projected case_id", children.startedCtx)
	}
	if _, leaked := children.startedCtx["noise"]; leaked {
		t.Error("unmapped key leaked into child context")
	}
}

func TestWorkflowStartWaitAndResume(t *testing.T) {
	children := &fakeChildren{childID: "child-2"}
	deps := &Deps{Children: children}
	task := &models.TaskDef{
		ID:   "spawn",
		Kind: models.OperatorWorkflowStart,
		ChildWorkflow: &models.ChildWorkflowConfig{
			TemplateID:        "wf-child",
			WaitForCompletion: true,
			RequiredStatus:    "APPROVED",
		},
	}
	op := &WorkflowStartOperator{}

	ec := execCtx(task, map[string]interface{}{"case_id": "c-1"}, deps)
	res := op.Execute(context.Background(), ec)
	if res.Status != StatusWaiting || res.WaitingFor != WaitChildWorkflow {
		t.Fatalf("first entry: status %s, waiting_for %q", res.Status, res.WaitingFor)
	}

	// Simulate the executor persisting the child ID into the task state.
	now := time.Now().UTC()
	ec.Instance.TaskStates["spawn"] = &models.TaskState{
		Status:     models.TaskWaiting,
		StartedAt:  &now,
		OutputData: res.Data,
	}

	// Child still running: stay suspended.
	children.child = &models.Instance{ID: "child-2", Status: models.InstanceRunning}
	res = op.Execute(context.Background(), ec)
	if res.Status != StatusWaiting {
		t.Fatalf("running child: status %s", res.Status)
	}

	// Child completed with the wrong terminal status: fail.
	children.child = &models.Instance{ID: "child-2", Status: models.InstanceCompleted, TerminalStatus: "REJECTED"}
	res = op.Execute(context.Background(), ec)
	if res.Status != StatusFailed {
		t.Fatalf("wrong terminal status: got %s", res.Status)
	}

	// Child completed with the required status: merge its context.
	children.child = &models.Instance{
		ID:             "child-2",
		Status:         models.InstanceCompleted,
		TerminalStatus: "APPROVED",
		Context:        map[string]interface{}{"permit_no": "P-33"},
	}
	res = op.Execute(context.Background(), ec)
	if res.Status != StatusContinue {
		t.Fatalf("completed child: status %s, error %s", res.Status, res.Error)
	}
	if res.Data["permit_no"] != "P-33" || res.Data["spawn_child_status"] != "APPROVED" {
		t.Errorf("merged data = %v", res.Data)
	}
}

func TestWorkflowStartTimeout(t *testing.T) {
	children := &fakeChildren{childID: "child-3", child: &models.Instance{ID: "child-3", Status: models.InstanceRunning}}
	deps := &Deps{Children: children}
	task := &models.TaskDef{
		ID:   "spawn",
		Kind: models.OperatorWorkflowStart,
		ChildWorkflow: &models.ChildWorkflowConfig{
			TemplateID:        "wf-child",
			WaitForCompletion: true,
			TimeoutMinutes:    30,
		},
	}

	ec := execCtx(task, nil, deps)
	started := time.Now().UTC().Add(-time.Hour)
	ec.Instance.TaskStates["spawn"] = &models.TaskState{
		Status:     models.TaskWaiting,
		StartedAt:  &started,
		OutputData: map[string]interface{}{"spawn_child_instance_id": "child-3"},
	}

	res := (&WorkflowStartOperator{}).Execute(context.Background(), ec)
	if res.Status != StatusFailed {
		t.Fatalf("expected FAILED after timeout, got %s", res.Status)
	}
}

type fakeEntities struct {
	entities []*Entity
	failOn   string
}

func (f *fakeEntities) CreateEntity(_ context.Context, entityType string, data map[string]interface{}) (*Entity, error) {
	if entityType == f.failOn {
		return nil, errors.New("entity service unavailable")
	}
	e := &Entity{ID: "ent-" + entityType, Type: entityType, Data: data, ValidationStatus: ValidationValid}
	f.entities = append(f.entities, e)
	return e, nil
}

func (f *fakeEntities) ValidateEntities(_ context.Context, entities []*Entity) error {
	for _, e := range entities {
		if e.Type == "vehicle" {
			e.ValidationStatus = ValidationHasWarnings
			e.ValidationErrors = []string{"registration expires soon"}
		}
	}
	return nil
}

func TestEntityValidationAggregation(t *testing.T) {
	deps := &Deps{Entities: &fakeEntities{}}
	task := &models.TaskDef{
		ID:   "check",
		Kind: models.OperatorEntityValidation,
		EntityValidation: &models.EntityValidationConfig{
			Mappings: []models.EntityMapping{
				{EntityType: "person", InputFields: []string{"full_name"}, OutputKey: "person_result"},
				{EntityType: "vehicle", InputFields: []string{"plate"}, OutputKey: "vehicle_result"},
			},
		},
	}

	snapshot := map[string]interface{}{"full_name": "Ada", "plate": "XY-123"}
	res := (&EntityValidationOperator{}).Execute(context.Background(), execCtx(task, snapshot, deps))
	if res.Status != StatusCompleted {
		t.Fatalf("status %s, error %s", res.Status, res.Error)
	}
	if res.Data["overall_status"] != ValidationHasWarnings {
		t.Errorf("overall_status = %v, want has_warnings", res.Data["overall_status"])
	}
	person, ok := res.Data["person_result"].(map[string]interface{})
	if !ok || person["validation_status"] != ValidationValid {
		t.Errorf("person_result = %v", res.Data["person_result"])
	}

	// A required mapping with missing input fields fails the task.
	res = (&EntityValidationOperator{}).Execute(context.Background(), execCtx(task, map[string]interface{}{"full_name": "Ada"}, deps))
	if res.Status != StatusFailed {
		t.Errorf("expected FAILED on missing input field, got %s", res.Status)
	}
}

func TestEntityValidationOptionalMapping(t *testing.T) {
	deps := &Deps{Entities: &fakeEntities{failOn: "address"}}
	task := &models.TaskDef{
		ID:   "check",
		Kind: models.OperatorEntityValidation,
		EntityValidation: &models.EntityValidationConfig{
			Mappings: []models.EntityMapping{
				{EntityType: "person", InputFields: []string{"full_name"}, OutputKey: "person_result"},
				{EntityType: "address", InputFields: []string{"street"}, OutputKey: "address_result", Optional: true},
			},
		},
	}

	snapshot := map[string]interface{}{"full_name": "Ada", "street": "Main St"}
	res := (&EntityValidationOperator{}).Execute(context.Background(), execCtx(task, snapshot, deps))
	if res.Status != StatusCompleted {
		t.Fatalf("status %s, error %s", res.Status, res.Error)
	}
	if res.Data["overall_status"] != ValidationCriticalError {
		t.Errorf("overall_status = %v, want critical_error", res.Data["overall_status"])
	}
	addr, ok := res.Data["address_result"].(map[string]interface{})
	if !ok || addr["validation_status"] != ValidationCriticalError {
		t.Errorf("address_result = %v", res.Data["address_result"])
	}
}

func TestWorseStatus(t *testing.T) {
	if got := worseStatus(ValidationValid, ValidationHasErrors); got != ValidationHasErrors {
		t.Errorf("got %s", got)
	}
	if got := worseStatus(ValidationCriticalError, ValidationHasWarnings); got != ValidationCriticalError {
		t.Errorf("got %s", got)
	}
	if got := worseStatus("bogus", ValidationValid); got != ValidationHasErrors {
		t.Errorf("unknown status should rank as has_errors, got %s", got)
	}
}
