package dag

import (
	"errors"
	"testing"
	"time"

	"github.com/civicflow/civicflow/pkg/models"
)

func TestBuilder_BasicTemplate(t *testing.T) {
	tpl, err := NewBuilder("permit-application").
		Description("Building permit intake and review").
		Category("permits").
		Tags("permits", "citizen").
		Task("intake", ActionTask("permit.intake")).
		Build()

	if err != nil {
		t.Fatalf("Failed to build template: %v", err)
	}

	if tpl.ID != "permit-application" {
		t.Errorf("Expected ID 'permit-application', got '%s'", tpl.ID)
	}
	if tpl.Version != 1 {
		t.Errorf("Expected default version 1, got %d", tpl.Version)
	}
	if tpl.Type != models.WorkflowTypeProcess {
		t.Errorf("Expected default type PROCESS, got %s", tpl.Type)
	}
	if tpl.Description != "Building permit intake and review" {
		t.Errorf("Expected description, got '%s'", tpl.Description)
	}
	if tpl.Category != "permits" {
		t.Errorf("Expected category 'permits', got '%s'", tpl.Category)
	}
	if len(tpl.Tags) != 2 {
		t.Errorf("Expected 2 tags, got %d", len(tpl.Tags))
	}
	if len(tpl.Tasks) != 1 {
		t.Fatalf("Expected 1 task, got %d", len(tpl.Tasks))
	}
	if tpl.Tasks["intake"].Name != "intake" {
		t.Errorf("Expected task name to default to its ID, got '%s'", tpl.Tasks["intake"].Name)
	}
}

func TestBuilder_TaskKinds(t *testing.T) {
	tpl, err := NewBuilder("inspection-process").
		Type(models.WorkflowTypeAdmin).
		Version(3).
		Task("validate-site", EntityValidationTask(
			models.EntityMapping{EntityType: "site", InputFields: []string{"site_id"}, OutputKey: "site"},
		)).
		Task("schedule", IntegrationTask("scheduler", "book_slot").Retry(3, 2*time.Second)).
		Task("inspect", UserInputTask(models.FormSchema{
			Fields: []models.FormField{{Name: "result", Type: models.FieldTypeString, Required: true}},
		})).
		Task("sign-off", ApprovalTask().Message("Approve inspection result")).
		Task("report", ActionTask("inspection.report").Inputs("result").OptionalInputs("notes")).
		Task("archive", WorkflowStartTask("record-archival").
			WaitForCompletion("ARCHIVED", 60).
			MapContext(map[string]string{"report_id": "source_report"}).
			Assigned()).
		Task("done", TerminalTask("COMPLETED").Message("Inspection closed")).
		Edge("validate-site", "schedule").
		Edge("schedule", "inspect").
		Edge("inspect", "sign-off").
		Edge("sign-off", "report").
		Edge("report", "archive").
		Edge("archive", "done").
		Build()

	if err != nil {
		t.Fatalf("Failed to build template: %v", err)
	}

	if tpl.Type != models.WorkflowTypeAdmin {
		t.Errorf("Expected type ADMIN, got %s", tpl.Type)
	}
	if tpl.Version != 3 {
		t.Errorf("Expected version 3, got %d", tpl.Version)
	}

	schedule := tpl.Tasks["schedule"]
	if schedule.Retry == nil || schedule.Retry.MaxAttempts != 3 {
		t.Errorf("Expected schedule retry MaxAttempts 3, got %+v", schedule.Retry)
	}
	if schedule.Retry.InitialDelay != 2*time.Second {
		t.Errorf("Expected 2s initial delay, got %v", schedule.Retry.InitialDelay)
	}

	report := tpl.Tasks["report"]
	if len(report.Action.RequiredInputs) != 1 || report.Action.RequiredInputs[0] != "result" {
		t.Errorf("Expected required input 'result', got %v", report.Action.RequiredInputs)
	}
	if len(report.Action.OptionalInputs) != 1 || report.Action.OptionalInputs[0] != "notes" {
		t.Errorf("Expected optional input 'notes', got %v", report.Action.OptionalInputs)
	}

	signOff := tpl.Tasks["sign-off"]
	if signOff.Approval.Message != "Approve inspection result" {
		t.Errorf("Expected approval message, got '%s'", signOff.Approval.Message)
	}

	archive := tpl.Tasks["archive"]
	if !archive.ChildWorkflow.WaitForCompletion {
		t.Error("Expected archive to wait for child completion")
	}
	if archive.ChildWorkflow.RequiredStatus != "ARCHIVED" {
		t.Errorf("Expected required status ARCHIVED, got '%s'", archive.ChildWorkflow.RequiredStatus)
	}
	if archive.ChildWorkflow.TimeoutMinutes != 60 {
		t.Errorf("Expected timeout 60 minutes, got %d", archive.ChildWorkflow.TimeoutMinutes)
	}
	if archive.ChildWorkflow.ContextMapping["report_id"] != "source_report" {
		t.Errorf("Expected context mapping for report_id, got %v", archive.ChildWorkflow.ContextMapping)
	}
	if !archive.ChildWorkflow.Assign {
		t.Error("Expected archive child to be routed through assignment")
	}

	done := tpl.Tasks["done"]
	if done.Terminal.Status != "COMPLETED" || done.Terminal.Message != "Inspection closed" {
		t.Errorf("Expected terminal COMPLETED/'Inspection closed', got %+v", done.Terminal)
	}
}

func TestBuilder_ConditionalDefault(t *testing.T) {
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

	triage := tpl.Tasks["triage"]
	if len(triage.Conditional.Branches) != 1 {
		t.Fatalf("Expected 1 branch, got %d", len(triage.Conditional.Branches))
	}
	if triage.Conditional.Branches[0].To != "escalate" {
		t.Errorf("Expected branch to 'escalate', got '%s'", triage.Conditional.Branches[0].To)
	}
	if triage.Conditional.Default != "dismiss" {
		t.Errorf("Expected default 'dismiss', got '%s'", triage.Conditional.Default)
	}
}

func TestBuilder_InvalidTemplate(t *testing.T) {
	_, err := NewBuilder("broken").
		Task("a", ActionTask("h")).
		Task("b", ActionTask("h")).
		Edge("a", "b").
		Edge("b", "a").
		Build()

	if !errors.Is(err, ErrTemplateInvalid) {
		t.Errorf("Expected ErrTemplateInvalid from Build, got %v", err)
	}
}

func TestBuilder_MustBuildPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected MustBuild to panic on invalid template")
		}
	}()
	NewBuilder("").Task("a", ActionTask("h")).MustBuild()
}
