package dag

import (
	"errors"
	"testing"
	"time"

	"github.com/civicflow/civicflow/pkg/models"
)

func TestParseYAML_ValidTemplate(t *testing.T) {
	yamlData := []byte(`
id: permit-application
version: 2
workflow_type: PROCESS
category: permits
description: Building permit intake and review
tags:
  - permits
  - citizen
tasks:
  - id: intake
    name: Intake Application
    kind: action
    retries: 2
    retry_delay: 5s
    action:
      handler: permit.intake
  - id: review
    kind: approval
    approval:
      message: Review the permit application
  - id: close
    kind: terminal
    terminal:
      status: RESOLVED
edges:
  - from: intake
    to: review
  - from: review
    to: close
`)

	parser := NewParser()
	tpl, err := parser.ParseYAML(yamlData)
	if err != nil {
		t.Fatalf("Failed to parse YAML: %v", err)
	}

	if tpl.ID != "permit-application" {
		t.Errorf("Expected ID 'permit-application', got '%s'", tpl.ID)
	}
	if tpl.Version != 2 {
		t.Errorf("Expected version 2, got %d", tpl.Version)
	}
	if tpl.Type != models.WorkflowTypeProcess {
		t.Errorf("Expected type PROCESS, got %s", tpl.Type)
	}
	if tpl.Category != "permits" {
		t.Errorf("Expected category 'permits', got '%s'", tpl.Category)
	}
	if len(tpl.Tags) != 2 {
		t.Errorf("Expected 2 tags, got %d", len(tpl.Tags))
	}
	if len(tpl.Tasks) != 3 {
		t.Fatalf("Expected 3 tasks, got %d", len(tpl.Tasks))
	}
	if len(tpl.Edges) != 2 {
		t.Errorf("Expected 2 edges, got %d", len(tpl.Edges))
	}

	intake := tpl.Tasks["intake"]
	if intake.Name != "Intake Application" {
		t.Errorf("Expected task name 'Intake Application', got '%s'", intake.Name)
	}
	if intake.Action == nil || intake.Action.Handler != "permit.intake" {
		t.Errorf("Expected action handler 'permit.intake', got %+v", intake.Action)
	}
	if intake.Retry == nil {
		t.Fatal("Expected intake to carry a retry policy")
	}
	// retries counts re-runs; the policy counts attempts.
	if intake.Retry.MaxAttempts != 3 {
		t.Errorf("Expected 3 max attempts, got %d", intake.Retry.MaxAttempts)
	}
	if intake.Retry.InitialDelay != 5*time.Second {
		t.Errorf("Expected 5s initial delay, got %v", intake.Retry.InitialDelay)
	}

	review := tpl.Tasks["review"]
	if review.Name != "review" {
		t.Errorf("Expected task name to default to its ID, got '%s'", review.Name)
	}
	if review.Approval == nil || review.Approval.Message != "Review the permit application" {
		t.Errorf("Expected approval message, got %+v", review.Approval)
	}

	if tpl.Tasks["close"].Terminal.Status != "RESOLVED" {
		t.Errorf("Expected terminal status RESOLVED, got %+v", tpl.Tasks["close"].Terminal)
	}
}

func TestParseJSON_Defaults(t *testing.T) {
	jsonData := []byte(`{
		"id": "noise-complaint",
		"tasks": [
			{"id": "log", "kind": "action", "action": {"handler": "complaint.log"}, "retries": 1}
		]
	}`)

	parser := NewParser()
	tpl, err := parser.ParseJSON(jsonData)
	if err != nil {
		t.Fatalf("Failed to parse JSON: %v", err)
	}

	if tpl.Version != 1 {
		t.Errorf("Expected default version 1, got %d", tpl.Version)
	}
	if tpl.Type != models.WorkflowTypeProcess {
		t.Errorf("Expected default type PROCESS, got %s", tpl.Type)
	}

	logTask := tpl.Tasks["log"]
	if logTask.Retry == nil || logTask.Retry.MaxAttempts != 2 {
		t.Errorf("Expected 2 max attempts, got %+v", logTask.Retry)
	}
	if logTask.Retry.InitialDelay != time.Second {
		t.Errorf("Expected default 1s initial delay, got %v", logTask.Retry.InitialDelay)
	}
}

func TestParseJSON_InvalidRetryDelay(t *testing.T) {
	jsonData := []byte(`{
		"id": "noise-complaint",
		"tasks": [
			{"id": "log", "kind": "action", "action": {"handler": "complaint.log"}, "retries": 1, "retry_delay": "soon"}
		]
	}`)

	parser := NewParser()
	if _, err := parser.ParseJSON(jsonData); err == nil {
		t.Error("Expected error for unparseable retry_delay, got nil")
	}
}

func TestParseYAML_ValidationFailure(t *testing.T) {
	yamlData := []byte(`
id: broken
tasks:
  - id: a
    kind: action
    action:
      handler: h
  - id: b
    kind: action
    action:
      handler: h
edges:
  - from: a
    to: b
  - from: b
    to: a
`)

	parser := NewParser()
	_, err := parser.ParseYAML(yamlData)
	if !errors.Is(err, ErrTemplateInvalid) {
		t.Errorf("Expected ErrTemplateInvalid for cyclic definition, got %v", err)
	}
}

func TestParseYAML_Malformed(t *testing.T) {
	parser := NewParser()
	if _, err := parser.ParseYAML([]byte("id: [unclosed")); err == nil {
		t.Error("Expected error for malformed YAML, got nil")
	}
}
