package models

import "time"

// EventType is the kind of lifecycle event a workflow emitted.
type EventType string

const (
	EventStarted           EventType = "STARTED"
	EventCompleted         EventType = "COMPLETED"
	EventFailed            EventType = "FAILED"
	EventPaused            EventType = "PAUSED"
	EventResumed           EventType = "RESUMED"
	EventEntityCreated     EventType = "ENTITY_CREATED"
	EventApprovalRequested EventType = "APPROVAL_REQUESTED"
	EventApprovalCompleted EventType = "APPROVAL_COMPLETED"
)

// Event is a persisted lifecycle event. Once appended to the store it is
// the source of truth for hook processing.
type Event struct {
	ID         string                 `json:"id"`
	Type       EventType              `json:"event_type"`
	WorkflowID string                 `json:"workflow_id"`
	InstanceID string                 `json:"instance_id"`
	UserID     string                 `json:"user_id,omitempty"`
	Data       map[string]interface{} `json:"event_data,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`

	ProcessedAt        *time.Time `json:"processed_at,omitempty"`
	TriggeredInstances []string   `json:"triggered_instances,omitempty"`
}

// Key builds the matching key hooks are evaluated against.
func (e *Event) Key() string {
	return string(e.Type) + "." + e.WorkflowID
}
