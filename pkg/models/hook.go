package models

import "time"

// TriggerType controls which extra conditions a hook evaluates after its
// pattern matched.
type TriggerType string

const (
	TriggerAlways      TriggerType = "ALWAYS"
	TriggerConditional TriggerType = "CONDITIONAL"
	TriggerEntityBased TriggerType = "ENTITY_BASED"
	TriggerUserBased   TriggerType = "USER_BASED"
)

// Hook is a registered rule that starts a listener workflow when a matching
// event is published.
type Hook struct {
	ID                 string      `json:"id"`
	ListenerWorkflowID string      `json:"listener_workflow_id"`
	// EventPattern matches against "EVENT_TYPE.workflow_id". Glob syntax
	// by default; a "regex:" prefix switches to regular expressions.
	EventPattern string      `json:"event_pattern"`
	TriggerType  TriggerType `json:"trigger_type"`
	Priority     int         `json:"priority"`
	Enabled      bool        `json:"enabled"`

	// Conditions apply for TriggerConditional: event_data[key] must match
	// the expected value. Expected is a scalar (equality) or a map with
	// one of the eq/gt/in operators.
	Conditions map[string]interface{} `json:"conditions,omitempty"`

	// RequiredEntities apply for TriggerEntityBased: the event's user must
	// own at least one entity of every listed type.
	RequiredEntities []string `json:"required_entities,omitempty"`

	// UserFilters apply for TriggerUserBased: every entry must equal
	// event_data.user_attributes[key].
	UserFilters map[string]interface{} `json:"user_filters,omitempty"`

	PassEventContext bool              `json:"pass_event_context"`
	// ContextMapping maps event data keys to child context keys.
	ContextMapping map[string]string `json:"context_mapping,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
