package dto

import (
	"github.com/civicflow/civicflow/pkg/models"
)

// RegisterHookRequest registers an event hook.
type RegisterHookRequest struct {
	ListenerWorkflowID string                 `json:"listener_workflow_id" validate:"required"`
	EventPattern       string                 `json:"event_pattern" validate:"required"`
	TriggerType        string                 `json:"trigger_type" validate:"required,oneof=ALWAYS CONDITIONAL ENTITY_BASED USER_BASED"`
	Priority           int                    `json:"priority"`
	Conditions         map[string]interface{} `json:"conditions,omitempty"`
	RequiredEntities   []string               `json:"required_entities,omitempty"`
	UserFilters        map[string]interface{} `json:"user_filters,omitempty"`
	PassEventContext   bool                   `json:"pass_event_context"`
	ContextMapping     map[string]string      `json:"context_mapping,omitempty"`
}

// ToHook converts the request into a hook model. New hooks are enabled.
func (r *RegisterHookRequest) ToHook() *models.Hook {
	return &models.Hook{
		ListenerWorkflowID: r.ListenerWorkflowID,
		EventPattern:       r.EventPattern,
		TriggerType:        models.TriggerType(r.TriggerType),
		Priority:           r.Priority,
		Enabled:            true,
		Conditions:         r.Conditions,
		RequiredEntities:   r.RequiredEntities,
		UserFilters:        r.UserFilters,
		PassEventContext:   r.PassEventContext,
		ContextMapping:     r.ContextMapping,
	}
}

// HookListResponse wraps a hook listing.
type HookListResponse struct {
	Hooks []*models.Hook `json:"hooks"`
	Count int            `json:"count"`
}
