package dto

import (
	"github.com/civicflow/civicflow/internal/dlq"
	"github.com/civicflow/civicflow/pkg/models"
)

// PublishEventRequest accepts an external event into the bus.
type PublishEventRequest struct {
	Type       string                 `json:"event_type" validate:"required"`
	WorkflowID string                 `json:"workflow_id" validate:"required"`
	InstanceID string                 `json:"instance_id,omitempty"`
	UserID     string                 `json:"user_id,omitempty"`
	Data       map[string]interface{} `json:"event_data,omitempty"`
}

// ToEvent converts the request into an event model.
func (r *PublishEventRequest) ToEvent() *models.Event {
	return &models.Event{
		Type:       models.EventType(r.Type),
		WorkflowID: r.WorkflowID,
		InstanceID: r.InstanceID,
		UserID:     r.UserID,
		Data:       r.Data,
	}
}

// EventListResponse wraps an event query result.
type EventListResponse struct {
	Events []*models.Event `json:"events"`
	Count  int             `json:"count"`
}

// DeadLetterListResponse wraps a dead-letter listing.
type DeadLetterListResponse struct {
	Entries []*dlq.Entry `json:"entries"`
	Count   int          `json:"count"`
}

// ReplayResponse reports the instance started by a dead-letter replay.
type ReplayResponse struct {
	InstanceID string `json:"instance_id"`
}
