package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/civicflow/civicflow/pkg/models"
)

// AppendEvent persists a lifecycle event. Events are append-only.
func (s *GormStore) AppendEvent(ctx context.Context, event *models.Event) error {
	model, err := FromEvent(event)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to append event %s: %w", event.ID, err)
	}
	return nil
}

// QueryEvents returns events matching the filters, newest first.
func (s *GormStore) QueryEvents(ctx context.Context, filters EventFilters) ([]*models.Event, error) {
	query := s.db.WithContext(ctx).Model(&EventModel{})

	if filters.WorkflowID != "" {
		query = query.Where("workflow_id = ?", filters.WorkflowID)
	}
	if filters.InstanceID != "" {
		instID, err := uuid.Parse(filters.InstanceID)
		if err != nil {
			return nil, fmt.Errorf("invalid instance ID: %w", err)
		}
		query = query.Where("instance_id = ?", instID)
	}
	if filters.Type != nil {
		query = query.Where("event_type = ?", string(*filters.Type))
	}
	if filters.After != nil {
		query = query.Where("timestamp > ?", *filters.After)
	}
	if filters.Before != nil {
		query = query.Where("timestamp < ?", *filters.Before)
	}

	query = query.Order("timestamp DESC")
	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	}

	var eventModels []EventModel
	if err := query.Find(&eventModels).Error; err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	events := make([]*models.Event, 0, len(eventModels))
	for i := range eventModels {
		events = append(events, eventModels[i].ToEvent())
	}
	return events, nil
}

// MarkEventProcessed stamps an event with its hook-processing outcome.
func (s *GormStore) MarkEventProcessed(ctx context.Context, eventID string, triggered []string) error {
	id, err := uuid.Parse(eventID)
	if err != nil {
		return fmt.Errorf("invalid event ID: %w", err)
	}

	now := time.Now().UTC()
	result := s.db.WithContext(ctx).
		Model(&EventModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processed_at":        now,
			"triggered_instances": StringArray(triggered),
		})

	if result.Error != nil {
		return fmt.Errorf("failed to mark event processed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: event %s", ErrNotFound, eventID)
	}
	return nil
}
