package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"

	"github.com/civicflow/civicflow/pkg/models"
)

// UpsertHook inserts or replaces a hook registration.
func (s *GormStore) UpsertHook(ctx context.Context, hook *models.Hook) error {
	model, err := FromHook(hook)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(model).Error
	if err != nil {
		return fmt.Errorf("failed to upsert hook %s: %w", hook.ID, err)
	}
	return nil
}

// DeleteHook removes a hook registration.
func (s *GormStore) DeleteHook(ctx context.Context, id string) error {
	hookID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("%w: invalid hook ID %q", ErrNotFound, id)
	}

	result := s.db.WithContext(ctx).Delete(&HookModel{}, "id = ?", hookID)
	if result.Error != nil {
		return fmt.Errorf("failed to delete hook %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: hook %s", ErrNotFound, id)
	}
	return nil
}

// ListHooks returns hooks matching the filters, highest priority first.
func (s *GormStore) ListHooks(ctx context.Context, filters HookFilters) ([]*models.Hook, error) {
	query := s.db.WithContext(ctx).Model(&HookModel{})

	if filters.ListenerWorkflowID != "" {
		query = query.Where("listener_workflow_id = ?", filters.ListenerWorkflowID)
	}
	if filters.Enabled != nil {
		query = query.Where("enabled = ?", *filters.Enabled)
	}

	var hookModels []HookModel
	if err := query.Order("priority DESC, id").Find(&hookModels).Error; err != nil {
		return nil, fmt.Errorf("failed to list hooks: %w", err)
	}

	hooks := make([]*models.Hook, 0, len(hookModels))
	for i := range hookModels {
		hooks = append(hooks, hookModels[i].ToHook())
	}
	return hooks, nil
}
