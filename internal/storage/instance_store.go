package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/civicflow/civicflow/pkg/models"
)

// CreateInstance persists a freshly allocated instance. The store version
// starts at 1.
func (s *GormStore) CreateInstance(ctx context.Context, inst *models.Instance) error {
	inst.StoreVersion = 1
	model, err := FromInstance(inst)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to create instance %s: %w", inst.ID, err)
	}
	return nil
}

// LoadInstance loads an instance by ID.
func (s *GormStore) LoadInstance(ctx context.Context, id string) (*models.Instance, error) {
	instID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid instance ID %q", ErrNotFound, id)
	}

	var model InstanceModel
	if err := s.db.WithContext(ctx).Where("id = ?", instID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: instance %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load instance %s: %w", id, err)
	}
	return model.ToInstance()
}

// SaveInstance writes the instance with an optimistic precondition on the
// stored version. Losing the race returns ErrConflict and leaves the row
// untouched; the caller must re-read and retry.
func (s *GormStore) SaveInstance(ctx context.Context, inst *models.Instance) error {
	loadedVersion := inst.StoreVersion
	inst.UpdatedAt = time.Now().UTC()

	model, err := FromInstance(inst)
	if err != nil {
		return err
	}
	model.Version = loadedVersion + 1

	result := s.db.WithContext(ctx).
		Model(&InstanceModel{}).
		Where("id = ? AND version = ?", model.ID, loadedVersion).
		Updates(model)

	if result.Error != nil {
		return fmt.Errorf("failed to save instance %s: %w", inst.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: instance %s", ErrConflict, inst.ID)
	}

	inst.StoreVersion = loadedVersion + 1
	return nil
}

// ListInstances queries instances with the given filters, most recently
// updated first.
func (s *GormStore) ListInstances(ctx context.Context, filters InstanceFilters) ([]*models.Instance, error) {
	query := s.db.WithContext(ctx).Model(&InstanceModel{})

	if filters.TemplateID != "" {
		query = query.Where("template_id = ?", filters.TemplateID)
	}
	if filters.UserID != "" {
		query = query.Where("user_id = ?", filters.UserID)
	}
	if filters.Status != nil {
		query = query.Where("status = ?", string(*filters.Status))
	}
	if filters.Type != nil {
		query = query.Where("workflow_type = ?", string(*filters.Type))
	}
	if filters.AssignedTeamID != "" {
		query = query.Where("assigned_team_id = ?", filters.AssignedTeamID)
	}
	if filters.AssignedUserID != "" {
		query = query.Where("assigned_user_id = ?", filters.AssignedUserID)
	}
	if filters.AssignmentStatus != nil {
		query = query.Where("assignment_status = ?", string(*filters.AssignmentStatus))
	}
	if filters.ParentInstanceID != "" {
		parentID, err := uuid.Parse(filters.ParentInstanceID)
		if err != nil {
			return nil, fmt.Errorf("invalid parent instance ID: %w", err)
		}
		query = query.Where("parent_instance_id = ?", parentID)
	}

	query = query.Order("updated_at DESC")
	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	var instanceModels []InstanceModel
	if err := query.Find(&instanceModels).Error; err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	instances := make([]*models.Instance, 0, len(instanceModels))
	for i := range instanceModels {
		inst, err := instanceModels[i].ToInstance()
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, nil
}
