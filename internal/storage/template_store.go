package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/civicflow/civicflow/pkg/models"
)

// UpsertTemplate inserts or replaces a template definition.
func (s *GormStore) UpsertTemplate(ctx context.Context, tpl *models.Template) error {
	model, err := FromTemplate(tpl)
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
		return fmt.Errorf("failed to upsert template %s: %w", tpl.ID, err)
	}
	return nil
}

// LoadTemplate loads a template by ID.
func (s *GormStore) LoadTemplate(ctx context.Context, id string) (*models.Template, error) {
	var model TemplateModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: template %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load template %s: %w", id, err)
	}
	return model.ToTemplate()
}

// ListTemplates returns all stored templates.
func (s *GormStore) ListTemplates(ctx context.Context) ([]*models.Template, error) {
	var templateModels []TemplateModel
	if err := s.db.WithContext(ctx).Order("id").Find(&templateModels).Error; err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	templates := make([]*models.Template, 0, len(templateModels))
	for i := range templateModels {
		tpl, err := templateModels[i].ToTemplate()
		if err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
	}
	return templates, nil
}
