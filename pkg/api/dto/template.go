package dto

import (
	"time"

	"github.com/civicflow/civicflow/pkg/models"
)

// TemplateTaskResponse is the API view of one task definition.
type TemplateTaskResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// TemplateResponse is the API view of a registered workflow template.
type TemplateResponse struct {
	ID          string                 `json:"id"`
	Version     int                    `json:"version"`
	Type        string                 `json:"workflow_type"`
	Category    string                 `json:"category,omitempty"`
	Description string                 `json:"description,omitempty"`
	Tags        []string               `json:"tags,omitempty"`
	Tasks       []TemplateTaskResponse `json:"tasks"`
	Edges       []models.Edge          `json:"edges,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// TemplateListResponse wraps a template listing.
type TemplateListResponse struct {
	Templates []TemplateResponse `json:"templates"`
	Count     int                `json:"count"`
}

// ToTemplateResponse converts a template model to its API view.
func ToTemplateResponse(tpl *models.Template) TemplateResponse {
	tasks := make([]TemplateTaskResponse, 0, len(tpl.Tasks))
	for _, t := range tpl.Tasks {
		tasks = append(tasks, TemplateTaskResponse{
			ID:   t.ID,
			Name: t.Name,
			Kind: string(t.Kind),
		})
	}
	return TemplateResponse{
		ID:          tpl.ID,
		Version:     tpl.Version,
		Type:        string(tpl.Type),
		Category:    tpl.Category,
		Description: tpl.Description,
		Tags:        tpl.Tags,
		Tasks:       tasks,
		Edges:       tpl.Edges,
		CreatedAt:   tpl.CreatedAt,
		UpdatedAt:   tpl.UpdatedAt,
	}
}
