package dto

import (
	"time"

	"github.com/civicflow/civicflow/pkg/models"
)

// CreateInstanceRequest starts a new workflow instance.
type CreateInstanceRequest struct {
	TemplateID string                 `json:"template_id" validate:"required"`
	Context    map[string]interface{} `json:"context,omitempty"`
	// Start admits the instance immediately after creation.
	Start bool `json:"start"`
}

// SubmitInputRequest delivers external input to a waiting task.
type SubmitInputRequest struct {
	Input map[string]interface{} `json:"input" validate:"required"`
}

// TaskStateResponse is the API view of one task's execution state.
type TaskStateResponse struct {
	Status      string                 `json:"status"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	OutputData  map[string]interface{} `json:"output_data,omitempty"`
	Error       string                 `json:"error,omitempty"`
	WaitingFor  string                 `json:"waiting_for,omitempty"`
	Attempts    int                    `json:"attempts,omitempty"`
}

// InstanceResponse is the API view of a workflow instance.
type InstanceResponse struct {
	ID               string                       `json:"id"`
	TemplateID       string                       `json:"template_id"`
	Version          int                          `json:"template_version"`
	Type             string                       `json:"workflow_type"`
	UserID           string                       `json:"user_id"`
	ParentInstanceID string                       `json:"parent_instance_id,omitempty"`
	Status           string                       `json:"status"`
	TerminalStatus   string                       `json:"terminal_status,omitempty"`
	TerminalMessage  string                       `json:"terminal_message,omitempty"`
	Context          map[string]interface{}       `json:"context"`
	TaskStates       map[string]TaskStateResponse `json:"task_states"`
	CompletedTasks   []string                     `json:"completed_tasks,omitempty"`
	FailedTasks      []string                     `json:"failed_tasks,omitempty"`
	CurrentTask      string                       `json:"current_task,omitempty"`
	Assignment       *models.Assignment           `json:"assignment,omitempty"`
	CreatedAt        time.Time                    `json:"created_at"`
	StartedAt        *time.Time                   `json:"started_at,omitempty"`
	CompletedAt      *time.Time                   `json:"completed_at,omitempty"`
}

// InstanceListResponse wraps a paginated instance listing.
type InstanceListResponse struct {
	Instances  []InstanceResponse `json:"instances"`
	Pagination PaginationMeta     `json:"pagination"`
}

// ToInstanceResponse converts an instance model to its API view.
func ToInstanceResponse(inst *models.Instance) InstanceResponse {
	states := make(map[string]TaskStateResponse, len(inst.TaskStates))
	for id, st := range inst.TaskStates {
		states[id] = TaskStateResponse{
			Status:      string(st.Status),
			StartedAt:   st.StartedAt,
			CompletedAt: st.CompletedAt,
			OutputData:  st.OutputData,
			Error:       st.Error,
			WaitingFor:  st.WaitingFor,
			Attempts:    st.Attempts,
		}
	}
	return InstanceResponse{
		ID:               inst.ID,
		TemplateID:       inst.TemplateID,
		Version:          inst.Version,
		Type:             string(inst.Type),
		UserID:           inst.UserID,
		ParentInstanceID: inst.ParentInstanceID,
		Status:           string(inst.Status),
		TerminalStatus:   inst.TerminalStatus,
		TerminalMessage:  inst.TerminalMessage,
		Context:          inst.Context,
		TaskStates:       states,
		CompletedTasks:   inst.CompletedTasks,
		FailedTasks:      inst.FailedTasks,
		CurrentTask:      inst.CurrentTask,
		Assignment:       inst.Assignment,
		CreatedAt:        inst.CreatedAt,
		StartedAt:        inst.StartedAt,
		CompletedAt:      inst.CompletedAt,
	}
}
