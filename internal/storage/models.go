package storage

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/civicflow/civicflow/pkg/models"
)

// JSONB is a custom type for JSONB columns.
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, j)
}

// StringArray is a custom type for string array columns stored as JSONB.
type StringArray []string

// Value implements the driver.Valuer interface.
func (s StringArray) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

// Scan implements the sql.Scanner interface.
func (s *StringArray) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, s)
}

// TemplateModel is the database model for a workflow template. The task and
// edge structure is stored as a JSON document; the template is immutable
// after registration so no per-field queries are needed.
type TemplateModel struct {
	ID           string      `gorm:"type:varchar(255);primary_key"`
	Version      int         `gorm:"not null;default:1"`
	WorkflowType string      `gorm:"type:varchar(50);not null;index:idx_workflow_definitions_type"`
	Category     string      `gorm:"type:varchar(100)"`
	Description  string      `gorm:"type:text"`
	Tags         StringArray `gorm:"type:jsonb;default:'[]'"`
	Definition   []byte      `gorm:"type:jsonb;not null"`
	CreatedAt    time.Time   `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time   `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for TemplateModel.
func (TemplateModel) TableName() string {
	return "workflow_definitions"
}

// InstanceModel is the database model for a workflow instance.
type InstanceModel struct {
	ID               uuid.UUID `gorm:"type:uuid;primary_key"`
	TemplateID       string    `gorm:"type:varchar(255);not null;index:idx_workflow_instances_template"`
	TemplateVersion  int       `gorm:"not null;default:1"`
	WorkflowType     string    `gorm:"type:varchar(50);not null;index:idx_workflow_instances_type_status"`
	UserID           string    `gorm:"type:varchar(255);not null;index:idx_workflow_instances_user"`
	ParentInstanceID *uuid.UUID `gorm:"type:uuid;index:idx_workflow_instances_parent"`
	ParentTaskID     string    `gorm:"type:varchar(255)"`

	Status          string `gorm:"type:varchar(50);not null;index:idx_workflow_instances_type_status;index:idx_workflow_instances_status_updated"`
	TerminalStatus  string `gorm:"type:varchar(100)"`
	TerminalMessage string `gorm:"type:text"`
	Priority        int    `gorm:"not null;default:0"`

	Context        JSONB       `gorm:"type:jsonb;default:'{}'"`
	TaskStates     JSONB       `gorm:"type:jsonb;default:'{}'"`
	CompletedTasks StringArray `gorm:"type:jsonb;default:'[]'"`
	FailedTasks    StringArray `gorm:"type:jsonb;default:'[]'"`
	CurrentTask    string      `gorm:"type:varchar(255)"`

	AssignedTeamID   string `gorm:"type:varchar(255);index:idx_workflow_instances_assignment"`
	AssignedUserID   string `gorm:"type:varchar(255)"`
	AssignmentStatus string `gorm:"type:varchar(50);index:idx_workflow_instances_assignment"`
	Assignment       JSONB  `gorm:"type:jsonb"`

	CreatedAt   time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`
	StartedAt   *time.Time
	UpdatedAt   time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP;index:idx_workflow_instances_status_updated"`
	CompletedAt *time.Time

	Version int `gorm:"not null;default:1"` // optimistic locking
}

// TableName specifies the table name for InstanceModel.
func (InstanceModel) TableName() string {
	return "workflow_instances"
}

// EventModel is the database model for a lifecycle event.
type EventModel struct {
	ID                 uuid.UUID   `gorm:"type:uuid;primary_key"`
	EventType          string      `gorm:"type:varchar(50);not null;index:idx_workflow_events_workflow_type"`
	WorkflowID         string      `gorm:"type:varchar(255);not null;index:idx_workflow_events_workflow_type"`
	InstanceID         *uuid.UUID  `gorm:"type:uuid;index:idx_workflow_events_instance"`
	UserID             string      `gorm:"type:varchar(255)"`
	EventData          JSONB       `gorm:"type:jsonb;default:'{}'"`
	Timestamp          time.Time   `gorm:"not null;default:CURRENT_TIMESTAMP;index:idx_workflow_events_timestamp"`
	ProcessedAt        *time.Time
	TriggeredInstances StringArray `gorm:"type:jsonb;default:'[]'"`
}

// TableName specifies the table name for EventModel.
func (EventModel) TableName() string {
	return "workflow_events"
}

// HookModel is the database model for a hook registration.
type HookModel struct {
	ID                 uuid.UUID   `gorm:"type:uuid;primary_key"`
	ListenerWorkflowID string      `gorm:"type:varchar(255);not null;index:idx_workflow_hooks_listener"`
	EventPattern       string      `gorm:"type:varchar(500);not null"`
	TriggerType        string      `gorm:"type:varchar(50);not null"`
	Priority           int         `gorm:"not null;default:0"`
	Enabled            bool        `gorm:"not null;default:true;index:idx_workflow_hooks_enabled"`
	Conditions         JSONB       `gorm:"type:jsonb"`
	RequiredEntities   StringArray `gorm:"type:jsonb;default:'[]'"`
	UserFilters        JSONB       `gorm:"type:jsonb"`
	PassEventContext   bool        `gorm:"not null;default:false"`
	ContextMapping     JSONB       `gorm:"type:jsonb"`
	CreatedAt          time.Time   `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time   `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for HookModel.
func (HookModel) TableName() string {
	return "workflow_hooks"
}

// InstanceLogModel is the database model for an append-only instance log.
type InstanceLogModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primary_key"`
	InstanceID uuid.UUID `gorm:"type:uuid;not null;index:idx_instance_logs_instance"`
	Timestamp  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index:idx_instance_logs_timestamp"`
	Level      string    `gorm:"type:varchar(20);not null"`
	LogType    string    `gorm:"type:varchar(50);not null"`
	TaskID     string    `gorm:"type:varchar(255)"`
	Message    string    `gorm:"type:text;not null"`
	Details    JSONB     `gorm:"type:jsonb"`
}

// TableName specifies the table name for InstanceLogModel.
func (InstanceLogModel) TableName() string {
	return "instance_logs"
}

// FromTemplate converts a domain template to its database model.
func FromTemplate(tpl *models.Template) (*TemplateModel, error) {
	definition, err := json.Marshal(tpl)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal template: %w", err)
	}
	return &TemplateModel{
		ID:           tpl.ID,
		Version:      tpl.Version,
		WorkflowType: string(tpl.Type),
		Category:     tpl.Category,
		Description:  tpl.Description,
		Tags:         StringArray(tpl.Tags),
		Definition:   definition,
		CreatedAt:    tpl.CreatedAt,
		UpdatedAt:    tpl.UpdatedAt,
	}, nil
}

// ToTemplate converts a database model back to a domain template.
func (m *TemplateModel) ToTemplate() (*models.Template, error) {
	var tpl models.Template
	if err := json.Unmarshal(m.Definition, &tpl); err != nil {
		return nil, fmt.Errorf("failed to unmarshal template %s: %w", m.ID, err)
	}
	return &tpl, nil
}

// FromInstance converts a domain instance to its database model.
func FromInstance(inst *models.Instance) (*InstanceModel, error) {
	id, err := uuid.Parse(inst.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid instance ID: %w", err)
	}

	taskStates := make(JSONB, len(inst.TaskStates))
	for taskID, st := range inst.TaskStates {
		taskStates[taskID] = st
	}

	m := &InstanceModel{
		ID:              id,
		TemplateID:      inst.TemplateID,
		TemplateVersion: inst.Version,
		WorkflowType:    string(inst.Type),
		UserID:          inst.UserID,
		ParentTaskID:    inst.ParentTaskID,
		Status:          string(inst.Status),
		TerminalStatus:  inst.TerminalStatus,
		TerminalMessage: inst.TerminalMessage,
		Priority:        inst.Priority,
		Context:         JSONB(inst.Context),
		TaskStates:      taskStates,
		CompletedTasks:  StringArray(inst.CompletedTasks),
		FailedTasks:     StringArray(inst.FailedTasks),
		CurrentTask:     inst.CurrentTask,
		CreatedAt:       inst.CreatedAt,
		StartedAt:       inst.StartedAt,
		UpdatedAt:       inst.UpdatedAt,
		CompletedAt:     inst.CompletedAt,
		Version:         inst.StoreVersion,
	}

	if inst.ParentInstanceID != "" {
		parentID, err := uuid.Parse(inst.ParentInstanceID)
		if err != nil {
			return nil, fmt.Errorf("invalid parent instance ID: %w", err)
		}
		m.ParentInstanceID = &parentID
	}

	if inst.Assignment != nil {
		raw, err := json.Marshal(inst.Assignment)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal assignment: %w", err)
		}
		var asJSON JSONB
		if err := json.Unmarshal(raw, &asJSON); err != nil {
			return nil, fmt.Errorf("failed to encode assignment: %w", err)
		}
		m.Assignment = asJSON
		m.AssignedTeamID = inst.Assignment.TeamID
		m.AssignedUserID = inst.Assignment.UserID
		m.AssignmentStatus = string(inst.Assignment.Status)
	}

	return m, nil
}

// ToInstance converts a database model back to a domain instance.
func (m *InstanceModel) ToInstance() (*models.Instance, error) {
	inst := &models.Instance{
		ID:              m.ID.String(),
		TemplateID:      m.TemplateID,
		Version:         m.TemplateVersion,
		Type:            models.WorkflowType(m.WorkflowType),
		UserID:          m.UserID,
		ParentTaskID:    m.ParentTaskID,
		Status:          models.InstanceStatus(m.Status),
		TerminalStatus:  m.TerminalStatus,
		TerminalMessage: m.TerminalMessage,
		Priority:        m.Priority,
		Context:         map[string]interface{}(m.Context),
		TaskStates:      make(map[string]*models.TaskState, len(m.TaskStates)),
		CompletedTasks:  []string(m.CompletedTasks),
		FailedTasks:     []string(m.FailedTasks),
		CurrentTask:     m.CurrentTask,
		CreatedAt:       m.CreatedAt,
		StartedAt:       m.StartedAt,
		UpdatedAt:       m.UpdatedAt,
		CompletedAt:     m.CompletedAt,
		StoreVersion:    m.Version,
	}

	if m.ParentInstanceID != nil {
		inst.ParentInstanceID = m.ParentInstanceID.String()
	}

	// Task states round-trip through JSON because JSONB scans into
	// map[string]interface{} values.
	if len(m.TaskStates) > 0 {
		raw, err := json.Marshal(m.TaskStates)
		if err != nil {
			return nil, fmt.Errorf("failed to re-marshal task states: %w", err)
		}
		if err := json.Unmarshal(raw, &inst.TaskStates); err != nil {
			return nil, fmt.Errorf("failed to decode task states: %w", err)
		}
	}

	if len(m.Assignment) > 0 {
		raw, err := json.Marshal(m.Assignment)
		if err != nil {
			return nil, fmt.Errorf("failed to re-marshal assignment: %w", err)
		}
		var assignment models.Assignment
		if err := json.Unmarshal(raw, &assignment); err != nil {
			return nil, fmt.Errorf("failed to decode assignment: %w", err)
		}
		inst.Assignment = &assignment
	}

	return inst, nil
}

// FromEvent converts a domain event to its database model.
func FromEvent(e *models.Event) (*EventModel, error) {
	id, err := uuid.Parse(e.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid event ID: %w", err)
	}

	m := &EventModel{
		ID:                 id,
		EventType:          string(e.Type),
		WorkflowID:         e.WorkflowID,
		UserID:             e.UserID,
		EventData:          JSONB(e.Data),
		Timestamp:          e.Timestamp,
		ProcessedAt:        e.ProcessedAt,
		TriggeredInstances: StringArray(e.TriggeredInstances),
	}

	if e.InstanceID != "" {
		instID, err := uuid.Parse(e.InstanceID)
		if err != nil {
			return nil, fmt.Errorf("invalid event instance ID: %w", err)
		}
		m.InstanceID = &instID
	}

	return m, nil
}

// ToEvent converts a database model back to a domain event.
func (m *EventModel) ToEvent() *models.Event {
	e := &models.Event{
		ID:                 m.ID.String(),
		Type:               models.EventType(m.EventType),
		WorkflowID:         m.WorkflowID,
		UserID:             m.UserID,
		Data:               map[string]interface{}(m.EventData),
		Timestamp:          m.Timestamp,
		ProcessedAt:        m.ProcessedAt,
		TriggeredInstances: []string(m.TriggeredInstances),
	}
	if m.InstanceID != nil {
		e.InstanceID = m.InstanceID.String()
	}
	return e
}

// FromHook converts a domain hook to its database model.
func FromHook(h *models.Hook) (*HookModel, error) {
	id, err := uuid.Parse(h.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid hook ID: %w", err)
	}

	contextMapping := make(JSONB, len(h.ContextMapping))
	for k, v := range h.ContextMapping {
		contextMapping[k] = v
	}

	return &HookModel{
		ID:                 id,
		ListenerWorkflowID: h.ListenerWorkflowID,
		EventPattern:       h.EventPattern,
		TriggerType:        string(h.TriggerType),
		Priority:           h.Priority,
		Enabled:            h.Enabled,
		Conditions:         JSONB(h.Conditions),
		RequiredEntities:   StringArray(h.RequiredEntities),
		UserFilters:        JSONB(h.UserFilters),
		PassEventContext:   h.PassEventContext,
		ContextMapping:     contextMapping,
		CreatedAt:          h.CreatedAt,
		UpdatedAt:          h.UpdatedAt,
	}, nil
}

// ToHook converts a database model back to a domain hook.
func (m *HookModel) ToHook() *models.Hook {
	contextMapping := make(map[string]string, len(m.ContextMapping))
	for k, v := range m.ContextMapping {
		if s, ok := v.(string); ok {
			contextMapping[k] = s
		}
	}

	return &models.Hook{
		ID:                 m.ID.String(),
		ListenerWorkflowID: m.ListenerWorkflowID,
		EventPattern:       m.EventPattern,
		TriggerType:        models.TriggerType(m.TriggerType),
		Priority:           m.Priority,
		Enabled:            m.Enabled,
		Conditions:         map[string]interface{}(m.Conditions),
		RequiredEntities:   []string(m.RequiredEntities),
		UserFilters:        map[string]interface{}(m.UserFilters),
		PassEventContext:   m.PassEventContext,
		ContextMapping:     contextMapping,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}
