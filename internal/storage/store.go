package storage

import (
	"context"
	"errors"
	"time"

	"github.com/civicflow/civicflow/pkg/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists is returned when creating a record that exists.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrConflict is returned when an optimistic save loses to a
	// concurrent writer. The caller's in-memory changes are stale.
	ErrConflict = errors.New("optimistic concurrency conflict")
)

// TemplateStore persists workflow templates.
type TemplateStore interface {
	UpsertTemplate(ctx context.Context, tpl *models.Template) error
	LoadTemplate(ctx context.Context, id string) (*models.Template, error)
	ListTemplates(ctx context.Context) ([]*models.Template, error)
}

// InstanceFilters narrows instance listings.
type InstanceFilters struct {
	TemplateID       string
	UserID           string
	Status           *models.InstanceStatus
	Type             *models.WorkflowType
	AssignedTeamID   string
	AssignedUserID   string
	AssignmentStatus *models.AssignmentStatus
	ParentInstanceID string
	Limit            int
	Offset           int
}

// InstanceStore persists workflow instances. Save enforces optimistic
// concurrency: the write succeeds only if the stored version still equals
// the version the instance was loaded with.
type InstanceStore interface {
	CreateInstance(ctx context.Context, inst *models.Instance) error
	LoadInstance(ctx context.Context, id string) (*models.Instance, error)
	SaveInstance(ctx context.Context, inst *models.Instance) error
	ListInstances(ctx context.Context, filters InstanceFilters) ([]*models.Instance, error)
}

// EventFilters narrows event queries.
type EventFilters struct {
	WorkflowID string
	InstanceID string
	Type       *models.EventType
	After      *time.Time
	Before     *time.Time
	Limit      int
}

// EventStore persists lifecycle events append-only.
type EventStore interface {
	AppendEvent(ctx context.Context, event *models.Event) error
	QueryEvents(ctx context.Context, filters EventFilters) ([]*models.Event, error)
	// MarkEventProcessed records hook processing results on the event.
	MarkEventProcessed(ctx context.Context, eventID string, triggered []string) error
}

// HookFilters narrows hook listings.
type HookFilters struct {
	ListenerWorkflowID string
	Enabled            *bool
}

// HookStore persists hook registrations.
type HookStore interface {
	UpsertHook(ctx context.Context, hook *models.Hook) error
	DeleteHook(ctx context.Context, id string) error
	ListHooks(ctx context.Context, filters HookFilters) ([]*models.Hook, error)
}

// InstanceLog is one append-only log record attached to an instance.
type InstanceLog struct {
	InstanceID string                 `json:"instance_id"`
	Timestamp  time.Time              `json:"timestamp"`
	Level      string                 `json:"level"`
	LogType    string                 `json:"log_type"`
	TaskID     string                 `json:"task_id,omitempty"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// LogStore persists instance logs.
type LogStore interface {
	AppendLog(ctx context.Context, entry *InstanceLog) error
	ListLogs(ctx context.Context, instanceID string, limit int) ([]*InstanceLog, error)
}

// Store is the full persistence surface the engine consumes.
type Store interface {
	TemplateStore
	InstanceStore
	EventStore
	HookStore
	LogStore
}
