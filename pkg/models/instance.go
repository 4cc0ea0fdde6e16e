package models

import "time"

// InstanceStatus is the lifecycle state of a workflow instance.
type InstanceStatus string

const (
	InstancePending              InstanceStatus = "PENDING"
	InstanceRunning              InstanceStatus = "RUNNING"
	InstanceWaitingForInput      InstanceStatus = "WAITING_FOR_INPUT"
	InstancePaused               InstanceStatus = "PAUSED"
	InstanceWaitingForAssignment InstanceStatus = "WAITING_FOR_ASSIGNMENT"
	InstanceCompleted            InstanceStatus = "COMPLETED"
	InstanceFailed               InstanceStatus = "FAILED"
	InstanceCancelled            InstanceStatus = "CANCELLED"
)

// IsTerminal returns true if no further transitions are possible.
func (s InstanceStatus) IsTerminal() bool {
	return s == InstanceCompleted || s == InstanceFailed || s == InstanceCancelled
}

// TaskStatus is the per-task execution state within an instance.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskExecuting TaskStatus = "executing"
	TaskCompleted TaskStatus = "completed"
	TaskWaiting   TaskStatus = "waiting"
	TaskFailed    TaskStatus = "failed"
)

// IsTerminal returns true for absorbing task states.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// TaskState is the recorded execution state of one task in one instance.
type TaskState struct {
	Status      TaskStatus             `json:"status"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	OutputData  map[string]interface{} `json:"output_data,omitempty"`
	Error       string                 `json:"error,omitempty"`
	WaitingFor  string                 `json:"waiting_for,omitempty"`
	Attempts    int                    `json:"attempts,omitempty"`
}

// Instance is one execution of a template on behalf of a user.
type Instance struct {
	ID         string       `json:"id"`
	TemplateID string       `json:"template_id"`
	Version    int          `json:"template_version"`
	Type       WorkflowType `json:"workflow_type"`
	UserID     string       `json:"user_id"`

	ParentInstanceID string `json:"parent_instance_id,omitempty"`
	ParentTaskID     string `json:"parent_task_id,omitempty"`

	Status          InstanceStatus `json:"status"`
	TerminalStatus  string         `json:"terminal_status,omitempty"`
	TerminalMessage string         `json:"terminal_message,omitempty"`
	Priority        int            `json:"priority"`

	// Context is the only cross-task data carrier. Task outputs merge
	// into it and are persisted before any downstream task runs.
	Context    map[string]interface{} `json:"context"`
	TaskStates map[string]*TaskState  `json:"task_states"`

	CompletedTasks []string `json:"completed_tasks"`
	FailedTasks    []string `json:"failed_tasks"`
	CurrentTask    string   `json:"current_task,omitempty"`

	Assignment *Assignment `json:"assignment,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// StoreVersion increments on every save; the store rejects writes
	// whose precondition version is stale.
	StoreVersion int `json:"-"`
}

// TaskState returns the state record for a task, or nil.
func (i *Instance) TaskState(taskID string) *TaskState {
	return i.TaskStates[taskID]
}

// MarkTaskCompleted moves a task into completed and keeps the derived
// completed set consistent with task_states.
func (i *Instance) MarkTaskCompleted(taskID string, output map[string]interface{}) {
	now := time.Now().UTC()
	st := i.TaskStates[taskID]
	if st == nil {
		st = &TaskState{}
		i.TaskStates[taskID] = st
	}
	st.Status = TaskCompleted
	st.CompletedAt = &now
	st.OutputData = output
	st.WaitingFor = ""
	st.Error = ""
	i.CompletedTasks = appendUnique(i.CompletedTasks, taskID)
}

// MarkTaskFailed moves a task into failed and keeps the derived failed set
// consistent with task_states.
func (i *Instance) MarkTaskFailed(taskID, errMsg string) {
	now := time.Now().UTC()
	st := i.TaskStates[taskID]
	if st == nil {
		st = &TaskState{}
		i.TaskStates[taskID] = st
	}
	st.Status = TaskFailed
	st.CompletedAt = &now
	st.Error = errMsg
	st.WaitingFor = ""
	i.FailedTasks = appendUnique(i.FailedTasks, taskID)
}

// MergeContext copies the given data into the instance context.
func (i *Instance) MergeContext(data map[string]interface{}) {
	if len(data) == 0 {
		return
	}
	if i.Context == nil {
		i.Context = make(map[string]interface{}, len(data))
	}
	for k, v := range data {
		i.Context[k] = v
	}
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
