package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/civicflow/civicflow/pkg/models"
)

// MemoryStore is an in-memory Store implementation used in tests and for
// single-process development. It enforces the same optimistic concurrency
// contract as the Postgres store.
type MemoryStore struct {
	mu        sync.RWMutex
	templates map[string]*models.Template
	instances map[string]*models.Instance
	events    map[string]*models.Event
	eventLog  []string // append order
	hooks     map[string]*models.Hook
	logs      map[string][]*InstanceLog
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		templates: make(map[string]*models.Template),
		instances: make(map[string]*models.Instance),
		events:    make(map[string]*models.Event),
		hooks:     make(map[string]*models.Hook),
		logs:      make(map[string][]*InstanceLog),
	}
}

var _ Store = (*MemoryStore)(nil)

// copyInstance deep-copies through JSON so callers never share mutable
// state with the store.
func copyInstance(inst *models.Instance) *models.Instance {
	raw, err := json.Marshal(inst)
	if err != nil {
		panic(fmt.Sprintf("instance not JSON-serializable: %v", err))
	}
	var out models.Instance
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(fmt.Sprintf("instance copy failed: %v", err))
	}
	out.StoreVersion = inst.StoreVersion
	return &out
}

// UpsertTemplate stores a template.
func (s *MemoryStore) UpsertTemplate(_ context.Context, tpl *models.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[tpl.ID] = tpl
	return nil
}

// LoadTemplate loads a template by ID.
func (s *MemoryStore) LoadTemplate(_ context.Context, id string) (*models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tpl, ok := s.templates[id]
	if !ok {
		return nil, fmt.Errorf("%w: template %s", ErrNotFound, id)
	}
	return tpl, nil
}

// ListTemplates returns all templates in ID order.
func (s *MemoryStore) ListTemplates(_ context.Context) ([]*models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Template, 0, len(s.templates))
	for _, tpl := range s.templates {
		out = append(out, tpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateInstance stores a new instance at version 1.
func (s *MemoryStore) CreateInstance(_ context.Context, inst *models.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.instances[inst.ID]; exists {
		return fmt.Errorf("%w: instance %s", ErrAlreadyExists, inst.ID)
	}
	inst.StoreVersion = 1
	s.instances[inst.ID] = copyInstance(inst)
	return nil
}

// LoadInstance returns a copy of the stored instance.
func (s *MemoryStore) LoadInstance(_ context.Context, id string) (*models.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: instance %s", ErrNotFound, id)
	}
	return copyInstance(inst), nil
}

// SaveInstance writes with a version precondition; a stale version returns
// ErrConflict without mutating the stored copy.
func (s *MemoryStore) SaveInstance(_ context.Context, inst *models.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.instances[inst.ID]
	if !ok {
		return fmt.Errorf("%w: instance %s", ErrNotFound, inst.ID)
	}
	if current.StoreVersion != inst.StoreVersion {
		return fmt.Errorf("%w: instance %s", ErrConflict, inst.ID)
	}

	inst.UpdatedAt = time.Now().UTC()
	inst.StoreVersion++
	s.instances[inst.ID] = copyInstance(inst)
	return nil
}

// ListInstances returns instances matching the filters, newest update
// first.
func (s *MemoryStore) ListInstances(_ context.Context, filters InstanceFilters) ([]*models.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Instance
	for _, inst := range s.instances {
		if filters.TemplateID != "" && inst.TemplateID != filters.TemplateID {
			continue
		}
		if filters.UserID != "" && inst.UserID != filters.UserID {
			continue
		}
		if filters.Status != nil && inst.Status != *filters.Status {
			continue
		}
		if filters.Type != nil && inst.Type != *filters.Type {
			continue
		}
		if filters.ParentInstanceID != "" && inst.ParentInstanceID != filters.ParentInstanceID {
			continue
		}
		if filters.AssignedTeamID != "" &&
			(inst.Assignment == nil || inst.Assignment.TeamID != filters.AssignedTeamID) {
			continue
		}
		if filters.AssignedUserID != "" &&
			(inst.Assignment == nil || inst.Assignment.UserID != filters.AssignedUserID) {
			continue
		}
		if filters.AssignmentStatus != nil &&
			(inst.Assignment == nil || inst.Assignment.Status != *filters.AssignmentStatus) {
			continue
		}
		out = append(out, copyInstance(inst))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })

	if filters.Offset > 0 {
		if filters.Offset >= len(out) {
			return nil, nil
		}
		out = out[filters.Offset:]
	}
	if filters.Limit > 0 && len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out, nil
}

// AppendEvent stores an event in append order.
func (s *MemoryStore) AppendEvent(_ context.Context, event *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[event.ID]; exists {
		return fmt.Errorf("%w: event %s", ErrAlreadyExists, event.ID)
	}
	cp := *event
	s.events[event.ID] = &cp
	s.eventLog = append(s.eventLog, event.ID)
	return nil
}

// QueryEvents returns matching events, newest first.
func (s *MemoryStore) QueryEvents(_ context.Context, filters EventFilters) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Event
	for i := len(s.eventLog) - 1; i >= 0; i-- {
		e := s.events[s.eventLog[i]]
		if filters.WorkflowID != "" && e.WorkflowID != filters.WorkflowID {
			continue
		}
		if filters.InstanceID != "" && e.InstanceID != filters.InstanceID {
			continue
		}
		if filters.Type != nil && e.Type != *filters.Type {
			continue
		}
		if filters.After != nil && !e.Timestamp.After(*filters.After) {
			continue
		}
		if filters.Before != nil && !e.Timestamp.Before(*filters.Before) {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if filters.Limit > 0 && len(out) >= filters.Limit {
			break
		}
	}
	return out, nil
}

// MarkEventProcessed stamps the stored event.
func (s *MemoryStore) MarkEventProcessed(_ context.Context, eventID string, triggered []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[eventID]
	if !ok {
		return fmt.Errorf("%w: event %s", ErrNotFound, eventID)
	}
	now := time.Now().UTC()
	e.ProcessedAt = &now
	e.TriggeredInstances = triggered
	return nil
}

// UpsertHook stores a hook registration.
func (s *MemoryStore) UpsertHook(_ context.Context, hook *models.Hook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *hook
	s.hooks[hook.ID] = &cp
	return nil
}

// DeleteHook removes a hook registration.
func (s *MemoryStore) DeleteHook(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hooks[id]; !ok {
		return fmt.Errorf("%w: hook %s", ErrNotFound, id)
	}
	delete(s.hooks, id)
	return nil
}

// ListHooks returns hooks matching the filters, highest priority first
// with hook ID as tiebreak.
func (s *MemoryStore) ListHooks(_ context.Context, filters HookFilters) ([]*models.Hook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Hook
	for _, h := range s.hooks {
		if filters.ListenerWorkflowID != "" && h.ListenerWorkflowID != filters.ListenerWorkflowID {
			continue
		}
		if filters.Enabled != nil && h.Enabled != *filters.Enabled {
			continue
		}
		cp := *h
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// AppendLog stores one log record.
func (s *MemoryStore) AppendLog(_ context.Context, entry *InstanceLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}
	s.logs[entry.InstanceID] = append(s.logs[entry.InstanceID], &cp)
	return nil
}

// ListLogs returns the newest log records of an instance.
func (s *MemoryStore) ListLogs(_ context.Context, instanceID string, limit int) ([]*InstanceLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.logs[instanceID]
	out := make([]*InstanceLog, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		cp := *entries[i]
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
