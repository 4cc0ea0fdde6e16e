package dag

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/civicflow/civicflow/internal/storage"
	"github.com/civicflow/civicflow/pkg/models"
)

// ErrTemplateExists is returned when registering a template whose ID is
// already taken.
var ErrTemplateExists = errors.New("template already registered")

// ErrTemplateNotFound is returned for lookups of unknown template IDs.
var ErrTemplateNotFound = errors.New("template not found")

// compiled pairs a frozen template with its precomputed graph.
type compiled struct {
	template *models.Template
	graph    *Graph
}

// Registry holds validated, frozen workflow templates and produces
// instances of them. Templates are immutable once registered.
type Registry struct {
	validator *Validator
	templates map[string]*compiled
	store     storage.TemplateStore
	mu        sync.RWMutex
}

// NewRegistry creates a registry backed by the given template store. The
// store may be nil for purely in-memory use.
func NewRegistry(store storage.TemplateStore) *Registry {
	return &Registry{
		validator: NewValidator(),
		templates: make(map[string]*compiled),
		store:     store,
	}
}

// Register validates a template, freezes it, and makes it available for
// instance creation. The template must not already exist.
func (r *Registry) Register(ctx context.Context, tpl *models.Template) error {
	if err := r.validator.Validate(tpl); err != nil {
		return err
	}

	graph, err := NewGraph(tpl)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.templates[tpl.ID]; exists {
		return fmt.Errorf("%w: %s", ErrTemplateExists, tpl.ID)
	}

	now := time.Now().UTC()
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = now
	}
	tpl.UpdatedAt = now
	if tpl.Version == 0 {
		tpl.Version = 1
	}

	if r.store != nil {
		if err := r.store.UpsertTemplate(ctx, tpl); err != nil {
			return fmt.Errorf("failed to persist template %s: %w", tpl.ID, err)
		}
	}

	r.templates[tpl.ID] = &compiled{template: tpl, graph: graph}
	log.Printf("Registered workflow template %s v%d (%d tasks)", tpl.ID, tpl.Version, len(tpl.Tasks))
	return nil
}

// Get returns a registered template, or ErrTemplateNotFound.
func (r *Registry) Get(id string) (*models.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.templates[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	return c.template, nil
}

// Graph returns the precomputed graph of a registered template.
func (r *Registry) Graph(id string) (*Graph, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.templates[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	return c.graph, nil
}

// List returns all registered templates.
func (r *Registry) List() []*models.Template {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*models.Template, 0, len(r.templates))
	for _, c := range r.templates {
		result = append(result, c.template)
	}
	return result
}

// NewInstance allocates a fresh instance of a registered template. Every
// task is seeded pending; admission to the executor is a separate call.
func (r *Registry) NewInstance(id, userID string, initial map[string]interface{}) (*models.Instance, error) {
	r.mu.RLock()
	c, ok := r.templates[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}

	tpl := c.template
	now := time.Now().UTC()

	inst := &models.Instance{
		ID:         uuid.NewString(),
		TemplateID: tpl.ID,
		Version:    tpl.Version,
		Type:       tpl.Type,
		UserID:     userID,
		Status:     models.InstancePending,
		Context:    make(map[string]interface{}, len(initial)),
		TaskStates: make(map[string]*models.TaskState, len(tpl.Tasks)),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	for k, v := range initial {
		inst.Context[k] = v
	}
	for taskID := range tpl.Tasks {
		inst.TaskStates[taskID] = &models.TaskState{Status: models.TaskPending}
	}

	return inst, nil
}

// LoadFromStore re-registers all persisted templates, used at process boot.
func (r *Registry) LoadFromStore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	templates, err := r.store.ListTemplates(ctx)
	if err != nil {
		return fmt.Errorf("failed to list templates: %w", err)
	}

	for _, tpl := range templates {
		graph, err := NewGraph(tpl)
		if err != nil {
			log.Printf("Skipping stored template %s: %v", tpl.ID, err)
			continue
		}
		r.mu.Lock()
		r.templates[tpl.ID] = &compiled{template: tpl, graph: graph}
		r.mu.Unlock()
	}

	log.Printf("Loaded %d workflow templates from store", len(templates))
	return nil
}
