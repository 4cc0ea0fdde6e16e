// Package hook turns persisted workflow events into new workflow
// instances. Hooks declare a pattern over event keys plus trigger
// conditions; matching events start the hook's listener workflow.
package hook

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/civicflow/civicflow/internal/dag"
	"github.com/civicflow/civicflow/internal/operator"
	"github.com/civicflow/civicflow/internal/storage"
	"github.com/civicflow/civicflow/pkg/models"
)

// ErrHookInvalid is returned when a hook registration fails validation.
var ErrHookInvalid = errors.New("invalid hook")

// Starter creates and admits a listener instance for a fired hook. The
// service layer implements it so admin listeners also pass through
// assignment.
type Starter interface {
	StartInstance(ctx context.Context, templateID, userID string, initial map[string]interface{}) (string, error)
}

// EntityOwnership answers whether a user owns an entity of a type, used
// by ENTITY_BASED triggers. Nil means entity triggers never fire.
type EntityOwnership interface {
	OwnsEntity(ctx context.Context, userID, entityType string) (bool, error)
}

// Engine matches events against registered hooks and fires them.
type Engine struct {
	registry *dag.Registry
	store    storage.HookStore
	events   storage.EventStore
	starter  Starter
	entities EntityOwnership

	mu      sync.Mutex
	regexes map[string]*regexp.Regexp
}

// NewEngine wires a hook engine. Register it on the event bus as a sink.
func NewEngine(registry *dag.Registry, store storage.HookStore, events storage.EventStore, starter Starter, entities EntityOwnership) *Engine {
	return &Engine{
		registry: registry,
		store:    store,
		events:   events,
		starter:  starter,
		entities: entities,
		regexes:  make(map[string]*regexp.Regexp),
	}
}

// SetStarter installs the workflow starter after construction. The
// service layer both owns the engine and implements Starter, so the
// starter arrives late. Call before any events flow.
func (e *Engine) SetStarter(s Starter) {
	e.starter = s
}

// Register validates and persists a hook. The listener workflow must be
// registered, and a regex pattern must compile.
func (e *Engine) Register(ctx context.Context, hook *models.Hook) error {
	if hook.ListenerWorkflowID == "" {
		return fmt.Errorf("%w: listener_workflow_id is required", ErrHookInvalid)
	}
	if hook.EventPattern == "" {
		return fmt.Errorf("%w: event_pattern is required", ErrHookInvalid)
	}
	if _, err := e.registry.Get(hook.ListenerWorkflowID); err != nil {
		return fmt.Errorf("%w: listener workflow %s: %v", ErrHookInvalid, hook.ListenerWorkflowID, err)
	}

	switch hook.TriggerType {
	case models.TriggerAlways:
	case models.TriggerConditional:
		if len(hook.Conditions) == 0 {
			return fmt.Errorf("%w: conditional trigger needs conditions", ErrHookInvalid)
		}
	case models.TriggerEntityBased:
		if len(hook.RequiredEntities) == 0 {
			return fmt.Errorf("%w: entity trigger needs required_entities", ErrHookInvalid)
		}
	case models.TriggerUserBased:
		if len(hook.UserFilters) == 0 {
			return fmt.Errorf("%w: user trigger needs user_filters", ErrHookInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown trigger type %q", ErrHookInvalid, hook.TriggerType)
	}

	if expr, ok := strings.CutPrefix(hook.EventPattern, "regex:"); ok {
		re, err := regexp.Compile(expr)
		if err != nil {
			return fmt.Errorf("%w: pattern %q: %v", ErrHookInvalid, hook.EventPattern, err)
		}
		e.mu.Lock()
		e.regexes[hook.EventPattern] = re
		e.mu.Unlock()
	}

	if hook.ID == "" {
		hook.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if hook.CreatedAt.IsZero() {
		hook.CreatedAt = now
	}
	hook.UpdatedAt = now

	return e.store.UpsertHook(ctx, hook)
}

// Unregister removes a hook.
func (e *Engine) Unregister(ctx context.Context, id string) error {
	return e.store.DeleteHook(ctx, id)
}

// List returns registered hooks.
func (e *Engine) List(ctx context.Context, filters storage.HookFilters) ([]*models.Hook, error) {
	return e.store.ListHooks(ctx, filters)
}

// HandleEvent is the event bus sink: it fires every matching hook in
// priority order and records the triggered instances on the event. A
// failing hook does not abort the remainder.
func (e *Engine) HandleEvent(ctx context.Context, event *models.Event) error {
	enabled := true
	hooks, err := e.store.ListHooks(ctx, storage.HookFilters{Enabled: &enabled})
	if err != nil {
		return fmt.Errorf("failed to list hooks: %w", err)
	}

	key := event.Key()
	var matching []*models.Hook
	for _, h := range hooks {
		ok, err := e.matchPattern(h.EventPattern, key)
		if err != nil {
			log.Printf("Hook %s has unusable pattern %q: %v", h.ID, h.EventPattern, err)
			continue
		}
		if ok {
			matching = append(matching, h)
		}
	}

	sort.Slice(matching, func(i, j int) bool {
		if matching[i].Priority != matching[j].Priority {
			return matching[i].Priority > matching[j].Priority
		}
		return matching[i].ID < matching[j].ID
	})

	var triggered []string
	for _, h := range matching {
		fire, err := e.shouldFire(ctx, h, event)
		if err != nil {
			log.Printf("Hook %s condition check failed for event %s: %v", h.ID, event.ID, err)
			continue
		}
		if !fire {
			continue
		}

		instanceID, err := e.fire(ctx, h, event)
		if err != nil {
			log.Printf("Hook %s failed to start %s for event %s: %v", h.ID, h.ListenerWorkflowID, event.ID, err)
			continue
		}
		triggered = append(triggered, instanceID)
		log.Printf("Hook %s started instance %s of %s for event %s", h.ID, instanceID, h.ListenerWorkflowID, key)
	}

	if err := e.events.MarkEventProcessed(ctx, event.ID, triggered); err != nil {
		return fmt.Errorf("failed to mark event %s processed: %w", event.ID, err)
	}
	return nil
}

// matchPattern matches an event key against a hook pattern: "regex:"
// switches to regular expressions, anything else is a glob with * and ?.
func (e *Engine) matchPattern(pattern, key string) (bool, error) {
	if expr, ok := strings.CutPrefix(pattern, "regex:"); ok {
		re, err := e.compiled(pattern, expr)
		if err != nil {
			return false, err
		}
		return re.MatchString(key), nil
	}
	re, err := e.compiled(pattern, globToRegex(pattern))
	if err != nil {
		return false, err
	}
	return re.MatchString(key), nil
}

// compiled caches pattern compilation per hook pattern.
func (e *Engine) compiled(cacheKey, expr string) (*regexp.Regexp, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if re, ok := e.regexes[cacheKey]; ok {
		return re, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	e.regexes[cacheKey] = re
	return re, nil
}

func globToRegex(glob string) string {
	var sb strings.Builder
	sb.WriteString("^")
	for _, r := range glob {
		switch r {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	return sb.String()
}

// shouldFire evaluates the hook's trigger conditions against the event.
func (e *Engine) shouldFire(ctx context.Context, h *models.Hook, event *models.Event) (bool, error) {
	switch h.TriggerType {
	case models.TriggerAlways:
		return true, nil

	case models.TriggerConditional:
		for key, expected := range h.Conditions {
			ok, err := matchCondition(key, expected, event.Data)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case models.TriggerEntityBased:
		if e.entities == nil {
			return false, nil
		}
		for _, entityType := range h.RequiredEntities {
			owns, err := e.entities.OwnsEntity(ctx, event.UserID, entityType)
			if err != nil {
				return false, err
			}
			if !owns {
				return false, nil
			}
		}
		return true, nil

	case models.TriggerUserBased:
		attrs, _ := event.Data["user_attributes"].(map[string]interface{})
		for k, want := range h.UserFilters {
			ok, err := operator.EvalPredicate(models.Predicate{Key: k, Op: models.OpEq, Value: want}, attrs)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	default:
		return false, fmt.Errorf("unknown trigger type %q", h.TriggerType)
	}
}

// matchCondition evaluates one conditional entry. Expected is a scalar
// (equality) or a single-operator map {eq|gt|in: value}.
func matchCondition(key string, expected interface{}, data map[string]interface{}) (bool, error) {
	if opMap, ok := expected.(map[string]interface{}); ok {
		for opName, operand := range opMap {
			var op models.PredicateOp
			switch opName {
			case "eq":
				op = models.OpEq
			case "gt":
				op = models.OpGt
			case "in":
				op = models.OpIn
			default:
				return false, fmt.Errorf("unknown condition operator %q", opName)
			}
			return operator.EvalPredicate(models.Predicate{Key: key, Op: op, Value: operand}, data)
		}
		return false, fmt.Errorf("empty condition for key %q", key)
	}
	return operator.EvalPredicate(models.Predicate{Key: key, Op: models.OpEq, Value: expected}, data)
}

// fire builds the listener's initial context and starts it.
func (e *Engine) fire(ctx context.Context, h *models.Hook, event *models.Event) (string, error) {
	initial := make(map[string]interface{})
	if h.PassEventContext {
		for k, v := range event.Data {
			initial[k] = v
		}
	}
	for src, dst := range h.ContextMapping {
		if v, ok := event.Data[src]; ok {
			initial[dst] = v
		}
	}
	initial["triggering_event"] = map[string]interface{}{
		"event_id":    event.ID,
		"event_type":  string(event.Type),
		"workflow_id": event.WorkflowID,
		"instance_id": event.InstanceID,
	}

	return e.starter.StartInstance(ctx, h.ListenerWorkflowID, event.UserID, initial)
}

// Replay re-processes persisted events that were never marked processed,
// used at boot after an unclean shutdown.
func (e *Engine) Replay(ctx context.Context, store storage.EventStore, since time.Time) error {
	events, err := store.QueryEvents(ctx, storage.EventFilters{After: &since})
	if err != nil {
		return err
	}
	for _, ev := range events {
		if ev.ProcessedAt != nil {
			continue
		}
		if err := e.HandleEvent(ctx, ev); err != nil {
			log.Printf("Replay of event %s failed: %v", ev.ID, err)
		}
	}
	return nil
}
