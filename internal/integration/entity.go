package integration

import (
	"context"
	"fmt"
	"time"

	"github.com/civicflow/civicflow/internal/circuitbreaker"
	"github.com/civicflow/civicflow/internal/operator"
)

// EntityClient talks to the entity registry service. It serves both
// entity creation and validation for operators, and ownership checks for
// entity-based hook triggers.
type EntityClient struct {
	http *HTTPClient
}

// NewEntityClient creates a client for the registry at baseURL.
func NewEntityClient(baseURL string, timeout time.Duration, breakerCfg *circuitbreaker.Config) *EntityClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &EntityClient{
		http: NewHTTPClient(&ClientConfig{
			Services: map[string]string{"entity-registry": baseURL},
			Timeout:  timeout,
			Breaker:  breakerCfg,
		}),
	}
}

// CreateEntity registers a new entity and returns the registry's view of
// it, including validation status and auto-filled fields.
func (c *EntityClient) CreateEntity(ctx context.Context, entityType string, data map[string]interface{}) (*operator.Entity, error) {
	resp, err := c.http.Call(ctx, "entity-registry", "entities", map[string]interface{}{
		"type": entityType,
		"data": data,
	})
	if err != nil {
		return nil, fmt.Errorf("create entity %s: %w", entityType, err)
	}
	return entityFromResponse(resp), nil
}

// ValidateEntities re-validates the given entities in one batch and
// updates their validation status in place.
func (c *EntityClient) ValidateEntities(ctx context.Context, entities []*operator.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		ids = append(ids, e.ID)
	}
	resp, err := c.http.Call(ctx, "entity-registry", "entities/validate", map[string]interface{}{
		"entity_ids": ids,
	})
	if err != nil {
		return fmt.Errorf("validate entities: %w", err)
	}

	results, _ := resp["results"].(map[string]interface{})
	for _, e := range entities {
		raw, ok := results[e.ID].(map[string]interface{})
		if !ok {
			continue
		}
		if status, ok := raw["validation_status"].(string); ok {
			e.ValidationStatus = status
		}
		e.ValidationErrors = stringSlice(raw["validation_errors"])
	}
	return nil
}

// OwnsEntity reports whether userID owns at least one entity of
// entityType.
func (c *EntityClient) OwnsEntity(ctx context.Context, userID, entityType string) (bool, error) {
	resp, err := c.http.Call(ctx, "entity-registry", "entities/ownership", map[string]interface{}{
		"user_id": userID,
		"type":    entityType,
	})
	if err != nil {
		return false, fmt.Errorf("ownership check: %w", err)
	}
	owns, _ := resp["owns"].(bool)
	return owns, nil
}

func entityFromResponse(resp map[string]interface{}) *operator.Entity {
	e := &operator.Entity{}
	e.ID, _ = resp["id"].(string)
	e.Type, _ = resp["type"].(string)
	e.ValidationStatus, _ = resp["validation_status"].(string)
	e.ValidationErrors = stringSlice(resp["validation_errors"])
	if fields, ok := resp["auto_filled_fields"].(map[string]interface{}); ok {
		e.AutoFilledFields = fields
	}
	if data, ok := resp["data"].(map[string]interface{}); ok {
		e.Data = data
	}
	return e
}

func stringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
