package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/civicflow/civicflow/internal/dlq"
	"github.com/civicflow/civicflow/internal/service"
	"github.com/civicflow/civicflow/internal/storage"
	"github.com/civicflow/civicflow/pkg/api/dto"
	"github.com/civicflow/civicflow/pkg/api/middleware"
	"github.com/civicflow/civicflow/pkg/models"
)

// EventHandler handles event and dead-letter HTTP requests.
type EventHandler struct {
	svc *service.Workflows
}

// NewEventHandler creates a new event handler.
func NewEventHandler(svc *service.Workflows) *EventHandler {
	return &EventHandler{svc: svc}
}

// Publish handles POST /api/v1/events.
func (h *EventHandler) Publish(c *gin.Context) {
	var req dto.PublishEventRequest
	if !middleware.BindAndValidate(c, &req) {
		return
	}

	event := req.ToEvent()
	if event.UserID == "" {
		event.UserID = requestUserID(c)
	}
	if err := h.svc.PublishEvent(c.Request.Context(), event); err != nil {
		middleware.AbortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"event_id": event.ID})
}

// Query handles GET /api/v1/events.
func (h *EventHandler) Query(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	filters := storage.EventFilters{
		WorkflowID: c.Query("workflow_id"),
		InstanceID: c.Query("instance_id"),
		Limit:      limit,
	}
	if t := c.Query("event_type"); t != "" {
		et := models.EventType(t)
		filters.Type = &et
	}
	if after, ok := parseTimeQuery(c, "after"); ok {
		filters.After = after
	}
	if before, ok := parseTimeQuery(c, "before"); ok {
		filters.Before = before
	}

	events, err := h.svc.QueryEvents(c.Request.Context(), filters)
	if err != nil {
		middleware.AbortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.EventListResponse{Events: events, Count: len(events)})
}

// ListDeadLetters handles GET /api/v1/dead-letters.
func (h *EventHandler) ListDeadLetters(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	filters := &dlq.Filters{
		TemplateID: c.Query("workflow_id"),
		InstanceID: c.Query("instance_id"),
		TaskID:     c.Query("task_id"),
		Limit:      limit,
	}
	if r := c.Query("replayed"); r != "" {
		replayed := r == "true"
		filters.Replayed = &replayed
	}

	entries, err := h.svc.ListDeadLetters(c.Request.Context(), filters)
	if err != nil {
		middleware.AbortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.DeadLetterListResponse{Entries: entries, Count: len(entries)})
}

// ReplayDeadLetter handles POST /api/v1/dead-letters/:id/replay.
func (h *EventHandler) ReplayDeadLetter(c *gin.Context) {
	instanceID, err := h.svc.ReplayDeadLetter(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.AbortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.ReplayResponse{InstanceID: instanceID})
}

// parseTimeQuery reads an RFC 3339 query parameter, ignoring malformed values.
func parseTimeQuery(c *gin.Context, key string) (*time.Time, bool) {
	raw := c.Query(key)
	if raw == "" {
		return nil, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, false
	}
	return &t, true
}
