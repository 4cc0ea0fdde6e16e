package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/civicflow/civicflow/internal/service"
	"github.com/civicflow/civicflow/internal/storage"
	"github.com/civicflow/civicflow/pkg/api/dto"
	"github.com/civicflow/civicflow/pkg/api/middleware"
)

// HookHandler handles event hook HTTP requests.
type HookHandler struct {
	svc *service.Workflows
}

// NewHookHandler creates a new hook handler.
func NewHookHandler(svc *service.Workflows) *HookHandler {
	return &HookHandler{svc: svc}
}

// Register handles POST /api/v1/hooks.
func (h *HookHandler) Register(c *gin.Context) {
	var req dto.RegisterHookRequest
	if !middleware.BindAndValidate(c, &req) {
		return
	}

	hk := req.ToHook()
	if err := h.svc.RegisterHook(c.Request.Context(), hk); err != nil {
		middleware.AbortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, hk)
}

// List handles GET /api/v1/hooks.
func (h *HookHandler) List(c *gin.Context) {
	filters := storage.HookFilters{
		ListenerWorkflowID: c.Query("listener_workflow_id"),
	}
	if e := c.Query("enabled"); e != "" {
		enabled := e == "true"
		filters.Enabled = &enabled
	}

	hooks, err := h.svc.ListHooks(c.Request.Context(), filters)
	if err != nil {
		middleware.AbortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.HookListResponse{Hooks: hooks, Count: len(hooks)})
}

// Unregister handles DELETE /api/v1/hooks/:id.
func (h *HookHandler) Unregister(c *gin.Context) {
	if err := h.svc.UnregisterHook(c.Request.Context(), c.Param("id")); err != nil {
		middleware.AbortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse{Success: true, Message: "Hook removed"})
}
