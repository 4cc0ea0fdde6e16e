package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/civicflow/civicflow/internal/service"
	"github.com/civicflow/civicflow/internal/storage"
	"github.com/civicflow/civicflow/pkg/api/dto"
	"github.com/civicflow/civicflow/pkg/api/middleware"
	"github.com/civicflow/civicflow/pkg/models"
)

// InstanceHandler handles workflow instance HTTP requests.
type InstanceHandler struct {
	svc *service.Workflows
}

// NewInstanceHandler creates a new instance handler.
func NewInstanceHandler(svc *service.Workflows) *InstanceHandler {
	return &InstanceHandler{svc: svc}
}

// requestUserID resolves the acting user: the authenticated principal, or
// an explicit header for unauthenticated deployments.
func requestUserID(c *gin.Context) string {
	if userID, ok := c.Get("user_id"); ok {
		if s, ok := userID.(string); ok && s != "" {
			return s
		}
	}
	return c.GetHeader("X-User-ID")
}

// Create handles POST /api/v1/instances.
func (h *InstanceHandler) Create(c *gin.Context) {
	var req dto.CreateInstanceRequest
	if !middleware.BindAndValidate(c, &req) {
		return
	}

	userID := requestUserID(c)
	if userID == "" {
		middleware.AbortWithError(c, http.StatusBadRequest, "NO_USER", "acting user could not be determined")
		return
	}

	ctx := c.Request.Context()
	inst, err := h.svc.CreateInstance(ctx, req.TemplateID, userID, req.Context)
	if err != nil {
		middleware.AbortWithServiceError(c, err)
		return
	}

	if req.Start && inst.Status == models.InstancePending {
		if err := h.svc.Start(ctx, inst.ID); err != nil {
			middleware.AbortWithServiceError(c, err)
			return
		}
	}

	c.JSON(http.StatusCreated, dto.ToInstanceResponse(inst))
}

// Start handles POST /api/v1/instances/:id/start.
func (h *InstanceHandler) Start(c *gin.Context) {
	if err := h.svc.Start(c.Request.Context(), c.Param("id")); err != nil {
		middleware.AbortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse{Success: true, Message: "Instance admitted"})
}

// Get handles GET /api/v1/instances/:id.
func (h *InstanceHandler) Get(c *gin.Context) {
	inst, err := h.svc.GetInstance(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.AbortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ToInstanceResponse(inst))
}

// List handles GET /api/v1/instances.
func (h *InstanceHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	filters := storage.InstanceFilters{
		TemplateID:       c.Query("template_id"),
		UserID:           c.Query("user_id"),
		AssignedTeamID:   c.Query("assigned_team_id"),
		AssignedUserID:   c.Query("assigned_user_id"),
		ParentInstanceID: c.Query("parent_instance_id"),
		Limit:            pageSize,
		Offset:           (page - 1) * pageSize,
	}
	if s := c.Query("status"); s != "" {
		status := models.InstanceStatus(s)
		filters.Status = &status
	}
	if t := c.Query("workflow_type"); t != "" {
		wt := models.WorkflowType(t)
		filters.Type = &wt
	}

	instances, err := h.svc.ListInstances(c.Request.Context(), filters)
	if err != nil {
		middleware.AbortWithServiceError(c, err)
		return
	}

	responses := make([]dto.InstanceResponse, len(instances))
	for i, inst := range instances {
		responses[i] = dto.ToInstanceResponse(inst)
	}

	c.JSON(http.StatusOK, dto.InstanceListResponse{
		Instances:  responses,
		Pagination: dto.NewPaginationMeta(page, pageSize, int64(len(responses))),
	})
}

// SubmitInput handles POST /api/v1/instances/:id/tasks/:task_id/input.
func (h *InstanceHandler) SubmitInput(c *gin.Context) {
	var req dto.SubmitInputRequest
	if !middleware.BindAndValidate(c, &req) {
		return
	}

	err := h.svc.SubmitInput(c.Request.Context(), c.Param("id"), c.Param("task_id"), req.Input)
	if err != nil {
		middleware.AbortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse{Success: true, Message: "Input accepted"})
}

// Cancel handles POST /api/v1/instances/:id/cancel.
func (h *InstanceHandler) Cancel(c *gin.Context) {
	if err := h.svc.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		middleware.AbortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse{Success: true, Message: "Instance cancelled"})
}

// Pause handles POST /api/v1/instances/:id/pause.
func (h *InstanceHandler) Pause(c *gin.Context) {
	if err := h.svc.Pause(c.Request.Context(), c.Param("id")); err != nil {
		middleware.AbortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse{Success: true, Message: "Instance paused"})
}

// Unpause handles POST /api/v1/instances/:id/unpause.
func (h *InstanceHandler) Unpause(c *gin.Context) {
	if err := h.svc.Unpause(c.Request.Context(), c.Param("id")); err != nil {
		middleware.AbortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse{Success: true, Message: "Instance resumed"})
}

// Logs handles GET /api/v1/instances/:id/logs.
func (h *InstanceHandler) Logs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	logs, err := h.svc.ListLogs(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		middleware.AbortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "count": len(logs)})
}
