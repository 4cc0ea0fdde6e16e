package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/civicflow/civicflow/internal/assignment"
	"github.com/civicflow/civicflow/pkg/api/dto"
	"github.com/civicflow/civicflow/pkg/api/middleware"
)

// AssignmentHandler handles review lifecycle HTTP requests for assigned
// instances.
type AssignmentHandler struct {
	svc *assignment.Service
}

// NewAssignmentHandler creates a new assignment handler.
func NewAssignmentHandler(svc *assignment.Service) *AssignmentHandler {
	return &AssignmentHandler{svc: svc}
}

// bindReview binds the review action request, defaulting the actor to the
// authenticated user when the body omits one.
func bindReview(c *gin.Context) (*dto.ReviewActionRequest, bool) {
	var req dto.ReviewActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return nil, false
	}
	if req.Actor == "" {
		req.Actor = requestUserID(c)
	}
	if req.Actor == "" {
		middleware.AbortWithError(c, http.StatusBadRequest, "NO_ACTOR", "acting user could not be determined")
		return nil, false
	}
	return &req, true
}

// StartReview handles POST /api/v1/instances/:id/review/start.
func (h *AssignmentHandler) StartReview(c *gin.Context) {
	req, ok := bindReview(c)
	if !ok {
		return
	}
	if err := h.svc.StartReview(c.Request.Context(), c.Param("id"), req.Actor); err != nil {
		middleware.AbortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse{Success: true, Message: "Review started"})
}

// Approve handles POST /api/v1/instances/:id/review/approve.
func (h *AssignmentHandler) Approve(c *gin.Context) {
	req, ok := bindReview(c)
	if !ok {
		return
	}
	if err := h.svc.Approve(c.Request.Context(), c.Param("id"), req.Actor, req.Comments); err != nil {
		middleware.AbortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse{Success: true, Message: "Instance approved"})
}

// Reject handles POST /api/v1/instances/:id/review/reject.
func (h *AssignmentHandler) Reject(c *gin.Context) {
	req, ok := bindReview(c)
	if !ok {
		return
	}
	if req.Reason == "" {
		middleware.AbortWithError(c, http.StatusBadRequest, "VALIDATION_ERROR", "reason is required for rejection")
		return
	}
	if err := h.svc.Reject(c.Request.Context(), c.Param("id"), req.Actor, req.Reason, req.Comments); err != nil {
		middleware.AbortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse{Success: true, Message: "Instance rejected"})
}

// RequestModifications handles POST /api/v1/instances/:id/review/request-changes.
func (h *AssignmentHandler) RequestModifications(c *gin.Context) {
	req, ok := bindReview(c)
	if !ok {
		return
	}
	if len(req.Modifications) == 0 {
		middleware.AbortWithError(c, http.StatusBadRequest, "VALIDATION_ERROR", "at least one modification is required")
		return
	}
	if err := h.svc.RequestModifications(c.Request.Context(), c.Param("id"), req.Actor, req.Modifications); err != nil {
		middleware.AbortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse{Success: true, Message: "Modifications requested"})
}

// Escalate handles POST /api/v1/instances/:id/review/escalate.
func (h *AssignmentHandler) Escalate(c *gin.Context) {
	req, ok := bindReview(c)
	if !ok {
		return
	}
	if req.Reason == "" {
		middleware.AbortWithError(c, http.StatusBadRequest, "VALIDATION_ERROR", "reason is required for escalation")
		return
	}
	if err := h.svc.Escalate(c.Request.Context(), c.Param("id"), req.Actor, req.Reason); err != nil {
		middleware.AbortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse{Success: true, Message: "Review escalated"})
}

// Complete handles POST /api/v1/instances/:id/review/complete.
func (h *AssignmentHandler) Complete(c *gin.Context) {
	req, ok := bindReview(c)
	if !ok {
		return
	}
	if err := h.svc.Complete(c.Request.Context(), c.Param("id"), req.Actor); err != nil {
		middleware.AbortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse{Success: true, Message: "Review completed"})
}

// Reassign handles POST /api/v1/instances/:id/review/reassign.
func (h *AssignmentHandler) Reassign(c *gin.Context) {
	req, ok := bindReview(c)
	if !ok {
		return
	}
	if err := h.svc.Reassign(c.Request.Context(), c.Param("id"), req.Actor); err != nil {
		middleware.AbortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse{Success: true, Message: "Instance reassigned"})
}
