// Package handlers exposes the workflow service over HTTP.
package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/civicflow/civicflow/internal/dag"
	"github.com/civicflow/civicflow/internal/service"
	"github.com/civicflow/civicflow/pkg/api/dto"
	"github.com/civicflow/civicflow/pkg/api/middleware"
	"github.com/civicflow/civicflow/pkg/models"
)

// TemplateHandler handles workflow template HTTP requests.
type TemplateHandler struct {
	svc    *service.Workflows
	parser *dag.Parser
}

// NewTemplateHandler creates a new template handler.
func NewTemplateHandler(svc *service.Workflows) *TemplateHandler {
	return &TemplateHandler{svc: svc, parser: dag.NewParser()}
}

// Register handles POST /api/v1/templates. The body is a declarative
// template definition, JSON by default or YAML with a matching
// Content-Type.
func (h *TemplateHandler) Register(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	var tpl *models.Template
	var parseErr error
	if strings.Contains(c.ContentType(), "yaml") {
		tpl, parseErr = h.parser.ParseYAML(body)
	} else {
		tpl, parseErr = h.parser.ParseJSON(body)
	}
	if parseErr != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, "INVALID_TEMPLATE", parseErr.Error())
		return
	}

	if err := h.svc.RegisterTemplate(c.Request.Context(), tpl); err != nil {
		middleware.AbortWithServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.ToTemplateResponse(tpl))
}

// List handles GET /api/v1/templates.
func (h *TemplateHandler) List(c *gin.Context) {
	templates := h.svc.ListTemplates(c.Request.Context())

	responses := make([]dto.TemplateResponse, len(templates))
	for i, tpl := range templates {
		responses[i] = dto.ToTemplateResponse(tpl)
	}

	c.JSON(http.StatusOK, dto.TemplateListResponse{
		Templates: responses,
		Count:     len(responses),
	})
}

// Get handles GET /api/v1/templates/:id.
func (h *TemplateHandler) Get(c *gin.Context) {
	tpl, err := h.svc.GetTemplate(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.AbortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ToTemplateResponse(tpl))
}
