package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/civicflow/civicflow/internal/assignment"
	"github.com/civicflow/civicflow/internal/dag"
	"github.com/civicflow/civicflow/internal/dlq"
	"github.com/civicflow/civicflow/internal/engine"
	"github.com/civicflow/civicflow/internal/hook"
	"github.com/civicflow/civicflow/internal/service"
	"github.com/civicflow/civicflow/internal/storage"
	"github.com/civicflow/civicflow/pkg/api/dto"
)

// ErrorHandler is a middleware that handles errors and panics
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
					Error:   "Internal Server Error",
					Message: "An unexpected error occurred",
					Code:    "INTERNAL_ERROR",
				})
				c.Abort()
			}
		}()

		c.Next()

		if len(c.Errors) > 0 {
			err := c.Errors.Last()

			statusCode := c.Writer.Status()
			if statusCode == http.StatusOK {
				statusCode = http.StatusInternalServerError
			}

			c.JSON(statusCode, dto.ErrorResponse{
				Error:   http.StatusText(statusCode),
				Message: err.Error(),
			})
		}
	}
}

// AbortWithError is a helper function to abort with a specific error
func AbortWithError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    code,
	})
	c.Abort()
}

// AbortWithErrorDetails is a helper function to abort with error details
func AbortWithErrorDetails(c *gin.Context, statusCode int, code, message string, details map[string]interface{}) {
	c.JSON(statusCode, dto.ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    code,
		Details: details,
	})
	c.Abort()
}

// AbortWithServiceError maps domain errors onto HTTP status codes.
func AbortWithServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, dag.ErrTemplateNotFound),
		errors.Is(err, dlq.ErrNotFound):
		AbortWithError(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, storage.ErrAlreadyExists), errors.Is(err, dag.ErrTemplateExists):
		AbortWithError(c, http.StatusConflict, "ALREADY_EXISTS", err.Error())
	case errors.Is(err, storage.ErrConflict):
		AbortWithError(c, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, dag.ErrTemplateInvalid),
		errors.Is(err, hook.ErrHookInvalid):
		AbortWithError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, service.ErrTaskNotResumable), errors.Is(err, engine.ErrTaskNotWaiting),
		errors.Is(err, engine.ErrInstanceTerminal), errors.Is(err, assignment.ErrInvalidReviewTransition):
		AbortWithError(c, http.StatusConflict, "INVALID_STATE", err.Error())
	case errors.Is(err, assignment.ErrNoEligibleTeam), errors.Is(err, assignment.ErrNoEligibleUser):
		AbortWithError(c, http.StatusUnprocessableEntity, "NO_ASSIGNEE", err.Error())
	case errors.Is(err, engine.ErrQueueFull):
		AbortWithError(c, http.StatusServiceUnavailable, "QUEUE_FULL", err.Error())
	default:
		AbortWithError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}
