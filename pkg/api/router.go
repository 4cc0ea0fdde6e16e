package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/civicflow/civicflow/internal/assignment"
	"github.com/civicflow/civicflow/internal/service"
	"github.com/civicflow/civicflow/pkg/api/dto"
	"github.com/civicflow/civicflow/pkg/api/handlers"
	"github.com/civicflow/civicflow/pkg/api/middleware"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Config controls how the HTTP surface is assembled.
type Config struct {
	// JWT enables token authentication when non-nil. Without it, the
	// acting user comes from the X-User-ID header.
	JWT *middleware.JWTConfig

	// RatePerSecond and RateBurst bound per-caller request rates.
	// Zero disables rate limiting.
	RatePerSecond float64
	RateBurst     int

	// Logger receives request logs. A default logger is used when nil.
	Logger *logrus.Logger

	// ServiceChecks are probed by the health endpoint.
	ServiceChecks map[string]func() string
}

// NewRouter assembles the gin engine with middleware and all API routes.
func NewRouter(cfg Config, svc *service.Workflows, assignments *assignment.Service) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.ErrorHandler())

	if cfg.RatePerSecond > 0 {
		limiter := middleware.NewRateLimiter(cfg.RatePerSecond, cfg.RateBurst)
		router.Use(limiter.RateLimit())
	}

	router.GET("/health", healthHandler(cfg.ServiceChecks))

	v1 := router.Group("/api/v1")
	if cfg.JWT != nil {
		v1.Use(middleware.JWTAuth(cfg.JWT))
	}

	templates := handlers.NewTemplateHandler(svc)
	v1.POST("/templates", templates.Register)
	v1.GET("/templates", templates.List)
	v1.GET("/templates/:id", templates.Get)

	instances := handlers.NewInstanceHandler(svc)
	v1.POST("/instances", instances.Create)
	v1.GET("/instances", instances.List)
	v1.GET("/instances/:id", instances.Get)
	v1.POST("/instances/:id/start", instances.Start)
	v1.POST("/instances/:id/tasks/:task_id/input", instances.SubmitInput)
	v1.POST("/instances/:id/cancel", instances.Cancel)
	v1.POST("/instances/:id/pause", instances.Pause)
	v1.POST("/instances/:id/unpause", instances.Unpause)
	v1.GET("/instances/:id/logs", instances.Logs)

	if assignments != nil {
		review := handlers.NewAssignmentHandler(assignments)
		v1.POST("/instances/:id/review/start", review.StartReview)
		v1.POST("/instances/:id/review/approve", review.Approve)
		v1.POST("/instances/:id/review/reject", review.Reject)
		v1.POST("/instances/:id/review/request-changes", review.RequestModifications)
		v1.POST("/instances/:id/review/escalate", review.Escalate)
		v1.POST("/instances/:id/review/complete", review.Complete)
		v1.POST("/instances/:id/review/reassign", review.Reassign)
	}

	hooks := handlers.NewHookHandler(svc)
	v1.POST("/hooks", hooks.Register)
	v1.GET("/hooks", hooks.List)
	v1.DELETE("/hooks/:id", hooks.Unregister)

	events := handlers.NewEventHandler(svc)
	v1.POST("/events", events.Publish)
	v1.GET("/events", events.Query)
	v1.GET("/dead-letters", events.ListDeadLetters)
	v1.POST("/dead-letters/:id/replay", events.ReplayDeadLetter)

	return router
}

func healthHandler(checks map[string]func() string) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := dto.HealthResponse{
			Status:  "healthy",
			Version: Version,
		}
		if len(checks) > 0 {
			resp.Services = make(map[string]string, len(checks))
			for name, check := range checks {
				state := check()
				resp.Services[name] = state
				if state != "healthy" {
					resp.Status = "degraded"
				}
			}
		}
		code := http.StatusOK
		if resp.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, resp)
	}
}
