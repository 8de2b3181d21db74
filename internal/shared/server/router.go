package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"feedback-backend/internal/shared/config"
	"feedback-backend/internal/shared/metrics"
	"feedback-backend/internal/shared/server/middleware"
	"feedback-backend/internal/shared/server/respond"
)

// PublicRoutes registers the caller-facing endpoints.
type PublicRoutes interface {
	RegisterPublicRoutes(rg *gin.RouterGroup)
}

// AdminRoutes registers the operator endpoints.
type AdminRoutes interface {
	RegisterAdminRoutes(rg *gin.RouterGroup)
}

// RouterDeps carries the handlers the router wires up.
type RouterDeps struct {
	Config            config.Config
	TenantHandler     AdminRoutes
	SubmissionHandler interface {
		PublicRoutes
		AdminRoutes
	}
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
	)

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		respond.JSON(c, http.StatusOK, gin.H{"ok": true})
	})

	public := api.Group("/public")
	public.Use(middleware.RateLimit(middleware.RateLimitConfig{
		DefaultGroup: "INTAKE",
		GroupFor: func(c *gin.Context) string {
			if c.Request.Method == http.MethodGet {
				return "POLLING"
			}
			return "INTAKE"
		},
		Rules: map[string]middleware.RateLimitRule{
			"INTAKE":  {Rate: 0.5, Burst: 5},
			"POLLING": {Rate: 5, Burst: 20},
		},
	}))
	if deps.SubmissionHandler != nil {
		deps.SubmissionHandler.RegisterPublicRoutes(public)
	}

	admin := api.Group("/admin")
	admin.Use(middleware.AdminAuth(deps.Config.AdminAPIToken))
	if deps.TenantHandler != nil {
		deps.TenantHandler.RegisterAdminRoutes(admin)
	}
	if deps.SubmissionHandler != nil {
		deps.SubmissionHandler.RegisterAdminRoutes(admin)
	}

	r.GET("/metrics", metrics.Handler())

	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
