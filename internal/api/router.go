// Package api assembles the HTTP surface: middleware chain, health endpoints and the
// versioned organization routes.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tenantcrm/crm/internal/api/admin"
	"github.com/tenantcrm/crm/internal/config"
	"github.com/tenantcrm/crm/internal/middleware"
	"github.com/tenantcrm/crm/internal/team"
)

// Dependencies are the collaborators the router wires into handlers
type Dependencies struct {
	Team *team.Service
	// Limiter guards every authenticated route. Nil disables rate limiting.
	Limiter middleware.Limiter
	// LinkLimiter adds a stricter budget to identity linking. Nil falls back to Limiter only.
	LinkLimiter middleware.Limiter
	Logger      *slog.Logger
	// Ready reports whether backing services can serve traffic. Nil means always ready.
	Ready func(ctx context.Context) error
	// Tokens verifies bearer session tokens
	Tokens middleware.TokenVerifier
	// Authenticate replaces the bearer-token middleware. Tests use it to inject a caller.
	Authenticate gin.HandlerFunc
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, deps Dependencies) *gin.Engine {
	router := gin.New()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	router.GET("/health", healthCheckHandler())
	router.GET("/ready", readinessHandler(deps.Ready))
	router.GET("/version", versionHandler())

	authenticate := deps.Authenticate
	if authenticate == nil {
		authenticate = middleware.AuthMiddleware(deps.Tokens)
	}

	v1 := router.Group("/api/v1")
	v1.Use(authenticate)
	if deps.Limiter != nil {
		v1.Use(middleware.RateLimitMiddleware(deps.Limiter))
	}

	orgHandlers := admin.NewOrganizationHandlers(deps.Team)
	memberHandlers := admin.NewMemberHandlers(deps.Team)
	auditHandlers := admin.NewAuditLogHandlers(deps.Team)

	linkChain := []gin.HandlerFunc{}
	if deps.LinkLimiter != nil {
		linkChain = append(linkChain, middleware.RateLimitMiddleware(deps.LinkLimiter))
	}
	linkChain = append(linkChain, orgHandlers.LinkIdentityHandler())
	v1.POST("/auth/link", linkChain...)

	v1.POST("/organizations", orgHandlers.CreateOrganizationHandler())

	org := v1.Group("/organizations/:org")
	{
		org.GET("/me", orgHandlers.GetMeHandler())
		org.GET("/audit-logs", auditHandlers.ListAuditLogsHandler())
		org.GET("/audit-logs/:id", auditHandlers.GetAuditLogHandler())

		members := org.Group("/members")
		members.GET("", memberHandlers.ListMembersHandler())
		members.POST("", memberHandlers.InviteMemberHandler())
		members.PUT("/me/status", memberHandlers.UpdateOwnStatusHandler())
		members.PUT("/:id/role", memberHandlers.UpdateRoleHandler())
		members.PUT("/:id/permissions", memberHandlers.UpdatePermissionsHandler())
		members.PUT("/:id/name", memberHandlers.UpdateNameHandler())
		members.DELETE("/:id", memberHandlers.RemoveMemberHandler())
		members.POST("/:id/reactivate", memberHandlers.ReactivateMemberHandler())
	}

	return router
}

// @Summary      Health check
// @Description  Liveness check. Does not touch backing services.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Router       /health [get]
func healthCheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "ready: false, error: database not ready"
// @Router       /ready [get]
func readinessHandler(ready func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				slog.WarnContext(c.Request.Context(), "readiness check failed", "error", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": gin.H{"database": "unhealthy"},
					"error":  "database not ready",
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": gin.H{"database": "healthy"},
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// Version is reported by GET /version; main overrides it at link time
var Version = "0.1.0"

// @Summary      API version
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		wildcard := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" {
				allowed, wildcard = true, true
				break
			}
			if origin != "" && allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			// Credentials are only allowed with an explicit origin.
			if wildcard || origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Access-Control-Allow-Credentials", "true")
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-ID")
			c.Header("Access-Control-Expose-Headers", "X-Request-ID, X-RateLimit-Limit, X-RateLimit-Remaining, Retry-After")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
