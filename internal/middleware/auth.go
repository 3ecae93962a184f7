// Package middleware provides Gin HTTP middleware for authentication, rate limiting,
// security headers, request ids, request logging and metrics.
//
// Ordering is fixed in internal/api/router.go:
//
//	Recovery → RequestID → Metrics → Logger → Security → Auth → RateLimit → Handler
//
// Auth only resolves who is calling. Membership and permissions are checked by the
// team service inside each operation's transaction, never here.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tenantcrm/crm/internal/auth"
	"github.com/tenantcrm/crm/internal/authz"
)

// CallerKey is the gin.Context key holding the request's authz.Caller
const CallerKey = "caller"

// TokenVerifier resolves a bearer session token to its claims
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// AuthMiddleware validates the bearer session token and stores an authz.Caller
// carrying the identity, its email and the network metadata used by the audit trail.
func AuthMiddleware(tokens TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing or malformed bearer token",
			})
			return
		}

		claims, err := tokens.Verify(token)
		if err != nil {
			slog.DebugContext(c.Request.Context(), "session token rejected", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
			})
			return
		}

		c.Set(CallerKey, authz.Caller{
			IdentityID: claims.IdentityID(),
			Email:      claims.Email,
			IPAddress:  c.ClientIP(),
			UserAgent:  c.Request.UserAgent(),
		})
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}

// CallerFromContext returns the caller stored by AuthMiddleware, or the zero Caller
// (unauthenticated) when none was stored.
func CallerFromContext(c *gin.Context) authz.Caller {
	if v, ok := c.Get(CallerKey); ok {
		if caller, ok := v.(authz.Caller); ok {
			return caller
		}
	}
	return authz.Caller{}
}
