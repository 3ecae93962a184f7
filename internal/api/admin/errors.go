// Package admin implements the HTTP handlers for organizations, their members and
// their audit trail. Handlers only translate between HTTP and the team service; every
// authorization decision is made by the service.
package admin

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tenantcrm/crm/internal/authz"
	"github.com/tenantcrm/crm/internal/team"
)

// errorMapping pairs a domain error with its HTTP status and stable error code
type errorMapping struct {
	err    error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{authz.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
	{authz.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{authz.ErrInsufficientPermission, http.StatusForbidden, "insufficient_permission"},
	{authz.ErrElevationDenied, http.StatusForbidden, "elevation_denied"},
	{authz.ErrSelfRemovalDenied, http.StatusForbidden, "self_removal_denied"},
	{authz.ErrLastAdminProtected, http.StatusConflict, "last_admin_protected"},
	{team.ErrConflict, http.StatusConflict, "conflict"},
	{team.ErrNotFound, http.StatusNotFound, "not_found"},
	{team.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
}

// respondError writes the JSON error response for err. Unmapped errors, a failed
// audit write included, become a 500 without internal detail.
func respondError(c *gin.Context, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			c.JSON(m.status, gin.H{"error": err.Error(), "code": m.code})
			return
		}
	}

	slog.ErrorContext(c.Request.Context(), "request failed",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"error", err,
	)
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "code": "internal"})
}

func respondBindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error(), "code": "invalid_input"})
}
