// audit_logs.go implements the audit trail endpoints.
package admin

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tenantcrm/crm/internal/db/models"
	"github.com/tenantcrm/crm/internal/middleware"
	"github.com/tenantcrm/crm/internal/team"
)

// AuditLogHandlers handles audit trail endpoints
type AuditLogHandlers struct {
	svc *team.Service
}

// NewAuditLogHandlers creates a new AuditLogHandlers instance
func NewAuditLogHandlers(svc *team.Service) *AuditLogHandlers {
	return &AuditLogHandlers{svc: svc}
}

// @Summary      List audit logs
// @Description  List audit entries of the organization, newest first. Requires auditLogs:view.
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        org          path   string  true   "Organization ID"
// @Param        actor_id     query  string  false  "Filter by actor"
// @Param        entity_type  query  string  false  "Filter by entity type"
// @Param        entity_id    query  string  false  "Filter by entity"
// @Param        action       query  string  false  "Filter by action"
// @Param        severity     query  string  false  "Filter by severity"
// @Param        start_date   query  string  false  "RFC 3339 lower bound"
// @Param        end_date     query  string  false  "RFC 3339 upper bound"
// @Param        limit        query  int     false  "Page size, max 200 (default 50)"
// @Param        offset       query  int     false  "Entries to skip"
// @Success      200  {object}  map[string]interface{}  "audit_logs: []models.AuditEntry, pagination: {limit, offset, total}"
// @Failure      400  {object}  map[string]interface{}  "Invalid filter"
// @Failure      403  {object}  map[string]interface{}  "Forbidden"
// @Router       /api/v1/organizations/{org}/audit-logs [get]
func (h *AuditLogHandlers) ListAuditLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		q, err := parseAuditQuery(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_input"})
			return
		}

		entries, total, err := h.svc.ListAuditEntries(c.Request.Context(), middleware.CallerFromContext(c), c.Param("org"), q)
		if err != nil {
			respondError(c, err)
			return
		}
		if entries == nil {
			entries = []*models.AuditEntry{}
		}

		c.JSON(http.StatusOK, gin.H{
			"audit_logs": entries,
			"pagination": gin.H{
				"limit":  q.Limit,
				"offset": q.Offset,
				"total":  total,
			},
		})
	}
}

// @Summary      Get audit log entry
// @Description  Get one audit entry of the organization. Requires auditLogs:view.
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        org  path  string  true  "Organization ID"
// @Param        id   path  string  true  "Audit entry ID"
// @Success      200  {object}  models.AuditEntry
// @Failure      403  {object}  map[string]interface{}  "Forbidden"
// @Failure      404  {object}  map[string]interface{}  "Entry not found"
// @Router       /api/v1/organizations/{org}/audit-logs/{id} [get]
func (h *AuditLogHandlers) GetAuditLogHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		entry, err := h.svc.GetAuditEntry(c.Request.Context(), middleware.CallerFromContext(c), c.Param("org"), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, entry)
	}
}

func parseAuditQuery(c *gin.Context) (team.AuditQuery, error) {
	var q team.AuditQuery

	if v := c.Query("actor_id"); v != "" {
		q.ActorID = &v
	}
	if v := c.Query("entity_id"); v != "" {
		q.EntityID = &v
	}
	if v := c.Query("entity_type"); v != "" {
		et := models.EntityType(v)
		if !knownEntityType(et) {
			return q, fmt.Errorf("unknown entity_type %q", v)
		}
		q.EntityType = &et
	}
	if v := c.Query("action"); v != "" {
		a := models.Action(v)
		switch a {
		case models.ActionCreate, models.ActionUpdate, models.ActionDelete,
			models.ActionMove, models.ActionAssign, models.ActionHandoff:
		default:
			return q, fmt.Errorf("unknown action %q", v)
		}
		q.Action = &a
	}
	if v := c.Query("severity"); v != "" {
		s := models.Severity(v)
		switch s {
		case models.SeverityLow, models.SeverityMedium, models.SeverityHigh, models.SeverityCritical:
		default:
			return q, fmt.Errorf("unknown severity %q", v)
		}
		q.Severity = &s
	}

	var err error
	if q.StartDate, err = parseTimeParam(c, "start_date"); err != nil {
		return q, err
	}
	if q.EndDate, err = parseTimeParam(c, "end_date"); err != nil {
		return q, err
	}

	if q.Limit, err = parseIntParam(c, "limit", 50); err != nil {
		return q, err
	}
	if q.Offset, err = parseIntParam(c, "offset", 0); err != nil {
		return q, err
	}
	if q.Limit < 1 {
		q.Limit = 50
	}
	if q.Limit > 200 {
		q.Limit = 200
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q, nil
}

func knownEntityType(et models.EntityType) bool {
	for _, known := range models.AllEntityTypes() {
		if et == known {
			return true
		}
	}
	return false
}

func parseTimeParam(c *gin.Context, name string) (*time.Time, error) {
	v := c.Query(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("%s must be an RFC 3339 timestamp", name)
	}
	return &t, nil
}

func parseIntParam(c *gin.Context, name string, def int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}
