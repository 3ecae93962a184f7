// members.go implements member listing, invitation and every member mutation.
package admin

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tenantcrm/crm/internal/auth"
	"github.com/tenantcrm/crm/internal/db/models"
	"github.com/tenantcrm/crm/internal/middleware"
	"github.com/tenantcrm/crm/internal/team"
)

// MemberHandlers handles member management endpoints
type MemberHandlers struct {
	svc *team.Service
}

// NewMemberHandlers creates a new MemberHandlers instance
func NewMemberHandlers(svc *team.Service) *MemberHandlers {
	return &MemberHandlers{svc: svc}
}

// memberResponse wraps a member with its resolved permission set
func memberResponse(m *models.Member) gin.H {
	return gin.H{
		"member":      m,
		"permissions": m.EffectivePermissions(),
	}
}

// @Summary      List members
// @Description  List every member of the organization, inactive members included. Requires team:view.
// @Tags         Members
// @Security     Bearer
// @Produce      json
// @Param        org  path  string  true  "Organization ID"
// @Success      200  {object}  map[string]interface{}  "members: []models.Member"
// @Failure      403  {object}  map[string]interface{}  "Forbidden"
// @Router       /api/v1/organizations/{org}/members [get]
func (h *MemberHandlers) ListMembersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		members, err := h.svc.ListMembers(c.Request.Context(), middleware.CallerFromContext(c), c.Param("org"))
		if err != nil {
			respondError(c, err)
			return
		}
		if members == nil {
			members = []*models.Member{}
		}
		c.JSON(http.StatusOK, gin.H{"members": members})
	}
}

// InviteMemberRequest represents the request to add a member ahead of first login
type InviteMemberRequest struct {
	Name  string            `json:"name" binding:"required"`
	Email string            `json:"email"`
	Role  auth.Role         `json:"role" binding:"required"`
	Type  models.MemberType `json:"type"`
}

// @Summary      Invite member
// @Description  Add a member. The invited role may not rank above the caller's. Requires team:manage.
// @Tags         Members
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        org   path  string               true  "Organization ID"
// @Param        body  body  InviteMemberRequest  true  "Member to invite"
// @Success      201  {object}  map[string]interface{}  "member: models.Member"
// @Failure      403  {object}  map[string]interface{}  "Forbidden"
// @Failure      409  {object}  map[string]interface{}  "Email already a member"
// @Router       /api/v1/organizations/{org}/members [post]
func (h *MemberHandlers) InviteMemberHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req InviteMemberRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}

		m, err := h.svc.InviteMember(c.Request.Context(), middleware.CallerFromContext(c), c.Param("org"), team.InviteInput{
			Name:  req.Name,
			Email: req.Email,
			Role:  req.Role,
			Type:  req.Type,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, memberResponse(m))
	}
}

// UpdateRoleRequest changes a member's role
type UpdateRoleRequest struct {
	Role auth.Role `json:"role" binding:"required"`
}

// @Summary      Update member role
// @Tags         Members
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        org   path  string             true  "Organization ID"
// @Param        id    path  string             true  "Member ID"
// @Param        body  body  UpdateRoleRequest  true  "New role"
// @Success      200  {object}  map[string]interface{}  "member: models.Member"
// @Failure      409  {object}  map[string]interface{}  "Would leave the organization without an admin"
// @Router       /api/v1/organizations/{org}/members/{id}/role [put]
func (h *MemberHandlers) UpdateRoleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateRoleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}

		m, err := h.svc.UpdateMemberRole(c.Request.Context(), middleware.CallerFromContext(c), c.Param("org"), c.Param("id"), req.Role)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, memberResponse(m))
	}
}

// UpdatePermissionsRequest sets or, with an explicit null permissions value, clears an
// override. The permissions key is required.
type UpdatePermissionsRequest struct {
	Permissions json.RawMessage `json:"permissions"`
}

var errPermissionsRequired = errors.New("permissions is required; send null to clear the override")

// permissionOverride decodes the requested override. A nil set with a nil error means
// the caller asked to clear it.
func (r UpdatePermissionsRequest) permissionOverride() (*auth.PermissionSet, error) {
	if len(r.Permissions) == 0 {
		return nil, errPermissionsRequired
	}
	if bytes.Equal(bytes.TrimSpace(r.Permissions), []byte("null")) {
		return nil, nil
	}
	var set auth.PermissionSet
	if err := json.Unmarshal(r.Permissions, &set); err != nil {
		return nil, err
	}
	return &set, nil
}

// UpdatePermissionsHandler replaces a member's permission override
// PUT /api/v1/organizations/:org/members/:id/permissions
func (h *MemberHandlers) UpdatePermissionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdatePermissionsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}
		set, err := req.permissionOverride()
		if err != nil {
			respondBindError(c, err)
			return
		}

		m, err := h.svc.UpdateMemberPermissions(c.Request.Context(), middleware.CallerFromContext(c), c.Param("org"), c.Param("id"), set)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, memberResponse(m))
	}
}

// UpdateNameRequest renames a member
type UpdateNameRequest struct {
	Name string `json:"name" binding:"required"`
}

// UpdateNameHandler renames a member
// PUT /api/v1/organizations/:org/members/:id/name
func (h *MemberHandlers) UpdateNameHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateNameRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}

		m, err := h.svc.UpdateMemberName(c.Request.Context(), middleware.CallerFromContext(c), c.Param("org"), c.Param("id"), req.Name)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, memberResponse(m))
	}
}

// UpdateStatusRequest sets the caller's presence
type UpdateStatusRequest struct {
	Status models.MemberStatus `json:"status" binding:"required"`
}

// UpdateOwnStatusHandler sets the caller's own status to active or busy
// PUT /api/v1/organizations/:org/members/me/status
func (h *MemberHandlers) UpdateOwnStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}

		m, err := h.svc.UpdateMemberStatus(c.Request.Context(), middleware.CallerFromContext(c), c.Param("org"), req.Status)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, memberResponse(m))
	}
}

// @Summary      Deactivate member
// @Description  Set a member inactive. Members cannot remove themselves and the last admin cannot be removed.
// @Tags         Members
// @Security     Bearer
// @Produce      json
// @Param        org  path  string  true  "Organization ID"
// @Param        id   path  string  true  "Member ID"
// @Success      200  {object}  map[string]interface{}  "member: models.Member"
// @Router       /api/v1/organizations/{org}/members/{id} [delete]
func (h *MemberHandlers) RemoveMemberHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		m, err := h.svc.RemoveMember(c.Request.Context(), middleware.CallerFromContext(c), c.Param("org"), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, memberResponse(m))
	}
}

// ReactivateMemberHandler restores an inactive member
// POST /api/v1/organizations/:org/members/:id/reactivate
func (h *MemberHandlers) ReactivateMemberHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		m, err := h.svc.ReactivateMember(c.Request.Context(), middleware.CallerFromContext(c), c.Param("org"), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, memberResponse(m))
	}
}
