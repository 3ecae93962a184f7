// organizations.go implements organization creation, the caller's own membership
// and first-login identity linking.
package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tenantcrm/crm/internal/middleware"
	"github.com/tenantcrm/crm/internal/team"
)

// OrganizationHandlers handles organization and identity endpoints
type OrganizationHandlers struct {
	svc *team.Service
}

// NewOrganizationHandlers creates a new OrganizationHandlers instance
func NewOrganizationHandlers(svc *team.Service) *OrganizationHandlers {
	return &OrganizationHandlers{svc: svc}
}

// CreateOrganizationRequest represents the request to create a new organization
type CreateOrganizationRequest struct {
	Name       string `json:"name" binding:"required"`
	Slug       string `json:"slug" binding:"required"`
	OwnerName  string `json:"owner_name"`
	OwnerEmail string `json:"owner_email"`
}

// @Summary      Create organization
// @Description  Create an organization with the caller as its first admin.
// @Tags         Organizations
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  CreateOrganizationRequest  true  "Organization name and slug"
// @Success      201  {object}  map[string]interface{}  "organization: models.Organization, member: models.Member"
// @Failure      400  {object}  map[string]interface{}  "Invalid request body"
// @Failure      409  {object}  map[string]interface{}  "Slug already taken"
// @Router       /api/v1/organizations [post]
func (h *OrganizationHandlers) CreateOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateOrganizationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}

		org, owner, err := h.svc.CreateOrganization(c.Request.Context(), middleware.CallerFromContext(c), team.CreateOrganizationInput{
			Name:       req.Name,
			Slug:       req.Slug,
			OwnerName:  req.OwnerName,
			OwnerEmail: req.OwnerEmail,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"organization": org,
			"member":       owner,
		})
	}
}

// GetMeHandler returns the caller's membership and resolved permissions
// GET /api/v1/organizations/:org/me
func (h *OrganizationHandlers) GetMeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		profile, err := h.svc.Me(c.Request.Context(), middleware.CallerFromContext(c), c.Param("org"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, profile)
	}
}

// LinkIdentityRequest names the organization whose invites should be linked.
// An empty organization links across organizations when the deployment allows it.
type LinkIdentityRequest struct {
	OrganizationID string `json:"organization_id"`
}

// @Summary      Link identity
// @Description  Attach the caller's identity to pending invites carrying the caller's email.
// @Tags         Auth
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "members: []models.Member"
// @Router       /api/v1/auth/link [post]
func (h *OrganizationHandlers) LinkIdentityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LinkIdentityRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				respondBindError(c, err)
				return
			}
		}

		linked, err := h.svc.LinkIdentity(c.Request.Context(), middleware.CallerFromContext(c), req.OrganizationID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"members": linked})
	}
}
