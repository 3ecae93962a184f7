package team

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tenantcrm/crm/internal/audit"
	"github.com/tenantcrm/crm/internal/auth"
	"github.com/tenantcrm/crm/internal/authz"
	"github.com/tenantcrm/crm/internal/db/models"
	"github.com/tenantcrm/crm/internal/store"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

const (
	maxSlugLength = 63
	maxNameLength = 200
)

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if len(name) > maxNameLength {
		return "", fmt.Errorf("%w: name exceeds %d characters", ErrInvalidInput, maxNameLength)
	}
	return name, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", nil
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email %q", ErrInvalidInput, email)
	}
	return email, nil
}

// CreateOrganizationInput describes a new tenant and its first admin
type CreateOrganizationInput struct {
	Name      string
	Slug      string
	OwnerName string
	// OwnerEmail defaults to the caller's email
	OwnerEmail string
}

// CreateOrganization creates an organization with the caller as its sole admin
func (s *Service) CreateOrganization(ctx context.Context, caller authz.Caller, in CreateOrganizationInput) (*models.Organization, *models.Member, error) {
	if !caller.Authenticated() {
		return nil, nil, authz.ErrUnauthenticated
	}
	name, err := normalizeName(in.Name)
	if err != nil {
		return nil, nil, err
	}
	slug := strings.ToLower(strings.TrimSpace(in.Slug))
	if len(slug) > maxSlugLength || !slugPattern.MatchString(slug) {
		return nil, nil, fmt.Errorf("%w: slug must be lowercase letters, digits and single hyphens", ErrInvalidInput)
	}
	ownerName := in.OwnerName
	if strings.TrimSpace(ownerName) == "" {
		ownerName = caller.Email
	}
	if ownerName, err = normalizeName(ownerName); err != nil {
		return nil, nil, err
	}
	ownerEmail := in.OwnerEmail
	if strings.TrimSpace(ownerEmail) == "" {
		ownerEmail = caller.Email
	}
	email, err := normalizeEmail(ownerEmail)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	org := &models.Organization{
		ID:        uuid.New().String(),
		Name:      name,
		Slug:      slug,
		CreatedAt: now,
		UpdatedAt: now,
	}
	identity := caller.IdentityID
	owner := &models.Member{
		ID:             uuid.New().String(),
		OrganizationID: org.ID,
		IdentityID:     &identity,
		Name:           ownerName,
		Role:           auth.RoleAdmin,
		Type:           models.MemberTypeHuman,
		Status:         models.MemberStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if email != "" {
		owner.Email = &email
	}

	var entries []*models.AuditEntry
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateOrganization(ctx, org); err != nil {
			return err
		}
		if err := tx.CreateMember(ctx, owner); err != nil {
			return err
		}
		sc := &txScope{tx: tx, caller: caller, orgID: org.ID}
		actor := actorOf(owner)
		if err := s.record(ctx, sc, actor, models.ActionCreate, models.EntityOrganization, org.ID, nil,
			map[string]interface{}{audit.MetaName: org.Name}); err != nil {
			return err
		}
		if err := s.record(ctx, sc, actor, models.ActionCreate, models.EntityMember, owner.ID, nil,
			map[string]interface{}{audit.MetaName: owner.Name}); err != nil {
			return err
		}
		entries = sc.entries
		return nil
	})
	if err != nil {
		return nil, nil, mapStoreErr(caller, err)
	}
	s.recorder.Ship(entries...)

	slog.InfoContext(ctx, "organization created", "organization_id", org.ID, "slug", org.Slug, "owner_id", owner.ID)
	return org, owner, nil
}

// InviteInput describes a member added ahead of their first login
type InviteInput struct {
	Name  string
	Email string
	Role  auth.Role
	Type  models.MemberType
}

// InviteMember adds a member without an identity. The invite is linked to an identity
// on first login by email. AI members carry the ai role and may have no email.
func (s *Service) InviteMember(ctx context.Context, caller authz.Caller, orgID string, in InviteInput) (*models.Member, error) {
	name, err := normalizeName(in.Name)
	if err != nil {
		return nil, err
	}
	if err := auth.ValidateRole(in.Role); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	memberType := in.Type
	if memberType == "" {
		memberType = models.MemberTypeHuman
	}
	if memberType != models.MemberTypeHuman && memberType != models.MemberTypeAI {
		return nil, fmt.Errorf("%w: invalid member type %s", ErrInvalidInput, memberType)
	}
	if (memberType == models.MemberTypeAI) != (in.Role == auth.RoleAI) {
		return nil, fmt.Errorf("%w: role %s does not fit a %s member", ErrInvalidInput, in.Role, memberType)
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if email == "" && memberType == models.MemberTypeHuman {
		return nil, fmt.Errorf("%w: email is required for human members", ErrInvalidInput)
	}

	var result *models.Member
	err = s.inOrganization(ctx, caller, orgID, func(ctx context.Context, sc *txScope) error {
		actor, err := sc.gate.RequirePermission(ctx, caller, orgID, auth.CategoryTeam, auth.LevelManage)
		if err != nil {
			return err
		}
		if err := guard("elevation", authz.CheckRoleAssignment(actor, nil, in.Role)); err != nil {
			return err
		}
		if email != "" {
			roster, err := sc.tx.ListMembers(ctx, orgID)
			if err != nil {
				return err
			}
			for _, m := range roster {
				if m.Email != nil && strings.EqualFold(*m.Email, email) {
					return fmt.Errorf("%w: %s is already a member", ErrConflict, email)
				}
			}
		}

		now := time.Now().UTC()
		m := &models.Member{
			ID:             uuid.New().String(),
			OrganizationID: orgID,
			Name:           name,
			Role:           in.Role,
			Type:           memberType,
			Status:         models.MemberStatusActive,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if email != "" {
			m.Email = &email
		}
		if err := sc.tx.CreateMember(ctx, m); err != nil {
			return err
		}
		if err := s.record(ctx, sc, actorOf(actor), models.ActionCreate, models.EntityMember, m.ID, nil,
			map[string]interface{}{audit.MetaName: m.Name}); err != nil {
			return err
		}
		slog.InfoContext(ctx, "member invited", "organization_id", orgID, "member_id", m.ID, "role", m.Role, "actor_id", actor.ID)
		result = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// LinkIdentity attaches the caller's identity to unlinked members carrying the caller's
// email. With an orgID only that organization is considered. Without one, and only
// when cross-tenant linking is enabled, every organization is considered.
// Members already linked, inactive members, and organizations where the identity
// already has a membership are skipped. It returns the linked members.
func (s *Service) LinkIdentity(ctx context.Context, caller authz.Caller, orgID string) ([]*models.Member, error) {
	if !caller.Authenticated() {
		return nil, authz.ErrUnauthenticated
	}
	email, err := normalizeEmail(caller.Email)
	if err != nil {
		return nil, err
	}
	if email == "" {
		return nil, fmt.Errorf("%w: caller has no email", ErrInvalidInput)
	}
	if orgID == "" && !s.crossTenantLinking {
		return nil, fmt.Errorf("%w: organization is required", ErrInvalidInput)
	}

	var scope *string
	if orgID != "" {
		scope = &orgID
	}

	// Candidates are gathered without a lock; each organization is then re-checked and
	// linked under its own member-mutation lock.
	var candidates []*models.Member
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		candidates, err = tx.ListUnlinkedMembersByEmail(ctx, email, scope)
		return err
	})
	if err != nil {
		return nil, mapStoreErr(caller, err)
	}

	var linked []*models.Member
	var orgOrder []string
	byOrg := map[string][]*models.Member{}
	for _, m := range candidates {
		if _, seen := byOrg[m.OrganizationID]; !seen {
			orgOrder = append(orgOrder, m.OrganizationID)
		}
		byOrg[m.OrganizationID] = append(byOrg[m.OrganizationID], m)
	}

	for _, id := range orgOrder {
		m, err := s.linkInOrganization(ctx, caller, id, email, byOrg[id])
		if err != nil {
			return linked, err
		}
		if m != nil {
			linked = append(linked, m)
			slog.InfoContext(ctx, "identity linked to member", "organization_id", m.OrganizationID, "member_id", m.ID)
		}
	}
	return linked, nil
}

// linkInOrganization links the caller to the oldest candidate that still qualifies once
// the organization lock is held. It returns nil when the identity is already a member
// or no candidate qualifies any more.
func (s *Service) linkInOrganization(ctx context.Context, caller authz.Caller, orgID, email string, candidates []*models.Member) (*models.Member, error) {
	var result *models.Member
	err := s.inOrganization(ctx, caller, orgID, func(ctx context.Context, sc *txScope) error {
		existing, err := sc.tx.GetMemberByIdentity(ctx, orgID, caller.IdentityID)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}

		for _, candidate := range candidates {
			current, err := sc.tx.GetMember(ctx, orgID, candidate.ID)
			if err != nil {
				return err
			}
			if current == nil || current.IdentityID != nil || !current.IsEnabled() ||
				current.Email == nil || !strings.EqualFold(*current.Email, email) {
				continue
			}

			ok, err := sc.tx.LinkMemberIdentity(ctx, orgID, current.ID, caller.IdentityID)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			identity := caller.IdentityID
			current.IdentityID = &identity

			if err := s.record(ctx, sc, audit.Actor{ID: SystemActorID, Type: models.ActorSystem},
				models.ActionUpdate, models.EntityMember, current.ID,
				&models.Changes{
					Before: map[string]interface{}{"identity_linked": false},
					After:  map[string]interface{}{"identity_linked": true},
				},
				map[string]interface{}{audit.MetaName: current.Name}); err != nil {
				return err
			}
			result = current
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListMembers returns every member of the organization, inactive ones included.
// Requires team:view.
func (s *Service) ListMembers(ctx context.Context, caller authz.Caller, orgID string) ([]*models.Member, error) {
	var members []*models.Member
	err := s.read(ctx, caller, orgID, func(ctx context.Context, sc *txScope) error {
		if _, err := sc.gate.RequirePermission(ctx, caller, orgID, auth.CategoryTeam, auth.LevelView); err != nil {
			return err
		}
		var err error
		members, err = sc.tx.ListMembers(ctx, orgID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

// AuditQuery narrows an audit listing
type AuditQuery struct {
	ActorID    *string
	EntityType *models.EntityType
	EntityID   *string
	Action     *models.Action
	Severity   *models.Severity
	StartDate  *time.Time
	EndDate    *time.Time
	Limit      int
	Offset     int
}

// ListAuditEntries returns audit entries of the organization, newest first, and the
// total matching count. Requires auditLogs:view.
func (s *Service) ListAuditEntries(ctx context.Context, caller authz.Caller, orgID string, q AuditQuery) ([]*models.AuditEntry, int, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultAuditPageSize
	}
	if limit > maxAuditPageSize {
		limit = maxAuditPageSize
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	var entries []*models.AuditEntry
	var total int
	err := s.read(ctx, caller, orgID, func(ctx context.Context, sc *txScope) error {
		if _, err := sc.gate.RequirePermission(ctx, caller, orgID, auth.CategoryAuditLogs, auth.LevelView); err != nil {
			return err
		}
		var err error
		entries, total, err = sc.tx.ListAuditEntries(ctx, store.AuditFilters{
			OrganizationID: orgID,
			ActorID:        q.ActorID,
			EntityType:     q.EntityType,
			EntityID:       q.EntityID,
			Action:         q.Action,
			Severity:       q.Severity,
			StartDate:      q.StartDate,
			EndDate:        q.EndDate,
		}, limit, offset)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// GetAuditEntry returns one audit entry of the organization. Requires auditLogs:view.
func (s *Service) GetAuditEntry(ctx context.Context, caller authz.Caller, orgID, id string) (*models.AuditEntry, error) {
	var entry *models.AuditEntry
	err := s.read(ctx, caller, orgID, func(ctx context.Context, sc *txScope) error {
		if _, err := sc.gate.RequirePermission(ctx, caller, orgID, auth.CategoryAuditLogs, auth.LevelView); err != nil {
			return err
		}
		var err error
		if entry, err = sc.tx.GetAuditEntry(ctx, orgID, id); err != nil {
			return err
		}
		if entry == nil {
			return fmt.Errorf("%w: audit entry %s", ErrNotFound, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Profile is a caller's own membership with its organization and resolved permissions
type Profile struct {
	Organization *models.Organization `json:"organization"`
	Member       *models.Member       `json:"member"`
	Permissions  auth.PermissionSet   `json:"permissions"`
}

// Me returns the caller's membership in the organization
func (s *Service) Me(ctx context.Context, caller authz.Caller, orgID string) (*Profile, error) {
	var profile *Profile
	err := s.read(ctx, caller, orgID, func(ctx context.Context, sc *txScope) error {
		m, err := sc.gate.RequireAuth(ctx, caller, orgID)
		if err != nil {
			return err
		}
		org, err := sc.tx.GetOrganization(ctx, orgID)
		if err != nil {
			return err
		}
		if org == nil {
			return store.ErrOrganizationNotFound
		}
		profile = &Profile{Organization: org, Member: m, Permissions: m.EffectivePermissions()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}
