// member_repository.go implements MemberRepository. The permission override is stored
// as JSONB and is either NULL or a complete permission set.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/tenantcrm/crm/internal/auth"
	"github.com/tenantcrm/crm/internal/db/models"
)

const memberColumns = `id, organization_id, identity_id, name, email, role, type, status,
		permissions_override, avatar_url, created_at, updated_at`

// MemberRepository handles member database operations
type MemberRepository struct {
	db sqlx.ExtContext
}

// NewMemberRepository creates a new member repository
func NewMemberRepository(db sqlx.ExtContext) *MemberRepository {
	return &MemberRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMember(row rowScanner) (*models.Member, error) {
	m := &models.Member{}
	var identityID, email, avatarURL sql.NullString
	var override []byte

	if err := row.Scan(
		&m.ID,
		&m.OrganizationID,
		&identityID,
		&m.Name,
		&email,
		&m.Role,
		&m.Type,
		&m.Status,
		&override,
		&avatarURL,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if identityID.Valid {
		m.IdentityID = &identityID.String
	}
	if email.Valid {
		m.Email = &email.String
	}
	if avatarURL.Valid {
		m.AvatarURL = &avatarURL.String
	}
	if override != nil {
		var set auth.PermissionSet
		if err := json.Unmarshal(override, &set); err != nil {
			return nil, fmt.Errorf("failed to decode permissions override of member %s: %w", m.ID, err)
		}
		m.PermissionsOverride = &set
	}
	return m, nil
}

// encodeOverride returns a nil interface for a missing override so the driver writes NULL
func encodeOverride(set *auth.PermissionSet) (interface{}, error) {
	if set == nil {
		return nil, nil
	}
	return json.Marshal(set)
}

func (r *MemberRepository) getOne(ctx context.Context, query string, args ...interface{}) (*models.Member, error) {
	m, err := scanMember(r.db.QueryRowxContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return m, nil
}

func (r *MemberRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Member, error) {
	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	members := make([]*models.Member, 0)
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// GetMemberByIdentity returns the member linked to identityID in the organization
func (r *MemberRepository) GetMemberByIdentity(ctx context.Context, orgID, identityID string) (*models.Member, error) {
	if _, err := uuid.Parse(orgID); err != nil {
		return nil, nil
	}
	return r.getOne(ctx, `SELECT `+memberColumns+`
		FROM members
		WHERE organization_id = $1 AND identity_id = $2`, orgID, identityID)
}

// GetMember returns a member of the organization by ID
func (r *MemberRepository) GetMember(ctx context.Context, orgID, memberID string) (*models.Member, error) {
	if _, err := uuid.Parse(orgID); err != nil {
		return nil, nil
	}
	if _, err := uuid.Parse(memberID); err != nil {
		return nil, nil
	}
	return r.getOne(ctx, `SELECT `+memberColumns+`
		FROM members
		WHERE organization_id = $1 AND id = $2`, orgID, memberID)
}

// ListMembers returns every member of the organization, inactive ones included
func (r *MemberRepository) ListMembers(ctx context.Context, orgID string) ([]*models.Member, error) {
	return r.list(ctx, `SELECT `+memberColumns+`
		FROM members
		WHERE organization_id = $1
		ORDER BY created_at, id`, orgID)
}

// ListUnlinkedMembersByEmail returns members with no identity whose email matches
// case-insensitively. A nil orgID searches every organization.
func (r *MemberRepository) ListUnlinkedMembersByEmail(ctx context.Context, email string, orgID *string) ([]*models.Member, error) {
	query := `SELECT ` + memberColumns + `
		FROM members
		WHERE identity_id IS NULL AND lower(email) = lower($1)`
	args := []interface{}{email}
	if orgID != nil {
		query += ` AND organization_id = $2`
		args = append(args, *orgID)
	}
	query += ` ORDER BY created_at, id`
	return r.list(ctx, query, args...)
}

// CreateMember inserts a member, assigning an ID when empty
func (r *MemberRepository) CreateMember(ctx context.Context, m *models.Member) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	override, err := encodeOverride(m.PermissionsOverride)
	if err != nil {
		return fmt.Errorf("failed to encode permissions override: %w", err)
	}

	err = r.db.QueryRowxContext(ctx, `
		INSERT INTO members (id, organization_id, identity_id, name, email, role, type, status, permissions_override, avatar_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`,
		m.ID,
		m.OrganizationID,
		m.IdentityID,
		m.Name,
		m.Email,
		m.Role,
		m.Type,
		m.Status,
		override,
		m.AvatarURL,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return wrapWriteErr("failed to create member", err)
	}
	return nil
}

// UpdateMember writes every mutable column of m
func (r *MemberRepository) UpdateMember(ctx context.Context, m *models.Member) error {
	override, err := encodeOverride(m.PermissionsOverride)
	if err != nil {
		return fmt.Errorf("failed to encode permissions override: %w", err)
	}

	err = r.db.QueryRowxContext(ctx, `
		UPDATE members
		SET identity_id = $3, name = $4, email = $5, role = $6, type = $7, status = $8,
		    permissions_override = $9, avatar_url = $10, updated_at = now()
		WHERE organization_id = $1 AND id = $2
		RETURNING updated_at
	`,
		m.OrganizationID,
		m.ID,
		m.IdentityID,
		m.Name,
		m.Email,
		m.Role,
		m.Type,
		m.Status,
		override,
		m.AvatarURL,
	).Scan(&m.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to update member: member %s not found", m.ID)
		}
		return wrapWriteErr("failed to update member", err)
	}
	return nil
}

// LinkMemberIdentity attaches identityID to an unlinked, non-inactive member. Role,
// status and override are left untouched so a concurrent change to them survives.
func (r *MemberRepository) LinkMemberIdentity(ctx context.Context, orgID, memberID, identityID string) (bool, error) {
	var updatedAt time.Time
	err := r.db.QueryRowxContext(ctx, `
		UPDATE members
		SET identity_id = $3, updated_at = now()
		WHERE organization_id = $1 AND id = $2
		  AND identity_id IS NULL AND status <> 'inactive'
		RETURNING updated_at
	`, orgID, memberID, identityID).Scan(&updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, wrapWriteErr("failed to link member identity", err)
	}
	return true, nil
}
