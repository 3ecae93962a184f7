// Package models - member.go defines the Member model: a human or AI actor attached to
// one organization, with its role, presence status, and optional permission override.
package models

import (
	"time"

	"github.com/tenantcrm/crm/internal/auth"
)

// MemberType distinguishes human members from AI agents
type MemberType string

const (
	MemberTypeHuman MemberType = "human"
	MemberTypeAI    MemberType = "ai"
)

// MemberStatus is the membership state of a member.
// Members are never deleted; removal sets the status to inactive.
type MemberStatus string

const (
	MemberStatusActive   MemberStatus = "active"
	MemberStatusBusy     MemberStatus = "busy"
	MemberStatusInactive MemberStatus = "inactive"
)

// Member represents a member of an organization
type Member struct {
	ID             string       `json:"id"`
	OrganizationID string       `json:"organization_id"`
	IdentityID     *string      `json:"identity_id,omitempty"` // unset until first login or link
	Name           string       `json:"name"`
	Email          *string      `json:"email,omitempty"`
	Role           auth.Role    `json:"role"`
	Type           MemberType   `json:"type"`
	Status         MemberStatus `json:"status"`
	// PermissionsOverride, when set, replaces the role defaults entirely
	PermissionsOverride *auth.PermissionSet `json:"permissions_override,omitempty"`
	AvatarURL           *string             `json:"avatar_url,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// IsEnabled reports whether the membership is in force. Busy is a presence state,
// so only inactive members are excluded.
func (m *Member) IsEnabled() bool {
	return m.Status != MemberStatusInactive
}

// EffectivePermissions resolves the member's permission set from its current row
func (m *Member) EffectivePermissions() auth.PermissionSet {
	return auth.Resolve(m.Role, m.PermissionsOverride)
}

// Clone returns a copy that shares no pointers with m
func (m *Member) Clone() *Member {
	c := *m
	if m.IdentityID != nil {
		v := *m.IdentityID
		c.IdentityID = &v
	}
	if m.Email != nil {
		v := *m.Email
		c.Email = &v
	}
	if m.PermissionsOverride != nil {
		v := *m.PermissionsOverride
		c.PermissionsOverride = &v
	}
	if m.AvatarURL != nil {
		v := *m.AvatarURL
		c.AvatarURL = &v
	}
	return &c
}
