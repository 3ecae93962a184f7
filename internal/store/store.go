// Package store declares the persistence contract used by the member-management service.
//
// Every mutation runs inside one transaction: gate check, guard invariants, the write,
// and the audit write either all commit or all roll back. WithinOrganization additionally
// serializes member mutations of one organization so that read-then-decide-then-write
// sequences (such as "is there another active admin?") cannot race each other.
//
// Implementations: internal/db/repositories (PostgreSQL, row lock on the organization)
// and internal/store/memory (per-organization mutex).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tenantcrm/crm/internal/db/models"
)

var (
	// ErrOrganizationNotFound is returned by WithinOrganization when the organization does not exist
	ErrOrganizationNotFound = errors.New("store: organization not found")
	// ErrConflict is returned when a write violates a uniqueness constraint
	ErrConflict = errors.New("store: conflict")
)

// MemberReader resolves a caller's membership row
type MemberReader interface {
	// GetMemberByIdentity returns nil, nil when the identity has no membership in the organization
	GetMemberByIdentity(ctx context.Context, orgID, identityID string) (*models.Member, error)
}

// AuditWriter persists audit entries. There is deliberately no update or delete.
type AuditWriter interface {
	CreateAuditEntry(ctx context.Context, entry *models.AuditEntry) error
}

// AuditFilters narrows an audit listing. OrganizationID is always required.
type AuditFilters struct {
	OrganizationID string
	ActorID        *string
	EntityType     *models.EntityType
	EntityID       *string
	Action         *models.Action
	Severity       *models.Severity
	StartDate      *time.Time
	EndDate        *time.Time
}

// Tx is the set of reads and writes available inside a transaction
type Tx interface {
	MemberReader
	AuditWriter

	GetOrganization(ctx context.Context, orgID string) (*models.Organization, error)
	CreateOrganization(ctx context.Context, org *models.Organization) error

	// GetMember returns nil, nil when no member with that id exists in the organization
	GetMember(ctx context.Context, orgID, memberID string) (*models.Member, error)
	ListMembers(ctx context.Context, orgID string) ([]*models.Member, error)
	CreateMember(ctx context.Context, member *models.Member) error
	UpdateMember(ctx context.Context, member *models.Member) error
	// LinkMemberIdentity sets only the identity of a member that is still unlinked and
	// not inactive. It reports false when the member no longer qualifies.
	LinkMemberIdentity(ctx context.Context, orgID, memberID, identityID string) (bool, error)
	// ListUnlinkedMembersByEmail returns members without an identity whose email matches.
	// A nil orgID searches every organization.
	ListUnlinkedMembersByEmail(ctx context.Context, email string, orgID *string) ([]*models.Member, error)

	ListAuditEntries(ctx context.Context, filters AuditFilters, limit, offset int) ([]*models.AuditEntry, int, error)
	// GetAuditEntry returns nil, nil when the organization has no entry with that id
	GetAuditEntry(ctx context.Context, orgID, id string) (*models.AuditEntry, error)
}

// Store opens transactions
type Store interface {
	// WithinOrganization runs fn in a transaction holding the organization's member-mutation lock.
	// It returns ErrOrganizationNotFound when the organization does not exist.
	WithinOrganization(ctx context.Context, orgID string, fn func(ctx context.Context, tx Tx) error) error
	// WithinTx runs fn in a transaction without any organization lock
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
