// organization_repository.go implements OrganizationRepository: organization reads,
// creation, and the row lock that serializes member mutations of one tenant.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/tenantcrm/crm/internal/db/models"
)

// OrganizationRepository handles database operations for organizations.
// db is either the pool or an open transaction.
type OrganizationRepository struct {
	db sqlx.ExtContext
}

// NewOrganizationRepository creates a new organization repository
func NewOrganizationRepository(db sqlx.ExtContext) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

// GetOrganization retrieves an organization by ID; nil, nil when absent
func (r *OrganizationRepository) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	org := &models.Organization{}
	err := sqlx.GetContext(ctx, r.db, org, `
		SELECT id, name, slug, created_at, updated_at
		FROM organizations
		WHERE id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// CreateOrganization inserts org, assigning an ID when empty
func (r *OrganizationRepository) CreateOrganization(ctx context.Context, org *models.Organization) error {
	if org.ID == "" {
		org.ID = uuid.New().String()
	}

	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO organizations (id, name, slug)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`, org.ID, org.Name, org.Slug).Scan(&org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return wrapWriteErr("failed to create organization", err)
	}
	return nil
}

// LockOrganization takes a row lock on the organization for the rest of the transaction.
// It reports false when the organization does not exist.
func (r *OrganizationRepository) LockOrganization(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}

	var locked string
	err := r.db.QueryRowxContext(ctx, `SELECT id FROM organizations WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to lock organization: %w", err)
	}
	return true, nil
}
