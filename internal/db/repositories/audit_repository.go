// audit_repository.go implements AuditRepository. Entries are insert-only: there is no
// update or delete method, and the schema rejects both with a trigger.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/tenantcrm/crm/internal/db/models"
	"github.com/tenantcrm/crm/internal/store"
)

const auditColumns = `id, organization_id, entity_type, entity_id, action, actor_id, actor_type,
		changes, metadata, severity, description, ip_address, user_agent, created_at`

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db sqlx.ExtContext
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db sqlx.ExtContext) *AuditRepository {
	return &AuditRepository{db: db}
}

// marshalNullable encodes v as JSON, or returns a nil interface so the driver writes NULL
func marshalNullable(v interface{}, isNil bool) (interface{}, error) {
	if isNil {
		return nil, nil
	}
	return json.Marshal(v)
}

// CreateAuditEntry inserts an entry. ID, severity and description are set by the caller.
func (r *AuditRepository) CreateAuditEntry(ctx context.Context, e *models.AuditEntry) error {
	changesJSON, err := marshalNullable(e.Changes, e.Changes == nil)
	if err != nil {
		return fmt.Errorf("failed to encode audit changes: %w", err)
	}
	metadataJSON, err := marshalNullable(e.Metadata, e.Metadata == nil)
	if err != nil {
		return fmt.Errorf("failed to encode audit metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (`+auditColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		e.ID,
		e.OrganizationID,
		e.EntityType,
		e.EntityID,
		e.Action,
		e.ActorID,
		e.ActorType,
		changesJSON,
		metadataJSON,
		e.Severity,
		e.Description,
		e.IPAddress,
		e.UserAgent,
		e.CreatedAt,
	)
	if err != nil {
		return wrapWriteErr("failed to insert audit entry", err)
	}
	return nil
}

func scanAuditEntry(row rowScanner) (*models.AuditEntry, error) {
	e := &models.AuditEntry{}
	var changesJSON, metadataJSON []byte
	var ip, ua sql.NullString

	if err := row.Scan(
		&e.ID,
		&e.OrganizationID,
		&e.EntityType,
		&e.EntityID,
		&e.Action,
		&e.ActorID,
		&e.ActorType,
		&changesJSON,
		&metadataJSON,
		&e.Severity,
		&e.Description,
		&ip,
		&ua,
		&e.CreatedAt,
	); err != nil {
		return nil, err
	}

	if changesJSON != nil {
		e.Changes = &models.Changes{}
		if err := json.Unmarshal(changesJSON, e.Changes); err != nil {
			return nil, fmt.Errorf("failed to decode changes of audit entry %s: %w", e.ID, err)
		}
	}
	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata of audit entry %s: %w", e.ID, err)
		}
	}
	if ip.Valid {
		e.IPAddress = &ip.String
	}
	if ua.Valid {
		e.UserAgent = &ua.String
	}
	return e, nil
}

// ListAuditEntries returns one page of an organization's entries, newest first, and the
// total number of entries matching the filters.
func (r *AuditRepository) ListAuditEntries(ctx context.Context, filters store.AuditFilters, limit, offset int) ([]*models.AuditEntry, int, error) {
	if _, err := uuid.Parse(filters.OrganizationID); err != nil {
		return []*models.AuditEntry{}, 0, nil
	}

	where := ` WHERE organization_id = $1`
	args := []interface{}{filters.OrganizationID}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where += fmt.Sprintf(" AND %s $%d", clause, len(args))
	}

	if filters.ActorID != nil {
		add("actor_id =", *filters.ActorID)
	}
	if filters.EntityType != nil {
		add("entity_type =", *filters.EntityType)
	}
	if filters.EntityID != nil {
		add("entity_id =", *filters.EntityID)
	}
	if filters.Action != nil {
		add("action =", *filters.Action)
	}
	if filters.Severity != nil {
		add("severity =", *filters.Severity)
	}
	if filters.StartDate != nil {
		add("created_at >=", *filters.StartDate)
	}
	if filters.EndDate != nil {
		add("created_at <=", *filters.EndDate)
	}

	var total int
	if err := r.db.QueryRowxContext(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit entries: %w", err)
	}

	query := `SELECT ` + auditColumns + ` FROM audit_logs` + where +
		fmt.Sprintf(` ORDER BY id DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*models.AuditEntry, 0)
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// GetAuditEntry retrieves one entry of an organization; nil, nil when absent
func (r *AuditRepository) GetAuditEntry(ctx context.Context, orgID, id string) (*models.AuditEntry, error) {
	e, err := scanAuditEntry(r.db.QueryRowxContext(ctx, `
		SELECT `+auditColumns+`
		FROM audit_logs
		WHERE organization_id = $1 AND id = $2
	`, orgID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get audit entry: %w", err)
	}
	return e, nil
}
