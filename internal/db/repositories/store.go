// store.go implements store.Store on PostgreSQL. Each callback runs in one
// transaction; WithinOrganization first locks the organization row so member
// mutations of a tenant execute one at a time.
package repositories

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/tenantcrm/crm/internal/store"
)

// PostgresStore opens transactions over a sqlx pool
type PostgresStore struct {
	db *sqlx.DB
}

var _ store.Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store over db
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// txRepositories binds every repository to one transaction and satisfies store.Tx
type txRepositories struct {
	*OrganizationRepository
	*MemberRepository
	*AuditRepository
}

func newTxRepositories(tx *sqlx.Tx) *txRepositories {
	return &txRepositories{
		OrganizationRepository: NewOrganizationRepository(tx),
		MemberRepository:       NewMemberRepository(tx),
		AuditRepository:        NewAuditRepository(tx),
	}
}

// WithinOrganization runs fn holding a FOR UPDATE lock on the organization row
func (s *PostgresStore) WithinOrganization(ctx context.Context, orgID string, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.withTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		repos := newTxRepositories(tx)
		found, err := repos.LockOrganization(ctx, orgID)
		if err != nil {
			return err
		}
		if !found {
			return store.ErrOrganizationNotFound
		}
		return fn(ctx, repos)
	})
}

// WithinTx runs fn in a transaction without taking an organization lock
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.withTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		return fn(ctx, newTxRepositories(tx))
	})
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(ctx context.Context, tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.ErrorContext(ctx, "transaction rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
