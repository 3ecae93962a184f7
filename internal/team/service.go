// Package team implements the member-management operations of an organization.
//
// Every mutation runs in one store transaction holding the organization lock:
// gate check, guard invariants over a roster read in the same transaction, the write,
// and the audit entry. Any failure, including a failed audit write, rolls the whole
// mutation back. Committed entries are handed to the recorder's shipper afterwards.
package team

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tenantcrm/crm/internal/audit"
	"github.com/tenantcrm/crm/internal/auth"
	"github.com/tenantcrm/crm/internal/authz"
	"github.com/tenantcrm/crm/internal/db/models"
	"github.com/tenantcrm/crm/internal/store"
	"github.com/tenantcrm/crm/internal/telemetry"
)

// SystemActorID is the actor recorded for changes no member initiated
const SystemActorID = "system"

const (
	defaultAuditPageSize = 50
	maxAuditPageSize     = 200
)

// Service runs member-management operations against a Store
type Service struct {
	store              store.Store
	recorder           *audit.Recorder
	crossTenantLinking bool
}

// Option configures a Service
type Option func(*Service)

// WithCrossTenantEmailLinking lets LinkIdentity without an organization link unlinked
// members in every organization that carries the caller's email.
func WithCrossTenantEmailLinking(enabled bool) Option {
	return func(s *Service) { s.crossTenantLinking = enabled }
}

// NewService creates a Service
func NewService(st store.Store, recorder *audit.Recorder, opts ...Option) *Service {
	s := &Service{store: st, recorder: recorder}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// txScope is what a mutation sees inside its transaction
type txScope struct {
	tx      store.Tx
	gate    *authz.Gate
	caller  authz.Caller
	orgID   string
	entries []*models.AuditEntry
}

// inOrganization runs fn under the organization lock and ships audit entries after commit.
// A missing organization is reported the same way as missing membership.
func (s *Service) inOrganization(ctx context.Context, caller authz.Caller, orgID string, fn func(ctx context.Context, sc *txScope) error) error {
	var sc *txScope
	err := s.store.WithinOrganization(ctx, orgID, func(ctx context.Context, tx store.Tx) error {
		sc = &txScope{tx: tx, gate: authz.NewGate(tx), caller: caller, orgID: orgID}
		return fn(ctx, sc)
	})
	if err != nil {
		return mapStoreErr(caller, err)
	}
	s.recorder.Ship(sc.entries...)
	return nil
}

// read runs fn in a transaction without the organization lock
func (s *Service) read(ctx context.Context, caller authz.Caller, orgID string, fn func(ctx context.Context, sc *txScope) error) error {
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, &txScope{tx: tx, gate: authz.NewGate(tx), caller: caller, orgID: orgID})
	})
	return mapStoreErr(caller, err)
}

func mapStoreErr(caller authz.Caller, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrOrganizationNotFound):
		if !caller.Authenticated() {
			return authz.ErrUnauthenticated
		}
		return authz.ErrUnauthorized
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}

// record writes an audit entry through the transaction and queues it for shipping
func (s *Service) record(ctx context.Context, sc *txScope, actor audit.Actor, action models.Action, entityType models.EntityType, entityID string, changes *models.Changes, metadata map[string]interface{}) error {
	entry, err := s.recorder.Record(ctx, sc.tx, audit.RecordInput{
		OrganizationID: sc.orgID,
		Action:         action,
		EntityType:     entityType,
		EntityID:       entityID,
		Actor:          actor,
		Changes:        changes,
		Metadata:       metadata,
		IPAddress:      sc.caller.IPAddress,
		UserAgent:      sc.caller.UserAgent,
	})
	if err != nil {
		return err
	}
	sc.entries = append(sc.entries, entry)
	return nil
}

func actorOf(m *models.Member) audit.Actor {
	t := models.ActorHuman
	if m.Type == models.MemberTypeAI {
		t = models.ActorAI
	}
	return audit.Actor{ID: m.ID, Type: t}
}

// guard counts a rejection under name and passes err through
func guard(name string, err error) error {
	if err != nil {
		telemetry.GuardRejectionsTotal.WithLabelValues(name).Inc()
	}
	return err
}

func (sc *txScope) target(ctx context.Context, memberID string) (*models.Member, error) {
	m, err := sc.tx.GetMember(ctx, sc.orgID, memberID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%w: member %s", ErrNotFound, memberID)
	}
	return m, nil
}

// applyUpdate writes target when changes is non-nil and audits the update.
// It reports whether anything was written.
func (s *Service) applyUpdate(ctx context.Context, sc *txScope, actor audit.Actor, target *models.Member, changes *models.Changes) (bool, error) {
	if changes == nil {
		return false, nil
	}
	if err := sc.tx.UpdateMember(ctx, target); err != nil {
		return false, err
	}
	err := s.record(ctx, sc, actor, models.ActionUpdate, models.EntityMember, target.ID, changes,
		map[string]interface{}{audit.MetaName: target.Name})
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpdateMemberRole changes a member's role. Requires team:manage and is subject to the
// elevation ceiling and last-admin protection.
func (s *Service) UpdateMemberRole(ctx context.Context, caller authz.Caller, orgID, memberID string, role auth.Role) (*models.Member, error) {
	if err := auth.ValidateRole(role); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	var result *models.Member
	err := s.inOrganization(ctx, caller, orgID, func(ctx context.Context, sc *txScope) error {
		actor, err := sc.gate.RequirePermission(ctx, caller, orgID, auth.CategoryTeam, auth.LevelManage)
		if err != nil {
			return err
		}
		target, err := sc.target(ctx, memberID)
		if err != nil {
			return err
		}
		if (target.Type == models.MemberTypeAI) != (role == auth.RoleAI) {
			return fmt.Errorf("%w: role %s does not fit a %s member", ErrInvalidInput, role, target.Type)
		}
		if err := guard("elevation", authz.CheckRoleAssignment(actor, target, role)); err != nil {
			return err
		}
		roster, err := sc.tx.ListMembers(ctx, orgID)
		if err != nil {
			return err
		}
		if err := guard("last_admin", authz.CheckAdminDemotion(target, role, roster)); err != nil {
			return err
		}

		changes := authz.DiffFields(
			map[string]interface{}{"role": string(target.Role)},
			map[string]interface{}{"role": string(role)},
		)
		target.Role = role
		written, err := s.applyUpdate(ctx, sc, actorOf(actor), target, changes)
		if err != nil {
			return err
		}
		if written {
			slog.InfoContext(ctx, "member role changed", "organization_id", orgID, "member_id", target.ID, "role", role, "actor_id", actor.ID)
		}
		result = target
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateMemberPermissions sets or clears (set == nil) a member's permission override.
// A non-nil set must be complete and may not exceed the actor's own levels.
func (s *Service) UpdateMemberPermissions(ctx context.Context, caller authz.Caller, orgID, memberID string, set *auth.PermissionSet) (*models.Member, error) {
	if set != nil {
		if err := auth.ValidatePermissionSet(*set); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		copied := *set
		set = &copied
	}

	var result *models.Member
	err := s.inOrganization(ctx, caller, orgID, func(ctx context.Context, sc *txScope) error {
		actor, err := sc.gate.RequirePermission(ctx, caller, orgID, auth.CategoryTeam, auth.LevelManage)
		if err != nil {
			return err
		}
		target, err := sc.target(ctx, memberID)
		if err != nil {
			return err
		}
		if err := guard("elevation", authz.CheckAuthorityOver(actor, target)); err != nil {
			return err
		}
		if err := guard("elevation", authz.CheckPermissionCeiling(actor, set)); err != nil {
			return err
		}
		roster, err := sc.tx.ListMembers(ctx, orgID)
		if err != nil {
			return err
		}
		if err := guard("last_admin", authz.CheckAdminOverride(target, set, roster)); err != nil {
			return err
		}

		changes := authz.DiffFields(
			map[string]interface{}{"permissions": target.PermissionsOverride},
			map[string]interface{}{"permissions": set},
		)
		target.PermissionsOverride = set
		if _, err := s.applyUpdate(ctx, sc, actorOf(actor), target, changes); err != nil {
			return err
		}
		result = target
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateMemberName renames a member. Members may rename themselves; renaming anyone
// else requires team:manage.
func (s *Service) UpdateMemberName(ctx context.Context, caller authz.Caller, orgID, memberID, name string) (*models.Member, error) {
	name, err := normalizeName(name)
	if err != nil {
		return nil, err
	}

	var result *models.Member
	err = s.inOrganization(ctx, caller, orgID, func(ctx context.Context, sc *txScope) error {
		actor, err := sc.gate.RequireAuth(ctx, caller, orgID)
		if err != nil {
			return err
		}
		if actor.ID != memberID {
			if actor, err = sc.gate.RequirePermission(ctx, caller, orgID, auth.CategoryTeam, auth.LevelManage); err != nil {
				return err
			}
		}
		target, err := sc.target(ctx, memberID)
		if err != nil {
			return err
		}
		if err := guard("elevation", authz.CheckAuthorityOver(actor, target)); err != nil {
			return err
		}

		changes := authz.DiffFields(
			map[string]interface{}{"name": target.Name},
			map[string]interface{}{"name": name},
		)
		target.Name = name
		if _, err := s.applyUpdate(ctx, sc, actorOf(actor), target, changes); err != nil {
			return err
		}
		result = target
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateMemberStatus sets the caller's own presence to active or busy.
// Deactivation goes through RemoveMember.
func (s *Service) UpdateMemberStatus(ctx context.Context, caller authz.Caller, orgID string, status models.MemberStatus) (*models.Member, error) {
	if status != models.MemberStatusActive && status != models.MemberStatusBusy {
		return nil, fmt.Errorf("%w: status must be active or busy", ErrInvalidInput)
	}

	var result *models.Member
	err := s.inOrganization(ctx, caller, orgID, func(ctx context.Context, sc *txScope) error {
		self, err := sc.gate.RequireAuth(ctx, caller, orgID)
		if err != nil {
			return err
		}
		changes := authz.DiffFields(
			map[string]interface{}{"status": string(self.Status)},
			map[string]interface{}{"status": string(status)},
		)
		self.Status = status
		if _, err := s.applyUpdate(ctx, sc, actorOf(self), self, changes); err != nil {
			return err
		}
		result = self
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RemoveMember deactivates a member. The record is kept with status inactive.
func (s *Service) RemoveMember(ctx context.Context, caller authz.Caller, orgID, memberID string) (*models.Member, error) {
	var result *models.Member
	err := s.inOrganization(ctx, caller, orgID, func(ctx context.Context, sc *txScope) error {
		actor, err := sc.gate.RequirePermission(ctx, caller, orgID, auth.CategoryTeam, auth.LevelManage)
		if err != nil {
			return err
		}
		target, err := sc.target(ctx, memberID)
		if err != nil {
			return err
		}
		if err := guard("self_removal", authz.CheckSelfRemoval(actor, target)); err != nil {
			return err
		}
		if err := guard("elevation", authz.CheckAuthorityOver(actor, target)); err != nil {
			return err
		}
		if target.Status == models.MemberStatusInactive {
			result = target
			return nil
		}
		roster, err := sc.tx.ListMembers(ctx, orgID)
		if err != nil {
			return err
		}
		if err := guard("last_admin", authz.CheckAdminRemoval(target, roster)); err != nil {
			return err
		}

		changes := authz.DiffFields(
			map[string]interface{}{"status": string(target.Status)},
			map[string]interface{}{"status": string(models.MemberStatusInactive)},
		)
		target.Status = models.MemberStatusInactive
		if _, err := s.applyUpdate(ctx, sc, actorOf(actor), target, changes); err != nil {
			return err
		}
		slog.InfoContext(ctx, "member deactivated", "organization_id", orgID, "member_id", target.ID, "actor_id", actor.ID)
		result = target
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReactivateMember restores an inactive member to active
func (s *Service) ReactivateMember(ctx context.Context, caller authz.Caller, orgID, memberID string) (*models.Member, error) {
	var result *models.Member
	err := s.inOrganization(ctx, caller, orgID, func(ctx context.Context, sc *txScope) error {
		actor, err := sc.gate.RequirePermission(ctx, caller, orgID, auth.CategoryTeam, auth.LevelManage)
		if err != nil {
			return err
		}
		target, err := sc.target(ctx, memberID)
		if err != nil {
			return err
		}
		if err := guard("elevation", authz.CheckAuthorityOver(actor, target)); err != nil {
			return err
		}
		if target.Status != models.MemberStatusInactive {
			result = target
			return nil
		}

		changes := authz.DiffFields(
			map[string]interface{}{"status": string(target.Status)},
			map[string]interface{}{"status": string(models.MemberStatusActive)},
		)
		target.Status = models.MemberStatusActive
		if _, err := s.applyUpdate(ctx, sc, actorOf(actor), target, changes); err != nil {
			return err
		}
		result = target
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
