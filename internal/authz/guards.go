package authz

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/tenantcrm/crm/internal/auth"
	"github.com/tenantcrm/crm/internal/db/models"
)

func rankOf(r auth.Role) int {
	rank, ok := auth.RoleRank(r)
	if !ok {
		return -1
	}
	return rank
}

// CheckAuthorityOver denies acting on a member whose role outranks the actor's
func CheckAuthorityOver(actor, target *models.Member) error {
	if rankOf(target.Role) > rankOf(actor.Role) {
		return fmt.Errorf("%w: cannot modify a %s as %s", ErrElevationDenied, target.Role, actor.Role)
	}
	return nil
}

// CheckRoleAssignment enforces the elevation ceiling: the new role may not rank above
// the actor's own role. target is nil when the role is assigned to a new invite.
func CheckRoleAssignment(actor, target *models.Member, newRole auth.Role) error {
	if target != nil {
		if err := CheckAuthorityOver(actor, target); err != nil {
			return err
		}
	}
	actorRank := rankOf(actor.Role)
	newRank := rankOf(newRole)
	if actorRank < 0 || newRank < 0 || newRank > actorRank {
		return fmt.Errorf("%w: %s cannot assign role %s", ErrElevationDenied, actor.Role, newRole)
	}
	return nil
}

// otherEnabledAdmins counts admins in the roster, other than target, whose membership is in force
func otherEnabledAdmins(target *models.Member, roster []*models.Member) int {
	n := 0
	for _, m := range roster {
		if m.ID == target.ID || m.OrganizationID != target.OrganizationID {
			continue
		}
		if m.Role == auth.RoleAdmin && m.IsEnabled() {
			n++
		}
	}
	return n
}

// CheckAdminDemotion refuses to move the last admin away from the admin role
func CheckAdminDemotion(target *models.Member, newRole auth.Role, roster []*models.Member) error {
	if target.Role != auth.RoleAdmin || newRole == auth.RoleAdmin {
		return nil
	}
	if otherEnabledAdmins(target, roster) == 0 {
		return ErrLastAdminProtected
	}
	return nil
}

// CheckAdminRemoval refuses to deactivate the last admin
func CheckAdminRemoval(target *models.Member, roster []*models.Member) error {
	if target.Role != auth.RoleAdmin {
		return nil
	}
	if otherEnabledAdmins(target, roster) == 0 {
		return ErrLastAdminProtected
	}
	return nil
}

// CheckSelfRemoval refuses to let a member deactivate their own record
func CheckSelfRemoval(actor, target *models.Member) error {
	if actor.ID == target.ID {
		return ErrSelfRemovalDenied
	}
	return nil
}

// DiffFields compares two field snapshots and returns only the fields whose values differ.
// It returns nil when nothing changed, which callers use to skip the write and the audit entry.
func DiffFields(before, after map[string]interface{}) *models.Changes {
	keys := make([]string, 0, len(after))
	for k := range after {
		keys = append(keys, k)
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	changes := &models.Changes{
		Before: map[string]interface{}{},
		After:  map[string]interface{}{},
	}
	for _, k := range keys {
		b, a := before[k], after[k]
		if reflect.DeepEqual(b, a) {
			continue
		}
		changes.Before[k] = b
		changes.After[k] = a
	}

	if len(changes.After) == 0 {
		return nil
	}
	return changes
}

// CheckPermissionCeiling refuses an override granting any category a level above the
// actor's own effective level in that category.
func CheckPermissionCeiling(actor *models.Member, set *auth.PermissionSet) error {
	if set == nil {
		return nil
	}
	own := actor.EffectivePermissions()
	for _, c := range auth.AllCategories() {
		granted, _ := set.Level(c)
		if !auth.Satisfies(own, c, granted) {
			return fmt.Errorf("%w: cannot grant %s:%s", ErrElevationDenied, c, granted)
		}
	}
	return nil
}

// CheckAdminOverride refuses an override that would strip team:manage from the last admin
func CheckAdminOverride(target *models.Member, set *auth.PermissionSet, roster []*models.Member) error {
	if target.Role != auth.RoleAdmin || set == nil || auth.Satisfies(*set, auth.CategoryTeam, auth.LevelManage) {
		return nil
	}
	if otherEnabledAdmins(target, roster) == 0 {
		return ErrLastAdminProtected
	}
	return nil
}
