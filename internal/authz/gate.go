// Package authz gates every state-changing operation of an organization.
//
// The Gate resolves the caller's member row on every call and computes the effective
// permission set from that row; nothing is cached between calls, so a revocation takes
// effect on the very next request. The guard functions in guards.go are pure checks over
// an actor, a target, and a roster snapshot read inside the same transaction as the write.
package authz

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tenantcrm/crm/internal/auth"
	"github.com/tenantcrm/crm/internal/db/models"
	"github.com/tenantcrm/crm/internal/store"
	"github.com/tenantcrm/crm/internal/telemetry"
)

// Caller is the identity behind one request, passed explicitly from the transport layer.
// IPAddress and UserAgent are set only for calls that arrived over the external API.
type Caller struct {
	IdentityID string
	Email      string
	IPAddress  string
	UserAgent  string
}

// Authenticated reports whether an identity was resolved for the request
func (c Caller) Authenticated() bool {
	return c.IdentityID != ""
}

// Gate answers membership and permission checks against the current member rows
type Gate struct {
	members store.MemberReader
}

// NewGate creates a Gate reading members through r. Inside a transaction pass the
// transaction so the check sees the same snapshot as the write.
func NewGate(r store.MemberReader) *Gate {
	return &Gate{members: r}
}

// RequireAuth returns the caller's member record in the organization.
// Inactive members are treated as having no membership.
func (g *Gate) RequireAuth(ctx context.Context, caller Caller, orgID string) (*models.Member, error) {
	if !caller.Authenticated() {
		telemetry.AuthzDecisionsTotal.WithLabelValues("membership", "unauthenticated").Inc()
		return nil, ErrUnauthenticated
	}

	member, err := g.members.GetMemberByIdentity(ctx, orgID, caller.IdentityID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve membership: %w", err)
	}
	if member == nil || !member.IsEnabled() {
		telemetry.AuthzDecisionsTotal.WithLabelValues("membership", "unauthorized").Inc()
		return nil, ErrUnauthorized
	}

	return member, nil
}

// RequirePermission checks membership and that the member's effective level in category
// is at least required. It never writes audit entries.
func (g *Gate) RequirePermission(ctx context.Context, caller Caller, orgID string, category auth.Category, required auth.Level) (*models.Member, error) {
	member, err := g.RequireAuth(ctx, caller, orgID)
	if err != nil {
		return nil, err
	}

	if !auth.Satisfies(member.EffectivePermissions(), category, required) {
		telemetry.AuthzDecisionsTotal.WithLabelValues(string(category), "denied").Inc()
		slog.DebugContext(ctx, "permission denied",
			"organization_id", orgID,
			"member_id", member.ID,
			"category", category,
			"required", required,
		)
		return nil, fmt.Errorf("%w: requires %s:%s", ErrInsufficientPermission, category, required)
	}

	telemetry.AuthzDecisionsTotal.WithLabelValues(string(category), "allowed").Inc()
	return member, nil
}
