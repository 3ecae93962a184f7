package authz

import "errors"

// Gate failures. All are terminal for the calling operation and never retried.
var (
	ErrUnauthenticated        = errors.New("authz: unauthenticated")
	ErrUnauthorized           = errors.New("authz: not a member of this organization")
	ErrInsufficientPermission = errors.New("authz: insufficient permission")
)

// Guard invariant violations on member-management mutations
var (
	ErrElevationDenied    = errors.New("authz: role elevation denied")
	ErrLastAdminProtected = errors.New("authz: organization must keep at least one active admin")
	ErrSelfRemovalDenied  = errors.New("authz: members cannot remove themselves")
)
