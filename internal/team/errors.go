package team

import "errors"

var (
	// ErrNotFound is returned when the target member does not exist in the organization
	ErrNotFound = errors.New("team: not found")
	// ErrInvalidInput is returned for malformed names, roles, statuses or permission sets
	ErrInvalidInput = errors.New("team: invalid input")
	// ErrConflict is returned when a slug, email or identity is already taken
	ErrConflict = errors.New("team: conflict")
)
