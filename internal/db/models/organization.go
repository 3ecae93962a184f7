// Package models - organization.go defines the Organization model, the tenant boundary
// every member and audit entry belongs to.
package models

import "time"

// Organization represents a tenant of the CRM
type Organization struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Slug      string    `db:"slug" json:"slug"` // URL-safe, unique
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
