// Package models - audit_entry.go defines the AuditEntry model, an append-only record of one
// mutation: who did what to which entity, the changed fields before and after, a severity,
// and a human-readable description.
package models

import "time"

// EntityType is the kind of entity an audit entry refers to
type EntityType string

const (
	EntityLead            EntityType = "lead"
	EntityContact         EntityType = "contact"
	EntityOrganization    EntityType = "organization"
	EntityMember          EntityType = "member"
	EntityHandoff         EntityType = "handoff"
	EntityMessage         EntityType = "message"
	EntityBoard           EntityType = "board"
	EntityStage           EntityType = "stage"
	EntityWebhook         EntityType = "webhook"
	EntityLeadSource      EntityType = "lead_source"
	EntityFieldDefinition EntityType = "field_definition"
	EntityAPIKey          EntityType = "api_key"
	EntitySavedView       EntityType = "saved_view"
	EntityTask            EntityType = "task"
	EntityCalendarEvent   EntityType = "calendar_event"
)

// AllEntityTypes returns every tracked entity type
func AllEntityTypes() []EntityType {
	return []EntityType{
		EntityLead, EntityContact, EntityOrganization, EntityMember, EntityHandoff,
		EntityMessage, EntityBoard, EntityStage, EntityWebhook, EntityLeadSource,
		EntityFieldDefinition, EntityAPIKey, EntitySavedView, EntityTask, EntityCalendarEvent,
	}
}

// Action is the kind of mutation recorded
type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionMove    Action = "move"
	ActionAssign  Action = "assign"
	ActionHandoff Action = "handoff"
)

// ActorType identifies who performed a mutation
type ActorType string

const (
	ActorHuman  ActorType = "human"
	ActorAI     ActorType = "ai"
	ActorSystem ActorType = "system"
)

// Severity is the derived importance of an audit entry
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Changes holds only the fields a mutation changed, never the full entity
type Changes struct {
	Before map[string]interface{} `json:"before"`
	After  map[string]interface{} `json:"after"`
}

// AuditEntry represents one immutable audit log row
type AuditEntry struct {
	ID             string                 `json:"id"` // ULID
	OrganizationID string                 `json:"organization_id"`
	EntityType     EntityType             `json:"entity_type"`
	EntityID       string                 `json:"entity_id"`
	Action         Action                 `json:"action"`
	ActorID        string                 `json:"actor_id"`
	ActorType      ActorType              `json:"actor_type"`
	Changes        *Changes               `json:"changes,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Severity       Severity               `json:"severity"`
	Description    string                 `json:"description"`
	IPAddress      *string                `json:"ip_address,omitempty"` // set for external API calls
	UserAgent      *string                `json:"user_agent,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}
