package audit

import (
	"fmt"

	"github.com/tenantcrm/crm/internal/db/models"
)

// settingsEntities are organization configuration records; edits to them change
// behaviour for every member of the organization.
var settingsEntities = map[models.EntityType]bool{
	models.EntityOrganization:    true,
	models.EntityWebhook:         true,
	models.EntityFieldDefinition: true,
	models.EntityLeadSource:      true,
	models.EntityStage:           true,
	models.EntityBoard:           true,
}

// lowRiskMemberFields are member fields whose change alone is a presence or cosmetic edit
var lowRiskMemberFields = map[string]bool{
	"status":     true,
	"avatar_url": true,
}

// sensitiveMemberFields are member fields that alter what the member may do
var sensitiveMemberFields = map[string]bool{
	"role":        true,
	"permissions": true,
}

// SeverityFor derives the severity of a mutation. Entity-specific rules win over the
// per-action baseline.
func SeverityFor(action models.Action, entityType models.EntityType, changes *models.Changes) models.Severity {
	switch entityType {
	case models.EntityMember:
		return memberSeverity(action, changes)
	case models.EntityAPIKey:
		return models.SeverityHigh
	}

	if settingsEntities[entityType] {
		switch action {
		case models.ActionDelete:
			if entityType == models.EntityWebhook || entityType == models.EntityOrganization || entityType == models.EntityFieldDefinition {
				return models.SeverityHigh
			}
		case models.ActionUpdate:
			return models.SeverityMedium
		}
	}

	return baselineSeverity(action)
}

func baselineSeverity(action models.Action) models.Severity {
	switch action {
	case models.ActionDelete:
		return models.SeverityHigh
	case models.ActionCreate:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func memberSeverity(action models.Action, changes *models.Changes) models.Severity {
	switch action {
	case models.ActionDelete:
		return models.SeverityCritical
	case models.ActionCreate:
		return models.SeverityMedium
	case models.ActionUpdate:
		if changes == nil || len(changes.After) == 0 {
			return models.SeverityMedium
		}
		// Deactivation revokes all access, so it is not a presence edit.
		if status, ok := changes.After["status"]; ok && fmt.Sprint(status) == string(models.MemberStatusInactive) {
			return models.SeverityHigh
		}
		onlyLowRisk := true
		for field := range changes.After {
			if sensitiveMemberFields[field] {
				return models.SeverityHigh
			}
			if !lowRiskMemberFields[field] {
				onlyLowRisk = false
			}
		}
		if onlyLowRisk {
			return models.SeverityLow
		}
		return models.SeverityMedium
	}
	return baselineSeverity(action)
}
