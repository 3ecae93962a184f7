package audit

import (
	"fmt"
	"strings"

	"github.com/tenantcrm/crm/internal/db/models"
)

var actionVerbs = map[models.Action]string{
	models.ActionCreate:  "Created",
	models.ActionUpdate:  "Updated",
	models.ActionDelete:  "Deleted",
	models.ActionMove:    "Moved",
	models.ActionAssign:  "Assigned",
	models.ActionHandoff: "Handed off",
}

var entityLabels = map[models.EntityType]string{
	models.EntityLead:            "lead",
	models.EntityContact:         "contact",
	models.EntityOrganization:    "organization",
	models.EntityMember:          "member",
	models.EntityHandoff:         "handoff",
	models.EntityMessage:         "message",
	models.EntityBoard:           "board",
	models.EntityStage:           "stage",
	models.EntityWebhook:         "webhook",
	models.EntityLeadSource:      "lead source",
	models.EntityFieldDefinition: "field definition",
	models.EntityAPIKey:          "API key",
	models.EntitySavedView:       "saved view",
	models.EntityTask:            "task",
	models.EntityCalendarEvent:   "calendar event",
}

// Metadata keys read by Describe
const (
	MetaName           = "name"
	MetaFromStageName  = "fromStageName"
	MetaToStageName    = "toStageName"
	MetaAssigneeName   = "assigneeName"
	MetaFromMemberName = "fromMemberName"
	MetaToMemberName   = "toMemberName"
)

// Describe builds the human-readable description of a mutation. Only field names and
// counts from changes are used; changed values never appear in the text.
func Describe(action models.Action, entityType models.EntityType, metadata map[string]interface{}, changes *models.Changes) string {
	verb, ok := actionVerbs[action]
	if !ok {
		verb = string(action)
	}
	label, ok := entityLabels[entityType]
	if !ok {
		label = strings.ReplaceAll(string(entityType), "_", " ")
	}

	var b strings.Builder
	b.WriteString(verb)
	b.WriteString(" ")
	b.WriteString(label)
	if name := metaString(metadata, MetaName); name != "" {
		fmt.Fprintf(&b, " '%s'", name)
	}

	switch action {
	case models.ActionMove:
		from, to := metaString(metadata, MetaFromStageName), metaString(metadata, MetaToStageName)
		if from != "" && to != "" {
			fmt.Fprintf(&b, " from '%s' to '%s'", from, to)
		}
	case models.ActionAssign:
		if assignee := metaString(metadata, MetaAssigneeName); assignee != "" {
			fmt.Fprintf(&b, " to %s", assignee)
		}
	case models.ActionHandoff:
		from, to := metaString(metadata, MetaFromMemberName), metaString(metadata, MetaToMemberName)
		switch {
		case from != "" && to != "":
			fmt.Fprintf(&b, " from %s to %s", from, to)
		case to != "":
			fmt.Fprintf(&b, " to %s", to)
		}
	case models.ActionUpdate:
		if changes != nil {
			switch n := len(changes.After); {
			case n == 1:
				for field := range changes.After {
					fmt.Fprintf(&b, " (%s)", field)
				}
			case n > 1:
				fmt.Fprintf(&b, " (%d fields)", n)
			}
		}
	}

	return b.String()
}

// metaString returns metadata[key] when it is a string, else ""
func metaString(metadata map[string]interface{}, key string) string {
	if metadata == nil {
		return ""
	}
	s, _ := metadata[key].(string)
	return s
}
