package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tenantcrm/crm/internal/db/models"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		name     string
		action   models.Action
		entity   models.EntityType
		metadata map[string]interface{}
		changes  *models.Changes
		want     string
	}{
		{
			name:    "single changed field",
			action:  models.ActionUpdate,
			entity:  models.EntityMember,
			changes: &models.Changes{After: map[string]interface{}{"status": "inactive"}},
			want:    "Updated member (status)",
		},
		{
			name:   "two changed fields",
			action: models.ActionUpdate,
			entity: models.EntityMember,
			changes: &models.Changes{After: map[string]interface{}{
				"role": "manager",
				"name": "Bea",
			}},
			want: "Updated member (2 fields)",
		},
		{
			name:   "move with stages",
			action: models.ActionMove,
			entity: models.EntityLead,
			metadata: map[string]interface{}{
				"name":          "Acme Deal",
				"fromStageName": "New",
				"toStageName":   "Won",
			},
			want: "Moved lead 'Acme Deal' from 'New' to 'Won'",
		},
		{
			name:     "move without stages",
			action:   models.ActionMove,
			entity:   models.EntityLead,
			metadata: map[string]interface{}{"name": "Acme Deal"},
			want:     "Moved lead 'Acme Deal'",
		},
		{
			name:     "assign",
			action:   models.ActionAssign,
			entity:   models.EntityTask,
			metadata: map[string]interface{}{"name": "Call back", "assigneeName": "Dana"},
			want:     "Assigned task 'Call back' to Dana",
		},
		{
			name:     "handoff with both sides",
			action:   models.ActionHandoff,
			entity:   models.EntityLead,
			metadata: map[string]interface{}{"name": "Acme", "fromMemberName": "Bot", "toMemberName": "Dana"},
			want:     "Handed off lead 'Acme' from Bot to Dana",
		},
		{
			name:     "handoff with target only",
			action:   models.ActionHandoff,
			entity:   models.EntityLead,
			metadata: map[string]interface{}{"toMemberName": "Dana"},
			want:     "Handed off lead to Dana",
		},
		{
			name:     "create with name",
			action:   models.ActionCreate,
			entity:   models.EntityLeadSource,
			metadata: map[string]interface{}{"name": "Website"},
			want:     "Created lead source 'Website'",
		},
		{
			name:   "delete api key",
			action: models.ActionDelete,
			entity: models.EntityAPIKey,
			want:   "Deleted API key",
		},
		{
			name:     "non-string name is ignored",
			action:   models.ActionCreate,
			entity:   models.EntityCalendarEvent,
			metadata: map[string]interface{}{"name": 42},
			want:     "Created calendar event",
		},
		{
			name:    "update with empty changes",
			action:  models.ActionUpdate,
			entity:  models.EntityContact,
			changes: &models.Changes{},
			want:    "Updated contact",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Describe(tt.action, tt.entity, tt.metadata, tt.changes))
		})
	}
}

func TestDescribeNeverIncludesValues(t *testing.T) {
	changes := &models.Changes{
		Before: map[string]interface{}{"email": "old@example.com"},
		After:  map[string]interface{}{"email": "new@example.com"},
	}
	got := Describe(models.ActionUpdate, models.EntityContact, nil, changes)
	assert.Equal(t, "Updated contact (email)", got)
	assert.NotContains(t, got, "example.com")
}

func TestEveryEntityTypeHasLabel(t *testing.T) {
	for _, et := range models.AllEntityTypes() {
		_, ok := entityLabels[et]
		assert.True(t, ok, "missing label for %s", et)
	}
}
