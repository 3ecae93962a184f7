// Package auth - permissions.go defines the permission catalog: the closed set of permission
// categories, the ordered level hierarchy of each category, member roles with their rank,
// and the default permission set every role receives.
package auth

import (
	"fmt"
	"strings"
)

// Category is an independent axis of permission with its own level hierarchy
type Category string

const (
	CategoryLeads     Category = "leads"
	CategoryContacts  Category = "contacts"
	CategoryInbox     Category = "inbox"
	CategoryTasks     Category = "tasks"
	CategoryReports   Category = "reports"
	CategoryTeam      Category = "team"
	CategorySettings  Category = "settings"
	CategoryAuditLogs Category = "auditLogs"
	CategoryAPIKeys   Category = "apiKeys"
)

// Level is a named capability rung within one category's hierarchy.
// Levels are only comparable inside the category that defines them.
type Level string

const (
	LevelNone    Level = "none"
	LevelView    Level = "view"
	LevelViewOwn Level = "view_own"
	LevelViewAll Level = "view_all"
	LevelEditOwn Level = "edit_own"
	LevelEditAll Level = "edit_all"
	LevelEdit    Level = "edit"
	LevelReply   Level = "reply"
	LevelExport  Level = "export"
	LevelManage  Level = "manage"
	LevelFull    Level = "full"
)

// Role is a member's role inside an organization
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleAgent   Role = "agent"
	RoleAI      Role = "ai"
)

// categoryLevels holds each category's levels ordered from least to most capable.
var categoryLevels = map[Category][]Level{
	CategoryLeads:     {LevelNone, LevelViewOwn, LevelViewAll, LevelEditOwn, LevelEditAll, LevelFull},
	CategoryContacts:  {LevelNone, LevelView, LevelEdit, LevelFull},
	CategoryInbox:     {LevelNone, LevelView, LevelReply, LevelManage},
	CategoryTasks:     {LevelNone, LevelViewOwn, LevelViewAll, LevelEditOwn, LevelEditAll, LevelFull},
	CategoryReports:   {LevelNone, LevelView, LevelExport},
	CategoryTeam:      {LevelNone, LevelView, LevelManage},
	CategorySettings:  {LevelNone, LevelView, LevelManage},
	CategoryAuditLogs: {LevelNone, LevelView, LevelExport},
	CategoryAPIKeys:   {LevelNone, LevelView, LevelManage},
}

// PermissionSet maps every category to exactly one level.
// It is a fixed struct so a missing category is a schema error, not a silent fallback.
type PermissionSet struct {
	Leads     Level `json:"leads"`
	Contacts  Level `json:"contacts"`
	Inbox     Level `json:"inbox"`
	Tasks     Level `json:"tasks"`
	Reports   Level `json:"reports"`
	Team      Level `json:"team"`
	Settings  Level `json:"settings"`
	AuditLogs Level `json:"auditLogs"`
	APIKeys   Level `json:"apiKeys"`
}

// Level returns the level held for a category. The second return value is false
// for a category outside the catalog.
func (p PermissionSet) Level(c Category) (Level, bool) {
	switch c {
	case CategoryLeads:
		return p.Leads, true
	case CategoryContacts:
		return p.Contacts, true
	case CategoryInbox:
		return p.Inbox, true
	case CategoryTasks:
		return p.Tasks, true
	case CategoryReports:
		return p.Reports, true
	case CategoryTeam:
		return p.Team, true
	case CategorySettings:
		return p.Settings, true
	case CategoryAuditLogs:
		return p.AuditLogs, true
	case CategoryAPIKeys:
		return p.APIKeys, true
	}
	return "", false
}

// roleDefaults is the default permission set of every role. Every role carries an
// explicit value for every category.
var roleDefaults = map[Role]PermissionSet{
	RoleAdmin: {
		Leads:     LevelFull,
		Contacts:  LevelFull,
		Inbox:     LevelManage,
		Tasks:     LevelFull,
		Reports:   LevelExport,
		Team:      LevelManage,
		Settings:  LevelManage,
		AuditLogs: LevelExport,
		APIKeys:   LevelManage,
	},
	RoleManager: {
		Leads:     LevelFull,
		Contacts:  LevelFull,
		Inbox:     LevelManage,
		Tasks:     LevelFull,
		Reports:   LevelView,
		Team:      LevelManage,
		Settings:  LevelView,
		AuditLogs: LevelView,
		APIKeys:   LevelManage,
	},
	RoleAgent: {
		Leads:     LevelEditOwn,
		Contacts:  LevelEdit,
		Inbox:     LevelReply,
		Tasks:     LevelEditOwn,
		Reports:   LevelView,
		Team:      LevelNone,
		Settings:  LevelNone,
		AuditLogs: LevelNone,
		APIKeys:   LevelNone,
	},
	RoleAI: {
		Leads:     LevelEditOwn,
		Contacts:  LevelEdit,
		Inbox:     LevelReply,
		Tasks:     LevelEditOwn,
		Reports:   LevelView,
		Team:      LevelNone,
		Settings:  LevelNone,
		AuditLogs: LevelNone,
		APIKeys:   LevelNone,
	},
}

// roleRanks is the fixed total order used by the role elevation ceiling
var roleRanks = map[Role]int{
	RoleAdmin:   3,
	RoleManager: 2,
	RoleAgent:   1,
	RoleAI:      0,
}

// AllCategories returns all catalog categories in display order
func AllCategories() []Category {
	return []Category{
		CategoryLeads,
		CategoryContacts,
		CategoryInbox,
		CategoryTasks,
		CategoryReports,
		CategoryTeam,
		CategorySettings,
		CategoryAuditLogs,
		CategoryAPIKeys,
	}
}

// AllRoles returns all member roles, highest rank first
func AllRoles() []Role {
	return []Role{RoleAdmin, RoleManager, RoleAgent, RoleAI}
}

// Levels returns the ordered level list of a category, or nil for an unknown category.
// The returned slice is a copy.
func Levels(c Category) []Level {
	levels, ok := categoryLevels[c]
	if !ok {
		return nil
	}
	out := make([]Level, len(levels))
	copy(out, levels)
	return out
}

// RoleDefaults returns the default permission set of a role
func RoleDefaults(r Role) (PermissionSet, bool) {
	set, ok := roleDefaults[r]
	return set, ok
}

// RoleRank returns the rank of a role in the elevation order
func RoleRank(r Role) (int, bool) {
	rank, ok := roleRanks[r]
	return rank, ok
}

// ValidRole reports whether r is a known role
func ValidRole(r Role) bool {
	_, ok := roleRanks[r]
	return ok
}

// ValidateRole returns an error for an unknown role name
func ValidateRole(r Role) error {
	if !ValidRole(r) {
		roles := AllRoles()
		names := make([]string, len(roles))
		for i, role := range roles {
			names[i] = string(role)
		}
		return fmt.Errorf("invalid role %q: must be one of %s", r, strings.Join(names, ", "))
	}
	return nil
}
