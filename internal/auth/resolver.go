// Package auth - resolver.go computes a member's effective permission set and answers
// level comparisons against a category's ordered hierarchy.
package auth

import "fmt"

// noAccess is the effective set of an unknown role; it fails every check above "none".
var noAccess = PermissionSet{
	Leads:     LevelNone,
	Contacts:  LevelNone,
	Inbox:     LevelNone,
	Tasks:     LevelNone,
	Reports:   LevelNone,
	Team:      LevelNone,
	Settings:  LevelNone,
	AuditLogs: LevelNone,
	APIKeys:   LevelNone,
}

// Resolve returns the effective permission set for a member.
// A non-nil override replaces the role defaults entirely; it is never merged.
func Resolve(role Role, override *PermissionSet) PermissionSet {
	if override != nil {
		return *override
	}
	if set, ok := roleDefaults[role]; ok {
		return set
	}
	return noAccess
}

// levelIndex returns the position of a level inside a category's hierarchy, or -1.
func levelIndex(c Category, l Level) int {
	for i, candidate := range categoryLevels[c] {
		if candidate == l {
			return i
		}
	}
	return -1
}

// Satisfies reports whether the set's level for category is at least required.
// Unknown categories or level names fail closed.
func Satisfies(set PermissionSet, category Category, required Level) bool {
	current, ok := set.Level(category)
	if !ok {
		return false
	}
	requiredIdx := levelIndex(category, required)
	currentIdx := levelIndex(category, current)
	if requiredIdx < 0 || currentIdx < 0 {
		return false
	}
	return currentIdx >= requiredIdx
}

// ValidLevel reports whether l exists in the hierarchy of c
func ValidLevel(c Category, l Level) bool {
	return levelIndex(c, l) >= 0
}

// ValidatePermissionSet checks that every category holds a level defined for it.
// Overrides are persisted only when complete, so a partial set is rejected here.
func ValidatePermissionSet(set PermissionSet) error {
	for _, c := range AllCategories() {
		l, _ := set.Level(c)
		if l == "" {
			return fmt.Errorf("missing level for category %s", c)
		}
		if !ValidLevel(c, l) {
			return fmt.Errorf("invalid level %q for category %s", l, c)
		}
	}
	return nil
}
