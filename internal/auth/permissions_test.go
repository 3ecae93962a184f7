package auth

import "testing"

func TestRoleDefaultsCoverEveryCategory(t *testing.T) {
	for _, role := range AllRoles() {
		set, ok := RoleDefaults(role)
		if !ok {
			t.Fatalf("RoleDefaults(%s) missing", role)
		}
		for _, c := range AllCategories() {
			l, ok := set.Level(c)
			if !ok || l == "" {
				t.Errorf("role %s has no level for category %s", role, c)
				continue
			}
			if !ValidLevel(c, l) {
				t.Errorf("role %s has level %q not defined for category %s", role, l, c)
			}
		}
	}
}

func TestResolveWithoutOverrideCoversEveryCategory(t *testing.T) {
	for _, role := range AllRoles() {
		if err := ValidatePermissionSet(Resolve(role, nil)); err != nil {
			t.Errorf("Resolve(%s, nil) incomplete: %v", role, err)
		}
	}
}

func TestAdminHoldsTopLevelEverywhere(t *testing.T) {
	set, _ := RoleDefaults(RoleAdmin)
	for _, c := range AllCategories() {
		levels := Levels(c)
		top := levels[len(levels)-1]
		if got, _ := set.Level(c); got != top {
			t.Errorf("admin %s = %s, want %s", c, got, top)
		}
	}
}

func TestLevelsReturnsCopy(t *testing.T) {
	levels := Levels(CategoryTeam)
	levels[0] = LevelFull
	if Levels(CategoryTeam)[0] != LevelNone {
		t.Error("Levels() exposed the catalog's backing slice")
	}
	if Levels("unknown") != nil {
		t.Error("Levels(unknown) should be nil")
	}
}

func TestRoleRank(t *testing.T) {
	tests := []struct {
		role Role
		want int
	}{
		{RoleAdmin, 3},
		{RoleManager, 2},
		{RoleAgent, 1},
		{RoleAI, 0},
	}
	for _, tt := range tests {
		got, ok := RoleRank(tt.role)
		if !ok || got != tt.want {
			t.Errorf("RoleRank(%s) = %d, %v; want %d", tt.role, got, ok, tt.want)
		}
	}
	if _, ok := RoleRank("owner"); ok {
		t.Error("RoleRank(owner) should be unknown")
	}
	if err := ValidateRole("owner"); err == nil {
		t.Error("ValidateRole(owner) expected error")
	}
}

func TestValidateRoleListsKnownRoles(t *testing.T) {
	if err := ValidateRole(RoleManager); err != nil {
		t.Fatalf("ValidateRole(manager) = %v", err)
	}
	err := ValidateRole("owner")
	if err == nil {
		t.Fatal("ValidateRole(owner) = nil, want error")
	}
	want := `invalid role "owner": must be one of admin, manager, agent, ai`
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}
