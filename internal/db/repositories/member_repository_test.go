package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/tenantcrm/crm/internal/auth"
	"github.com/tenantcrm/crm/internal/db/models"
	"github.com/tenantcrm/crm/internal/store"
)

var memberCols = []string{
	"id", "organization_id", "identity_id", "name", "email", "role", "type", "status",
	"permissions_override", "avatar_url", "created_at", "updated_at",
}

const agentOverrideJSON = `{"leads":"view_all","contacts":"view","inbox":"view","tasks":"view_own",` +
	`"reports":"none","team":"view","settings":"none","auditLogs":"none","apiKeys":"none"}`

func sampleMemberRows() *sqlmock.Rows {
	return sqlmock.NewRows(memberCols).
		AddRow(memberID, orgID, "idp|alice", "Alice", "alice@example.com", "manager", "human", "active",
			[]byte(agentOverrideJSON), nil, time.Now(), time.Now())
}

func TestGetMemberByIdentity_DecodesOverride(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("FROM members\\s+WHERE organization_id = \\$1 AND identity_id = \\$2").
		WithArgs(orgID, "idp|alice").
		WillReturnRows(sampleMemberRows())

	m, err := NewMemberRepository(db).GetMemberByIdentity(context.Background(), orgID, "idp|alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m == nil {
		t.Fatal("expected member, got nil")
	}
	if m.Role != auth.RoleManager || m.Status != models.MemberStatusActive {
		t.Errorf("role/status = %s/%s", m.Role, m.Status)
	}
	if m.IdentityID == nil || *m.IdentityID != "idp|alice" {
		t.Errorf("IdentityID = %v", m.IdentityID)
	}
	if m.AvatarURL != nil {
		t.Errorf("AvatarURL = %v, want nil", *m.AvatarURL)
	}
	if m.PermissionsOverride == nil {
		t.Fatal("expected override")
	}
	if got := m.EffectivePermissions().Team; got != auth.LevelView {
		t.Errorf("effective team level = %s, want view (override replaces manager defaults)", got)
	}
}

func TestGetMemberByIdentity_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("FROM members").WillReturnRows(sqlmock.NewRows(memberCols))

	m, err := NewMemberRepository(db).GetMemberByIdentity(context.Background(), orgID, "idp|nobody")
	if err != nil || m != nil {
		t.Errorf("got (%v, %v), want (nil, nil)", m, err)
	}
}

func TestGetMember_CorruptOverride(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("FROM members").
		WillReturnRows(sqlmock.NewRows(memberCols).
			AddRow(memberID, orgID, nil, "Bot", nil, "ai", "ai", "active", []byte(`{bad`), nil, time.Now(), time.Now()))

	if _, err := NewMemberRepository(db).GetMember(context.Background(), orgID, memberID); err == nil {
		t.Error("expected decode error, got nil")
	}
}

func TestListMembers(t *testing.T) {
	db, mock := newMockDB(t)
	rows := sampleMemberRows().
		AddRow("b3d2b8c4-5e6f-4a7b-8c9d-0e1f2a3b4c5d", orgID, nil, "Bot", nil, "ai", "ai", "busy", nil, "https://cdn/x.png", time.Now(), time.Now())
	mock.ExpectQuery("FROM members\\s+WHERE organization_id = \\$1\\s+ORDER BY").
		WithArgs(orgID).
		WillReturnRows(rows)

	members, err := NewMemberRepository(db).ListMembers(context.Background(), orgID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("len = %d, want 2", len(members))
	}
	if members[1].PermissionsOverride != nil || members[1].IdentityID != nil {
		t.Errorf("second member should have no override or identity: %+v", members[1])
	}
	if members[1].AvatarURL == nil || *members[1].AvatarURL != "https://cdn/x.png" {
		t.Errorf("AvatarURL = %v", members[1].AvatarURL)
	}
}

func TestListUnlinkedMembersByEmail(t *testing.T) {
	t.Run("all organizations", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery("identity_id IS NULL AND lower\\(email\\) = lower\\(\\$1\\)\\s+ORDER BY").
			WithArgs("bob@example.com").
			WillReturnRows(sqlmock.NewRows(memberCols))

		if _, err := NewMemberRepository(db).ListUnlinkedMembersByEmail(context.Background(), "bob@example.com", nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("one organization", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery("AND organization_id = \\$2").
			WithArgs("bob@example.com", orgID).
			WillReturnRows(sqlmock.NewRows(memberCols))

		org := orgID
		if _, err := NewMemberRepository(db).ListUnlinkedMembersByEmail(context.Background(), "bob@example.com", &org); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestCreateMember(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()
	mock.ExpectQuery("INSERT INTO members").
		WithArgs(sqlmock.AnyArg(), orgID, nil, "Bob", "bob@example.com", auth.RoleAgent, models.MemberTypeHuman, models.MemberStatusActive, nil, nil).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	m := &models.Member{
		OrganizationID: orgID,
		Name:           "Bob",
		Email:          strPtr("bob@example.com"),
		Role:           auth.RoleAgent,
		Type:           models.MemberTypeHuman,
		Status:         models.MemberStatusActive,
	}
	if err := NewMemberRepository(db).CreateMember(context.Background(), m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.ID == "" {
		t.Error("ID was not assigned")
	}
}

func TestCreateMember_DuplicateIdentity(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("INSERT INTO members").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "members_org_identity_idx"})

	err := NewMemberRepository(db).CreateMember(context.Background(), &models.Member{OrganizationID: orgID, IdentityID: strPtr("idp|x")})
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("err = %v, want store.ErrConflict", err)
	}
}

func TestUpdateMember(t *testing.T) {
	db, mock := newMockDB(t)
	set, _ := auth.RoleDefaults(auth.RoleAgent)
	mock.ExpectQuery("UPDATE members").
		WithArgs(orgID, memberID, nil, "Bob", nil, auth.RoleManager, models.MemberTypeHuman, models.MemberStatusActive, sqlmock.AnyArg(), nil).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(time.Now()))

	m := &models.Member{
		ID:                  memberID,
		OrganizationID:      orgID,
		Name:                "Bob",
		Role:                auth.RoleManager,
		Type:                models.MemberTypeHuman,
		Status:              models.MemberStatusActive,
		PermissionsOverride: &set,
	}
	if err := NewMemberRepository(db).UpdateMember(context.Background(), m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpdateMember_Missing(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("UPDATE members").WillReturnRows(sqlmock.NewRows([]string{"updated_at"}))

	err := NewMemberRepository(db).UpdateMember(context.Background(), &models.Member{ID: memberID, OrganizationID: orgID})
	if err == nil {
		t.Error("expected error for missing member")
	}
}

func TestLinkMemberIdentity(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`UPDATE members\s+SET identity_id = \$3, updated_at = now\(\)\s+WHERE organization_id = \$1 AND id = \$2\s+AND identity_id IS NULL AND status <> 'inactive'`).
		WithArgs(orgID, memberID, "idp|eve").
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(time.Now()))

	linked, err := NewMemberRepository(db).LinkMemberIdentity(context.Background(), orgID, memberID, "idp|eve")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !linked {
		t.Error("expected the member to be linked")
	}
}

func TestLinkMemberIdentity_NoLongerEligible(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("UPDATE members").
		WithArgs(orgID, memberID, "idp|eve").
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}))

	linked, err := NewMemberRepository(db).LinkMemberIdentity(context.Background(), orgID, memberID, "idp|eve")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if linked {
		t.Error("an inactive or already linked member must not be linked")
	}
}

func TestLinkMemberIdentity_DuplicateIdentity(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("UPDATE members").
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := NewMemberRepository(db).LinkMemberIdentity(context.Background(), orgID, memberID, "idp|eve")
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("err = %v, want store.ErrConflict", err)
	}
}
