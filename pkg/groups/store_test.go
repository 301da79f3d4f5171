package groups

import (
	"context"
	"database/sql"
	"io"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vaultisle/dataroom/pkg/observability"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE groups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			data_room_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			capabilities TEXT NOT NULL DEFAULT '{}',
			created_by INTEGER,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(data_room_id, name)
		);

		CREATE TABLE group_memberships (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			group_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			added_by INTEGER,
			added_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(group_id, user_id)
		);
	`)
	if err != nil {
		t.Fatalf("Failed to create test schema: %v", err)
	}
	return db
}

func newTestService(db *sql.DB) *Service {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewService(NewStore(db), logger)
}

func TestCreateGroupValidation(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	tests := []struct {
		name  string
		group Group
	}{
		{"missing room", Group{Name: "Legal", Type: TypeCustom}},
		{"missing name", Group{DataRoomID: 1, Type: TypeCustom}},
		{"unknown type", Group{DataRoomID: 1, Name: "Legal", Type: "SUPERUSER"}},
	}
	for _, tt := range tests {
		if err := store.CreateGroup(ctx, &tt.group); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}

func TestCreateAndGetGroup(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	group := &Group{
		DataRoomID:   1,
		Name:         "Buyers",
		Type:         TypeUser,
		Capabilities: Capabilities{CanViewGroupUsers: true},
	}
	if err := store.CreateGroup(ctx, group); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if group.ID == 0 {
		t.Fatal("expected assigned group ID")
	}

	got, err := store.GetGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	if got.Name != "Buyers" || got.Type != TypeUser {
		t.Errorf("unexpected group %+v", got)
	}
	if !got.Capabilities.CanViewGroupUsers || got.Capabilities.CanManageUsers {
		t.Errorf("capabilities did not round-trip: %+v", got.Capabilities)
	}
}

func TestAddMemberIdempotent(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	group := &Group{DataRoomID: 1, Name: "Buyers", Type: TypeUser}
	if err := store.CreateGroup(ctx, group); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	adder := int64(1)
	if err := store.AddMember(ctx, group.ID, 7, &adder); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}
	if err := store.AddMember(ctx, group.ID, 7, &adder); err != nil {
		t.Fatalf("re-adding a member must be a no-op, got: %v", err)
	}

	members, err := store.ListMembers(ctx, group.ID)
	if err != nil {
		t.Fatalf("ListMembers failed: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("expected 1 membership, got %d", len(members))
	}
	if members[0].UserID != 7 {
		t.Errorf("unexpected member %+v", members[0])
	}
}

func TestRemoveMemberAbsentIsNoop(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	group := &Group{DataRoomID: 1, Name: "Buyers", Type: TypeUser}
	if err := store.CreateGroup(ctx, group); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if err := store.RemoveMember(ctx, group.ID, 999); err != nil {
		t.Errorf("removing an absent member must be a no-op, got: %v", err)
	}
}

func TestIsAdministrator(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	ctx := context.Background()

	admin, err := svc.BootstrapDataRoom(ctx, 1, 42)
	if err != nil {
		t.Fatalf("BootstrapDataRoom failed: %v", err)
	}
	if !admin.IsAdministrator() {
		t.Fatal("bootstrap group must be an administrator group")
	}

	isAdmin, err := svc.IsAdministrator(ctx, 42, 1)
	if err != nil {
		t.Fatalf("IsAdministrator failed: %v", err)
	}
	if !isAdmin {
		t.Error("room creator should be an administrator")
	}

	isAdmin, err = svc.IsAdministrator(ctx, 7, 1)
	if err != nil {
		t.Fatalf("IsAdministrator failed: %v", err)
	}
	if isAdmin {
		t.Error("non-member must not be an administrator")
	}

	// Administrator membership is scoped to the room
	isAdmin, err = svc.IsAdministrator(ctx, 42, 2)
	if err != nil {
		t.Fatalf("IsAdministrator failed: %v", err)
	}
	if isAdmin {
		t.Error("administrator in room 1 must not be one in room 2")
	}
}

func TestAdministratorGroupGetsFullCapabilities(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	ctx := context.Background()

	group := &Group{
		DataRoomID: 1,
		Name:       "Extra Admins",
		Type:       TypeAdministrator,
		// Caller tried to hand out a reduced set
		Capabilities: Capabilities{},
	}
	if err := svc.CreateGroup(ctx, group); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	got, err := svc.Store().GetGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	if got.Capabilities != AdministratorCapabilities() {
		t.Errorf("administrator groups must carry the full capability set, got %+v", got.Capabilities)
	}
}

func TestDeleteLastAdministratorGroupRefused(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	ctx := context.Background()

	admin, err := svc.BootstrapDataRoom(ctx, 1, 42)
	if err != nil {
		t.Fatalf("BootstrapDataRoom failed: %v", err)
	}

	err = svc.DeleteGroup(ctx, admin.ID)
	if err == nil {
		t.Fatal("deleting the last administrator group must be refused")
	}
	if !strings.Contains(err.Error(), "last administrator") {
		t.Errorf("unexpected error: %v", err)
	}

	// With a second administrator group the delete goes through
	second := &Group{DataRoomID: 1, Name: "More Admins", Type: TypeAdministrator}
	if err := svc.CreateGroup(ctx, second); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if err := svc.DeleteGroup(ctx, admin.ID); err != nil {
		t.Fatalf("DeleteGroup failed: %v", err)
	}

	if _, err := svc.Store().GetGroup(ctx, admin.ID); err == nil {
		t.Error("deleted group should be gone")
	}
}

func TestDeleteGroupCascadesMemberships(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	group := &Group{DataRoomID: 1, Name: "Buyers", Type: TypeUser}
	if err := store.CreateGroup(ctx, group); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if err := store.AddMember(ctx, group.ID, 7, nil); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}

	if err := store.DeleteGroup(ctx, group.ID); err != nil {
		t.Fatalf("DeleteGroup failed: %v", err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM group_memberships WHERE group_id = $1`, group.ID).Scan(&count); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected memberships to be deleted with the group, found %d", count)
	}
}

func TestHasCapability(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	group := &Group{
		DataRoomID:   1,
		Name:         "Coordinators",
		Type:         TypeCustom,
		Capabilities: Capabilities{CanManageUsers: true},
	}
	if err := store.CreateGroup(ctx, group); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if err := store.AddMember(ctx, group.ID, 7, nil); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}

	has, err := store.HasCapability(ctx, 7, 1, CapManageUsers)
	if err != nil {
		t.Fatalf("HasCapability failed: %v", err)
	}
	if !has {
		t.Error("member of a group with manage_users should hold the capability")
	}

	has, err = store.HasCapability(ctx, 7, 1, CapViewGroupActivity)
	if err != nil {
		t.Fatalf("HasCapability failed: %v", err)
	}
	if has {
		t.Error("capability not granted by any group must not be held")
	}
}

func TestGroupIDsForUser(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	ctx := context.Background()

	a := &Group{DataRoomID: 1, Name: "A", Type: TypeUser}
	b := &Group{DataRoomID: 1, Name: "B", Type: TypeUser}
	other := &Group{DataRoomID: 2, Name: "A", Type: TypeUser}
	for _, g := range []*Group{a, b, other} {
		if err := svc.CreateGroup(ctx, g); err != nil {
			t.Fatalf("CreateGroup failed: %v", err)
		}
		if err := svc.Store().AddMember(ctx, g.ID, 7, nil); err != nil {
			t.Fatalf("AddMember failed: %v", err)
		}
	}

	ids, err := svc.GroupIDsForUser(ctx, 7, 1)
	if err != nil {
		t.Fatalf("GroupIDsForUser failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected the 2 groups of room 1, got %v", ids)
	}
	for _, id := range ids {
		if id == other.ID {
			t.Error("groups of other rooms must not leak into the result")
		}
	}
}
