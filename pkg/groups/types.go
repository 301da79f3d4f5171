package groups

import (
	"fmt"
	"time"
)

// GroupType classifies a group's authority within its data room
type GroupType string

const (
	TypeAdministrator GroupType = "ADMINISTRATOR"
	TypeUser          GroupType = "USER"
	TypeCustom        GroupType = "CUSTOM"
)

// Valid reports whether the type is one of the three known variants
func (t GroupType) Valid() bool {
	switch t {
	case TypeAdministrator, TypeUser, TypeCustom:
		return true
	}
	return false
}

// Capabilities are the boolean cross-cutting abilities a group grants its
// members, independent of per-resource permission levels
type Capabilities struct {
	CanManageUsers               bool `json:"can_manage_users"`
	CanManageDocumentPermissions bool `json:"can_manage_document_permissions"`
	CanViewGroupActivity         bool `json:"can_view_group_activity"`
	CanViewDueDiligenceChecklist bool `json:"can_view_due_diligence_checklist"`
	CanViewGroupUsers            bool `json:"can_view_group_users"`
}

// AdministratorCapabilities returns the flag set held by ADMINISTRATOR groups
func AdministratorCapabilities() Capabilities {
	return Capabilities{
		CanManageUsers:               true,
		CanManageDocumentPermissions: true,
		CanViewGroupActivity:         true,
		CanViewDueDiligenceChecklist: true,
		CanViewGroupUsers:            true,
	}
}

// Capability names a single flag for lookups by string key
type Capability string

const (
	CapManageUsers               Capability = "manage_users"
	CapManageDocumentPermissions Capability = "manage_document_permissions"
	CapViewGroupActivity         Capability = "view_group_activity"
	CapViewDueDiligenceChecklist Capability = "view_due_diligence_checklist"
	CapViewGroupUsers            Capability = "view_group_users"
)

// Has reports whether the capability set contains the named flag
func (c Capabilities) Has(cap Capability) bool {
	switch cap {
	case CapManageUsers:
		return c.CanManageUsers
	case CapManageDocumentPermissions:
		return c.CanManageDocumentPermissions
	case CapViewGroupActivity:
		return c.CanViewGroupActivity
	case CapViewDueDiligenceChecklist:
		return c.CanViewDueDiligenceChecklist
	case CapViewGroupUsers:
		return c.CanViewGroupUsers
	}
	return false
}

// Group represents a named collection of users within a data room
type Group struct {
	ID           int64        `json:"id"`
	DataRoomID   int64        `json:"data_room_id"`
	Name         string       `json:"name"`
	Type         GroupType    `json:"type"`
	Capabilities Capabilities `json:"capabilities"`
	CreatedBy    *int64       `json:"created_by,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Validate checks creation-time invariants. An unknown type is a creation
// error, never a runtime one.
func (g *Group) Validate() error {
	if g.DataRoomID == 0 {
		return fmt.Errorf("group must belong to a data room")
	}
	if g.Name == "" {
		return fmt.Errorf("group name is required")
	}
	if !g.Type.Valid() {
		return fmt.Errorf("unknown group type: %q", g.Type)
	}
	return nil
}

// IsAdministrator reports whether the group carries full room authority
func (g *Group) IsAdministrator() bool {
	return g.Type == TypeAdministrator
}

// Membership represents a (user, group) pair, unique per pair
type Membership struct {
	ID      int64     `json:"id"`
	GroupID int64     `json:"group_id"`
	UserID  int64     `json:"user_id"`
	AddedBy *int64    `json:"added_by,omitempty"`
	AddedAt time.Time `json:"added_at"`
}
