package authz

import (
	"context"
	"fmt"
	"time"
)

// Level is a per-resource permission strength, integer-ordered so levels
// compare directly
type Level int

const (
	LevelNone Level = iota
	LevelView
	LevelDownload
	LevelEdit
	LevelManage
)

var levelNames = map[Level]string{
	LevelNone:     "none",
	LevelView:     "view",
	LevelDownload: "download",
	LevelEdit:     "edit",
	LevelManage:   "manage",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel converts a level name to a Level
func ParseLevel(s string) (Level, error) {
	for level, name := range levelNames {
		if name == s {
			return level, nil
		}
	}
	return LevelNone, fmt.Errorf("unknown permission level: %q", s)
}

// Operation is a requested action on a resource
type Operation string

const (
	OpView     Operation = "view"
	OpDownload Operation = "download"
	OpEdit     Operation = "edit"
	OpManage   Operation = "manage"
)

// RequiredLevel maps an operation to the minimum level that allows it
func (op Operation) RequiredLevel() (Level, error) {
	switch op {
	case OpView:
		return LevelView, nil
	case OpDownload:
		return LevelDownload, nil
	case OpEdit:
		return LevelEdit, nil
	case OpManage:
		return LevelManage, nil
	}
	return LevelNone, fmt.Errorf("unknown operation: %q", op)
}

// SubjectKind tags a permission row as user- or group-scoped
type SubjectKind string

const (
	SubjectUser  SubjectKind = "user"
	SubjectGroup SubjectKind = "group"
)

// Subject is the tagged variant identifying who a permission row applies
// to: a user or a group
type Subject struct {
	Kind SubjectKind `json:"kind"`
	ID   int64       `json:"id"`
}

// UserSubject builds a user-scoped subject
func UserSubject(userID int64) Subject {
	return Subject{Kind: SubjectUser, ID: userID}
}

// GroupSubject builds a group-scoped subject
func GroupSubject(groupID int64) Subject {
	return Subject{Kind: SubjectGroup, ID: groupID}
}

// ResourceKind distinguishes documents from folders
type ResourceKind string

const (
	ResourceDocument ResourceKind = "document"
	ResourceFolder   ResourceKind = "folder"
)

// ResourceRef identifies a document or folder
type ResourceRef struct {
	Kind ResourceKind `json:"kind"`
	ID   int64        `json:"id"`
}

// Actor is the already-verified identity of a request. Anonymous visitors
// (share link traffic) carry no user ID and resolve nothing here.
type Actor struct {
	UserID    int64   `json:"user_id"`
	GroupIDs  []int64 `json:"group_ids,omitempty"`
	Anonymous bool    `json:"anonymous"`
}

// DenyReason is a policy-level denial cause, safe to show to callers
type DenyReason string

const (
	ReasonInsufficientPermission DenyReason = "INSUFFICIENT_PERMISSION"
)

// Decision is the result of a permission resolution
type Decision struct {
	Allowed     bool       `json:"allowed"`
	Reason      DenyReason `json:"reason,omitempty"`
	MatchedRule string     `json:"matched_rule,omitempty"`
	Level       Level      `json:"level,omitempty"`
	CheckedAt   time.Time  `json:"checked_at"`
}

// PermissionRow is an explicit override: (resource, subject) -> level
type PermissionRow struct {
	ResourceKind ResourceKind `json:"resource_kind"`
	ResourceID   int64        `json:"resource_id"`
	Subject      Subject      `json:"subject"`
	Level        Level        `json:"level"`
	GrantedBy    *int64       `json:"granted_by,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// DocumentMeta is the resolver's view of a document
type DocumentMeta struct {
	ID         int64
	DataRoomID int64
	FolderID   *int64
	OwnerID    int64
	BlobKey    string
}

// FolderMeta is the resolver's view of a folder
type FolderMeta struct {
	ID         int64
	DataRoomID int64
	ParentID   *int64
	OwnerID    int64
}

// GroupDirectory is what the resolver needs from the group model
type GroupDirectory interface {
	// IsAdministrator reports administrator-group membership in a room
	IsAdministrator(ctx context.Context, userID, dataRoomID int64) (bool, error)
}
