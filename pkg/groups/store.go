package groups

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ErrNotFound is returned when a group or membership does not exist
var ErrNotFound = fmt.Errorf("not found")

// Store handles group and membership persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new group store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateGroup creates a new group after validating it
func (s *Store) CreateGroup(ctx context.Context, group *Group) error {
	if err := group.Validate(); err != nil {
		return fmt.Errorf("invalid group: %w", err)
	}

	capsJSON, err := json.Marshal(group.Capabilities)
	if err != nil {
		return fmt.Errorf("failed to marshal capabilities: %w", err)
	}

	query := `
		INSERT INTO groups (data_room_id, name, type, capabilities, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	now := time.Now()
	err = s.db.QueryRowContext(ctx, query,
		group.DataRoomID,
		group.Name,
		string(group.Type),
		string(capsJSON),
		group.CreatedBy,
		now,
		now,
	).Scan(&group.ID)
	if err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}

	group.CreatedAt = now
	group.UpdatedAt = now
	return nil
}

// GetGroup retrieves a group by ID
func (s *Store) GetGroup(ctx context.Context, groupID int64) (*Group, error) {
	query := `
		SELECT id, data_room_id, name, type, capabilities, created_by, created_at, updated_at
		FROM groups
		WHERE id = $1
	`
	group, err := scanGroup(s.db.QueryRowContext(ctx, query, groupID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("group %d: %w", groupID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return group, nil
}

// ListGroups returns all groups in a data room
func (s *Store) ListGroups(ctx context.Context, dataRoomID int64) ([]Group, error) {
	query := `
		SELECT id, data_room_id, name, type, capabilities, created_by, created_at, updated_at
		FROM groups
		WHERE data_room_id = $1
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, dataRoomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, *group)
	}
	return groups, rows.Err()
}

// DeleteGroup removes a group and cascades its memberships
func (s *Store) DeleteGroup(ctx context.Context, groupID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM group_memberships WHERE group_id = $1`, groupID); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to delete memberships: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, groupID)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to delete group: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		tx.Rollback()
		return fmt.Errorf("group %d: %w", groupID, ErrNotFound)
	}

	return tx.Commit()
}

// AddMember creates a (user, group) membership. Idempotent: adding an
// existing member is a no-op.
func (s *Store) AddMember(ctx context.Context, groupID, userID int64, addedBy *int64) error {
	query := `
		INSERT INTO group_memberships (group_id, user_id, added_by, added_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (group_id, user_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, groupID, userID, addedBy, time.Now()); err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// RemoveMember deletes a membership; no-op when absent
func (s *Store) RemoveMember(ctx context.Context, groupID, userID int64) error {
	query := `DELETE FROM group_memberships WHERE group_id = $1 AND user_id = $2`
	if _, err := s.db.ExecContext(ctx, query, groupID, userID); err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	return nil
}

// ListMembers returns all memberships of a group
func (s *Store) ListMembers(ctx context.Context, groupID int64) ([]Membership, error) {
	query := `
		SELECT id, group_id, user_id, added_by, added_at
		FROM group_memberships
		WHERE group_id = $1
		ORDER BY added_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []Membership
	for rows.Next() {
		var m Membership
		var addedBy sql.NullInt64
		if err := rows.Scan(&m.ID, &m.GroupID, &m.UserID, &addedBy, &m.AddedAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		if addedBy.Valid {
			id := addedBy.Int64
			m.AddedBy = &id
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// GroupsForUser returns the groups a user belongs to within a data room
func (s *Store) GroupsForUser(ctx context.Context, userID, dataRoomID int64) ([]Group, error) {
	query := `
		SELECT g.id, g.data_room_id, g.name, g.type, g.capabilities, g.created_by, g.created_at, g.updated_at
		FROM groups g
		JOIN group_memberships gm ON g.id = gm.group_id
		WHERE gm.user_id = $1 AND g.data_room_id = $2
	`
	rows, err := s.db.QueryContext(ctx, query, userID, dataRoomID)
	if err != nil {
		return nil, fmt.Errorf("failed to get groups for user: %w", err)
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, *group)
	}
	return groups, rows.Err()
}

// IsAdministrator reports whether the user belongs to an ADMINISTRATOR-type
// group within the data room
func (s *Store) IsAdministrator(ctx context.Context, userID, dataRoomID int64) (bool, error) {
	query := `
		SELECT COUNT(1)
		FROM groups g
		JOIN group_memberships gm ON g.id = gm.group_id
		WHERE gm.user_id = $1 AND g.data_room_id = $2 AND g.type = $3
	`
	var count int
	err := s.db.QueryRowContext(ctx, query, userID, dataRoomID, string(TypeAdministrator)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check administrator membership: %w", err)
	}
	return count > 0, nil
}

// HasCapability reports whether any of the user's groups in the room
// carries the named capability flag. Capabilities are additive across
// memberships.
func (s *Store) HasCapability(ctx context.Context, userID, dataRoomID int64, cap Capability) (bool, error) {
	groups, err := s.GroupsForUser(ctx, userID, dataRoomID)
	if err != nil {
		return false, err
	}
	for _, g := range groups {
		if g.IsAdministrator() || g.Capabilities.Has(cap) {
			return true, nil
		}
	}
	return false, nil
}

// scanGroup scans a group from a database row
func scanGroup(scanner interface {
	Scan(dest ...interface{}) error
}) (*Group, error) {
	var group Group
	var capsJSON string
	var createdBy sql.NullInt64

	err := scanner.Scan(
		&group.ID,
		&group.DataRoomID,
		&group.Name,
		&group.Type,
		&capsJSON,
		&createdBy,
		&group.CreatedAt,
		&group.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if createdBy.Valid {
		id := createdBy.Int64
		group.CreatedBy = &id
	}

	if capsJSON != "" {
		if err := json.Unmarshal([]byte(capsJSON), &group.Capabilities); err != nil {
			return nil, fmt.Errorf("failed to unmarshal capabilities: %w", err)
		}
	}

	return &group, nil
}
