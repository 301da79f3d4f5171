package authz

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a referenced resource does not exist
var ErrNotFound = fmt.Errorf("not found")

// Store handles explicit permission rows and resource metadata reads.
//
// Writes for a given resource are linearized by the database: the upsert
// is a single statement, so any resolution issued after SetPermission
// returns observes the new row (read-after-write, not eventual).
type Store struct {
	db *sql.DB
}

// NewStore creates a new permission store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// SetPermission upserts the row for the exact (resource, subject) pair.
// Idempotent: repeating the call with the same level changes nothing.
func (s *Store) SetPermission(ctx context.Context, row *PermissionRow) error {
	query := `
		INSERT INTO resource_permissions (resource_kind, resource_id, subject_kind, subject_id, level, granted_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (resource_kind, resource_id, subject_kind, subject_id)
		DO UPDATE SET level = EXCLUDED.level, granted_by = EXCLUDED.granted_by, updated_at = EXCLUDED.updated_at
	`

	now := time.Now()
	_, err := s.db.ExecContext(ctx, query,
		string(row.ResourceKind),
		row.ResourceID,
		string(row.Subject.Kind),
		row.Subject.ID,
		int(row.Level),
		row.GrantedBy,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to set permission: %w", err)
	}

	row.UpdatedAt = now
	return nil
}

// RemovePermission deletes the row for the exact (resource, subject)
// pair; no-op when absent
func (s *Store) RemovePermission(ctx context.Context, kind ResourceKind, resourceID int64, subject Subject) error {
	query := `
		DELETE FROM resource_permissions
		WHERE resource_kind = $1 AND resource_id = $2 AND subject_kind = $3 AND subject_id = $4
	`
	_, err := s.db.ExecContext(ctx, query, string(kind), resourceID, string(subject.Kind), subject.ID)
	if err != nil {
		return fmt.Errorf("failed to remove permission: %w", err)
	}
	return nil
}

// ListPermissions returns all group- and user-scoped rows for a resource
func (s *Store) ListPermissions(ctx context.Context, kind ResourceKind, resourceID int64) ([]PermissionRow, error) {
	query := `
		SELECT resource_kind, resource_id, subject_kind, subject_id, level, granted_by, created_at, updated_at
		FROM resource_permissions
		WHERE resource_kind = $1 AND resource_id = $2
		ORDER BY subject_kind DESC, subject_id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, string(kind), resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var result []PermissionRow
	for rows.Next() {
		row, err := scanPermissionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan permission row: %w", err)
		}
		result = append(result, *row)
	}
	return result, rows.Err()
}

// permissionsForSubjects returns the rows on one resource that apply to
// the user or any of its groups
func (s *Store) permissionsForSubjects(ctx context.Context, kind ResourceKind, resourceID, userID int64, groupIDs []int64) ([]PermissionRow, error) {
	query := `
		SELECT resource_kind, resource_id, subject_kind, subject_id, level, granted_by, created_at, updated_at
		FROM resource_permissions
		WHERE resource_kind = $1 AND resource_id = $2
		  AND ((subject_kind = 'user' AND subject_id = $3)`
	args := []interface{}{string(kind), resourceID, userID}

	if len(groupIDs) > 0 {
		placeholders := make([]string, len(groupIDs))
		for i, id := range groupIDs {
			placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
			args = append(args, id)
		}
		query += fmt.Sprintf(" OR (subject_kind = 'group' AND subject_id IN (%s))", strings.Join(placeholders, ", "))
	}
	query += ")"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query permissions: %w", err)
	}
	defer rows.Close()

	var result []PermissionRow
	for rows.Next() {
		row, err := scanPermissionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan permission row: %w", err)
		}
		result = append(result, *row)
	}
	return result, rows.Err()
}

// GetDocumentMeta loads the resolver's view of a document
func (s *Store) GetDocumentMeta(ctx context.Context, documentID int64) (*DocumentMeta, error) {
	query := `
		SELECT id, data_room_id, folder_id, owner_id, blob_key
		FROM documents
		WHERE id = $1
	`
	var meta DocumentMeta
	var folderID sql.NullInt64
	err := s.db.QueryRowContext(ctx, query, documentID).Scan(
		&meta.ID, &meta.DataRoomID, &folderID, &meta.OwnerID, &meta.BlobKey,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %d: %w", documentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	if folderID.Valid {
		id := folderID.Int64
		meta.FolderID = &id
	}
	return &meta, nil
}

// GetFolderMeta loads the resolver's view of a folder
func (s *Store) GetFolderMeta(ctx context.Context, folderID int64) (*FolderMeta, error) {
	query := `
		SELECT id, data_room_id, parent_id, owner_id
		FROM folders
		WHERE id = $1
	`
	var meta FolderMeta
	var parentID sql.NullInt64
	err := s.db.QueryRowContext(ctx, query, folderID).Scan(
		&meta.ID, &meta.DataRoomID, &parentID, &meta.OwnerID,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("folder %d: %w", folderID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get folder: %w", err)
	}
	if parentID.Valid {
		id := parentID.Int64
		meta.ParentID = &id
	}
	return &meta, nil
}

// scanPermissionRow scans a permission row from a database row
func scanPermissionRow(scanner interface {
	Scan(dest ...interface{}) error
}) (*PermissionRow, error) {
	var row PermissionRow
	var resourceKind, subjectKind string
	var level int
	var grantedBy sql.NullInt64

	err := scanner.Scan(
		&resourceKind,
		&row.ResourceID,
		&subjectKind,
		&row.Subject.ID,
		&level,
		&grantedBy,
		&row.CreatedAt,
		&row.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	row.ResourceKind = ResourceKind(resourceKind)
	row.Subject.Kind = SubjectKind(subjectKind)
	row.Level = Level(level)
	if grantedBy.Valid {
		id := grantedBy.Int64
		row.GrantedBy = &id
	}
	return &row, nil
}
