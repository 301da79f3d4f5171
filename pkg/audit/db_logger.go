package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// DBLogger records audit events in the audit_events table
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database-backed audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

// Log inserts the event
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	var metadataJSON []byte
	if event.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_events (timestamp, event_type, status, actor_id, data_room_id, resource_type, resource_id, ip_address, request_id, message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	err := l.db.QueryRowContext(ctx, query,
		event.Timestamp,
		string(event.EventType),
		string(event.Status),
		event.ActorID,
		event.DataRoomID,
		string(event.ResourceType),
		event.ResourceID,
		event.IPAddress,
		event.RequestID,
		event.Message,
		nullableJSON(metadataJSON),
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Search returns events matching the filter, newest first
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]Event, error) {
	query := `
		SELECT id, timestamp, event_type, status, actor_id, data_room_id, resource_type, resource_id, ip_address, request_id, message, metadata
		FROM audit_events
		WHERE 1=1
	`
	var args []interface{}

	if filter.ActorID != nil {
		args = append(args, *filter.ActorID)
		query += fmt.Sprintf(" AND actor_id = $%d", len(args))
	}
	if filter.DataRoomID != nil {
		args = append(args, *filter.DataRoomID)
		query += fmt.Sprintf(" AND data_room_id = $%d", len(args))
	}
	if filter.EventType != "" {
		args = append(args, string(filter.EventType))
		query += fmt.Sprintf(" AND event_type = $%d", len(args))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		query += fmt.Sprintf(" AND timestamp >= $%d", len(args))
	}

	query += " ORDER BY timestamp DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var actorID, dataRoomID sql.NullInt64
		var resourceType string
		var metadataJSON sql.NullString

		err := rows.Scan(&e.ID, &e.Timestamp, &e.EventType, &e.Status, &actorID, &dataRoomID,
			&resourceType, &e.ResourceID, &e.IPAddress, &e.RequestID, &e.Message, &metadataJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}

		e.ResourceType = ResourceType(resourceType)
		if actorID.Valid {
			id := actorID.Int64
			e.ActorID = &id
		}
		if dataRoomID.Valid {
			id := dataRoomID.Int64
			e.DataRoomID = &id
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// SearchFilter narrows a Search call
type SearchFilter struct {
	ActorID    *int64
	DataRoomID *int64
	EventType  EventType
	Since      *time.Time
	Limit      int
}

func nullableJSON(data []byte) interface{} {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}
