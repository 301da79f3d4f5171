// Package audit defines the audit event taxonomy for the data room
// authorization core and sinks for recording it. Events are emitted by
// the HTTP surfaces after a mutation or denial, never by the resolver
// itself.
package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authorization events
	EventTypePermissionGrant  EventType = "authz.permission_grant"
	EventTypePermissionRevoke EventType = "authz.permission_revoke"
	EventTypeAccessDenied     EventType = "authz.access_denied"

	// Group events
	EventTypeGroupCreate  EventType = "group.create"
	EventTypeGroupDelete  EventType = "group.delete"
	EventTypeMemberAdd    EventType = "group.member_add"
	EventTypeMemberRemove EventType = "group.member_remove"

	// Share link events
	EventTypeLinkCreate EventType = "link.create"
	EventTypeLinkRevoke EventType = "link.revoke"
	EventTypeLinkView   EventType = "link.view"
	EventTypeLinkDenied EventType = "link.denied"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being acted on
type ResourceType string

const (
	ResourceTypeDocument ResourceType = "document"
	ResourceTypeFolder   ResourceType = "folder"
	ResourceTypeGroup    ResourceType = "group"
	ResourceTypeLink     ResourceType = "link"
)

// Event represents a single audit log entry
type Event struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor information; nil actor means an anonymous visitor
	ActorID    *int64 `json:"actor_id,omitempty"`
	DataRoomID *int64 `json:"data_room_id,omitempty"`

	// Resource information
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	// Request context
	IPAddress string `json:"ip_address,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	// Additional details
	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
