// Package notify models the outbound notification boundary. Delivery
// itself (email, push, in-app) is an external collaborator; this package
// only shapes events and dispatches them fire-and-forget so a sink
// failure can never block or roll back the action that triggered it.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind categorizes a notification trigger
type Kind string

const (
	KindLinkViewed    Kind = "link.viewed"
	KindViewMilestone Kind = "link.view_milestone"
)

// Event is one notification trigger bound for a user
type Event struct {
	ID           string                 `json:"id"`
	TargetUserID int64                  `json:"target_user_id"`
	Kind         Kind                   `json:"kind"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// NewEvent builds an event with a fresh ID and timestamp
func NewEvent(targetUserID int64, kind Kind, payload map[string]interface{}) Event {
	return Event{
		ID:           uuid.NewString(),
		TargetUserID: targetUserID,
		Kind:         kind,
		Payload:      payload,
		CreatedAt:    time.Now(),
	}
}

// Sink accepts notification events. Implementations may block; the
// dispatcher isolates callers from that.
type Sink interface {
	Send(ctx context.Context, event Event) error
}
