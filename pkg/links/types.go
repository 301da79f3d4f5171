package links

import (
	"strings"
	"time"
)

// State describes the lifecycle phase of a share link. It is derived
// from the stored fields at read time, never stored itself.
type State string

const (
	// StateActive means the link currently admits visitors.
	StateActive State = "ACTIVE"
	// StateExpired means the expiry timestamp has passed.
	StateExpired State = "EXPIRED"
	// StateExhausted means the view quota is used up.
	StateExhausted State = "EXHAUSTED"
	// StateRevoked means the link was deactivated by its owner.
	StateRevoked State = "REVOKED"
)

// DenyReason explains why the gate refused a visit.
type DenyReason string

const (
	// DenyRevoked is returned for deactivated links.
	DenyRevoked DenyReason = "REVOKED"
	// DenyExpired is returned once the expiry timestamp has passed.
	DenyExpired DenyReason = "EXPIRED"
	// DenyExhausted is returned when the view quota is used up.
	DenyExhausted DenyReason = "EXHAUSTED"
	// DenyBadPassword is returned when the supplied password does not
	// match, or a password-protected link is visited without one.
	DenyBadPassword DenyReason = "BAD_PASSWORD"
	// DenyEmailRequired is returned when an email-gated link is visited
	// without supplying an email address.
	DenyEmailRequired DenyReason = "EMAIL_REQUIRED"
	// DenyEmailNotAllowed is returned when the supplied email matches
	// neither the allow-list nor an allowed domain.
	DenyEmailNotAllowed DenyReason = "EMAIL_NOT_ALLOWED"
)

// ShareLink is a public, revocable pointer at a single document.
type ShareLink struct {
	ID           int64      `json:"id"`
	Slug         string     `json:"slug"`
	DocumentID   int64      `json:"document_id"`
	DataRoomID   int64      `json:"data_room_id"`
	CreatedBy    int64      `json:"created_by"`
	PasswordHash string     `json:"-"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	MaxViews     *int64     `json:"max_views,omitempty"`
	ViewCount    int64      `json:"view_count"`
	RequireEmail bool       `json:"require_email"`
	// AllowedEmails and AllowedDomains are stored lowercased.
	AllowedEmails  []string  `json:"allowed_emails,omitempty"`
	AllowedDomains []string  `json:"allowed_domains,omitempty"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// HasPassword reports whether the link is password protected.
func (l *ShareLink) HasPassword() bool {
	return l.PasswordHash != ""
}

// EmailGated reports whether the link restricts visitors by email.
// A bare require_email flag gates on presence only; a non-empty
// allow-list or domain list additionally restricts which emails pass.
func (l *ShareLink) EmailGated() bool {
	return l.RequireEmail || len(l.AllowedEmails) > 0 || len(l.AllowedDomains) > 0
}

// State derives the lifecycle phase at the given instant.
func (l *ShareLink) State(now time.Time) State {
	if !l.Active {
		return StateRevoked
	}
	if l.ExpiresAt != nil && !now.Before(*l.ExpiresAt) {
		return StateExpired
	}
	if l.MaxViews != nil && l.ViewCount >= *l.MaxViews {
		return StateExhausted
	}
	return StateActive
}

// emailAllowed reports whether the given address passes the link's
// email restrictions. Matching is case-insensitive.
func (l *ShareLink) emailAllowed(email string) bool {
	if len(l.AllowedEmails) == 0 && len(l.AllowedDomains) == 0 {
		return true
	}
	email = strings.ToLower(strings.TrimSpace(email))
	for _, allowed := range l.AllowedEmails {
		if email == allowed {
			return true
		}
	}
	if at := strings.LastIndex(email, "@"); at >= 0 {
		domain := email[at+1:]
		for _, allowed := range l.AllowedDomains {
			if domain == allowed {
				return true
			}
		}
	}
	return false
}

// Credentials carries what a visitor presented at the gate.
type Credentials struct {
	Password string `json:"password,omitempty"`
	Email    string `json:"email,omitempty"`
}

// View records a single granted visit through a link.
type View struct {
	ID        int64     `json:"id"`
	LinkID    int64     `json:"link_id"`
	Email     string    `json:"email,omitempty"`
	Verified  bool      `json:"verified"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	// DurationSeconds and PagesViewed arrive later via the tracking
	// endpoint and start at zero.
	DurationSeconds int64     `json:"duration_seconds"`
	PagesViewed     int64     `json:"pages_viewed"`
	ViewedAt        time.Time `json:"viewed_at"`
}

// Outcome is the gate's verdict for one visit.
type Outcome struct {
	Granted     bool       `json:"granted"`
	Reason      DenyReason `json:"reason,omitempty"`
	DocumentID  int64      `json:"document_id,omitempty"`
	View        *View      `json:"view,omitempty"`
	DownloadURL string     `json:"download_url,omitempty"`
}

// CreateParams carries the owner-supplied settings for a new link.
type CreateParams struct {
	DocumentID     int64
	CreatedBy      int64
	Password       string
	ExpiresAt      *time.Time
	MaxViews       *int64
	RequireEmail   bool
	AllowedEmails  []string
	AllowedDomains []string
}

// ConstraintUpdate carries a partial update of a link's constraints.
// Nil pointer fields are left unchanged; SetExpiresAt / SetMaxViews
// distinguish "leave alone" from "clear".
type ConstraintUpdate struct {
	Password       *string
	SetExpiresAt   bool
	ExpiresAt      *time.Time
	SetMaxViews    bool
	MaxViews       *int64
	RequireEmail   *bool
	AllowedEmails  []string
	AllowedDomains []string
}

// normalizeEmails lowercases and trims a list, dropping empties.
func normalizeEmails(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, e := range in {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}
