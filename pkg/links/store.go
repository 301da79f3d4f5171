package links

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a link or view does not exist.
var ErrNotFound = errors.New("share link not found")

// Store persists share links and their views.
type Store struct {
	db *sql.DB
}

// NewStore creates a share link store backed by the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateLink mints a new share link for a document. The slug is
// generated server-side and the password, if any, is stored hashed.
func (s *Store) CreateLink(ctx context.Context, p CreateParams) (*ShareLink, error) {
	var dataRoomID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT data_room_id FROM documents WHERE id = $1`, p.DocumentID,
	).Scan(&dataRoomID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %d: %w", p.DocumentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up document: %w", err)
	}

	slug, err := newSlug()
	if err != nil {
		return nil, err
	}
	hash, err := hashPassword(p.Password)
	if err != nil {
		return nil, err
	}

	link := &ShareLink{
		Slug:           slug,
		DocumentID:     p.DocumentID,
		DataRoomID:     dataRoomID,
		CreatedBy:      p.CreatedBy,
		PasswordHash:   hash,
		ExpiresAt:      p.ExpiresAt,
		MaxViews:       p.MaxViews,
		RequireEmail:   p.RequireEmail,
		AllowedEmails:  normalizeEmails(p.AllowedEmails),
		AllowedDomains: normalizeEmails(p.AllowedDomains),
		Active:         true,
	}
	emailsJSON, domainsJSON, err := marshalRestrictions(link)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO share_links (
			slug, document_id, data_room_id, created_by, password_hash,
			expires_at, max_views, view_count, require_email,
			allowed_emails, allowed_domains, active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $10, TRUE, $11, $11)
		RETURNING id`,
		link.Slug, link.DocumentID, link.DataRoomID, link.CreatedBy,
		link.PasswordHash, link.ExpiresAt, link.MaxViews, link.RequireEmail,
		emailsJSON, domainsJSON, now,
	).Scan(&link.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create share link: %w", err)
	}
	link.CreatedAt = now
	link.UpdatedAt = now
	return link, nil
}

// GetBySlug fetches a link by its public slug.
func (s *Store) GetBySlug(ctx context.Context, slug string) (*ShareLink, error) {
	row := s.db.QueryRowContext(ctx, selectLink+` WHERE slug = $1`, slug)
	return scanLink(row)
}

// GetLink fetches a link by ID.
func (s *Store) GetLink(ctx context.Context, id int64) (*ShareLink, error) {
	row := s.db.QueryRowContext(ctx, selectLink+` WHERE id = $1`, id)
	return scanLink(row)
}

// ListByDocument returns all links for a document, newest first.
func (s *Store) ListByDocument(ctx context.Context, documentID int64) ([]*ShareLink, error) {
	rows, err := s.db.QueryContext(ctx,
		selectLink+` WHERE document_id = $1 ORDER BY created_at DESC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list share links: %w", err)
	}
	defer rows.Close()

	var out []*ShareLink
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, link)
	}
	return out, rows.Err()
}

// Deactivate revokes a link. Revocation is permanent; a revoked link
// never admits visitors again.
func (s *Store) Deactivate(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE share_links SET active = FALSE, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to deactivate share link: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to deactivate share link: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateExpired revokes all active links whose expiry has passed
// and returns how many were swept.
func (s *Store) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE share_links SET active = FALSE, updated_at = $1
		WHERE active AND expires_at IS NOT NULL AND expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired share links: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired share links: %w", err)
	}
	return n, nil
}

// UpdateConstraints applies a partial constraint update and returns
// the updated link.
func (s *Store) UpdateConstraints(ctx context.Context, id int64, u ConstraintUpdate) (*ShareLink, error) {
	link, err := s.GetLink(ctx, id)
	if err != nil {
		return nil, err
	}

	if u.Password != nil {
		hash, err := hashPassword(*u.Password)
		if err != nil {
			return nil, err
		}
		link.PasswordHash = hash
	}
	if u.SetExpiresAt {
		link.ExpiresAt = u.ExpiresAt
	}
	if u.SetMaxViews {
		link.MaxViews = u.MaxViews
	}
	if u.RequireEmail != nil {
		link.RequireEmail = *u.RequireEmail
	}
	if u.AllowedEmails != nil {
		link.AllowedEmails = normalizeEmails(u.AllowedEmails)
	}
	if u.AllowedDomains != nil {
		link.AllowedDomains = normalizeEmails(u.AllowedDomains)
	}

	emailsJSON, domainsJSON, err := marshalRestrictions(link)
	if err != nil {
		return nil, err
	}
	link.UpdatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		UPDATE share_links SET
			password_hash = $1, expires_at = $2, max_views = $3,
			require_email = $4, allowed_emails = $5, allowed_domains = $6,
			updated_at = $7
		WHERE id = $8`,
		link.PasswordHash, link.ExpiresAt, link.MaxViews,
		link.RequireEmail, emailsJSON, domainsJSON, link.UpdatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update share link: %w", err)
	}
	return link, nil
}

// ConsumeView atomically claims one view slot on the link and records
// the view. The increment and the view row commit together. When the
// quota is already spent the transaction rolls back and ok is false;
// the caller should report exhaustion. On success the returned count
// is the post-increment cumulative view count.
func (s *Store) ConsumeView(ctx context.Context, linkID int64, view *View) (count int64, ok bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	err = tx.QueryRowContext(ctx, `
		UPDATE share_links
		SET view_count = view_count + 1, updated_at = $1
		WHERE id = $2 AND active AND (max_views IS NULL OR view_count < max_views)
		RETURNING view_count`,
		now, linkID,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to consume view: %w", err)
	}

	view.LinkID = linkID
	view.ViewedAt = now
	err = tx.QueryRowContext(ctx, `
		INSERT INTO share_link_views (
			link_id, email, verified, ip_address, user_agent,
			duration_seconds, pages_viewed, viewed_at
		) VALUES ($1, $2, $3, $4, $5, 0, 0, $6)
		RETURNING id`,
		view.LinkID, view.Email, view.Verified, view.IPAddress,
		view.UserAgent, view.ViewedAt,
	).Scan(&view.ID)
	if err != nil {
		return 0, false, fmt.Errorf("failed to record view: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("failed to commit view: %w", err)
	}
	return count, true, nil
}

// UpdateViewTracking records engagement data reported after the visit.
// Values only ever grow; a stale report cannot shrink them. The view
// must belong to the given link.
func (s *Store) UpdateViewTracking(ctx context.Context, linkID, viewID, durationSeconds, pagesViewed int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE share_link_views SET
			duration_seconds = CASE WHEN $1 > duration_seconds THEN $1 ELSE duration_seconds END,
			pages_viewed = CASE WHEN $2 > pages_viewed THEN $2 ELSE pages_viewed END
		WHERE id = $3 AND link_id = $4`,
		durationSeconds, pagesViewed, viewID, linkID)
	if err != nil {
		return fmt.Errorf("failed to update view tracking: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update view tracking: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListViews returns all views of a link, newest first.
func (s *Store) ListViews(ctx context.Context, linkID int64) ([]*View, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, link_id, email, verified, ip_address, user_agent,
		       duration_seconds, pages_viewed, viewed_at
		FROM share_link_views WHERE link_id = $1 ORDER BY viewed_at DESC`, linkID)
	if err != nil {
		return nil, fmt.Errorf("failed to list views: %w", err)
	}
	defer rows.Close()

	var out []*View
	for rows.Next() {
		v := &View{}
		if err := rows.Scan(&v.ID, &v.LinkID, &v.Email, &v.Verified,
			&v.IPAddress, &v.UserAgent, &v.DurationSeconds, &v.PagesViewed,
			&v.ViewedAt); err != nil {
			return nil, fmt.Errorf("failed to scan view: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetDocumentBlobKey returns the storage key of a document's content.
func (s *Store) GetDocumentBlobKey(ctx context.Context, documentID int64) (string, error) {
	var key string
	err := s.db.QueryRowContext(ctx,
		`SELECT blob_key FROM documents WHERE id = $1`, documentID,
	).Scan(&key)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("document %d: %w", documentID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up document blob: %w", err)
	}
	return key, nil
}

const selectLink = `
	SELECT id, slug, document_id, data_room_id, created_by, password_hash,
	       expires_at, max_views, view_count, require_email,
	       allowed_emails, allowed_domains, active, created_at, updated_at
	FROM share_links`

func marshalRestrictions(l *ShareLink) (emails, domains []byte, err error) {
	emails, err = json.Marshal(l.AllowedEmails)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal allowed emails: %w", err)
	}
	domains, err = json.Marshal(l.AllowedDomains)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal allowed domains: %w", err)
	}
	return emails, domains, nil
}

func scanLink(row interface{ Scan(...interface{}) error }) (*ShareLink, error) {
	link := &ShareLink{}
	var emailsJSON, domainsJSON []byte
	err := row.Scan(&link.ID, &link.Slug, &link.DocumentID, &link.DataRoomID,
		&link.CreatedBy, &link.PasswordHash, &link.ExpiresAt, &link.MaxViews,
		&link.ViewCount, &link.RequireEmail, &emailsJSON, &domainsJSON,
		&link.Active, &link.CreatedAt, &link.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan share link: %w", err)
	}
	if len(emailsJSON) > 0 {
		if err := json.Unmarshal(emailsJSON, &link.AllowedEmails); err != nil {
			return nil, fmt.Errorf("failed to unmarshal allowed emails: %w", err)
		}
	}
	if len(domainsJSON) > 0 {
		if err := json.Unmarshal(domainsJSON, &link.AllowedDomains); err != nil {
			return nil, fmt.Errorf("failed to unmarshal allowed domains: %w", err)
		}
	}
	return link, nil
}
