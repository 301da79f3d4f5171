package links

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/vaultisle/dataroom/pkg/audit"
	"github.com/vaultisle/dataroom/pkg/authz"
	"github.com/vaultisle/dataroom/pkg/httputil"
	"github.com/vaultisle/dataroom/pkg/observability"
)

// Handlers provides the HTTP surface for share links: a management API
// for document owners and a public visit endpoint for anonymous guests.
type Handlers struct {
	store       *Store
	gate        *Gate
	resolver    *authz.Resolver
	auditLogger audit.Logger
	logger      *observability.Logger
}

// NewHandlers creates share link handlers
func NewHandlers(store *Store, gate *Gate, resolver *authz.Resolver, auditLogger audit.Logger, logger *observability.Logger) *Handlers {
	return &Handlers{
		store:       store,
		gate:        gate,
		resolver:    resolver,
		auditLogger: auditLogger,
		logger:      logger,
	}
}

// RegisterRoutes registers the management routes. The router is
// expected to carry identity middleware; every route here requires
// manage rights on the underlying document.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/documents/{id}/links", h.CreateLink).Methods("POST")
	router.HandleFunc("/documents/{id}/links", h.ListLinks).Methods("GET")
	router.HandleFunc("/links/{id}", h.UpdateLink).Methods("PATCH")
	router.HandleFunc("/links/{id}", h.RevokeLink).Methods("DELETE")
	router.HandleFunc("/links/{id}/views", h.ListLinkViews).Methods("GET")
}

// RegisterPublicRoutes registers the anonymous visitor routes. These
// must sit behind the auth-tier rate limiter, never behind identity
// middleware.
func (h *Handlers) RegisterPublicRoutes(router *mux.Router) {
	router.HandleFunc("/visit/{slug}", h.Visit).Methods("POST")
	router.HandleFunc("/visit/{slug}/tracking", h.Track).Methods("POST")
}

// requireDocumentManage authorizes the caller for link management on a
// document. Returns false after writing the response when the call may
// not proceed.
func (h *Handlers) requireDocumentManage(w http.ResponseWriter, r *http.Request, documentID int64) bool {
	actor := authz.ActorFromContext(r.Context())
	res := authz.ResourceRef{Kind: authz.ResourceDocument, ID: documentID}
	decision, err := h.resolver.Resolve(r.Context(), actor, res, authz.OpManage)
	if err != nil {
		if errors.Is(err, authz.ErrNotFound) {
			httputil.WriteNotFound(w, "document not found")
			return false
		}
		h.logger.WithError(err).Error("permission resolution failed")
		httputil.WriteUnavailable(w, "authorization temporarily unavailable")
		return false
	}
	if !decision.Allowed {
		httputil.WriteForbidden(w, string(decision.Reason))
		return false
	}
	return true
}

// CreateLink mints a share link for a document
func (h *Handlers) CreateLink(w http.ResponseWriter, r *http.Request) {
	documentID, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if !h.requireDocumentManage(w, r, documentID) {
		return
	}

	var req struct {
		Password       string     `json:"password,omitempty"`
		ExpiresAt      *time.Time `json:"expires_at,omitempty"`
		MaxViews       *int64     `json:"max_views,omitempty"`
		RequireEmail   bool       `json:"require_email,omitempty"`
		AllowedEmails  []string   `json:"allowed_emails,omitempty"`
		AllowedDomains []string   `json:"allowed_domains,omitempty"`
	}
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if req.MaxViews != nil && *req.MaxViews < 1 {
		httputil.WriteBadRequest(w, "max_views must be at least 1")
		return
	}

	actor := authz.ActorFromContext(r.Context())
	link, err := h.store.CreateLink(r.Context(), CreateParams{
		DocumentID:     documentID,
		CreatedBy:      actor.UserID,
		Password:       req.Password,
		ExpiresAt:      req.ExpiresAt,
		MaxViews:       req.MaxViews,
		RequireEmail:   req.RequireEmail,
		AllowedEmails:  req.AllowedEmails,
		AllowedDomains: req.AllowedDomains,
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFound(w, "document not found")
			return
		}
		h.logger.WithError(err).Error("failed to create share link")
		httputil.WriteUnavailable(w, "share link store temporarily unavailable")
		return
	}

	h.logAudit(r, audit.EventTypeLinkCreate, audit.EventStatusSuccess, link, nil)
	httputil.WriteCreated(w, link)
}

// ListLinks returns all links for a document
func (h *Handlers) ListLinks(w http.ResponseWriter, r *http.Request) {
	documentID, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if !h.requireDocumentManage(w, r, documentID) {
		return
	}

	out, err := h.store.ListByDocument(r.Context(), documentID)
	if err != nil {
		h.logger.WithError(err).Error("failed to list share links")
		httputil.WriteUnavailable(w, "share link store temporarily unavailable")
		return
	}
	if out == nil {
		out = []*ShareLink{}
	}
	httputil.WriteSuccess(w, out)
}

// loadManagedLink fetches the link and authorizes the caller for its
// document. Returns nil after writing the response on any failure.
func (h *Handlers) loadManagedLink(w http.ResponseWriter, r *http.Request) *ShareLink {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return nil
	}
	link, err := h.store.GetLink(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFound(w, "share link not found")
			return nil
		}
		h.logger.WithError(err).Error("failed to load share link")
		httputil.WriteUnavailable(w, "share link store temporarily unavailable")
		return nil
	}
	if !h.requireDocumentManage(w, r, link.DocumentID) {
		return nil
	}
	return link
}

// UpdateLink changes a link's constraints
func (h *Handlers) UpdateLink(w http.ResponseWriter, r *http.Request) {
	link := h.loadManagedLink(w, r)
	if link == nil {
		return
	}

	var req struct {
		Password       *string    `json:"password,omitempty"`
		ExpiresAt      *time.Time `json:"expires_at,omitempty"`
		ClearExpiry    bool       `json:"clear_expiry,omitempty"`
		MaxViews       *int64     `json:"max_views,omitempty"`
		ClearMaxViews  bool       `json:"clear_max_views,omitempty"`
		RequireEmail   *bool      `json:"require_email,omitempty"`
		AllowedEmails  []string   `json:"allowed_emails,omitempty"`
		AllowedDomains []string   `json:"allowed_domains,omitempty"`
	}
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if req.MaxViews != nil && *req.MaxViews < 1 {
		httputil.WriteBadRequest(w, "max_views must be at least 1")
		return
	}

	update := ConstraintUpdate{
		Password:       req.Password,
		RequireEmail:   req.RequireEmail,
		AllowedEmails:  req.AllowedEmails,
		AllowedDomains: req.AllowedDomains,
	}
	if req.ExpiresAt != nil || req.ClearExpiry {
		update.SetExpiresAt = true
		if !req.ClearExpiry {
			update.ExpiresAt = req.ExpiresAt
		}
	}
	if req.MaxViews != nil || req.ClearMaxViews {
		update.SetMaxViews = true
		if !req.ClearMaxViews {
			update.MaxViews = req.MaxViews
		}
	}

	updated, err := h.store.UpdateConstraints(r.Context(), link.ID, update)
	if err != nil {
		h.logger.WithError(err).Error("failed to update share link")
		httputil.WriteUnavailable(w, "share link store temporarily unavailable")
		return
	}
	httputil.WriteSuccess(w, updated)
}

// RevokeLink permanently deactivates a link
func (h *Handlers) RevokeLink(w http.ResponseWriter, r *http.Request) {
	link := h.loadManagedLink(w, r)
	if link == nil {
		return
	}

	if err := h.store.Deactivate(r.Context(), link.ID); err != nil {
		h.logger.WithError(err).Error("failed to revoke share link")
		httputil.WriteUnavailable(w, "share link store temporarily unavailable")
		return
	}

	h.logAudit(r, audit.EventTypeLinkRevoke, audit.EventStatusSuccess, link, nil)
	httputil.WriteNoContent(w)
}

// ListLinkViews returns the recorded views of a link
func (h *Handlers) ListLinkViews(w http.ResponseWriter, r *http.Request) {
	link := h.loadManagedLink(w, r)
	if link == nil {
		return
	}

	views, err := h.store.ListViews(r.Context(), link.ID)
	if err != nil {
		h.logger.WithError(err).Error("failed to list link views")
		httputil.WriteUnavailable(w, "share link store temporarily unavailable")
		return
	}
	if views == nil {
		views = []*View{}
	}
	httputil.WriteSuccess(w, views)
}

// Visit evaluates an anonymous visit through the gate. A refusal is a
// 403 with the reason; a store fault is a 503, never a denial.
func (h *Handlers) Visit(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]

	var creds Credentials
	// An empty body is a visit with no credentials
	if r.ContentLength != 0 {
		if err := httputil.ParseJSON(r, &creds); err != nil {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
	}

	outcome, err := h.gate.Visit(r.Context(), slug, creds, VisitorInfo{
		IPAddress: httputil.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFound(w, "share link not found")
			return
		}
		h.logger.WithError(err).Error("share link visit failed")
		httputil.WriteUnavailable(w, "share links temporarily unavailable")
		return
	}

	if !outcome.Granted {
		h.logAuditVisit(r, audit.EventTypeLinkDenied, audit.EventStatusDenied, slug, map[string]interface{}{
			"reason": string(outcome.Reason),
		})
		httputil.WriteJSON(w, http.StatusForbidden, outcome)
		return
	}

	h.logAuditVisit(r, audit.EventTypeLinkView, audit.EventStatusSuccess, slug, map[string]interface{}{
		"view_id": outcome.View.ID,
	})
	httputil.WriteSuccess(w, outcome)
}

// Track records visitor engagement reported after a granted visit
func (h *Handlers) Track(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]

	var req struct {
		ViewID          int64 `json:"view_id"`
		DurationSeconds int64 `json:"duration_seconds"`
		PagesViewed     int64 `json:"pages_viewed"`
	}
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if req.DurationSeconds < 0 || req.PagesViewed < 0 {
		httputil.WriteBadRequest(w, "tracking values must be non-negative")
		return
	}

	link, err := h.store.GetBySlug(r.Context(), slug)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFound(w, "share link not found")
			return
		}
		h.logger.WithError(err).Error("failed to load share link")
		httputil.WriteUnavailable(w, "share links temporarily unavailable")
		return
	}

	err = h.store.UpdateViewTracking(r.Context(), link.ID, req.ViewID, req.DurationSeconds, req.PagesViewed)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFound(w, "view not found")
			return
		}
		h.logger.WithError(err).Error("failed to update view tracking")
		httputil.WriteUnavailable(w, "share links temporarily unavailable")
		return
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) logAudit(r *http.Request, eventType audit.EventType, status audit.EventStatus, link *ShareLink, metadata map[string]interface{}) {
	if h.auditLogger == nil {
		return
	}
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadata["document_id"] = link.DocumentID
	metadata["slug"] = link.Slug

	actor := authz.ActorFromContext(r.Context())
	event := &audit.Event{
		EventType:    eventType,
		Status:       status,
		ResourceType: audit.ResourceTypeLink,
		ResourceID:   strconv.FormatInt(link.ID, 10),
		IPAddress:    httputil.ClientIP(r),
		RequestID:    observability.GetRequestID(r.Context()),
		Metadata:     metadata,
	}
	if !actor.Anonymous {
		id := actor.UserID
		event.ActorID = &id
	}
	if err := h.auditLogger.Log(r.Context(), event); err != nil {
		h.logger.WithError(err).Warn("failed to record audit event")
	}
}

// logAuditVisit records anonymous gate outcomes; there is no actor
func (h *Handlers) logAuditVisit(r *http.Request, eventType audit.EventType, status audit.EventStatus, slug string, metadata map[string]interface{}) {
	if h.auditLogger == nil {
		return
	}
	event := &audit.Event{
		EventType:    eventType,
		Status:       status,
		ResourceType: audit.ResourceTypeLink,
		ResourceID:   slug,
		IPAddress:    httputil.ClientIP(r),
		RequestID:    observability.GetRequestID(r.Context()),
		Metadata:     metadata,
	}
	if err := h.auditLogger.Log(r.Context(), event); err != nil {
		h.logger.WithError(err).Warn("failed to record audit event")
	}
}
