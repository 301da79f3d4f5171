package authz

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/vaultisle/dataroom/pkg/audit"
	"github.com/vaultisle/dataroom/pkg/httputil"
	"github.com/vaultisle/dataroom/pkg/observability"
)

// Handlers provides the HTTP surface for explicit permission rows
type Handlers struct {
	store       *Store
	resolver    *Resolver
	auditLogger audit.Logger
	logger      *observability.Logger
}

// NewHandlers creates permission handlers
func NewHandlers(store *Store, resolver *Resolver, auditLogger audit.Logger, logger *observability.Logger) *Handlers {
	return &Handlers{
		store:       store,
		resolver:    resolver,
		auditLogger: auditLogger,
		logger:      logger,
	}
}

// RegisterRoutes registers all permission routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/resources/{kind}/{id}/permissions", h.ListPermissions).Methods("GET")
	router.HandleFunc("/resources/{kind}/{id}/permissions", h.SetPermission).Methods("PUT")
	router.HandleFunc("/resources/{kind}/{id}/permissions", h.RemovePermission).Methods("DELETE")
	router.HandleFunc("/resources/{kind}/{id}/resolve", h.CheckPermission).Methods("POST")
}

func resourceFromRequest(r *http.Request) (ResourceRef, error) {
	vars := mux.Vars(r)

	kind := ResourceKind(vars["kind"])
	if kind != ResourceDocument && kind != ResourceFolder {
		return ResourceRef{}, fmt.Errorf("unknown resource kind: %q", vars["kind"])
	}

	id, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		return ResourceRef{}, fmt.Errorf("invalid resource id: %q", vars["id"])
	}

	return ResourceRef{Kind: kind, ID: id}, nil
}

// requireManage authorizes the calling actor for permission management on
// the resource. Returns false after writing the response when the call
// may not proceed.
func (h *Handlers) requireManage(w http.ResponseWriter, r *http.Request, res ResourceRef) bool {
	actor := ActorFromContext(r.Context())
	decision, err := h.resolver.Resolve(r.Context(), actor, res, OpManage)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFound(w, "resource not found")
			return false
		}
		h.logger.WithError(err).Error("permission resolution failed")
		httputil.WriteUnavailable(w, "authorization temporarily unavailable")
		return false
	}
	if !decision.Allowed {
		h.logAudit(r, audit.EventTypeAccessDenied, audit.EventStatusDenied, res, map[string]interface{}{
			"operation": string(OpManage),
		})
		httputil.WriteForbidden(w, string(decision.Reason))
		return false
	}
	return true
}

// ListPermissions returns all explicit rows on a resource
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	res, err := resourceFromRequest(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if !h.requireManage(w, r, res) {
		return
	}

	rows, err := h.store.ListPermissions(r.Context(), res.Kind, res.ID)
	if err != nil {
		h.logger.WithError(err).Error("failed to list permissions")
		httputil.WriteUnavailable(w, "permission store temporarily unavailable")
		return
	}
	if rows == nil {
		rows = []PermissionRow{}
	}
	httputil.WriteSuccess(w, rows)
}

// SetPermission upserts an explicit row on a resource
func (h *Handlers) SetPermission(w http.ResponseWriter, r *http.Request) {
	res, err := resourceFromRequest(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if !h.requireManage(w, r, res) {
		return
	}

	var req struct {
		SubjectKind string `json:"subject_kind"`
		SubjectID   int64  `json:"subject_id"`
		Level       string `json:"level"`
	}
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	kind := SubjectKind(req.SubjectKind)
	if kind != SubjectUser && kind != SubjectGroup {
		httputil.WriteBadRequest(w, fmt.Sprintf("unknown subject kind: %q", req.SubjectKind))
		return
	}
	level, err := ParseLevel(req.Level)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	actor := ActorFromContext(r.Context())
	row := &PermissionRow{
		ResourceKind: res.Kind,
		ResourceID:   res.ID,
		Subject:      Subject{Kind: kind, ID: req.SubjectID},
		Level:        level,
		GrantedBy:    &actor.UserID,
	}
	if err := h.store.SetPermission(r.Context(), row); err != nil {
		h.logger.WithError(err).Error("failed to set permission")
		httputil.WriteUnavailable(w, "permission store temporarily unavailable")
		return
	}

	h.logAudit(r, audit.EventTypePermissionGrant, audit.EventStatusSuccess, res, map[string]interface{}{
		"subject_kind": req.SubjectKind,
		"subject_id":   req.SubjectID,
		"level":        req.Level,
	})

	httputil.WriteSuccess(w, row)
}

// RemovePermission deletes an explicit row on a resource; no-op if absent
func (h *Handlers) RemovePermission(w http.ResponseWriter, r *http.Request) {
	res, err := resourceFromRequest(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if !h.requireManage(w, r, res) {
		return
	}

	var req struct {
		SubjectKind string `json:"subject_kind"`
		SubjectID   int64  `json:"subject_id"`
	}
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	kind := SubjectKind(req.SubjectKind)
	if kind != SubjectUser && kind != SubjectGroup {
		httputil.WriteBadRequest(w, fmt.Sprintf("unknown subject kind: %q", req.SubjectKind))
		return
	}

	if err := h.store.RemovePermission(r.Context(), res.Kind, res.ID, Subject{Kind: kind, ID: req.SubjectID}); err != nil {
		h.logger.WithError(err).Error("failed to remove permission")
		httputil.WriteUnavailable(w, "permission store temporarily unavailable")
		return
	}

	h.logAudit(r, audit.EventTypePermissionRevoke, audit.EventStatusSuccess, res, map[string]interface{}{
		"subject_kind": req.SubjectKind,
		"subject_id":   req.SubjectID,
	})

	httputil.WriteNoContent(w)
}

// CheckPermission resolves the calling actor's access for introspection
func (h *Handlers) CheckPermission(w http.ResponseWriter, r *http.Request) {
	res, err := resourceFromRequest(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	var req struct {
		Operation string `json:"operation"`
	}
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	op := Operation(req.Operation)
	if _, err := op.RequiredLevel(); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	actor := ActorFromContext(r.Context())
	decision, err := h.resolver.Resolve(r.Context(), actor, res, op)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFound(w, "resource not found")
			return
		}
		httputil.WriteUnavailable(w, "authorization temporarily unavailable")
		return
	}
	httputil.WriteSuccess(w, decision)
}

func (h *Handlers) logAudit(r *http.Request, eventType audit.EventType, status audit.EventStatus, res ResourceRef, metadata map[string]interface{}) {
	if h.auditLogger == nil {
		return
	}

	actor := ActorFromContext(r.Context())
	event := &audit.Event{
		EventType:    eventType,
		Status:       status,
		ResourceType: audit.ResourceType(res.Kind),
		ResourceID:   strconv.FormatInt(res.ID, 10),
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
