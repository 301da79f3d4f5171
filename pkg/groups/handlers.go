package groups

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/vaultisle/dataroom/pkg/audit"
	"github.com/vaultisle/dataroom/pkg/authz"
	"github.com/vaultisle/dataroom/pkg/httputil"
	"github.com/vaultisle/dataroom/pkg/observability"
)

// Handlers provides the HTTP surface for group and membership management
type Handlers struct {
	service     *Service
	auditLogger audit.Logger
	logger      *observability.Logger
}

// NewHandlers creates group handlers
func NewHandlers(service *Service, auditLogger audit.Logger, logger *observability.Logger) *Handlers {
	return &Handlers{
		service:     service,
		auditLogger: auditLogger,
		logger:      logger,
	}
}

// RegisterRoutes registers all group routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/rooms/{id}/bootstrap", h.BootstrapRoom).Methods("POST")
	router.HandleFunc("/rooms/{id}/groups", h.CreateGroup).Methods("POST")
	router.HandleFunc("/rooms/{id}/groups", h.ListGroups).Methods("GET")
	router.HandleFunc("/groups/{id}", h.GetGroup).Methods("GET")
	router.HandleFunc("/groups/{id}", h.DeleteGroup).Methods("DELETE")
	router.HandleFunc("/groups/{id}/members", h.ListMembers).Methods("GET")
	router.HandleFunc("/groups/{id}/members", h.AddMember).Methods("POST")
	router.HandleFunc("/groups/{id}/members/{userID}", h.RemoveMember).Methods("DELETE")
}

// requireCapability authorizes the calling actor for group management in
// the room. Administrators always pass; other members need the named
// capability through one of their groups. Returns false after writing
// the response when the call may not proceed.
func (h *Handlers) requireCapability(w http.ResponseWriter, r *http.Request, dataRoomID int64, cap Capability) bool {
	actor := authz.ActorFromContext(r.Context())
	if actor.Anonymous {
		httputil.WriteForbidden(w, "authentication required")
		return false
	}

	isAdmin, err := h.service.IsAdministrator(r.Context(), actor.UserID, dataRoomID)
	if err != nil {
		h.logger.WithError(err).Error("administrator check failed")
		httputil.WriteUnavailable(w, "group store temporarily unavailable")
		return false
	}
	if isAdmin {
		return true
	}

	hasCap, err := h.service.Store().HasCapability(r.Context(), actor.UserID, dataRoomID, cap)
	if err != nil {
		h.logger.WithError(err).Error("capability check failed")
		httputil.WriteUnavailable(w, "group store temporarily unavailable")
		return false
	}
	if !hasCap {
		httputil.WriteForbidden(w, "insufficient permission")
		return false
	}
	return true
}

// BootstrapRoom creates the default administrator group for a fresh
// room and enrolls the caller in it
func (h *Handlers) BootstrapRoom(w http.ResponseWriter, r *http.Request) {
	dataRoomID, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	actor := authz.ActorFromContext(r.Context())
	if actor.Anonymous {
		httputil.WriteForbidden(w, "authentication required")
		return
	}

	group, err := h.service.BootstrapDataRoom(r.Context(), dataRoomID, actor.UserID)
	if err != nil {
		h.logger.WithError(err).Error("failed to bootstrap data room")
		httputil.WriteUnavailable(w, "group store temporarily unavailable")
		return
	}

	h.logAudit(r, audit.EventTypeGroupCreate, group.ID, map[string]interface{}{
		"data_room_id": dataRoomID,
		"bootstrap":    true,
	})
	httputil.WriteCreated(w, group)
}

// CreateGroup creates a group in a room
func (h *Handlers) CreateGroup(w http.ResponseWriter, r *http.Request) {
	dataRoomID, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if !h.requireCapability(w, r, dataRoomID, CapManageUsers) {
		return
	}

	var req struct {
		Name         string       `json:"name"`
		Type         string       `json:"type"`
		Capabilities Capabilities `json:"capabilities"`
	}
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	actor := authz.ActorFromContext(r.Context())
	group := &Group{
		DataRoomID:   dataRoomID,
		Name:         req.Name,
		Type:         GroupType(req.Type),
		Capabilities: req.Capabilities,
		CreatedBy:    &actor.UserID,
	}
	if err := group.Validate(); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.CreateGroup(r.Context(), group); err != nil {
		h.logger.WithError(err).Error("failed to create group")
		httputil.WriteUnavailable(w, "group store temporarily unavailable")
		return
	}

	h.logAudit(r, audit.EventTypeGroupCreate, group.ID, map[string]interface{}{
		"data_room_id": dataRoomID,
		"name":         group.Name,
		"type":         string(group.Type),
	})
	httputil.WriteCreated(w, group)
}

// ListGroups returns all groups of a room
func (h *Handlers) ListGroups(w http.ResponseWriter, r *http.Request) {
	dataRoomID, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if !h.requireCapability(w, r, dataRoomID, CapViewGroupUsers) {
		return
	}

	out, err := h.service.Store().ListGroups(r.Context(), dataRoomID)
	if err != nil {
		h.logger.WithError(err).Error("failed to list groups")
		httputil.WriteUnavailable(w, "group store temporarily unavailable")
		return
	}
	if out == nil {
		out = []Group{}
	}
	httputil.WriteSuccess(w, out)
}

// loadGroup fetches the group and authorizes the caller in its room.
// Returns nil after writing the response on any failure.
func (h *Handlers) loadGroup(w http.ResponseWriter, r *http.Request, cap Capability) *Group {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return nil
	}
	group, err := h.service.Store().GetGroup(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFound(w, "group not found")
			return nil
		}
		h.logger.WithError(err).Error("failed to load group")
		httputil.WriteUnavailable(w, "group store temporarily unavailable")
		return nil
	}
	if !h.requireCapability(w, r, group.DataRoomID, cap) {
		return nil
	}
	return group
}

// GetGroup returns a single group
func (h *Handlers) GetGroup(w http.ResponseWriter, r *http.Request) {
	group := h.loadGroup(w, r, CapViewGroupUsers)
	if group == nil {
		return
	}
	httputil.WriteSuccess(w, group)
}

// DeleteGroup removes a group and its memberships
func (h *Handlers) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	group := h.loadGroup(w, r, CapManageUsers)
	if group == nil {
		return
	}

	if err := h.service.DeleteGroup(r.Context(), group.ID); err != nil {
		if group.IsAdministrator() {
			// Refusing to delete the last administrator group is a client
			// error, not an outage
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		h.logger.WithError(err).Error("failed to delete group")
		httputil.WriteUnavailable(w, "group store temporarily unavailable")
		return
	}

	h.logAudit(r, audit.EventTypeGroupDelete, group.ID, map[string]interface{}{
		"data_room_id": group.DataRoomID,
		"name":         group.Name,
	})
	httputil.WriteNoContent(w)
}

// ListMembers returns the memberships of a group
func (h *Handlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	group := h.loadGroup(w, r, CapViewGroupUsers)
	if group == nil {
		return
	}

	members, err := h.service.Store().ListMembers(r.Context(), group.ID)
	if err != nil {
		h.logger.WithError(err).Error("failed to list members")
		httputil.WriteUnavailable(w, "group store temporarily unavailable")
		return
	}
	if members == nil {
		members = []Membership{}
	}
	httputil.WriteSuccess(w, members)
}

// AddMember enrolls a user in a group; re-adding is a no-op
func (h *Handlers) AddMember(w http.ResponseWriter, r *http.Request) {
	group := h.loadGroup(w, r, CapManageUsers)
	if group == nil {
		return
	}

	var req struct {
		UserID int64 `json:"user_id"`
	}
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if req.UserID < 1 {
		httputil.WriteBadRequest(w, "user_id is required")
		return
	}

	actor := authz.ActorFromContext(r.Context())
	if err := h.service.Store().AddMember(r.Context(), group.ID, req.UserID, &actor.UserID); err != nil {
		h.logger.WithError(err).Error("failed to add member")
		httputil.WriteUnavailable(w, "group store temporarily unavailable")
		return
	}

	h.logAudit(r, audit.EventTypeMemberAdd, group.ID, map[string]interface{}{
		"user_id": req.UserID,
	})
	httputil.WriteNoContent(w)
}

// RemoveMember removes a user from a group; absence is a no-op
func (h *Handlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	group := h.loadGroup(w, r, CapManageUsers)
	if group == nil {
		return
	}

	userID, err := strconv.ParseInt(mux.Vars(r)["userID"], 10, 64)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid user id")
		return
	}

	if err := h.service.Store().RemoveMember(r.Context(), group.ID, userID); err != nil {
		h.logger.WithError(err).Error("failed to remove member")
		httputil.WriteUnavailable(w, "group store temporarily unavailable")
		return
	}

	h.logAudit(r, audit.EventTypeMemberRemove, group.ID, map[string]interface{}{
		"user_id": userID,
	})
	httputil.WriteNoContent(w)
}

func (h *Handlers) logAudit(r *http.Request, eventType audit.EventType, groupID int64, metadata map[string]interface{}) {
	if h.auditLogger == nil {
		return
	}
	actor := authz.ActorFromContext(r.Context())
	event := &audit.Event{
		EventType:    eventType,
		Status:       audit.EventStatusSuccess,
		ResourceType: audit.ResourceTypeGroup,
		ResourceID:   strconv.FormatInt(groupID, 10),
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
