package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/maestro/internal/common"
	"github.com/ternarybob/maestro/internal/interfaces"
	"github.com/ternarybob/maestro/internal/models"
)

// OrgHandler manages organization membership for the caller's org.
type OrgHandler struct {
	storage interfaces.StorageManager
	logger  arbor.ILogger
}

// NewOrgHandler creates the org handler.
func NewOrgHandler(storage interfaces.StorageManager, logger arbor.ILogger) *OrgHandler {
	return &OrgHandler{storage: storage, logger: logger}
}

// requireOrg resolves the caller's org, writing 403 when the token has none.
func (h *OrgHandler) requireOrg(w http.ResponseWriter, r *http.Request) (*Identity, bool) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return nil, false
	}
	if id.OrgID == "" {
		WriteError(w, http.StatusForbidden, "token carries no orgId")
		return nil, false
	}
	return id, true
}

// ListMembersHandler handles GET /api/org/members.
func (h *OrgHandler) ListMembersHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	id, ok := h.requireOrg(w, r)
	if !ok {
		return
	}

	members, err := h.storage.OrgStorage().ListMembers(r.Context(), id.OrgID)
	if err != nil {
		WriteErr(w, err)
		return
	}
	if members == nil {
		members = []*models.OrgMember{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"members": members,
		"count":   len(members),
	})
}

// AddMemberHandler handles POST /api/org/members. Requires ADMIN.
func (h *OrgHandler) AddMemberHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	id, ok := h.requireOrg(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if err := requireOrgRole(ctx, h.storage.OrgStorage(), id, id.OrgID, models.OrgRoleAdmin); err != nil {
		writeAccessErr(w, err)
		return
	}

	var req struct {
		UserID string         `json:"user_id"`
		Role   models.OrgRole `json:"role"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		WriteErr(w, err)
		return
	}
	if req.UserID == "" {
		WriteErr(w, common.NewError(common.KindValidation, "user_id is required"))
		return
	}
	switch req.Role {
	case models.OrgRoleOwner, models.OrgRoleAdmin, models.OrgRoleMember:
	default:
		WriteErr(w, common.NewError(common.KindValidation, "role must be OWNER, ADMIN, or MEMBER"))
		return
	}

	member := models.NewOrgMember(id.OrgID, req.UserID, req.Role)
	if err := h.storage.OrgStorage().SaveMember(ctx, member); err != nil {
		WriteErr(w, err)
		return
	}

	h.logger.Info().
		Str("org_id", id.OrgID).
		Str("user_id", req.UserID).
		Str("role", string(req.Role)).
		Msg("Org member added")

	WriteJSON(w, http.StatusCreated, member)
}

// RemoveMemberHandler handles DELETE /api/org/members/{userId}. Requires ADMIN.
func (h *OrgHandler) RemoveMemberHandler(w http.ResponseWriter, r *http.Request, userID string) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}
	id, ok := h.requireOrg(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if err := requireOrgRole(ctx, h.storage.OrgStorage(), id, id.OrgID, models.OrgRoleAdmin); err != nil {
		writeAccessErr(w, err)
		return
	}

	if err := h.storage.OrgStorage().DeleteMember(ctx, id.OrgID, userID); err != nil {
		WriteErr(w, err)
		return
	}
	WriteSuccess(w, "member removed")
}
