package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/maestro/internal/artifacts"
	"github.com/ternarybob/maestro/internal/common"
	"github.com/ternarybob/maestro/internal/interfaces"
	"github.com/ternarybob/maestro/internal/models"
)

// ArtifactHandler serves the artifact registry: versions, promotion, diffs,
// and the audit trail.
type ArtifactHandler struct {
	artifacts *artifacts.Store
	storage   interfaces.StorageManager
	logger    arbor.ILogger
}

// NewArtifactHandler creates the artifact handler.
func NewArtifactHandler(store *artifacts.Store, storage interfaces.StorageManager, logger arbor.ILogger) *ArtifactHandler {
	return &ArtifactHandler{
		artifacts: store,
		storage:   storage,
		logger:    logger,
	}
}

// loadArtifact fetches an artifact and checks the caller can see its job.
func (h *ArtifactHandler) loadArtifact(w http.ResponseWriter, r *http.Request, artifactID string) (*models.Artifact, *Identity, bool) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return nil, nil, false
	}

	artifact, err := h.artifacts.Get(r.Context(), artifactID)
	if err != nil {
		WriteErr(w, err)
		return nil, nil, false
	}
	if _, err := requireJobAccess(r.Context(), h.storage.JobStorage(), id, artifact.JobID); err != nil {
		writeAccessErr(w, err)
		return nil, nil, false
	}
	return artifact, id, true
}

// GetArtifactHandler handles GET /api/artifacts/{id}.
func (h *ArtifactHandler) GetArtifactHandler(w http.ResponseWriter, r *http.Request, artifactID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	artifact, _, ok := h.loadArtifact(w, r, artifactID)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, artifact)
}

// ListVersionsHandler handles GET /api/artifacts/versions/{jobId}/{type} and
// /{jobId}/{type}/{role}: the version chain oldest first.
func (h *ArtifactHandler) ListVersionsHandler(w http.ResponseWriter, r *http.Request, jobID, artifactType, role string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if _, err := requireJobAccess(ctx, h.storage.JobStorage(), id, jobID); err != nil {
		writeAccessErr(w, err)
		return
	}

	versions, err := h.artifacts.Versions(ctx, jobID, models.ArtifactType(artifactType), role)
	if err != nil {
		WriteErr(w, err)
		return
	}
	if versions == nil {
		versions = []*models.Artifact{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"versions": versions,
		"count":    len(versions),
	})
}

// PromoteArtifactHandler handles POST /api/artifacts/{id}/promote: advance
// one step through draft -> approved -> frozen. Org jobs require at least
// ADMIN for the freeze step.
func (h *ArtifactHandler) PromoteArtifactHandler(w http.ResponseWriter, r *http.Request, artifactID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	artifact, id, ok := h.loadArtifact(w, r, artifactID)
	if !ok {
		return
	}

	var req struct {
		TargetStatus models.ArtifactStatus `json:"target_status"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		WriteErr(w, err)
		return
	}

	ctx := r.Context()
	if req.TargetStatus == models.ArtifactStatusFrozen {
		job, err := h.storage.JobStorage().GetJob(ctx, artifact.JobID)
		if err != nil {
			WriteErr(w, err)
			return
		}
		if err := requireOrgRole(ctx, h.storage.OrgStorage(), id, job.OrgID, models.OrgRoleAdmin); err != nil {
			writeAccessErr(w, err)
			return
		}
	}

	promoted, err := h.artifacts.Promote(ctx, artifact.ID, req.TargetStatus, id.UserID)
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, promoted)
}

// DiffArtifactHandler handles GET /api/artifacts/{id}/diff. By default the
// artifact is compared against its parent version; ?from={artifactId}
// selects any earlier version on the same chain.
func (h *ArtifactHandler) DiffArtifactHandler(w http.ResponseWriter, r *http.Request, artifactID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	artifact, _, ok := h.loadArtifact(w, r, artifactID)
	if !ok {
		return
	}

	fromID := r.URL.Query().Get("from")
	if fromID == "" {
		fromID = artifact.ParentArtifactID
	}
	if fromID == "" {
		WriteErr(w, common.NewError(common.KindValidation, "artifact %s has no parent version to diff against", artifact.ID))
		return
	}

	from, err := h.artifacts.Get(r.Context(), fromID)
	if err != nil {
		WriteErr(w, err)
		return
	}

	diff, err := artifacts.Diff(from, artifact)
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, diff)
}

// GetAuditHandler handles GET /api/artifacts/{id}/audit: the promotion
// history, oldest first.
func (h *ArtifactHandler) GetAuditHandler(w http.ResponseWriter, r *http.Request, artifactID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	artifact, _, ok := h.loadArtifact(w, r, artifactID)
	if !ok {
		return
	}

	entries, err := h.storage.AuditStorage().GetAuditByArtifact(r.Context(), artifact.ID)
	if err != nil {
		WriteErr(w, err)
		return
	}
	if entries == nil {
		entries = []*models.AuditEntry{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"audit": entries,
		"count": len(entries),
	})
}
