package handlers

import (
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/maestro/internal/common"
	"github.com/ternarybob/maestro/internal/interfaces"
	"github.com/ternarybob/maestro/internal/models"
	"github.com/ternarybob/maestro/internal/orchestrator"
	"github.com/ternarybob/maestro/internal/planner"
)

// WorkflowHandler serves the named, versioned workflow template catalog.
type WorkflowHandler struct {
	orchestrator *orchestrator.Orchestrator
	storage      interfaces.StorageManager
	logger       arbor.ILogger
}

// NewWorkflowHandler creates the workflow handler.
func NewWorkflowHandler(orch *orchestrator.Orchestrator, storage interfaces.StorageManager, logger arbor.ILogger) *WorkflowHandler {
	return &WorkflowHandler{
		orchestrator: orch,
		storage:      storage,
		logger:       logger,
	}
}

// loadTemplate fetches a template and checks owner-or-same-org visibility.
func (h *WorkflowHandler) loadTemplate(w http.ResponseWriter, r *http.Request, templateID string) (*models.WorkflowTemplate, *Identity, bool) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return nil, nil, false
	}

	template, err := h.storage.TemplateStorage().GetTemplate(r.Context(), templateID)
	if err != nil {
		WriteErr(w, err)
		return nil, nil, false
	}
	if template.OwnerID != id.UserID && (template.OrgID == "" || template.OrgID != id.OrgID) {
		WriteError(w, http.StatusForbidden, "template is not visible to this caller")
		return nil, nil, false
	}
	return template, id, true
}

// CreateWorkflowHandler handles POST /api/workflows: a named template whose
// submitted DAG becomes version 1.
func (h *WorkflowHandler) CreateWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req struct {
		Name        string           `json:"name"`
		Description string           `json:"description,omitempty"`
		Workflow    *models.Workflow `json:"workflow"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		WriteErr(w, err)
		return
	}
	if req.Name == "" {
		WriteErr(w, common.NewError(common.KindValidation, "name is required"))
		return
	}
	if req.Workflow == nil {
		WriteErr(w, common.NewError(common.KindValidation, "workflow is required"))
		return
	}
	if validation := planner.Validate(req.Workflow); !validation.Valid {
		WriteErr(w, common.NewError(common.KindValidation, "workflow rejected: %s", strings.Join(validation.Errors, "; ")))
		return
	}

	ctx := r.Context()
	template := models.NewWorkflowTemplate(id.UserID, id.OrgID, req.Name, req.Description)
	template.LatestVersion = 1
	if err := h.storage.TemplateStorage().SaveTemplate(ctx, template); err != nil {
		WriteErr(w, err)
		return
	}
	version := &models.WorkflowVersion{
		ID:         models.WorkflowVersionKey(template.ID, 1),
		TemplateID: template.ID,
		Version:    1,
		Workflow:   *req.Workflow,
		CreatedAt:  template.CreatedAt,
	}
	if err := h.storage.TemplateStorage().SaveVersion(ctx, version); err != nil {
		WriteErr(w, err)
		return
	}

	h.logger.Info().
		Str("template_id", template.ID).
		Str("name", template.Name).
		Msg("Workflow template created")

	WriteJSON(w, http.StatusCreated, template)
}

// ListWorkflowsHandler handles GET /api/workflows.
func (h *WorkflowHandler) ListWorkflowsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	templates, err := h.storage.TemplateStorage().ListTemplates(r.Context(), id.OrgID, id.UserID)
	if err != nil {
		WriteErr(w, err)
		return
	}
	if templates == nil {
		templates = []*models.WorkflowTemplate{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"workflows": templates,
		"count":     len(templates),
	})
}

// GetWorkflowHandler handles GET /api/workflows/{id}.
func (h *WorkflowHandler) GetWorkflowHandler(w http.ResponseWriter, r *http.Request, templateID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	template, _, ok := h.loadTemplate(w, r, templateID)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, template)
}

// AddVersionHandler handles POST /api/workflows/{id}/versions: append an
// immutable new version of the template's DAG.
func (h *WorkflowHandler) AddVersionHandler(w http.ResponseWriter, r *http.Request, templateID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	template, _, ok := h.loadTemplate(w, r, templateID)
	if !ok {
		return
	}

	var req struct {
		Workflow *models.Workflow `json:"workflow"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		WriteErr(w, err)
		return
	}
	if req.Workflow == nil {
		WriteErr(w, common.NewError(common.KindValidation, "workflow is required"))
		return
	}
	if validation := planner.Validate(req.Workflow); !validation.Valid {
		WriteErr(w, common.NewError(common.KindValidation, "workflow rejected: %s", strings.Join(validation.Errors, "; ")))
		return
	}

	ctx := r.Context()
	next := template.LatestVersion + 1
	version := &models.WorkflowVersion{
		ID:         models.WorkflowVersionKey(template.ID, next),
		TemplateID: template.ID,
		Version:    next,
		Workflow:   *req.Workflow,
		CreatedAt:  template.UpdatedAt,
	}
	if err := h.storage.TemplateStorage().SaveVersion(ctx, version); err != nil {
		WriteErr(w, err)
		return
	}
	template.LatestVersion = next
	if err := h.storage.TemplateStorage().SaveTemplate(ctx, template); err != nil {
		WriteErr(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, version)
}

// ListVersionsHandler handles GET /api/workflows/{id}/versions.
func (h *WorkflowHandler) ListVersionsHandler(w http.ResponseWriter, r *http.Request, templateID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	template, _, ok := h.loadTemplate(w, r, templateID)
	if !ok {
		return
	}

	versions, err := h.storage.TemplateStorage().ListVersions(r.Context(), template.ID)
	if err != nil {
		WriteErr(w, err)
		return
	}
	if versions == nil {
		versions = []*models.WorkflowVersion{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"versions": versions,
		"count":    len(versions),
	})
}

// RunWorkflowHandler handles POST /api/workflows/{id}/run: spawn and start a
// job from a template version (latest when unspecified).
func (h *WorkflowHandler) RunWorkflowHandler(w http.ResponseWriter, r *http.Request, templateID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	template, id, ok := h.loadTemplate(w, r, templateID)
	if !ok {
		return
	}

	var req struct {
		Version int    `json:"version,omitempty"`
		Title   string `json:"title,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := DecodeJSON(r, &req); err != nil {
			WriteErr(w, err)
			return
		}
	}

	versionNum := req.Version
	if versionNum <= 0 {
		versionNum = template.LatestVersion
	}

	ctx := r.Context()
	version, err := h.storage.TemplateStorage().GetVersion(ctx, template.ID, versionNum)
	if err != nil {
		WriteErr(w, err)
		return
	}

	title := req.Title
	if title == "" {
		title = template.Name
	}

	job, err := h.orchestrator.CreateJob(ctx, id.UserID, id.OrgID, title, &version.Workflow, template.ID, version.Version)
	if err != nil {
		WriteErr(w, err)
		return
	}
	if err := h.orchestrator.StartJob(ctx, job.ID); err != nil {
		WriteErr(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"jobId":     job.ID,
		"taskCount": len(version.Workflow.Nodes),
		"version":   version.Version,
	})
}
