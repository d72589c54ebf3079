package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/maestro/internal/common"
	"github.com/ternarybob/maestro/internal/interfaces"
	"github.com/ternarybob/maestro/internal/models"
	"github.com/ternarybob/maestro/internal/orchestrator"
)

var scheduleCronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// JobHandler serves job submission, inspection, and lifecycle control.
type JobHandler struct {
	orchestrator *orchestrator.Orchestrator
	storage      interfaces.StorageManager
	logger       arbor.ILogger
}

// NewJobHandler creates the job handler.
func NewJobHandler(orch *orchestrator.Orchestrator, storage interfaces.StorageManager, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		orchestrator: orch,
		storage:      storage,
		logger:       logger,
	}
}

// createJobRequest accepts either a flat task list or a nodes/edges workflow.
type createJobRequest struct {
	Title    string           `json:"title"`
	Tasks    []jobTaskSpec    `json:"tasks,omitempty"`
	Workflow *models.Workflow `json:"workflow,omitempty"`
}

type jobTaskSpec struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name,omitempty"`
	AgentType    string                 `json:"agent_type"`
	Inputs       map[string]interface{} `json:"inputs"`
	Dependencies []string               `json:"dependencies,omitempty"`
}

// CreateJobHandler handles POST /api/jobs: validate the DAG, persist the job,
// and start it.
func (h *JobHandler) CreateJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req createJobRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErr(w, err)
		return
	}
	if req.Title == "" {
		WriteErr(w, common.NewError(common.KindValidation, "title is required"))
		return
	}

	workflow := req.Workflow
	if workflow == nil {
		workflow = &models.Workflow{}
		for _, t := range req.Tasks {
			workflow.Nodes = append(workflow.Nodes, models.WorkflowNode{
				ID:           t.ID,
				Name:         t.Name,
				AgentType:    t.AgentType,
				Inputs:       t.Inputs,
				Dependencies: t.Dependencies,
			})
		}
	}

	ctx := r.Context()
	job, err := h.orchestrator.CreateJob(ctx, id.UserID, id.OrgID, req.Title, workflow, "", 0)
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
		"taskCount": len(workflow.Nodes),
	})
}

// ListJobsHandler handles GET /api/jobs. scope=mine (default) lists the
// caller's own jobs; scope=org lists every job in the caller's org.
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	limit, offset := GetLimitOffset(r)
	filter := &interfaces.JobFilter{
		Status: models.JobStatus(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	}

	switch scope := r.URL.Query().Get("scope"); scope {
	case "", "mine":
		filter.OwnerID = id.UserID
	case "org":
		if id.OrgID == "" {
			WriteError(w, http.StatusForbidden, "token carries no orgId")
			return
		}
		filter.OrgID = id.OrgID
	default:
		WriteErr(w, common.NewError(common.KindValidation, "scope must be mine or org"))
		return
	}

	jobs, err := h.storage.JobStorage().ListJobs(r.Context(), filter)
	if err != nil {
		WriteErr(w, err)
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetJobHandler handles GET /api/jobs/{id}.
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	job, err := requireJobAccess(r.Context(), h.storage.JobStorage(), id, jobID)
	if err != nil {
		writeAccessErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// GetJobTasksHandler handles GET /api/jobs/{id}/tasks.
func (h *JobHandler) GetJobTasksHandler(w http.ResponseWriter, r *http.Request, jobID string) {
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

	tasks, err := h.storage.TaskStorage().GetTasksByJob(ctx, jobID)
	if err != nil {
		WriteErr(w, err)
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": tasks,
		"count": len(tasks),
	})
}

// GetJobLogsHandler handles GET /api/jobs/{id}/logs.
func (h *JobHandler) GetJobLogsHandler(w http.ResponseWriter, r *http.Request, jobID string) {
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

	logs, err := h.storage.TaskLogStorage().GetLogsByJob(ctx, jobID)
	if err != nil {
		WriteErr(w, err)
		return
	}
	if logs == nil {
		logs = []*models.TaskLog{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  logs,
		"count": len(logs),
	})
}

// GetJobArtifactsHandler handles GET /api/jobs/{id}/artifacts.
func (h *JobHandler) GetJobArtifactsHandler(w http.ResponseWriter, r *http.Request, jobID string) {
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

	artifacts, err := h.storage.ArtifactStorage().GetArtifactsByJob(ctx, jobID)
	if err != nil {
		WriteErr(w, err)
		return
	}
	if artifacts == nil {
		artifacts = []*models.Artifact{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"artifacts": artifacts,
		"count":     len(artifacts),
	})
}

// CancelJobHandler handles POST /api/jobs/{id}/cancel.
func (h *JobHandler) CancelJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	h.lifecycle(w, r, jobID, h.orchestrator.CancelJob, "job cancelled")
}

// PauseJobHandler handles POST /api/jobs/{id}/pause.
func (h *JobHandler) PauseJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	h.lifecycle(w, r, jobID, h.orchestrator.PauseJob, "job paused")
}

// ResumeJobHandler handles POST /api/jobs/{id}/resume.
func (h *JobHandler) ResumeJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	h.lifecycle(w, r, jobID, h.orchestrator.ResumeJob, "job resumed")
}

func (h *JobHandler) lifecycle(w http.ResponseWriter, r *http.Request, jobID string, op func(ctx context.Context, jobID string) error, message string) {
	if !RequireMethod(w, r, http.MethodPost) {
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
	if err := op(ctx, jobID); err != nil {
		WriteErr(w, err)
		return
	}
	WriteSuccess(w, message)
}

type scheduleRequest struct {
	Type         models.ScheduleType `json:"type"`
	CronExpr     string              `json:"cron_expr,omitempty"`
	RunAt        *time.Time          `json:"run_at,omitempty"`
	DelaySeconds int                 `json:"delay_seconds,omitempty"`
}

// ScheduleJobHandler handles POST /api/jobs/{id}/schedule: attach a once,
// delayed, or cron schedule that re-runs the job's DAG.
func (h *JobHandler) ScheduleJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	job, err := requireJobAccess(ctx, h.storage.JobStorage(), id, jobID)
	if err != nil {
		writeAccessErr(w, err)
		return
	}

	var req scheduleRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErr(w, err)
		return
	}

	now := time.Now()
	schedule := &models.Schedule{
		JobID:           job.ID,
		TemplateID:      job.TemplateID,
		TemplateVersion: job.TemplateVersion,
		Type:            req.Type,
		Enabled:         true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	switch req.Type {
	case models.ScheduleTypeOnce:
		if req.RunAt == nil {
			WriteErr(w, common.NewError(common.KindValidation, "run_at is required for a once schedule"))
			return
		}
		schedule.RunAt = req.RunAt
		schedule.NextRunAt = req.RunAt
	case models.ScheduleTypeDelayed:
		if req.DelaySeconds <= 0 {
			WriteErr(w, common.NewError(common.KindValidation, "delay_seconds must be positive"))
			return
		}
		next := now.Add(time.Duration(req.DelaySeconds) * time.Second)
		schedule.NextRunAt = &next
	case models.ScheduleTypeCron:
		spec, err := scheduleCronParser.Parse(req.CronExpr)
		if err != nil {
			WriteErr(w, common.WrapError(common.KindValidation, err, "invalid cron expression %q", req.CronExpr))
			return
		}
		schedule.CronExpr = req.CronExpr
		next := spec.Next(now)
		schedule.NextRunAt = &next
	default:
		WriteErr(w, common.NewError(common.KindValidation, "type must be once, delayed, or cron"))
		return
	}

	if err := h.storage.ScheduleStorage().SaveSchedule(ctx, schedule); err != nil {
		WriteErr(w, err)
		return
	}

	h.logger.Info().
		Str("job_id", job.ID).
		Str("type", string(req.Type)).
		Msg("Schedule attached")

	WriteJSON(w, http.StatusCreated, schedule)
}

// GetScheduleHandler handles GET /api/jobs/{id}/schedule.
func (h *JobHandler) GetScheduleHandler(w http.ResponseWriter, r *http.Request, jobID string) {
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

	schedule, err := h.storage.ScheduleStorage().GetSchedule(ctx, jobID)
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, schedule)
}

// DeleteScheduleHandler handles DELETE /api/jobs/{id}/schedule.
func (h *JobHandler) DeleteScheduleHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodDelete) {
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
	if err := h.storage.ScheduleStorage().DeleteSchedule(ctx, jobID); err != nil {
		WriteErr(w, err)
		return
	}
	WriteSuccess(w, "schedule removed")
}
