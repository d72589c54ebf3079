package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/maestro/internal/interfaces"
	"github.com/ternarybob/maestro/internal/models"
	"github.com/ternarybob/maestro/internal/orchestrator"
)

// TaskHandler serves task inspection and operator interventions.
type TaskHandler struct {
	orchestrator *orchestrator.Orchestrator
	storage      interfaces.StorageManager
	logger       arbor.ILogger
}

// NewTaskHandler creates the task handler.
func NewTaskHandler(orch *orchestrator.Orchestrator, storage interfaces.StorageManager, logger arbor.ILogger) *TaskHandler {
	return &TaskHandler{
		orchestrator: orch,
		storage:      storage,
		logger:       logger,
	}
}

// loadTask fetches the task and checks the caller can see its job.
func (h *TaskHandler) loadTask(w http.ResponseWriter, r *http.Request, taskID string) (*models.Task, bool) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return nil, false
	}

	ctx := r.Context()
	task, err := h.storage.TaskStorage().GetTask(ctx, taskID)
	if err != nil {
		WriteErr(w, err)
		return nil, false
	}
	if _, err := requireJobAccess(ctx, h.storage.JobStorage(), id, task.JobID); err != nil {
		writeAccessErr(w, err)
		return nil, false
	}
	return task, true
}

// GetTaskHandler handles GET /api/tasks/{id}.
func (h *TaskHandler) GetTaskHandler(w http.ResponseWriter, r *http.Request, taskID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	task, ok := h.loadTask(w, r, taskID)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, task)
}

// GetTaskOutputsHandler handles GET /api/tasks/{id}/outputs.
func (h *TaskHandler) GetTaskOutputsHandler(w http.ResponseWriter, r *http.Request, taskID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	task, ok := h.loadTask(w, r, taskID)
	if !ok {
		return
	}

	outputs, err := h.storage.OutputStorage().GetOutputsByTask(r.Context(), task.ID)
	if err != nil {
		WriteErr(w, err)
		return
	}
	fields := make(map[string]interface{}, len(outputs))
	for _, output := range outputs {
		fields[output.FieldName] = output.Value
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"task_id": task.ID,
		"outputs": fields,
	})
}

// GetTaskLogsHandler handles GET /api/tasks/{id}/logs.
func (h *TaskHandler) GetTaskLogsHandler(w http.ResponseWriter, r *http.Request, taskID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	task, ok := h.loadTask(w, r, taskID)
	if !ok {
		return
	}

	logs, err := h.storage.TaskLogStorage().GetLogsByTask(r.Context(), task.ID)
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

// RetryTaskHandler handles POST /api/tasks/{id}/retry.
func (h *TaskHandler) RetryTaskHandler(w http.ResponseWriter, r *http.Request, taskID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	task, ok := h.loadTask(w, r, taskID)
	if !ok {
		return
	}
	if err := h.orchestrator.RetryTask(r.Context(), task.ID); err != nil {
		WriteErr(w, err)
		return
	}
	WriteSuccess(w, "task re-queued")
}

// SkipTaskHandler handles POST /api/tasks/{id}/skip.
func (h *TaskHandler) SkipTaskHandler(w http.ResponseWriter, r *http.Request, taskID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	task, ok := h.loadTask(w, r, taskID)
	if !ok {
		return
	}
	if err := h.orchestrator.SkipTask(r.Context(), task.ID); err != nil {
		WriteErr(w, err)
		return
	}
	WriteSuccess(w, "task skipped")
}

// FailTaskHandler handles POST /api/tasks/{id}/fail.
func (h *TaskHandler) FailTaskHandler(w http.ResponseWriter, r *http.Request, taskID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	task, ok := h.loadTask(w, r, taskID)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := DecodeJSON(r, &req); err != nil {
			WriteErr(w, err)
			return
		}
	}

	if err := h.orchestrator.FailTask(r.Context(), task.ID, req.Reason); err != nil {
		WriteErr(w, err)
		return
	}
	WriteSuccess(w, "task failed")
}

// ReviewTaskHandler handles POST /api/tasks/{id}/review: the human verdict
// for a task parked in AWAITING_REVIEW.
func (h *TaskHandler) ReviewTaskHandler(w http.ResponseWriter, r *http.Request, taskID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	task, ok := h.loadTask(w, r, taskID)
	if !ok {
		return
	}

	var req struct {
		Decision models.ReviewDecision `json:"decision"`
		Score    *float64              `json:"score,omitempty"`
		Feedback string                `json:"feedback,omitempty"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		WriteErr(w, err)
		return
	}

	if err := h.orchestrator.ReviewTask(r.Context(), task.ID, req.Decision, req.Score, req.Feedback); err != nil {
		WriteErr(w, err)
		return
	}
	WriteSuccess(w, "review applied")
}
