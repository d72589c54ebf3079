package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/maestro/internal/common"
	"github.com/ternarybob/maestro/internal/orchestrator"
	"github.com/ternarybob/maestro/internal/planner"
)

// PlanHandler turns natural-language prompts into validated workflows.
type PlanHandler struct {
	planner      *planner.Planner
	orchestrator *orchestrator.Orchestrator
	logger       arbor.ILogger
}

// NewPlanHandler creates the plan handler.
func NewPlanHandler(p *planner.Planner, orch *orchestrator.Orchestrator, logger arbor.ILogger) *PlanHandler {
	return &PlanHandler{
		planner:      p,
		orchestrator: orch,
		logger:       logger,
	}
}

// PlanHandler handles POST /api/plan. The planner never errors; refusals
// come back as canExecute=false with a reason. With execute=true a viable
// plan is submitted and started as a job in the same call.
func (h *PlanHandler) PlanHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req struct {
		Prompt string `json:"prompt"`
		Title  string `json:"title,omitempty"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		WriteErr(w, err)
		return
	}
	if req.Prompt == "" {
		WriteErr(w, common.NewError(common.KindValidation, "prompt is required"))
		return
	}

	ctx := r.Context()
	result := h.planner.Plan(ctx, req.Prompt)

	if r.URL.Query().Get("execute") != "true" || !result.CanExecute {
		WriteJSON(w, http.StatusOK, result)
		return
	}

	title := req.Title
	if title == "" {
		title = req.Prompt
		if len(title) > 80 {
			title = title[:80]
		}
	}

	job, err := h.orchestrator.CreateJob(ctx, id.UserID, id.OrgID, title, result.Workflow, "", 0)
	if err != nil {
		WriteErr(w, err)
		return
	}
	if err := h.orchestrator.StartJob(ctx, job.ID); err != nil {
		WriteErr(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"plan":      result,
		"jobId":     job.ID,
		"taskCount": len(result.Workflow.Nodes),
	})
}
