package orchestrator

import (
	"context"
	"fmt"

	"github.com/ternarybob/maestro/internal/agents"
	"github.com/ternarybob/maestro/internal/common"
	"github.com/ternarybob/maestro/internal/models"
	"github.com/ternarybob/maestro/internal/resolver"
)

// scanJob computes the set of newly ready tasks and enqueues them. Called
// on job start and after every task transition, with the job lock held.
//
// A PENDING task becomes ready when every dependency is SUCCESS, or SKIPPED
// without its outputs being referenced by the payload. A dependency that is
// FAILED or CANCELLED, or SKIPPED while referenced, skips the task in turn.
func (o *Orchestrator) scanJob(ctx context.Context, jobID string) error {
	job, err := o.storage.JobStorage().GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusRunning {
		return o.deriveJob(ctx, jobID)
	}

	tasks, err := o.storage.TaskStorage().GetTasksByJob(ctx, jobID)
	if err != nil {
		return err
	}
	byNode := make(map[string]*models.Task, len(tasks))
	for _, task := range tasks {
		byNode[task.NodeID] = task
	}

	// Skips cascade, so keep scanning until the task set stabilizes.
	for changed := true; changed; {
		changed = false
		for _, task := range tasks {
			if task.Status != models.TaskStatusPending {
				continue
			}

			ready, skipReason := o.evaluateDeps(task, byNode)
			switch {
			case skipReason != "":
				task.MarkFinished(models.TaskStatusSkipped, skipReason)
				if err := o.storage.TaskStorage().SaveTask(ctx, task); err != nil {
					return err
				}
				o.publishTaskEvent(ctx, task)
				o.logTask(ctx, task, "info", skipReason)
				changed = true
			case ready:
				if err := o.enqueueTask(ctx, task, byNode); err != nil {
					return err
				}
				changed = true
			}
		}
	}

	return o.deriveJob(ctx, jobID)
}

// evaluateDeps decides readiness for one PENDING task. Returns ready=true,
// or a non-empty skip reason when the task can never run.
func (o *Orchestrator) evaluateDeps(task *models.Task, byNode map[string]*models.Task) (bool, string) {
	for _, depNode := range task.Dependencies {
		dep, ok := byNode[depNode]
		if !ok {
			return false, fmt.Sprintf("dependency %q does not exist in job", depNode)
		}

		switch dep.Status {
		case models.TaskStatusSuccess:
			continue
		case models.TaskStatusFailed:
			return false, fmt.Sprintf("skipped: dependency %q failed", depNode)
		case models.TaskStatusCancelled:
			return false, fmt.Sprintf("skipped: dependency %q was cancelled", depNode)
		case models.TaskStatusSkipped:
			if payloadReferences(task.Payload, depNode) {
				return false, fmt.Sprintf("skipped: dependency %q was skipped and its outputs are referenced", depNode)
			}
			continue
		default:
			return false, ""
		}
	}
	return true, ""
}

// payloadReferences reports whether the payload carries a placeholder for
// any output of the given node.
func payloadReferences(payload map[string]interface{}, nodeID string) bool {
	for _, ref := range resolver.ExtractRefs(payload) {
		if ref.NodeID == nodeID {
			return true
		}
	}
	return false
}

// enqueueTask resolves placeholders and publishes the task to its agent
// queue. A resolution failure is fatal for the task: dependency invariants
// should make it impossible, so it fails loudly and is not retried.
func (o *Orchestrator) enqueueTask(ctx context.Context, task *models.Task, byNode map[string]*models.Task) error {
	resolved, err := o.resolvePayload(ctx, task, byNode)
	if err != nil {
		msg := fmt.Sprintf("placeholder resolution failed: %v", err)
		o.logger.Error().
			Str("job_id", task.JobID).
			Str("task_id", task.ID).
			Str("node_id", task.NodeID).
			Msg(msg)
		task.MarkFinished(models.TaskStatusFailed, msg)
		if err := o.storage.TaskStorage().SaveTask(ctx, task); err != nil {
			return err
		}
		o.publishTaskEvent(ctx, task)
		o.logTask(ctx, task, "error", msg)
		return nil
	}

	// Reviewer tasks review their single upstream dependency; the target
	// task id is injected here, never authored in the workflow.
	if task.AgentType == agents.AgentReviewer && len(task.Dependencies) == 1 {
		if target, ok := byNode[task.Dependencies[0]]; ok {
			resolved["target_task_id"] = target.ID
		}
	}

	task.Attempt++
	task.Status = models.TaskStatusQueued
	task.Error = ""
	task.Touch()
	if err := o.storage.TaskStorage().SaveTask(ctx, task); err != nil {
		return err
	}

	message := &models.TaskMessage{
		TaskID:    task.ID,
		JobID:     task.JobID,
		AgentType: task.AgentType,
		Payload:   resolved,
		Attempt:   task.Attempt,
	}
	if err := o.broker.TaskQueue(task.AgentType).Enqueue(ctx, message); err != nil {
		return common.WrapError(common.KindTransient, err, "failed to enqueue task %s", task.ID)
	}

	o.logger.Debug().
		Str("job_id", task.JobID).
		Str("task_id", task.ID).
		Str("agent_type", task.AgentType).
		Int("attempt", task.Attempt).
		Msg("Task enqueued")

	o.publishTaskEvent(ctx, task)
	o.logTask(ctx, task, "info", fmt.Sprintf("enqueued to %s (attempt %d)", task.AgentType, task.Attempt))
	return nil
}

// resolvePayload substitutes placeholder references with persisted outputs
// of upstream tasks.
func (o *Orchestrator) resolvePayload(ctx context.Context, task *models.Task, byNode map[string]*models.Task) (map[string]interface{}, error) {
	lookup := func(nodeID, field string) (interface{}, bool) {
		dep, ok := byNode[nodeID]
		if !ok {
			return nil, false
		}
		output, err := o.storage.OutputStorage().GetOutput(ctx, dep.ID, field)
		if err != nil {
			return nil, false
		}
		return output.Value, true
	}
	return resolver.ResolvePayload(task.Payload, lookup)
}
