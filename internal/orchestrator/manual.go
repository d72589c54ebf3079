package orchestrator

import (
	"context"
	"fmt"

	"github.com/ternarybob/maestro/internal/common"
	"github.com/ternarybob/maestro/internal/models"
)

// RetryTask re-queues a FAILED task at the operator's request. Downstream
// tasks that were skipped by the cascade from this failure return to
// PENDING so the job can complete after a successful retry.
func (o *Orchestrator) RetryTask(ctx context.Context, taskID string) error {
	task, err := o.storage.TaskStorage().GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	lock := o.jobLock(task.JobID)
	lock.Lock()
	defer lock.Unlock()

	task, err = o.storage.TaskStorage().GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != models.TaskStatusFailed {
		return common.NewError(common.KindConflict, "task %s is %s, only FAILED tasks can be retried", taskID, task.Status)
	}

	tasks, err := o.storage.TaskStorage().GetTasksByJob(ctx, task.JobID)
	if err != nil {
		return err
	}
	byNode := make(map[string]*models.Task, len(tasks))
	for _, t := range tasks {
		byNode[t.NodeID] = t
	}

	for _, desc := range descendants(task.NodeID, tasks) {
		if desc.Status != models.TaskStatusSkipped {
			continue
		}
		desc.Status = models.TaskStatusPending
		desc.Error = ""
		desc.FinishedAt = nil
		desc.Touch()
		if err := o.storage.TaskStorage().SaveTask(ctx, desc); err != nil {
			return err
		}
		o.publishTaskEvent(ctx, desc)
		o.logTask(ctx, desc, "info", fmt.Sprintf("restored to PENDING by retry of %s", task.NodeID))
	}

	job, err := o.storage.JobStorage().GetJob(ctx, task.JobID)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusRunning {
		o.setJobStatus(ctx, job, models.JobStatusRunning, "")
	}

	task.Error = ""
	task.FinishedAt = nil
	task.StartedAt = nil
	o.logTask(ctx, task, "info", "manual retry requested")
	if err := o.enqueueTask(ctx, task, byNode); err != nil {
		return err
	}

	return o.scanJob(ctx, task.JobID)
}

// SkipTask marks a task SKIPPED at the operator's request.
func (o *Orchestrator) SkipTask(ctx context.Context, taskID string) error {
	return o.manualFinish(ctx, taskID, models.TaskStatusSkipped, "skipped by operator")
}

// FailTask marks a task FAILED at the operator's request.
func (o *Orchestrator) FailTask(ctx context.Context, taskID, reason string) error {
	if reason == "" {
		reason = "failed by operator"
	}
	return o.manualFinish(ctx, taskID, models.TaskStatusFailed, reason)
}

func (o *Orchestrator) manualFinish(ctx context.Context, taskID string, status models.TaskStatus, reason string) error {
	task, err := o.storage.TaskStorage().GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	lock := o.jobLock(task.JobID)
	lock.Lock()
	defer lock.Unlock()

	task, err = o.storage.TaskStorage().GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status.IsTerminal() && !(task.Status == models.TaskStatusFailed && status == models.TaskStatusSkipped) {
		return common.NewError(common.KindConflict, "task %s is already %s", taskID, task.Status)
	}

	task.MarkFinished(status, reason)
	if err := o.storage.TaskStorage().SaveTask(ctx, task); err != nil {
		return err
	}
	o.publishTaskEvent(ctx, task)
	o.logTask(ctx, task, "info", reason)

	return o.scanJob(ctx, task.JobID)
}

// ReviewTask applies a human verdict to a task parked in AWAITING_REVIEW.
func (o *Orchestrator) ReviewTask(ctx context.Context, taskID string, decision models.ReviewDecision, score *float64, feedback string) error {
	if decision != models.ReviewApprove && decision != models.ReviewReject {
		return common.NewError(common.KindValidation, "review decision must be APPROVE or REJECT")
	}

	task, err := o.storage.TaskStorage().GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	lock := o.jobLock(task.JobID)
	lock.Lock()
	defer lock.Unlock()

	task, err = o.storage.TaskStorage().GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != models.TaskStatusAwaitingReview {
		return common.NewError(common.KindConflict, "task %s is %s, not AWAITING_REVIEW", taskID, task.Status)
	}

	if score != nil {
		task.ReviewScore = score
	}
	if feedback != "" {
		task.ReviewFeedback = feedback
	}
	if err := o.finishReview(ctx, task, decision); err != nil {
		return err
	}

	return o.scanJob(ctx, task.JobID)
}

// descendants collects every task reachable downstream of the given node.
func descendants(nodeID string, tasks []*models.Task) []*models.Task {
	downstream := make(map[string][]*models.Task)
	for _, task := range tasks {
		for _, dep := range task.Dependencies {
			downstream[dep] = append(downstream[dep], task)
		}
	}

	var out []*models.Task
	seen := map[string]bool{nodeID: true}
	frontier := []string{nodeID}
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		for _, task := range downstream[next] {
			if seen[task.NodeID] {
				continue
			}
			seen[task.NodeID] = true
			out = append(out, task)
			frontier = append(frontier, task.NodeID)
		}
	}
	return out
}
