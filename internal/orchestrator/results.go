package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/maestro/internal/agents"
	"github.com/ternarybob/maestro/internal/broker"
	"github.com/ternarybob/maestro/internal/common"
	"github.com/ternarybob/maestro/internal/interfaces"
	"github.com/ternarybob/maestro/internal/models"
	"github.com/ternarybob/maestro/internal/services/events"
)

// retryBackoff computes the delay before a retried task becomes visible
// again: 2s, 4s, 8s, ...
func retryBackoff(retryCount int) time.Duration {
	return time.Second * time.Duration(1<<uint(retryCount))
}

// MarkTaskStarted records the QUEUED -> RUNNING transition when a worker
// picks up a delivery. Stale attempts and terminal tasks are rejected so
// the worker drops the delivery without executing.
func (o *Orchestrator) MarkTaskStarted(ctx context.Context, taskID string, attempt int) error {
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
	if task.Status != models.TaskStatusQueued || task.Attempt != attempt {
		return common.NewError(common.KindConflict, "task %s is %s at attempt %d, delivery is stale", taskID, task.Status, task.Attempt)
	}

	task.MarkStarted()
	if err := o.storage.TaskStorage().SaveTask(ctx, task); err != nil {
		return err
	}
	o.publishTaskEvent(ctx, task)
	o.logTask(ctx, task, "info", fmt.Sprintf("started by %s worker", task.AgentType))
	return nil
}

// HandleResult consumes one worker reply. A nil return acknowledges the
// delivery; duplicates and results for terminal or superseded attempts are
// acknowledged and discarded, making at-least-once delivery safe.
func (o *Orchestrator) HandleResult(ctx context.Context, result *models.TaskResult) error {
	task, err := o.storage.TaskStorage().GetTask(ctx, result.TaskID)
	if err != nil {
		if common.KindOf(err) == common.KindNotFound {
			o.logger.Warn().Str("task_id", result.TaskID).Msg("Result for unknown task discarded")
			return nil
		}
		return err
	}

	lock := o.jobLock(task.JobID)
	lock.Lock()
	defer lock.Unlock()

	task, err = o.storage.TaskStorage().GetTask(ctx, result.TaskID)
	if err != nil {
		return err
	}

	if task.Status.IsTerminal() || result.Attempt != task.Attempt {
		o.logger.Debug().
			Str("task_id", task.ID).
			Str("status", string(task.Status)).
			Int("result_attempt", result.Attempt).
			Int("task_attempt", task.Attempt).
			Msg("Stale or duplicate result discarded")
		return nil
	}

	if result.Status == models.ResultStatusSuccess {
		err = o.handleSuccess(ctx, task, result)
	} else {
		err = o.handleFailure(ctx, task, result.Error, result.Retryable)
	}
	if err != nil {
		return err
	}

	return o.scanJob(ctx, task.JobID)
}

// handleSuccess registers artifacts, persists outputs, and finishes the
// task. Reviewer tasks follow their verdict instead: approve ends in
// SUCCESS, reject in FAILED, no verdict parks the task in AWAITING_REVIEW
// for a human decision.
func (o *Orchestrator) handleSuccess(ctx context.Context, task *models.Task, result *models.TaskResult) error {
	if task.AgentType == agents.AgentReviewer {
		return o.handleReviewerResult(ctx, task, result)
	}

	for _, reported := range result.Artifacts {
		artifact := models.NewArtifact(task.ID, task.JobID, reported.Type, reported.Role,
			reported.Filename, reported.StorageKey, reported.MimeType, reported.Metadata)
		if _, err := o.artifacts.Register(ctx, artifact); err != nil {
			return o.handleFailure(ctx, task, fmt.Sprintf("artifact registration failed: %v", err), false)
		}
	}

	if err := o.persistOutputs(ctx, task, result.Outputs); err != nil {
		return err
	}

	task.MarkFinished(models.TaskStatusSuccess, "")
	if err := o.storage.TaskStorage().SaveTask(ctx, task); err != nil {
		return err
	}
	o.publishTaskEvent(ctx, task)
	o.logTask(ctx, task, "info", "task succeeded")
	return nil
}

func (o *Orchestrator) handleReviewerResult(ctx context.Context, task *models.Task, result *models.TaskResult) error {
	if result.Review != nil {
		score := result.Review.Score
		task.ReviewScore = &score
		task.ReviewFeedback = result.Review.Feedback
		task.ReviewDecision = result.Review.Decision
	}

	switch {
	case result.Review == nil || result.Review.Decision == "":
		task.Status = models.TaskStatusAwaitingReview
		task.Touch()
		if err := o.storage.TaskStorage().SaveTask(ctx, task); err != nil {
			return err
		}
		o.publishTaskEvent(ctx, task)
		o.logTask(ctx, task, "info", "awaiting human review verdict")
		return nil
	case result.Review.Decision == models.ReviewApprove:
		return o.finishReview(ctx, task, models.ReviewApprove)
	default:
		return o.finishReview(ctx, task, models.ReviewReject)
	}
}

// finishReview applies a verdict to a reviewer task, either directly from
// the worker or later from the review endpoint.
func (o *Orchestrator) finishReview(ctx context.Context, task *models.Task, decision models.ReviewDecision) error {
	task.ReviewDecision = decision

	if decision == models.ReviewApprove {
		outputs := map[string]interface{}{
			"decision": string(decision),
			"feedback": task.ReviewFeedback,
		}
		if task.ReviewScore != nil {
			outputs["score"] = *task.ReviewScore
		}
		if err := o.persistOutputs(ctx, task, outputs); err != nil {
			return err
		}
		task.MarkFinished(models.TaskStatusSuccess, "")
	} else {
		task.MarkFinished(models.TaskStatusFailed, fmt.Sprintf("review rejected: %s", task.ReviewFeedback))
	}

	if err := o.storage.TaskStorage().SaveTask(ctx, task); err != nil {
		return err
	}
	o.publishTaskEvent(ctx, task)
	o.logTask(ctx, task, "info", fmt.Sprintf("review verdict: %s", decision))
	return nil
}

func (o *Orchestrator) persistOutputs(ctx context.Context, task *models.Task, outputs map[string]interface{}) error {
	rows := make([]*models.Output, 0, len(outputs))
	for field, value := range outputs {
		rows = append(rows, models.NewOutput(task.ID, task.JobID, field, value))
	}
	return o.storage.OutputStorage().SaveOutputs(ctx, rows)
}

// handleFailure applies the retry policy: a retryable failure under the
// retry budget goes back to QUEUED with exponential backoff, anything else
// is terminal FAILED.
func (o *Orchestrator) handleFailure(ctx context.Context, task *models.Task, errMsg string, retryable bool) error {
	if retryable && task.RetryCount < o.maxRetries {
		task.RetryCount++
		task.Attempt++
		task.Status = models.TaskStatusQueued
		task.Error = errMsg
		task.StartedAt = nil
		task.Touch()
		if err := o.storage.TaskStorage().SaveTask(ctx, task); err != nil {
			return err
		}

		resolved, byNodeErr := o.resolveForRetry(ctx, task)
		if byNodeErr != nil {
			return byNodeErr
		}
		message := &models.TaskMessage{
			TaskID:    task.ID,
			JobID:     task.JobID,
			AgentType: task.AgentType,
			Payload:   resolved,
			Attempt:   task.Attempt,
		}
		backoff := retryBackoff(task.RetryCount)
		if err := o.broker.TaskQueue(task.AgentType).EnqueueAfter(ctx, message, backoff); err != nil {
			return common.WrapError(common.KindTransient, err, "failed to re-enqueue task %s", task.ID)
		}

		o.logger.Warn().
			Str("task_id", task.ID).
			Int("retry_count", task.RetryCount).
			Str("backoff", backoff.String()).
			Str("error", errMsg).
			Msg("Task failed, retrying")

		o.publishTaskEvent(ctx, task)
		o.logTask(ctx, task, "warn", fmt.Sprintf("retry %d scheduled after %s: %s", task.RetryCount, backoff, errMsg))
		return nil
	}

	task.MarkFinished(models.TaskStatusFailed, errMsg)
	if err := o.storage.TaskStorage().SaveTask(ctx, task); err != nil {
		return err
	}
	o.publishTaskEvent(ctx, task)
	o.logTask(ctx, task, "error", fmt.Sprintf("task failed: %s", errMsg))
	return nil
}

// resolveForRetry rebuilds the resolved payload for a re-enqueue. Upstream
// outputs are immutable once their task succeeded, so this matches the
// original enqueue.
func (o *Orchestrator) resolveForRetry(ctx context.Context, task *models.Task) (map[string]interface{}, error) {
	tasks, err := o.storage.TaskStorage().GetTasksByJob(ctx, task.JobID)
	if err != nil {
		return nil, err
	}
	byNode := make(map[string]*models.Task, len(tasks))
	for _, t := range tasks {
		byNode[t.NodeID] = t
	}

	resolved, err := o.resolvePayload(ctx, task, byNode)
	if err != nil {
		return nil, common.WrapError(common.KindInternal, err, "failed to re-resolve payload for task %s", task.ID)
	}
	if task.AgentType == agents.AgentReviewer && len(task.Dependencies) == 1 {
		if target, ok := byNode[task.Dependencies[0]]; ok {
			resolved["target_task_id"] = target.ID
		}
	}
	return resolved, nil
}

// HandleDeadLetter marks the task behind a dead-lettered message as FAILED.
// Registered as the broker's dead-letter callback.
func (o *Orchestrator) HandleDeadLetter(entry broker.DLQEntry) {
	ctx := context.Background()

	var message models.TaskMessage
	if err := json.Unmarshal(entry.Body, &message); err != nil || message.TaskID == "" {
		o.logger.Warn().Str("dlq_id", entry.ID).Msg("Dead-lettered message is not a task message")
		return
	}

	lock := o.jobLock(message.JobID)
	lock.Lock()
	defer lock.Unlock()

	task, err := o.storage.TaskStorage().GetTask(ctx, message.TaskID)
	if err != nil {
		o.logger.Warn().Err(err).Str("task_id", message.TaskID).Msg("Dead-lettered task not found")
		return
	}
	if task.Status.IsTerminal() {
		return
	}

	reason := fmt.Sprintf("message dead-lettered after %d deliveries: %s", entry.ReceiveCount, entry.LastError)
	task.MarkFinished(models.TaskStatusFailed, reason)
	if err := o.storage.TaskStorage().SaveTask(ctx, task); err != nil {
		o.logger.Error().Err(err).Str("task_id", task.ID).Msg("Failed to persist dead-letter failure")
		return
	}
	o.publishTaskEvent(ctx, task)
	o.logTask(ctx, task, "error", reason)

	if o.events != nil {
		o.events.Publish(ctx, interfaces.Event{
			Type: interfaces.EventMessageDeadLetter,
			Payload: events.DeadLetterEventPayload{
				MessageID: entry.ID,
				Queue:     entry.Queue,
				TaskID:    task.ID,
				JobID:     task.JobID,
				Reason:    entry.LastError,
				Timestamp: time.Now(),
			},
		})
	}

	if err := o.scanJob(ctx, task.JobID); err != nil {
		o.logger.Error().Err(err).Str("job_id", task.JobID).Msg("Post-dead-letter scan failed")
	}
}

// TimeoutStuckTasks fails tasks that have been RUNNING longer than the task
// timeout; the failure is retryable so the normal retry budget applies.
// Called from the scheduler tick.
func (o *Orchestrator) TimeoutStuckTasks(ctx context.Context, timeout time.Duration) error {
	running, err := o.storage.TaskStorage().ListTasksByStatus(ctx, models.TaskStatusRunning)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-timeout)
	for _, task := range running {
		if task.StartedAt == nil || task.StartedAt.After(cutoff) {
			continue
		}

		lock := o.jobLock(task.JobID)
		lock.Lock()

		current, err := o.storage.TaskStorage().GetTask(ctx, task.ID)
		if err == nil && current.Status == models.TaskStatusRunning &&
			current.StartedAt != nil && !current.StartedAt.After(cutoff) {
			o.logger.Warn().
				Str("task_id", current.ID).
				Str("started_at", current.StartedAt.Format(time.RFC3339)).
				Msg("Task heartbeat expired")
			if err := o.handleFailure(ctx, current, "task timeout: worker heartbeat expired", true); err != nil {
				o.logger.Error().Err(err).Str("task_id", current.ID).Msg("Failed to time out task")
			} else if err := o.scanJob(ctx, current.JobID); err != nil {
				o.logger.Error().Err(err).Str("job_id", current.JobID).Msg("Post-timeout scan failed")
			}
		}

		lock.Unlock()
	}
	return nil
}
