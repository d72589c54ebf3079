// Package orchestrator drives jobs from submission to a terminal state. It
// owns every task transition: readiness scanning, placeholder resolution,
// broker enqueue, worker result handling, and job status derivation. All
// transitions for one job run under that job's lock.
package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/maestro/internal/artifacts"
	"github.com/ternarybob/maestro/internal/broker"
	"github.com/ternarybob/maestro/internal/common"
	"github.com/ternarybob/maestro/internal/interfaces"
	"github.com/ternarybob/maestro/internal/models"
	"github.com/ternarybob/maestro/internal/planner"
	"github.com/ternarybob/maestro/internal/services/events"
)

// Orchestrator coordinates storage, the broker, and the artifact store.
type Orchestrator struct {
	storage    interfaces.StorageManager
	broker     *broker.Broker
	events     interfaces.EventService
	artifacts  *artifacts.Store
	logger     arbor.ILogger
	maxRetries int

	mu       sync.Mutex
	jobLocks map[string]*sync.Mutex
}

// New creates the orchestrator.
func New(storage interfaces.StorageManager, b *broker.Broker, eventService interfaces.EventService, artifactStore *artifacts.Store, maxRetries int, logger arbor.ILogger) *Orchestrator {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Orchestrator{
		storage:    storage,
		broker:     b,
		events:     eventService,
		artifacts:  artifactStore,
		logger:     logger,
		maxRetries: maxRetries,
		jobLocks:   make(map[string]*sync.Mutex),
	}
}

// jobLock returns the per-job mutex serializing transitions within a job.
func (o *Orchestrator) jobLock(jobID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.jobLocks[jobID]
	if !ok {
		lock = &sync.Mutex{}
		o.jobLocks[jobID] = lock
	}
	return lock
}

// CreateJob validates the workflow and persists a QUEUED job with one
// PENDING task per node. The job does not run until StartJob.
func (o *Orchestrator) CreateJob(ctx context.Context, ownerID, orgID, title string, workflow *models.Workflow, templateID string, templateVersion int) (*models.Job, error) {
	if validation := planner.Validate(workflow); !validation.Valid {
		return nil, common.NewError(common.KindValidation, "workflow rejected: %s", strings.Join(validation.Errors, "; "))
	}

	job := models.NewJob(ownerID, orgID, title)
	job.TemplateID = templateID
	job.TemplateVersion = templateVersion

	dependsOn := make(map[string][]string)
	for _, e := range workflow.AllEdges() {
		dependsOn[e.To] = append(dependsOn[e.To], e.From)
	}

	tasks := make([]*models.Task, 0, len(workflow.Nodes))
	for _, node := range workflow.Nodes {
		tasks = append(tasks, models.NewTask(job.ID, node.ID, node.Name, node.AgentType, node.Inputs, dependsOn[node.ID]))
	}

	if err := o.storage.JobStorage().SaveJob(ctx, job); err != nil {
		return nil, err
	}
	if err := o.storage.TaskStorage().SaveTasks(ctx, tasks); err != nil {
		return nil, err
	}

	o.logger.Info().
		Str("job_id", job.ID).
		Str("owner_id", ownerID).
		Int("task_count", len(tasks)).
		Msg("Job created")

	return job, nil
}

// StartJob moves a QUEUED job to RUNNING and enqueues its ready tasks.
func (o *Orchestrator) StartJob(ctx context.Context, jobID string) error {
	lock := o.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	job, err := o.storage.JobStorage().GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusQueued {
		return common.NewError(common.KindConflict, "job %s is %s, not QUEUED", jobID, job.Status)
	}

	o.setJobStatus(ctx, job, models.JobStatusRunning, "")
	return o.scanJob(ctx, jobID)
}

// CancelJob transitions the job and every non-terminal task to CANCELLED.
// Results for in-flight workers arrive later and are discarded as stale.
func (o *Orchestrator) CancelJob(ctx context.Context, jobID string) error {
	lock := o.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	job, err := o.storage.JobStorage().GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return common.NewError(common.KindConflict, "job %s is already %s", jobID, job.Status)
	}

	tasks, err := o.storage.TaskStorage().GetTasksByJob(ctx, jobID)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if task.Status.IsTerminal() {
			continue
		}
		task.MarkFinished(models.TaskStatusCancelled, "job cancelled")
		if err := o.storage.TaskStorage().SaveTask(ctx, task); err != nil {
			return err
		}
		o.publishTaskEvent(ctx, task)
		o.logTask(ctx, task, "info", "task cancelled with job")
	}

	o.setJobStatus(ctx, job, models.JobStatusCancelled, "")
	return nil
}

// PauseJob stops new enqueues; in-flight tasks run to completion.
func (o *Orchestrator) PauseJob(ctx context.Context, jobID string) error {
	lock := o.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	job, err := o.storage.JobStorage().GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusRunning {
		return common.NewError(common.KindConflict, "job %s is %s, not RUNNING", jobID, job.Status)
	}

	o.setJobStatus(ctx, job, models.JobStatusPaused, "")
	return nil
}

// ResumeJob restarts enqueues for a paused job.
func (o *Orchestrator) ResumeJob(ctx context.Context, jobID string) error {
	lock := o.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	job, err := o.storage.JobStorage().GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusPaused {
		return common.NewError(common.KindConflict, "job %s is %s, not PAUSED", jobID, job.Status)
	}

	o.setJobStatus(ctx, job, models.JobStatusRunning, "")
	return o.scanJob(ctx, jobID)
}

// setJobStatus persists a job transition and publishes the job event. A
// terminal status is published exactly once because the status only changes
// here and terminal jobs never transition again.
func (o *Orchestrator) setJobStatus(ctx context.Context, job *models.Job, status models.JobStatus, errMsg string) {
	if job.Status == status {
		return
	}
	job.Status = status
	job.Error = errMsg
	job.Touch()

	if err := o.storage.JobStorage().SaveJob(ctx, job); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to persist job status")
		return
	}

	o.logger.Info().
		Str("job_id", job.ID).
		Str("status", string(status)).
		Msg("Job status changed")

	if o.events != nil {
		o.events.Publish(ctx, interfaces.Event{
			Type: interfaces.EventJobUpdated,
			Payload: events.JobEventPayload{
				JobID:     job.ID,
				Status:    string(status),
				Error:     errMsg,
				Timestamp: time.Now(),
			},
		})
	}
}

// deriveJob recomputes the job status from its tasks. The job is terminal
// only when every task is terminal: SUCCESS when nothing failed or was
// cancelled, otherwise FAILED or CANCELLED.
func (o *Orchestrator) deriveJob(ctx context.Context, jobID string) error {
	job, err := o.storage.JobStorage().GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() || job.Status == models.JobStatusPaused {
		return nil
	}

	tasks, err := o.storage.TaskStorage().GetTasksByJob(ctx, jobID)
	if err != nil {
		return err
	}

	allTerminal := true
	var anyFailed, anyCancelled bool
	var firstError string
	for _, task := range tasks {
		if !task.Status.IsTerminal() {
			allTerminal = false
			break
		}
		switch task.Status {
		case models.TaskStatusFailed:
			anyFailed = true
			if firstError == "" {
				firstError = task.Error
			}
		case models.TaskStatusCancelled:
			anyCancelled = true
		}
	}
	if !allTerminal {
		return nil
	}

	switch {
	case anyFailed:
		o.setJobStatus(ctx, job, models.JobStatusFailed, firstError)
	case anyCancelled:
		o.setJobStatus(ctx, job, models.JobStatusCancelled, "")
	default:
		o.setJobStatus(ctx, job, models.JobStatusSuccess, "")
	}
	return nil
}

// publishTaskEvent emits a task_event record for the push stream.
func (o *Orchestrator) publishTaskEvent(ctx context.Context, task *models.Task) {
	if o.events == nil {
		return
	}
	o.events.Publish(ctx, interfaces.Event{
		Type: interfaces.EventTaskUpdated,
		Payload: events.TaskEventPayload{
			JobID:      task.JobID,
			TaskID:     task.ID,
			NodeID:     task.NodeID,
			AgentType:  task.AgentType,
			Status:     string(task.Status),
			RetryCount: task.RetryCount,
			Error:      task.Error,
			Timestamp:  time.Now(),
		},
	})
}

// logTask appends a persistent log line for a task transition.
func (o *Orchestrator) logTask(ctx context.Context, task *models.Task, level, message string) {
	entry := models.NewTaskLog(task.JobID, task.ID, level, message)
	if err := o.storage.TaskLogStorage().SaveTaskLog(ctx, entry); err != nil {
		o.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to persist task log")
	}
}
