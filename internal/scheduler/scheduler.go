// Package scheduler runs the periodic maintenance loop: firing due
// schedules, retention garbage collection for old terminal jobs, and stuck
// task detection. Errors inside a tick are logged and never crash the loop.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/maestro/internal/interfaces"
	"github.com/ternarybob/maestro/internal/models"
	"github.com/ternarybob/maestro/internal/orchestrator"
)

// cronParser accepts the standard five-field cron syntax.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Scheduler owns the maintenance ticker.
type Scheduler struct {
	storage      interfaces.StorageManager
	orchestrator *orchestrator.Orchestrator
	logger       arbor.ILogger

	tickInterval time.Duration
	retention    time.Duration
	taskTimeout  time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates the scheduler.
func New(storage interfaces.StorageManager, orch *orchestrator.Orchestrator, tickInterval, retention, taskTimeout time.Duration, logger arbor.ILogger) *Scheduler {
	if tickInterval <= 0 {
		tickInterval = 30 * time.Second
	}
	return &Scheduler{
		storage:      storage,
		orchestrator: orch,
		logger:       logger,
		tickInterval: tickInterval,
		retention:    retention,
		taskTimeout:  taskTimeout,
	}
}

// Start launches the ticker loop in the background.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()

		s.logger.Info().
			Str("tick_interval", s.tickInterval.String()).
			Msg("Scheduler started")

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("Scheduler stopped")
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for the current tick to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// Tick runs one maintenance pass. Exported so tests can drive the loop
// without waiting on the ticker.
func (s *Scheduler) Tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("panic", fmt.Sprintf("%v", r)).Msg("Scheduler tick panicked")
		}
	}()

	if err := s.fireDueSchedules(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Due schedule pass failed")
	}
	if err := s.runRetentionGC(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Retention GC pass failed")
	}
	if err := s.orchestrator.TimeoutStuckTasks(ctx, s.taskTimeout); err != nil {
		s.logger.Error().Err(err).Msg("Stuck task pass failed")
	}
}

// fireDueSchedules spawns a job for every enabled schedule whose next run
// time has passed, then advances or disables the schedule.
func (s *Scheduler) fireDueSchedules(ctx context.Context) error {
	schedules, err := s.storage.ScheduleStorage().ListEnabledSchedules(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, schedule := range schedules {
		if !schedule.IsDue(now) {
			continue
		}

		if err := s.spawnJob(ctx, schedule); err != nil {
			s.logger.Error().
				Err(err).
				Str("job_id", schedule.JobID).
				Msg("Failed to spawn scheduled job")
			continue
		}

		fired := now
		schedule.LastRunAt = &fired

		switch schedule.Type {
		case models.ScheduleTypeCron:
			spec, err := cronParser.Parse(schedule.CronExpr)
			if err != nil {
				s.logger.Error().
					Err(err).
					Str("cron_expr", schedule.CronExpr).
					Str("job_id", schedule.JobID).
					Msg("Invalid cron expression, disabling schedule")
				schedule.Enabled = false
			} else {
				next := spec.Next(now)
				schedule.NextRunAt = &next
			}
		default:
			// once and delayed schedules fire a single time.
			schedule.Enabled = false
			schedule.NextRunAt = nil
		}

		if err := s.storage.ScheduleStorage().SaveSchedule(ctx, schedule); err != nil {
			s.logger.Error().Err(err).Str("job_id", schedule.JobID).Msg("Failed to persist schedule")
		}
	}
	return nil
}

// spawnJob creates and starts a new job from the schedule's template, or by
// cloning the source job's task DAG when no template is linked.
func (s *Scheduler) spawnJob(ctx context.Context, schedule *models.Schedule) error {
	source, err := s.storage.JobStorage().GetJob(ctx, schedule.JobID)
	if err != nil {
		return err
	}

	var workflow *models.Workflow
	if schedule.TemplateID != "" {
		version, err := s.storage.TemplateStorage().GetVersion(ctx, schedule.TemplateID, schedule.TemplateVersion)
		if err != nil {
			return err
		}
		workflow = &version.Workflow
	} else {
		workflow, err = s.workflowFromJob(ctx, schedule.JobID)
		if err != nil {
			return err
		}
	}

	title := fmt.Sprintf("%s (scheduled %s)", source.Title, time.Now().Format("2006-01-02 15:04"))
	job, err := s.orchestrator.CreateJob(ctx, source.OwnerID, source.OrgID, title, workflow, schedule.TemplateID, schedule.TemplateVersion)
	if err != nil {
		return err
	}
	if err := s.orchestrator.StartJob(ctx, job.ID); err != nil {
		return err
	}

	s.logger.Info().
		Str("source_job_id", schedule.JobID).
		Str("job_id", job.ID).
		Str("schedule_type", string(schedule.Type)).
		Msg("Scheduled job spawned")
	return nil
}

// workflowFromJob reconstructs a workflow from a job's persisted tasks so a
// schedule can re-run a job submitted with an explicit DAG.
func (s *Scheduler) workflowFromJob(ctx context.Context, jobID string) (*models.Workflow, error) {
	tasks, err := s.storage.TaskStorage().GetTasksByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	workflow := &models.Workflow{}
	for _, task := range tasks {
		workflow.Nodes = append(workflow.Nodes, models.WorkflowNode{
			ID:           task.NodeID,
			Name:         task.Name,
			AgentType:    task.AgentType,
			Inputs:       task.Payload,
			Dependencies: task.Dependencies,
		})
	}
	return workflow, nil
}

// runRetentionGC removes terminal jobs older than the retention threshold
// along with everything they own: outputs, task logs, artifacts, audit
// entries, tasks, schedule, then the job row itself. Deleting by captured
// job id makes the pass idempotent.
func (s *Scheduler) runRetentionGC(ctx context.Context) error {
	if s.retention <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-s.retention)

	var expired []string
	for _, status := range []models.JobStatus{models.JobStatusSuccess, models.JobStatusFailed, models.JobStatusCancelled} {
		jobs, err := s.storage.JobStorage().ListJobsByStatus(ctx, status)
		if err != nil {
			return err
		}
		for _, job := range jobs {
			if job.UpdatedAt.Before(cutoff) {
				expired = append(expired, job.ID)
			}
		}
	}

	for _, jobID := range expired {
		if err := s.deleteJobData(ctx, jobID); err != nil {
			s.logger.Error().Err(err).Str("job_id", jobID).Msg("Retention GC failed for job")
			continue
		}
		s.logger.Info().Str("job_id", jobID).Msg("Expired job removed by retention GC")
	}
	return nil
}

func (s *Scheduler) deleteJobData(ctx context.Context, jobID string) error {
	if err := s.storage.OutputStorage().DeleteOutputsByJob(ctx, jobID); err != nil {
		return err
	}
	if err := s.storage.TaskLogStorage().DeleteLogsByJob(ctx, jobID); err != nil {
		return err
	}
	if err := s.storage.ArtifactStorage().DeleteArtifactsByJob(ctx, jobID); err != nil {
		return err
	}
	if err := s.storage.AuditStorage().DeleteAuditByJob(ctx, jobID); err != nil {
		return err
	}
	if err := s.storage.TaskStorage().DeleteTasksByJob(ctx, jobID); err != nil {
		return err
	}
	if err := s.storage.ScheduleStorage().DeleteSchedule(ctx, jobID); err != nil {
		return err
	}
	return s.storage.JobStorage().DeleteJob(ctx, jobID)
}
