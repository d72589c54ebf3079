package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/maestro/internal/artifacts"
	"github.com/ternarybob/maestro/internal/broker"
	"github.com/ternarybob/maestro/internal/common"
	"github.com/ternarybob/maestro/internal/interfaces"
	"github.com/ternarybob/maestro/internal/models"
	"github.com/ternarybob/maestro/internal/orchestrator"
	badgerstore "github.com/ternarybob/maestro/internal/storage/badger"
)

type testEnv struct {
	t         *testing.T
	db        *badgerstore.BadgerDB
	storage   interfaces.StorageManager
	broker    *broker.Broker
	orch      *orchestrator.Orchestrator
	scheduler *Scheduler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := arbor.NewLogger()
	db, err := badgerstore.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	storage := badgerstore.NewManagerWithDB(db, logger)
	b, err := broker.New(db.Badger(), time.Minute, 3, logger)
	require.NoError(t, err)

	store := artifacts.NewStore(storage.ArtifactStorage(), storage.AuditStorage(), nil, logger)
	orch := orchestrator.New(storage, b, nil, store, 3, logger)
	sched := New(storage, orch, 30*time.Second, 7*24*time.Hour, 10*time.Minute, logger)

	return &testEnv{t: t, db: db, storage: storage, broker: b, orch: orch, scheduler: sched}
}

func (e *testEnv) createJob(title string) *models.Job {
	e.t.Helper()

	w := &models.Workflow{
		Nodes: []models.WorkflowNode{
			{ID: "run", AgentType: "executor", Inputs: map[string]interface{}{"prompt": "do the thing"}},
		},
	}
	job, err := e.orch.CreateJob(context.Background(), "user-1", "org-1", title, w, "", 0)
	require.NoError(e.t, err)
	return job
}

func (e *testEnv) saveSchedule(schedule *models.Schedule) {
	e.t.Helper()
	require.NoError(e.t, e.storage.ScheduleStorage().SaveSchedule(context.Background(), schedule))
}

func (e *testEnv) schedule(jobID string) *models.Schedule {
	e.t.Helper()
	schedule, err := e.storage.ScheduleStorage().GetSchedule(context.Background(), jobID)
	require.NoError(e.t, err)
	return schedule
}

func (e *testEnv) countJobs() int {
	e.t.Helper()
	count, err := e.storage.JobStorage().CountJobs(context.Background())
	require.NoError(e.t, err)
	return count
}

func TestTick_FiresDueOnceSchedule(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	source := env.createJob("nightly report")
	due := time.Now().Add(-time.Second)
	env.saveSchedule(&models.Schedule{
		JobID:     source.ID,
		Type:      models.ScheduleTypeOnce,
		NextRunAt: &due,
		Enabled:   true,
	})

	env.scheduler.Tick(ctx)

	// A clone of the source job was spawned and started.
	running, err := env.storage.JobStorage().ListJobsByStatus(ctx, models.JobStatusRunning)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.NotEqual(t, source.ID, running[0].ID)
	assert.Contains(t, running[0].Title, "nightly report")

	n, err := env.broker.TaskQueue("executor").Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// A once schedule fires a single time.
	fired := env.schedule(source.ID)
	assert.False(t, fired.Enabled)
	assert.Nil(t, fired.NextRunAt)
	assert.NotNil(t, fired.LastRunAt)
}

func TestTick_CronScheduleAdvances(t *testing.T) {
	env := newTestEnv(t)

	source := env.createJob("recurring sync")
	due := time.Now().Add(-time.Second)
	env.saveSchedule(&models.Schedule{
		JobID:     source.ID,
		Type:      models.ScheduleTypeCron,
		CronExpr:  "*/5 * * * *",
		NextRunAt: &due,
		Enabled:   true,
	})

	env.scheduler.Tick(context.Background())

	advanced := env.schedule(source.ID)
	assert.True(t, advanced.Enabled)
	require.NotNil(t, advanced.NextRunAt)
	assert.True(t, advanced.NextRunAt.After(time.Now()))
	assert.Equal(t, 2, env.countJobs())
}

func TestTick_InvalidCronDisablesSchedule(t *testing.T) {
	env := newTestEnv(t)

	source := env.createJob("broken schedule")
	due := time.Now().Add(-time.Second)
	env.saveSchedule(&models.Schedule{
		JobID:     source.ID,
		Type:      models.ScheduleTypeCron,
		CronExpr:  "not a cron expression",
		NextRunAt: &due,
		Enabled:   true,
	})

	env.scheduler.Tick(context.Background())

	assert.False(t, env.schedule(source.ID).Enabled)
}

func TestTick_FutureScheduleUntouched(t *testing.T) {
	env := newTestEnv(t)

	source := env.createJob("later")
	future := time.Now().Add(time.Hour)
	env.saveSchedule(&models.Schedule{
		JobID:     source.ID,
		Type:      models.ScheduleTypeOnce,
		NextRunAt: &future,
		Enabled:   true,
	})

	env.scheduler.Tick(context.Background())

	assert.Equal(t, 1, env.countJobs())
	pending := env.schedule(source.ID)
	assert.True(t, pending.Enabled)
	assert.Nil(t, pending.LastRunAt)
}

func TestRetentionGC_RemovesExpiredJobData(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job := env.createJob("old job")
	require.NoError(t, env.orch.StartJob(ctx, job.ID))
	require.NoError(t, env.orch.CancelJob(ctx, job.ID))
	env.saveSchedule(&models.Schedule{JobID: job.ID, Type: models.ScheduleTypeOnce})

	// Backdate past the retention window. SaveJob refreshes UpdatedAt, so
	// write the row directly.
	expired, err := env.storage.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	expired.UpdatedAt = time.Now().Add(-8 * 24 * time.Hour)
	require.NoError(t, env.db.Store().Upsert(expired.ID, expired))

	env.scheduler.Tick(ctx)

	_, err = env.storage.JobStorage().GetJob(ctx, job.ID)
	require.Error(t, err)
	assert.Equal(t, common.KindNotFound, common.KindOf(err))

	tasks, err := env.storage.TaskStorage().GetTasksByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	_, err = env.storage.ScheduleStorage().GetSchedule(ctx, job.ID)
	assert.Equal(t, common.KindNotFound, common.KindOf(err))

	// A second pass over the same state is a no-op.
	env.scheduler.Tick(ctx)
	assert.Equal(t, 0, env.countJobs())
}

func TestRetentionGC_KeepsRecentAndNonTerminalJobs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	recent := env.createJob("recent job")
	require.NoError(t, env.orch.StartJob(ctx, recent.ID))
	require.NoError(t, env.orch.CancelJob(ctx, recent.ID))

	running := env.createJob("long running job")
	require.NoError(t, env.orch.StartJob(ctx, running.ID))
	backdated, err := env.storage.JobStorage().GetJob(ctx, running.ID)
	require.NoError(t, err)
	backdated.UpdatedAt = time.Now().Add(-30 * 24 * time.Hour)
	require.NoError(t, env.db.Store().Upsert(backdated.ID, backdated))

	env.scheduler.Tick(ctx)

	// Recent terminal and old non-terminal jobs both survive.
	assert.Equal(t, 2, env.countJobs())
}
