package orchestrator

import (
	"context"
	"encoding/json"
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
	badgerstore "github.com/ternarybob/maestro/internal/storage/badger"
)

type testEnv struct {
	t       *testing.T
	orch    *Orchestrator
	broker  *broker.Broker
	storage interfaces.StorageManager
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
	orch := New(storage, b, nil, store, 3, logger)
	b.OnDeadLetter(orch.HandleDeadLetter)

	return &testEnv{t: t, orch: orch, broker: b, storage: storage}
}

// receive pulls the next task message from an agent queue and acks it, the
// way the worker pool does.
func (e *testEnv) receive(agentType string) models.TaskMessage {
	e.t.Helper()

	delivery, err := e.broker.TaskQueue(agentType).Receive(context.Background())
	require.NoError(e.t, err)
	var message models.TaskMessage
	require.NoError(e.t, json.Unmarshal(delivery.Body, &message))
	require.NoError(e.t, delivery.Ack())
	return message
}

// succeed simulates a worker running the message to a successful result.
func (e *testEnv) succeed(message models.TaskMessage, outputs map[string]interface{}) {
	e.t.Helper()

	ctx := context.Background()
	require.NoError(e.t, e.orch.MarkTaskStarted(ctx, message.TaskID, message.Attempt))
	require.NoError(e.t, e.orch.HandleResult(ctx, &models.TaskResult{
		TaskID:  message.TaskID,
		JobID:   message.JobID,
		Attempt: message.Attempt,
		Status:  models.ResultStatusSuccess,
		Outputs: outputs,
	}))
}

func (e *testEnv) job(jobID string) *models.Job {
	e.t.Helper()
	job, err := e.storage.JobStorage().GetJob(context.Background(), jobID)
	require.NoError(e.t, err)
	return job
}

func (e *testEnv) taskByNode(jobID, nodeID string) *models.Task {
	e.t.Helper()
	tasks, err := e.storage.TaskStorage().GetTasksByJob(context.Background(), jobID)
	require.NoError(e.t, err)
	for _, task := range tasks {
		if task.NodeID == nodeID {
			return task
		}
	}
	e.t.Fatalf("no task for node %s in job %s", nodeID, jobID)
	return nil
}

func scrapeAndSummarize() *models.Workflow {
	return &models.Workflow{
		Nodes: []models.WorkflowNode{
			{
				ID:        "fetch",
				AgentType: "scraper",
				Inputs:    map[string]interface{}{"url": "https://example.com"},
			},
			{
				ID:           "summarize",
				AgentType:    "summarizer",
				Inputs:       map[string]interface{}{"text": "{{tasks.fetch.outputs.text}}"},
				Dependencies: []string{"fetch"},
			},
		},
	}
}

func (e *testEnv) startJob(workflow *models.Workflow) *models.Job {
	e.t.Helper()
	ctx := context.Background()
	job, err := e.orch.CreateJob(ctx, "user-1", "org-1", "test job", workflow, "", 0)
	require.NoError(e.t, err)
	require.NoError(e.t, e.orch.StartJob(ctx, job.ID))
	return job
}

func TestCreateJob_RejectsInvalidWorkflow(t *testing.T) {
	env := newTestEnv(t)

	w := &models.Workflow{
		Nodes: []models.WorkflowNode{
			{ID: "a", AgentType: "executor", Inputs: map[string]interface{}{"prompt": "x"}, Dependencies: []string{"b"}},
			{ID: "b", AgentType: "executor", Inputs: map[string]interface{}{"prompt": "y"}, Dependencies: []string{"a"}},
		},
	}
	_, err := env.orch.CreateJob(context.Background(), "user-1", "org-1", "cyclic", w, "", 0)
	require.Error(t, err)
	assert.Equal(t, common.KindValidation, common.KindOf(err))
}

func TestLinearPipelineRunsToSuccess(t *testing.T) {
	env := newTestEnv(t)
	job := env.startJob(scrapeAndSummarize())

	assert.Equal(t, models.JobStatusRunning, env.job(job.ID).Status)
	assert.Equal(t, models.TaskStatusQueued, env.taskByNode(job.ID, "fetch").Status)
	assert.Equal(t, models.TaskStatusPending, env.taskByNode(job.ID, "summarize").Status)

	fetch := env.receive("scraper")
	assert.Equal(t, 1, fetch.Attempt)
	assert.Equal(t, "https://example.com", fetch.Payload["url"])
	env.succeed(fetch, map[string]interface{}{"text": "page body"})

	// The downstream task is enqueued with the placeholder resolved.
	summarize := env.receive("summarizer")
	assert.Equal(t, "page body", summarize.Payload["text"])
	env.succeed(summarize, map[string]interface{}{"summary": "short"})

	assert.Equal(t, models.JobStatusSuccess, env.job(job.ID).Status)
	assert.Equal(t, models.TaskStatusSuccess, env.taskByNode(job.ID, "summarize").Status)
}

func TestHandleResult_DuplicateDiscarded(t *testing.T) {
	env := newTestEnv(t)
	job := env.startJob(scrapeAndSummarize())
	ctx := context.Background()

	fetch := env.receive("scraper")
	env.succeed(fetch, map[string]interface{}{"text": "page body"})

	// Redelivery of the same result acks without changing anything.
	err := env.orch.HandleResult(ctx, &models.TaskResult{
		TaskID:  fetch.TaskID,
		JobID:   fetch.JobID,
		Attempt: fetch.Attempt,
		Status:  models.ResultStatusError,
		Error:   "late duplicate",
	})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusSuccess, env.taskByNode(job.ID, "fetch").Status)
}

func TestMarkTaskStarted_StaleAttemptRejected(t *testing.T) {
	env := newTestEnv(t)
	env.startJob(scrapeAndSummarize())

	fetch := env.receive("scraper")
	err := env.orch.MarkTaskStarted(context.Background(), fetch.TaskID, fetch.Attempt+1)
	require.Error(t, err)
	assert.Equal(t, common.KindConflict, common.KindOf(err))
}

func TestRetryableFailureBacksOff(t *testing.T) {
	env := newTestEnv(t)
	job := env.startJob(scrapeAndSummarize())
	ctx := context.Background()

	fetch := env.receive("scraper")
	require.NoError(t, env.orch.MarkTaskStarted(ctx, fetch.TaskID, fetch.Attempt))
	require.NoError(t, env.orch.HandleResult(ctx, &models.TaskResult{
		TaskID:    fetch.TaskID,
		JobID:     fetch.JobID,
		Attempt:   fetch.Attempt,
		Status:    models.ResultStatusError,
		Error:     "fetch timed out",
		Retryable: true,
	}))

	task := env.taskByNode(job.ID, "fetch")
	assert.Equal(t, models.TaskStatusQueued, task.Status)
	assert.Equal(t, 1, task.RetryCount)
	assert.Equal(t, 2, task.Attempt)

	// The retry is re-enqueued with backoff, so it is stored but not yet
	// visible.
	n, err := env.broker.TaskQueue("scraper").Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = env.broker.TaskQueue("scraper").Receive(ctx)
	assert.ErrorIs(t, err, broker.ErrNoMessage)
}

func TestTerminalFailureCascadesSkip(t *testing.T) {
	env := newTestEnv(t)
	job := env.startJob(scrapeAndSummarize())
	ctx := context.Background()

	fetch := env.receive("scraper")
	require.NoError(t, env.orch.MarkTaskStarted(ctx, fetch.TaskID, fetch.Attempt))
	require.NoError(t, env.orch.HandleResult(ctx, &models.TaskResult{
		TaskID:  fetch.TaskID,
		JobID:   fetch.JobID,
		Attempt: fetch.Attempt,
		Status:  models.ResultStatusError,
		Error:   "404 not found",
	}))

	assert.Equal(t, models.TaskStatusFailed, env.taskByNode(job.ID, "fetch").Status)
	assert.Equal(t, models.TaskStatusSkipped, env.taskByNode(job.ID, "summarize").Status)

	failed := env.job(job.ID)
	assert.Equal(t, models.JobStatusFailed, failed.Status)
	assert.Equal(t, "404 not found", failed.Error)
}

func TestRetryTask_RestoresSkippedDescendants(t *testing.T) {
	env := newTestEnv(t)
	job := env.startJob(scrapeAndSummarize())
	ctx := context.Background()

	fetch := env.receive("scraper")
	require.NoError(t, env.orch.MarkTaskStarted(ctx, fetch.TaskID, fetch.Attempt))
	require.NoError(t, env.orch.HandleResult(ctx, &models.TaskResult{
		TaskID:  fetch.TaskID,
		JobID:   fetch.JobID,
		Attempt: fetch.Attempt,
		Status:  models.ResultStatusError,
		Error:   "404 not found",
	}))
	require.Equal(t, models.JobStatusFailed, env.job(job.ID).Status)

	require.NoError(t, env.orch.RetryTask(ctx, fetch.TaskID))
	assert.Equal(t, models.JobStatusRunning, env.job(job.ID).Status)
	assert.Equal(t, models.TaskStatusQueued, env.taskByNode(job.ID, "fetch").Status)
	assert.Equal(t, models.TaskStatusPending, env.taskByNode(job.ID, "summarize").Status)

	retried := env.receive("scraper")
	assert.Equal(t, 2, retried.Attempt)
	env.succeed(retried, map[string]interface{}{"text": "recovered"})
	env.succeed(env.receive("summarizer"), map[string]interface{}{"summary": "short"})

	assert.Equal(t, models.JobStatusSuccess, env.job(job.ID).Status)
}

func TestSkipTask_CascadesWhenOutputsReferenced(t *testing.T) {
	env := newTestEnv(t)
	job := env.startJob(scrapeAndSummarize())
	ctx := context.Background()

	fetch := env.taskByNode(job.ID, "fetch")
	require.NoError(t, env.orch.SkipTask(ctx, fetch.ID))

	assert.Equal(t, models.TaskStatusSkipped, env.taskByNode(job.ID, "fetch").Status)
	assert.Equal(t, models.TaskStatusSkipped, env.taskByNode(job.ID, "summarize").Status)
	assert.Equal(t, models.JobStatusSuccess, env.job(job.ID).Status)
}

func TestCancelJob(t *testing.T) {
	env := newTestEnv(t)
	job := env.startJob(scrapeAndSummarize())
	ctx := context.Background()

	fetch := env.receive("scraper")
	require.NoError(t, env.orch.CancelJob(ctx, job.ID))

	assert.Equal(t, models.JobStatusCancelled, env.job(job.ID).Status)
	assert.Equal(t, models.TaskStatusCancelled, env.taskByNode(job.ID, "fetch").Status)
	assert.Equal(t, models.TaskStatusCancelled, env.taskByNode(job.ID, "summarize").Status)

	// A result from the in-flight worker arrives late and is discarded.
	require.NoError(t, env.orch.HandleResult(ctx, &models.TaskResult{
		TaskID:  fetch.TaskID,
		JobID:   fetch.JobID,
		Attempt: fetch.Attempt,
		Status:  models.ResultStatusSuccess,
		Outputs: map[string]interface{}{"text": "too late"},
	}))
	assert.Equal(t, models.TaskStatusCancelled, env.taskByNode(job.ID, "fetch").Status)

	// Cancelling twice is a conflict.
	err := env.orch.CancelJob(ctx, job.ID)
	require.Error(t, err)
	assert.Equal(t, common.KindConflict, common.KindOf(err))
}

func TestPauseAndResume(t *testing.T) {
	env := newTestEnv(t)
	job := env.startJob(scrapeAndSummarize())
	ctx := context.Background()

	require.NoError(t, env.orch.PauseJob(ctx, job.ID))
	assert.Equal(t, models.JobStatusPaused, env.job(job.ID).Status)

	// The in-flight task runs to completion, but nothing new is enqueued.
	env.succeed(env.receive("scraper"), map[string]interface{}{"text": "page body"})
	assert.Equal(t, models.TaskStatusPending, env.taskByNode(job.ID, "summarize").Status)
	_, err := env.broker.TaskQueue("summarizer").Receive(ctx)
	assert.ErrorIs(t, err, broker.ErrNoMessage)

	require.NoError(t, env.orch.ResumeJob(ctx, job.ID))
	env.succeed(env.receive("summarizer"), map[string]interface{}{"summary": "short"})
	assert.Equal(t, models.JobStatusSuccess, env.job(job.ID).Status)
}

func TestReviewerFlow(t *testing.T) {
	env := newTestEnv(t)
	w := &models.Workflow{
		Nodes: []models.WorkflowNode{
			{ID: "draft", AgentType: "executor", Inputs: map[string]interface{}{"prompt": "write a report"}},
			{ID: "review", AgentType: "reviewer", Inputs: map[string]interface{}{}, Dependencies: []string{"draft"}},
		},
	}
	job := env.startJob(w)
	ctx := context.Background()

	draft := env.receive("executor")
	env.succeed(draft, map[string]interface{}{"result": "report text"})

	// The reviewer payload carries the injected target task id.
	review := env.receive("reviewer")
	assert.Equal(t, draft.TaskID, review.Payload["target_task_id"])

	// No verdict from the worker parks the task for a human decision.
	require.NoError(t, env.orch.MarkTaskStarted(ctx, review.TaskID, review.Attempt))
	require.NoError(t, env.orch.HandleResult(ctx, &models.TaskResult{
		TaskID:  review.TaskID,
		JobID:   review.JobID,
		Attempt: review.Attempt,
		Status:  models.ResultStatusSuccess,
		Review:  &models.ReviewVerdict{Score: 0.65, Feedback: "borderline"},
	}))
	assert.Equal(t, models.TaskStatusAwaitingReview, env.taskByNode(job.ID, "review").Status)
	assert.Equal(t, models.JobStatusRunning, env.job(job.ID).Status)

	score := 0.8
	require.NoError(t, env.orch.ReviewTask(ctx, review.TaskID, models.ReviewApprove, &score, "good enough"))

	reviewed := env.taskByNode(job.ID, "review")
	assert.Equal(t, models.TaskStatusSuccess, reviewed.Status)
	assert.Equal(t, models.ReviewApprove, reviewed.ReviewDecision)
	assert.Equal(t, models.JobStatusSuccess, env.job(job.ID).Status)

	output, err := env.storage.OutputStorage().GetOutput(ctx, review.TaskID, "decision")
	require.NoError(t, err)
	assert.Equal(t, string(models.ReviewApprove), output.Value)
}

func TestReviewTask_RejectFailsTask(t *testing.T) {
	env := newTestEnv(t)
	w := &models.Workflow{
		Nodes: []models.WorkflowNode{
			{ID: "draft", AgentType: "executor", Inputs: map[string]interface{}{"prompt": "write"}},
			{ID: "review", AgentType: "reviewer", Inputs: map[string]interface{}{}, Dependencies: []string{"draft"}},
		},
	}
	job := env.startJob(w)
	ctx := context.Background()

	env.succeed(env.receive("executor"), map[string]interface{}{"result": "draft"})
	review := env.receive("reviewer")
	require.NoError(t, env.orch.MarkTaskStarted(ctx, review.TaskID, review.Attempt))
	require.NoError(t, env.orch.HandleResult(ctx, &models.TaskResult{
		TaskID:  review.TaskID,
		JobID:   review.JobID,
		Attempt: review.Attempt,
		Status:  models.ResultStatusSuccess,
		Review:  &models.ReviewVerdict{Score: 0.2},
	}))

	require.NoError(t, env.orch.ReviewTask(ctx, review.TaskID, models.ReviewReject, nil, "not acceptable"))
	assert.Equal(t, models.TaskStatusFailed, env.taskByNode(job.ID, "review").Status)
	assert.Equal(t, models.JobStatusFailed, env.job(job.ID).Status)
}

func TestWorkerArtifactsRegistered(t *testing.T) {
	env := newTestEnv(t)
	w := &models.Workflow{
		Nodes: []models.WorkflowNode{
			{ID: "plot", AgentType: "chart", Inputs: map[string]interface{}{"data": map[string]interface{}{"x": 1}}},
		},
	}
	job := env.startJob(w)
	ctx := context.Background()

	plot := env.receive("chart")
	require.NoError(t, env.orch.MarkTaskStarted(ctx, plot.TaskID, plot.Attempt))
	require.NoError(t, env.orch.HandleResult(ctx, &models.TaskResult{
		TaskID:  plot.TaskID,
		JobID:   plot.JobID,
		Attempt: plot.Attempt,
		Status:  models.ResultStatusSuccess,
		Outputs: map[string]interface{}{"storage_key": "charts/plot.png"},
		Artifacts: []models.ResultArtifact{
			{Type: models.ArtifactTypeChart, Role: "latency_p95", Filename: "plot.png", StorageKey: "charts/plot.png"},
		},
	}))

	versions, err := env.storage.ArtifactStorage().GetVersions(ctx, job.ID, models.ArtifactTypeChart, "latency_p95")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, 1, versions[0].Version)
	assert.True(t, versions[0].IsCurrent)
	assert.Equal(t, models.ArtifactStatusDraft, versions[0].Status)
	assert.Equal(t, models.JobStatusSuccess, env.job(job.ID).Status)
}

func TestInvalidReportedArtifactFailsTask(t *testing.T) {
	env := newTestEnv(t)
	w := &models.Workflow{
		Nodes: []models.WorkflowNode{
			{ID: "plot", AgentType: "chart", Inputs: map[string]interface{}{"data": map[string]interface{}{"x": 1}}},
		},
	}
	job := env.startJob(w)
	ctx := context.Background()

	plot := env.receive("chart")
	require.NoError(t, env.orch.MarkTaskStarted(ctx, plot.TaskID, plot.Attempt))
	require.NoError(t, env.orch.HandleResult(ctx, &models.TaskResult{
		TaskID:  plot.TaskID,
		JobID:   plot.JobID,
		Attempt: plot.Attempt,
		Status:  models.ResultStatusSuccess,
		Artifacts: []models.ResultArtifact{
			{Type: "hologram", Filename: "plot.png", StorageKey: "charts/plot.png"},
		},
	}))

	task := env.taskByNode(job.ID, "plot")
	assert.Equal(t, models.TaskStatusFailed, task.Status)
	assert.Contains(t, task.Error, "artifact registration failed")
}

func TestHandleDeadLetter_FailsTask(t *testing.T) {
	env := newTestEnv(t)
	job := env.startJob(scrapeAndSummarize())

	fetch := env.taskByNode(job.ID, "fetch")
	body, err := json.Marshal(models.TaskMessage{
		TaskID:    fetch.ID,
		JobID:     job.ID,
		AgentType: "scraper",
		Attempt:   1,
	})
	require.NoError(t, err)

	env.orch.HandleDeadLetter(broker.DLQEntry{
		ID:           "dlq-1",
		Queue:        "tasks.scraper",
		Body:         body,
		ReceiveCount: 3,
		LastError:    "worker crashed",
	})

	failed := env.taskByNode(job.ID, "fetch")
	assert.Equal(t, models.TaskStatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "dead-lettered")
	assert.Equal(t, models.TaskStatusSkipped, env.taskByNode(job.ID, "summarize").Status)
	assert.Equal(t, models.JobStatusFailed, env.job(job.ID).Status)
}

func TestTimeoutStuckTasks(t *testing.T) {
	env := newTestEnv(t)
	job := env.startJob(scrapeAndSummarize())
	ctx := context.Background()

	fetch := env.receive("scraper")
	require.NoError(t, env.orch.MarkTaskStarted(ctx, fetch.TaskID, fetch.Attempt))

	// Backdate the start so the heartbeat looks expired.
	task, err := env.storage.TaskStorage().GetTask(ctx, fetch.TaskID)
	require.NoError(t, err)
	started := time.Now().Add(-10 * time.Minute)
	task.StartedAt = &started
	require.NoError(t, env.storage.TaskStorage().SaveTask(ctx, task))

	require.NoError(t, env.orch.TimeoutStuckTasks(ctx, 5*time.Minute))

	timedOut := env.taskByNode(job.ID, "fetch")
	assert.Equal(t, models.TaskStatusQueued, timedOut.Status)
	assert.Equal(t, 1, timedOut.RetryCount)
	assert.Equal(t, 2, timedOut.Attempt)

	// A fresh RUNNING task is left alone.
	require.NoError(t, env.orch.TimeoutStuckTasks(ctx, 5*time.Minute))
	assert.Equal(t, 1, env.taskByNode(job.ID, "fetch").RetryCount)

	// The retried attempt becomes visible after the backoff and completes.
	time.Sleep(2100 * time.Millisecond)
	retried := env.receive("scraper")
	assert.Equal(t, 2, retried.Attempt)
	env.succeed(retried, map[string]interface{}{"text": "recovered"})
	env.succeed(env.receive("summarizer"), map[string]interface{}{"summary": "short"})
	assert.Equal(t, models.JobStatusSuccess, env.job(job.ID).Status)
}
