package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/maestro/internal/broker"
	"github.com/ternarybob/maestro/internal/common"
	"github.com/ternarybob/maestro/internal/models"
)

type fakeReporter struct {
	err   error
	calls atomic.Int32
}

func (r *fakeReporter) MarkTaskStarted(ctx context.Context, taskID string, attempt int) error {
	r.calls.Add(1)
	return r.err
}

type echoExecutor struct {
	err error
}

func (e *echoExecutor) AgentType() string { return "executor" }

func (e *echoExecutor) Execute(ctx context.Context, message *models.TaskMessage) (*models.TaskResult, error) {
	if e.err != nil {
		return nil, e.err
	}
	return &models.TaskResult{
		Outputs: map[string]interface{}{"result": message.Payload["prompt"]},
	}, nil
}

func testPool(t *testing.T, reporter StatusReporter, executor Executor) (*Pool, *broker.Broker) {
	t.Helper()

	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	b, err := broker.New(db, time.Minute, 3, arbor.NewLogger())
	require.NoError(t, err)

	pool := NewPool(b, reporter, 1, 10*time.Millisecond, arbor.NewLogger())
	pool.Register(executor)
	return pool, b
}

func awaitResult(t *testing.T, b *broker.Broker) *models.TaskResult {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		delivery, err := b.Results().Receive(context.Background())
		if errors.Is(err, broker.ErrNoMessage) {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		require.NoError(t, err)
		var result models.TaskResult
		require.NoError(t, json.Unmarshal(delivery.Body, &result))
		require.NoError(t, delivery.Ack())
		return &result
	}
	t.Fatal("no result arrived")
	return nil
}

func enqueueTask(t *testing.T, b *broker.Broker, message models.TaskMessage) {
	t.Helper()
	require.NoError(t, b.TaskQueue(message.AgentType).Enqueue(context.Background(), message))
}

func TestPool_ExecutesAndPublishesResult(t *testing.T) {
	reporter := &fakeReporter{}
	pool, b := testPool(t, reporter, &echoExecutor{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	enqueueTask(t, b, models.TaskMessage{
		TaskID:    "task-1",
		JobID:     "job-1",
		AgentType: "executor",
		Payload:   map[string]interface{}{"prompt": "hello"},
		Attempt:   1,
	})

	result := awaitResult(t, b)
	assert.Equal(t, "task-1", result.TaskID)
	assert.Equal(t, 1, result.Attempt)
	assert.Equal(t, models.ResultStatusSuccess, result.Status)
	assert.Equal(t, "hello", result.Outputs["result"])
	assert.Equal(t, int32(1), reporter.calls.Load())
}

func TestPool_ExecutorFailureBecomesErrorResult(t *testing.T) {
	pool, b := testPool(t, &fakeReporter{}, &echoExecutor{
		err: common.NewError(common.KindTransient, "upstream flaked"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	enqueueTask(t, b, models.TaskMessage{
		TaskID:    "task-1",
		JobID:     "job-1",
		AgentType: "executor",
		Attempt:   1,
	})

	result := awaitResult(t, b)
	assert.Equal(t, models.ResultStatusError, result.Status)
	assert.Contains(t, result.Error, "upstream flaked")
	assert.True(t, result.Retryable)
}

func TestPool_StaleDeliveryDropped(t *testing.T) {
	reporter := &fakeReporter{err: common.NewError(common.KindConflict, "attempt superseded")}
	pool, b := testPool(t, reporter, &echoExecutor{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	enqueueTask(t, b, models.TaskMessage{
		TaskID:    "task-1",
		JobID:     "job-1",
		AgentType: "executor",
		Attempt:   1,
	})

	// Give the consumer time to pick it up and drop it.
	deadline := time.Now().Add(2 * time.Second)
	for reporter.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	pool.Stop()
	cancel()

	require.NotZero(t, reporter.calls.Load())
	_, err := b.Results().Receive(context.Background())
	assert.ErrorIs(t, err, broker.ErrNoMessage)

	// The delivery was acked, not redelivered.
	n, err := b.TaskQueue("executor").Len()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
