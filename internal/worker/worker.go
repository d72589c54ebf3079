// Package worker is the embedded worker fleet: one broker consumer per
// agent queue, each running the registered executor for that agent and
// publishing the result to the results queue. Remote workers speak the same
// message contract; embedding is a deployment choice.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/maestro/internal/broker"
	"github.com/ternarybob/maestro/internal/common"
	"github.com/ternarybob/maestro/internal/models"
)

// Executor runs one agent's work for a resolved payload.
type Executor interface {
	AgentType() string
	Execute(ctx context.Context, message *models.TaskMessage) (*models.TaskResult, error)
}

// StatusReporter marks a task RUNNING when its delivery is picked up. The
// orchestrator implements it; a stale-delivery error drops the message.
type StatusReporter interface {
	MarkTaskStarted(ctx context.Context, taskID string, attempt int) error
}

// Pool runs a consumer per registered executor.
type Pool struct {
	broker       *broker.Broker
	reporter     StatusReporter
	logger       arbor.ILogger
	concurrency  int
	pollInterval time.Duration

	executors map[string]Executor
	consumers []*broker.Consumer
}

// NewPool creates an empty worker pool.
func NewPool(b *broker.Broker, reporter StatusReporter, concurrency int, pollInterval time.Duration, logger arbor.ILogger) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Pool{
		broker:       b,
		reporter:     reporter,
		logger:       logger,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		executors:    make(map[string]Executor),
	}
}

// Register adds an executor for its agent queue. Must be called before Start.
func (p *Pool) Register(executor Executor) {
	p.executors[executor.AgentType()] = executor
}

// Start launches one consumer per executor.
func (p *Pool) Start(ctx context.Context) {
	for agentType, executor := range p.executors {
		queue := p.broker.TaskQueue(agentType)
		consumer := broker.NewConsumer(queue, p.handlerFor(executor), p.concurrency, p.pollInterval, p.logger)
		consumer.Start(ctx)
		p.consumers = append(p.consumers, consumer)
	}
	p.logger.Info().
		Int("agent_count", len(p.executors)).
		Msg("Embedded worker pool started")
}

// Stop halts all consumers and waits for in-flight work.
func (p *Pool) Stop() {
	for _, consumer := range p.consumers {
		consumer.Stop()
	}
}

// handlerFor wraps an executor as a broker handler. Execution failures are
// reported as error results, not nacks: the retry policy lives in the
// orchestrator, so the delivery itself always acks once a result is posted.
func (p *Pool) handlerFor(executor Executor) broker.Handler {
	return func(ctx context.Context, delivery *broker.Delivery) error {
		var message models.TaskMessage
		if err := json.Unmarshal(delivery.Body, &message); err != nil {
			p.logger.Error().
				Err(err).
				Str("message_id", delivery.ID).
				Msg("Malformed task message")
			return fmt.Errorf("malformed task message: %w", err)
		}

		if err := p.reporter.MarkTaskStarted(ctx, message.TaskID, message.Attempt); err != nil {
			// Stale delivery: the task moved on (cancelled, retried, done).
			p.logger.Debug().
				Str("task_id", message.TaskID).
				Int("attempt", message.Attempt).
				Err(err).
				Msg("Dropping stale delivery")
			return nil
		}

		result, err := executor.Execute(ctx, &message)
		if err != nil {
			result = &models.TaskResult{
				TaskID:    message.TaskID,
				JobID:     message.JobID,
				Attempt:   message.Attempt,
				Status:    models.ResultStatusError,
				Error:     err.Error(),
				Retryable: common.IsRetryable(err),
			}
		} else {
			result.TaskID = message.TaskID
			result.JobID = message.JobID
			result.Attempt = message.Attempt
			if result.Status == "" {
				result.Status = models.ResultStatusSuccess
			}
		}

		if err := p.broker.Results().Enqueue(ctx, result); err != nil {
			return fmt.Errorf("failed to publish result: %w", err)
		}
		return nil
	}
}
