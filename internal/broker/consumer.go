package broker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
)

// Handler processes one delivery. A nil return acks the message; an error
// nacks it for redelivery.
type Handler func(ctx context.Context, delivery *Delivery) error

// Consumer polls one queue with a fixed pool of goroutines.
type Consumer struct {
	queue        *Queue
	handler      Handler
	concurrency  int
	pollInterval time.Duration
	logger       arbor.ILogger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer creates a consumer for the queue.
func NewConsumer(queue *Queue, handler Handler, concurrency int, pollInterval time.Duration, logger arbor.ILogger) *Consumer {
	if concurrency <= 0 {
		concurrency = 1
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Consumer{
		queue:        queue,
		handler:      handler,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Start launches the polling goroutines.
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	for i := 0; i < c.concurrency; i++ {
		c.wg.Add(1)
		go func(worker int) {
			defer c.wg.Done()
			// Stagger worker start to avoid synchronized polling.
			select {
			case <-time.After(time.Duration(rand.Int63n(int64(c.pollInterval)))):
			case <-ctx.Done():
				return
			}
			c.poll(ctx, worker)
		}(i)
	}

	c.logger.Info().
		Str("queue", c.queue.Name()).
		Int("concurrency", c.concurrency).
		Msg("Consumer started")
}

// Stop cancels polling and waits for in-flight handlers to finish.
func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.logger.Info().Str("queue", c.queue.Name()).Msg("Consumer stopped")
}

func (c *Consumer) poll(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		delivery, err := c.queue.Receive(ctx)
		if err != nil {
			if err != ErrNoMessage {
				c.logger.Error().Err(err).Str("queue", c.queue.Name()).Msg("Receive failed")
			}
			select {
			case <-time.After(c.pollInterval):
			case <-ctx.Done():
				return
			}
			continue
		}

		c.handle(ctx, delivery)
	}
}

func (c *Consumer) handle(ctx context.Context, delivery *Delivery) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Str("queue", c.queue.Name()).
				Str("message_id", delivery.ID).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Handler panicked")
			if err := delivery.Nack(fmt.Sprintf("panic: %v", r)); err != nil {
				c.logger.Error().Err(err).Msg("Failed to nack after panic")
			}
		}
	}()

	if err := c.handler(ctx, delivery); err != nil {
		c.logger.Warn().
			Err(err).
			Str("queue", c.queue.Name()).
			Str("message_id", delivery.ID).
			Int("receive_count", delivery.ReceiveCount).
			Msg("Handler failed, message nacked")
		if nackErr := delivery.Nack(err.Error()); nackErr != nil {
			c.logger.Error().Err(nackErr).Msg("Failed to nack message")
		}
		return
	}

	if err := delivery.Ack(); err != nil {
		c.logger.Error().
			Err(err).
			Str("queue", c.queue.Name()).
			Str("message_id", delivery.ID).
			Msg("Failed to ack message")
	}
}
