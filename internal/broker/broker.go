package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
)

const (
	// TaskQueuePrefix names the per-agent task queues, e.g. "tasks.scraper".
	TaskQueuePrefix = "tasks."
	// ResultQueue carries worker replies back to the orchestrator.
	ResultQueue = "results"

	dlqKeyPrefix = "dlq:msg:"
)

// DLQEntry is a dead-lettered message with its delivery history.
type DLQEntry struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Body         json.RawMessage `json:"body"`
	ReceiveCount int             `json:"receive_count"`
	LastError    string          `json:"last_error,omitempty"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	DeadAt       time.Time       `json:"dead_at"`
}

// Broker owns the durable queues and the dead-letter store. Queues share one
// badger instance; a message that exhausts its receive limit moves to the
// DLQ in the same transaction that drops it from its queue.
type Broker struct {
	db                *badger.DB
	visibilityTimeout time.Duration
	maxReceive        int
	logger            arbor.ILogger

	mu     sync.Mutex
	queues map[string]*Queue

	// onDeadLetter, when set, is called after a message is dead-lettered.
	onDeadLetter func(entry DLQEntry)
}

// New creates a broker over an existing badger instance.
func New(db *badger.DB, visibilityTimeout time.Duration, maxReceive int, logger arbor.ILogger) (*Broker, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	return &Broker{
		db:                db,
		visibilityTimeout: visibilityTimeout,
		maxReceive:        maxReceive,
		logger:            logger,
		queues:            make(map[string]*Queue),
	}, nil
}

// OnDeadLetter registers a callback invoked after a message dead-letters.
// Must be called before consumers start.
func (b *Broker) OnDeadLetter(fn func(entry DLQEntry)) {
	b.onDeadLetter = fn
}

// Queue returns the named queue, creating it on first use.
func (b *Broker) Queue(name string) *Queue {
	b.mu.Lock()
	defer b.mu.Unlock()

	if q, ok := b.queues[name]; ok {
		return q
	}
	q := newQueue(b.db, name, b.visibilityTimeout, b.maxReceive, b.deadLetterTxn)
	q.onDeadLettered = b.notifyDeadLetter
	b.queues[name] = q
	return q
}

// TaskQueue returns the queue for one agent type.
func (b *Broker) TaskQueue(agentType string) *Queue {
	return b.Queue(TaskQueuePrefix + agentType)
}

// Results returns the worker reply queue.
func (b *Broker) Results() *Queue {
	return b.Queue(ResultQueue)
}

// deadLetterTxn writes a DLQ entry inside the queue's own transaction.
func (b *Broker) deadLetterTxn(txn *badger.Txn, msg *queueMessage) error {
	entry := DLQEntry{
		ID:           msg.ID,
		Queue:        msg.Queue,
		Body:         msg.Body,
		ReceiveCount: msg.ReceiveCount,
		LastError:    msg.LastError,
		EnqueuedAt:   msg.EnqueuedAt,
		DeadAt:       time.Now(),
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ entry: %w", err)
	}
	if err := txn.Set([]byte(dlqKeyPrefix+msg.ID), raw); err != nil {
		return err
	}

	if b.logger != nil {
		b.logger.Warn().
			Str("message_id", msg.ID).
			Str("queue", msg.Queue).
			Int("receive_count", msg.ReceiveCount).
			Msg("Message dead-lettered")
	}
	return nil
}

// notifyDeadLetter runs the registered callback after the claiming
// transaction has committed.
func (b *Broker) notifyDeadLetter(msg *queueMessage) {
	if b.onDeadLetter == nil {
		return
	}
	b.onDeadLetter(DLQEntry{
		ID:           msg.ID,
		Queue:        msg.Queue,
		Body:         msg.Body,
		ReceiveCount: msg.ReceiveCount,
		LastError:    msg.LastError,
		EnqueuedAt:   msg.EnqueuedAt,
		DeadAt:       time.Now(),
	})
}

// ListDLQ returns dead-lettered messages, newest first.
func (b *Broker) ListDLQ(ctx context.Context) ([]DLQEntry, error) {
	var entries []DLQEntry
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := []byte(dlqKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var entry DLQEntry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].DeadAt.After(entries[j].DeadAt)
	})
	return entries, nil
}

// GetDLQ fetches one dead-lettered message by id.
func (b *Broker) GetDLQ(ctx context.Context, id string) (*DLQEntry, error) {
	var entry DLQEntry
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(dlqKeyPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, fmt.Errorf("DLQ entry not found: %s", id)
		}
		return nil, err
	}
	return &entry, nil
}

// ReplayDLQ re-enqueues a dead-lettered message on its original queue with a
// reset delivery history, then removes the DLQ entry.
func (b *Broker) ReplayDLQ(ctx context.Context, id string) error {
	entry, err := b.GetDLQ(ctx, id)
	if err != nil {
		return err
	}

	var body interface{}
	if err := json.Unmarshal(entry.Body, &body); err != nil {
		return fmt.Errorf("failed to decode DLQ body: %w", err)
	}

	if err := b.Queue(entry.Queue).Enqueue(ctx, body); err != nil {
		return fmt.Errorf("failed to re-enqueue DLQ message: %w", err)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(dlqKeyPrefix + id))
	})
}

// DeleteDLQ discards a dead-lettered message.
func (b *Broker) DeleteDLQ(ctx context.Context, id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(dlqKeyPrefix + id)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return nil
	})
}

// Close releases broker resources. The badger instance is managed by the
// caller and left open.
func (b *Broker) Close() error {
	return nil
}
