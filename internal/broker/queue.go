package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// ErrNoMessage is returned when the queue has no visible messages.
var ErrNoMessage = errors.New("no messages in queue")

// queueMessage is the internal structure stored in Badger.
type queueMessage struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Body         json.RawMessage `json:"body"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	VisibleAt    time.Time       `json:"visible_at"`
	ReceiveCount int             `json:"receive_count"`
	LastError    string          `json:"last_error,omitempty"`
}

// Delivery is one received message. Exactly one of Ack or Nack must be
// called; an unacked delivery becomes visible again after the visibility
// timeout (at-least-once).
type Delivery struct {
	ID           string
	Queue        string
	Body         json.RawMessage
	ReceiveCount int

	// Ack removes the message from the queue.
	Ack func() error
	// Nack makes the message immediately visible again, recording the error
	// for DLQ inspection. Redelivery beyond the receive limit dead-letters it.
	Nack func(reason string) error
}

// Queue is one durable badger-backed queue. Messages are stored at
// queue:{name}:msg:{id} with a visibility index at
// queue:{name}:index:{visibleAt}:{id} so ready messages scan in order.
type Queue struct {
	db                *badger.DB
	name              string
	visibilityTimeout time.Duration
	maxReceive        int
	deadLetter        func(txn *badger.Txn, msg *queueMessage) error
	onDeadLettered    func(msg *queueMessage) // invoked after the claiming transaction commits
}

func newQueue(db *badger.DB, name string, visibilityTimeout time.Duration, maxReceive int, deadLetter func(txn *badger.Txn, msg *queueMessage) error) *Queue {
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute
	}
	if maxReceive <= 0 {
		maxReceive = 3
	}
	return &Queue{
		db:                db,
		name:              name,
		visibilityTimeout: visibilityTimeout,
		maxReceive:        maxReceive,
		deadLetter:        deadLetter,
	}
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

// Enqueue adds a message to the queue, immediately visible.
func (q *Queue) Enqueue(ctx context.Context, body interface{}) error {
	return q.EnqueueAfter(ctx, body, 0)
}

// EnqueueAfter adds a message that becomes visible after the given delay.
// Retry backoff is implemented as a delayed re-enqueue.
func (q *Queue) EnqueueAfter(ctx context.Context, body interface{}, delay time.Duration) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal message body: %w", err)
	}

	now := time.Now()
	msg := queueMessage{
		ID:         uuid.New().String(),
		Queue:      q.name,
		Body:       data,
		EnqueuedAt: now,
		VisibleAt:  now.Add(delay),
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	return q.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(q.msgKey(msg.ID), raw); err != nil {
			return err
		}
		return txn.Set(q.indexKey(msg.VisibleAt, msg.ID), []byte{})
	})
}

// Receive pulls the next visible message. Messages past the receive limit
// are routed to the dead-letter store inside the same transaction. Returning
// an error from the closure would discard those writes, so an empty scan
// commits and reports ErrNoMessage via the found flag.
func (q *Queue) Receive(ctx context.Context) (*Delivery, error) {
	var claimed queueMessage
	var found bool
	var deadLettered []*queueMessage

	err := q.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:index:", q.name))
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)

			ts, id, err := q.parseIndexKey(key)
			if err != nil {
				continue
			}

			// Index keys sort by timestamp; the first future entry ends the scan.
			if ts.After(now) {
				break
			}

			var msg queueMessage
			item, err := txn.Get(q.msgKey(id))
			if err != nil {
				if err == badger.ErrKeyNotFound {
					// Orphaned index entry, clean up and keep scanning.
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return err
			}
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return err
			}

			if msg.ReceiveCount >= q.maxReceive {
				if err := txn.Delete(key); err != nil {
					return err
				}
				if err := txn.Delete(q.msgKey(id)); err != nil {
					return err
				}
				if q.deadLetter != nil {
					if err := q.deadLetter(txn, &msg); err != nil {
						return err
					}
				}
				dead := msg
				deadLettered = append(deadLettered, &dead)
				continue
			}

			// Claim: bump receive count and push visibility out.
			msg.ReceiveCount++
			msg.VisibleAt = now.Add(q.visibilityTimeout)

			raw, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			if err := txn.Set(q.msgKey(id), raw); err != nil {
				return err
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
			if err := txn.Set(q.indexKey(msg.VisibleAt, id), []byte{}); err != nil {
				return err
			}

			claimed = msg
			found = true
			return nil
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if q.onDeadLettered != nil {
		for _, msg := range deadLettered {
			q.onDeadLettered(msg)
		}
	}

	if !found {
		return nil, ErrNoMessage
	}

	return &Delivery{
		ID:           claimed.ID,
		Queue:        q.name,
		Body:         claimed.Body,
		ReceiveCount: claimed.ReceiveCount,
		Ack: func() error {
			return q.remove(claimed.ID)
		},
		Nack: func(reason string) error {
			return q.release(claimed.ID, reason)
		},
	}, nil
}

// Extend pushes out the visibility timeout for an in-flight message.
func (q *Queue) Extend(ctx context.Context, messageID string, duration time.Duration) error {
	return q.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(q.msgKey(messageID))
		if err != nil {
			return err
		}

		var msg queueMessage
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &msg)
		}); err != nil {
			return err
		}

		oldIndex := q.indexKey(msg.VisibleAt, messageID)
		msg.VisibleAt = time.Now().Add(duration)

		raw, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if err := txn.Set(q.msgKey(messageID), raw); err != nil {
			return err
		}
		if err := txn.Delete(oldIndex); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(q.indexKey(msg.VisibleAt, messageID), []byte{})
	})
}

// Len counts messages currently stored in the queue (visible or in flight).
func (q *Queue) Len() (int, error) {
	count := 0
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:msg:", q.name))
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// remove deletes a message and its index entry.
func (q *Queue) remove(id string) error {
	return q.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(q.msgKey(id))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil // already removed
			}
			return err
		}

		var msg queueMessage
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &msg)
		}); err != nil {
			return err
		}

		if err := txn.Delete(q.indexKey(msg.VisibleAt, id)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Delete(q.msgKey(id))
	})
}

// release makes a message immediately visible again, recording the failure.
func (q *Queue) release(id, reason string) error {
	return q.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(q.msgKey(id))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}

		var msg queueMessage
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &msg)
		}); err != nil {
			return err
		}

		oldIndex := q.indexKey(msg.VisibleAt, id)
		msg.VisibleAt = time.Now()
		msg.LastError = reason

		raw, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if err := txn.Set(q.msgKey(id), raw); err != nil {
			return err
		}
		if err := txn.Delete(oldIndex); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(q.indexKey(msg.VisibleAt, id), []byte{})
	})
}

func (q *Queue) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", q.name, id))
}

func (q *Queue) indexKey(visibleAt time.Time, id string) []byte {
	// Zero pad to 20 digits so string ordering matches numeric ordering.
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", q.name, visibleAt.UnixNano(), id))
}

func (q *Queue) parseIndexKey(key []byte) (time.Time, string, error) {
	prefix := fmt.Sprintf("queue:%s:index:", q.name)
	if len(key) <= len(prefix) {
		return time.Time{}, "", fmt.Errorf("invalid key length")
	}

	suffix := string(key[len(prefix):])
	if len(suffix) < 21 { // 20 digits + 1 colon
		return time.Time{}, "", fmt.Errorf("invalid suffix length")
	}

	var ts int64
	if _, err := fmt.Sscanf(suffix[:20], "%d", &ts); err != nil {
		return time.Time{}, "", err
	}

	return time.Unix(0, ts), suffix[21:], nil
}
