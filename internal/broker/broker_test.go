package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func testBroker(t *testing.T, maxReceive int) *Broker {
	t.Helper()

	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	b, err := New(db, 5*time.Minute, maxReceive, arbor.NewLogger())
	require.NoError(t, err)
	return b
}

type testBody struct {
	TaskID string `json:"task_id"`
}

func TestQueue_EnqueueReceiveAck(t *testing.T) {
	b := testBroker(t, 3)
	q := b.Queue("work")
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testBody{TaskID: "t1"}))

	delivery, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "work", delivery.Queue)
	assert.Equal(t, 1, delivery.ReceiveCount)

	var body testBody
	require.NoError(t, json.Unmarshal(delivery.Body, &body))
	assert.Equal(t, "t1", body.TaskID)

	require.NoError(t, delivery.Ack())

	n, err := q.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestQueue_ReceiveEmpty(t *testing.T) {
	b := testBroker(t, 3)

	_, err := b.Queue("empty").Receive(context.Background())
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestQueue_InFlightMessageIsInvisible(t *testing.T) {
	b := testBroker(t, 3)
	q := b.Queue("work")
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testBody{TaskID: "t1"}))

	first, err := q.Receive(ctx)
	require.NoError(t, err)

	// Claimed but unacked, so hidden until the visibility timeout passes.
	_, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	n, err := q.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, first.Ack())
}

func TestQueue_NackRedelivers(t *testing.T) {
	b := testBroker(t, 3)
	q := b.Queue("work")
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testBody{TaskID: "t1"}))

	first, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, first.Nack("worker crashed"))

	second, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.ReceiveCount)
}

func TestQueue_EnqueueAfterDelaysVisibility(t *testing.T) {
	b := testBroker(t, 3)
	q := b.Queue("work")
	ctx := context.Background()

	require.NoError(t, q.EnqueueAfter(ctx, testBody{TaskID: "t1"}, 150*time.Millisecond))

	_, err := q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	time.Sleep(200 * time.Millisecond)

	delivery, err := q.Receive(ctx)
	require.NoError(t, err)
	var body testBody
	require.NoError(t, json.Unmarshal(delivery.Body, &body))
	assert.Equal(t, "t1", body.TaskID)
}

func TestQueue_DeadLettersAfterMaxReceive(t *testing.T) {
	b := testBroker(t, 2)
	var dead []DLQEntry
	b.OnDeadLetter(func(entry DLQEntry) {
		dead = append(dead, entry)
	})

	q := b.Queue("work")
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, testBody{TaskID: "t1"}))

	for i := 0; i < 2; i++ {
		delivery, err := q.Receive(ctx)
		require.NoError(t, err)
		require.NoError(t, delivery.Nack("agent failed"))
	}

	// The receive limit is exhausted, so the next scan dead-letters it.
	_, err := q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	n, err := q.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.Len(t, dead, 1)
	assert.Equal(t, "work", dead[0].Queue)
	assert.Equal(t, 2, dead[0].ReceiveCount)
	assert.Equal(t, "agent failed", dead[0].LastError)

	entries, err := b.ListDLQ(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, dead[0].ID, entries[0].ID)

	entry, err := b.GetDLQ(ctx, dead[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "work", entry.Queue)
}

func TestBroker_ReplayDLQ(t *testing.T) {
	b := testBroker(t, 1)
	q := b.Queue("work")
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testBody{TaskID: "t1"}))

	delivery, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, delivery.Nack("transient failure"))

	_, err = q.Receive(ctx)
	require.ErrorIs(t, err, ErrNoMessage)

	entries, err := b.ListDLQ(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, b.ReplayDLQ(ctx, entries[0].ID))

	// Replay resets delivery history and lands on the original queue.
	replayed, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, replayed.ReceiveCount)

	var body testBody
	require.NoError(t, json.Unmarshal(replayed.Body, &body))
	assert.Equal(t, "t1", body.TaskID)

	entries, err = b.ListDLQ(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBroker_DeleteDLQ(t *testing.T) {
	b := testBroker(t, 1)
	q := b.Queue("work")
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testBody{TaskID: "t1"}))
	delivery, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, delivery.Nack("bad payload"))
	_, err = q.Receive(ctx)
	require.ErrorIs(t, err, ErrNoMessage)

	entries, err := b.ListDLQ(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, b.DeleteDLQ(ctx, entries[0].ID))

	entries, err = b.ListDLQ(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Deleting an unknown id is not an error.
	assert.NoError(t, b.DeleteDLQ(ctx, "no-such-id"))
}

func TestBroker_QueueNaming(t *testing.T) {
	b := testBroker(t, 3)

	assert.Equal(t, "tasks.scraper", b.TaskQueue("scraper").Name())
	assert.Equal(t, "results", b.Results().Name())

	// Repeated lookups return the same queue instance.
	assert.Same(t, b.Queue("work"), b.Queue("work"))
}

func TestQueue_IndependentQueuesShareDB(t *testing.T) {
	b := testBroker(t, 3)
	ctx := context.Background()

	require.NoError(t, b.Queue("a").Enqueue(ctx, testBody{TaskID: "from-a"}))
	require.NoError(t, b.Queue("b").Enqueue(ctx, testBody{TaskID: "from-b"}))

	delivery, err := b.Queue("a").Receive(ctx)
	require.NoError(t, err)
	var body testBody
	require.NoError(t, json.Unmarshal(delivery.Body, &body))
	assert.Equal(t, "from-a", body.TaskID)

	n, err := b.Queue("b").Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
