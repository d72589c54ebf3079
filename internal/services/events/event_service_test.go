package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/maestro/internal/interfaces"
)

func TestPublishSync_DeliversToSubscribers(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	var got interfaces.Event
	require.NoError(t, svc.Subscribe(interfaces.EventJobUpdated, func(ctx context.Context, event interfaces.Event) error {
		got = event
		return nil
	}))

	event := interfaces.Event{Type: interfaces.EventJobUpdated, Payload: "payload"}
	require.NoError(t, svc.PublishSync(context.Background(), event))
	assert.Equal(t, event, got)
}

func TestPublish_NoSubscribersIsNoop(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	assert.NoError(t, svc.Publish(context.Background(), interfaces.Event{Type: interfaces.EventTaskUpdated}))
}

func TestPublish_Async(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	var count atomic.Int32
	require.NoError(t, svc.Subscribe(interfaces.EventTaskUpdated, func(ctx context.Context, event interfaces.Event) error {
		count.Add(1)
		return nil
	}))

	require.NoError(t, svc.Publish(context.Background(), interfaces.Event{Type: interfaces.EventTaskUpdated}))

	deadline := time.Now().Add(time.Second)
	for count.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, int32(1), count.Load())
}

func TestPublishSync_CollectsHandlerErrors(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	require.NoError(t, svc.Subscribe(interfaces.EventJobUpdated, func(ctx context.Context, event interfaces.Event) error {
		return errors.New("handler broke")
	}))

	err := svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventJobUpdated})
	require.Error(t, err)
}

func TestSubscribe_NilHandlerRejected(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	assert.Error(t, svc.Subscribe(interfaces.EventJobUpdated, nil))
}

func TestUnsubscribe(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	var calls atomic.Int32
	handler := func(ctx context.Context, event interfaces.Event) error {
		calls.Add(1)
		return nil
	}
	require.NoError(t, svc.Subscribe(interfaces.EventJobUpdated, handler))
	require.NoError(t, svc.Unsubscribe(interfaces.EventJobUpdated, handler))

	require.NoError(t, svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventJobUpdated}))
	assert.Equal(t, int32(0), calls.Load())

	// Removing it again fails.
	assert.Error(t, svc.Unsubscribe(interfaces.EventJobUpdated, handler))
}
