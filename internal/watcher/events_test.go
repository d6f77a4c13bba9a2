package watcher

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus() *Bus {
	return NewBus(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
}

func TestBus_PublishWithNoSubscribers(t *testing.T) {
	bus := newTestBus()

	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), ProgressEvent{Type: EventBatchProgress})
	})
}

func TestBus_SubscribeReceivesPublishedEvent(t *testing.T) {
	bus := newTestBus()

	ch, unsubscribe := bus.Subscribe(1)
	defer unsubscribe()

	bus.Publish(context.Background(), ProgressEvent{Type: EventBatchProgress, FilesProcessed: 3})

	select {
	case event := <-ch:
		assert.Equal(t, EventBatchProgress, event.Type)
		assert.Equal(t, 3, event.FilesProcessed)
	case <-time.After(time.Second):
		t.Fatal("did not receive published event")
	}
}

func TestBus_FullSubscriberChannelDoesNotBlockPublish(t *testing.T) {
	bus := newTestBus()

	ch, unsubscribe := bus.Subscribe(1)
	defer unsubscribe()

	bus.Publish(context.Background(), ProgressEvent{Type: EventBatchProgress})
	bus.Publish(context.Background(), ProgressEvent{Type: EventBatchProgress})

	require.Len(t, ch, 1, "second publish must be dropped, not queued")
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := newTestBus()

	ch, unsubscribe := bus.Subscribe(1)
	unsubscribe()

	bus.Publish(context.Background(), ProgressEvent{Type: EventPaused})

	_, ok := <-ch
	assert.False(t, ok, "channel must be closed after unsubscribe")
}
