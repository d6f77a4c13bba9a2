package watcher

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkamodule "github.com/testcontainers/testcontainers-go/modules/kafka"
)

// TestBus_KafkaMirrorDeliversPublishedEvent verifies that a Bus configured
// with SetKafkaMirror actually writes published events to the broker, not
// just to in-process subscribers — the in-memory channel path is covered
// by events_test.go and proves nothing about the Kafka leg.
func TestBus_KafkaMirrorDeliversPublishedEvent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	kafkaContainer, err := kafkamodule.Run(ctx, "confluentinc/confluent-local:7.6.1")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(kafkaContainer)
	})

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)

	const topic = "voltech-watcher-progress"

	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	t.Cleanup(func() { _ = writer.Close() })

	bus := NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
	bus.SetKafkaMirror(writer)

	occurredAt := time.Now().UTC().Truncate(time.Second)
	bus.Publish(ctx, ProgressEvent{
		Type:            EventBatchProgress,
		FilesProcessed:  3,
		RecordsInserted: 42,
		OccurredAt:      occurredAt,
	})

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	t.Cleanup(func() { _ = reader.Close() })

	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := reader.ReadMessage(readCtx)
	require.NoError(t, err, "the mirrored event must actually land on the topic")
	require.Equal(t, EventBatchProgress, string(msg.Key))

	var mirrored ProgressEvent
	require.NoError(t, json.Unmarshal(msg.Value, &mirrored))
	require.Equal(t, 3, mirrored.FilesProcessed)
	require.Equal(t, 42, mirrored.RecordsInserted)
	require.True(t, mirrored.OccurredAt.Equal(occurredAt))
}
