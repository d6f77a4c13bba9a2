// Package watcher runs the Voltech scan loop: a single-threaded cooperative
// scheduler that heartbeats the coordinator's lock, polls the configured
// server path for new or changed files, and periodically sweeps further
// back to catch anything missed while this process was offline.
package watcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Event types published on the Bus. Names match the progress-event contract
// external subscribers key off of.
const (
	EventBatchProgress = "voltech-batch-progress"
	EventPaused        = "voltech-watcher-paused"
	EventResumed       = "voltech-watcher-resumed"
)

// ProgressEvent carries the outcome of one scan cycle, or a pause/resume
// transition.
type ProgressEvent struct {
	Type            string    `json:"type"`
	FilesProcessed  int       `json:"files_processed"`
	RecordsInserted int       `json:"records_inserted"`
	Errors          []string  `json:"errors"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// Bus fans a ProgressEvent out to every in-process subscriber and,
// optionally, to a Kafka topic. It works with zero subscribers and no Kafka
// writer configured — both are entirely optional.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]chan ProgressEvent
	nextID      int

	kafkaWriter *kafka.Writer
	logger      *slog.Logger
}

// NewBus builds an empty Bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[int]chan ProgressEvent),
		logger:      logger,
	}
}

// SetKafkaMirror configures an additional Kafka sink for every published
// event. Passing nil disables mirroring. Not required for single-workstation
// operation.
func (b *Bus) SetKafkaMirror(w *kafka.Writer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.kafkaWriter = w
}

// Subscribe registers a buffered channel that receives every future
// published event. The returned function unsubscribes and closes the
// channel; callers must call it to avoid leaking the subscription.
func (b *Bus) Subscribe(buffer int) (<-chan ProgressEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan ProgressEvent, buffer)
	b.subscribers[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if _, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(ch)
		}
	}

	return ch, unsubscribe
}

// Publish delivers event to every subscriber and, if configured, the Kafka
// mirror. A slow or full subscriber channel never blocks the watcher: the
// event is dropped for that subscriber and logged.
func (b *Bus) Publish(ctx context.Context, event ProgressEvent) {
	b.mu.RLock()
	subs := make([]chan ProgressEvent, 0, len(b.subscribers))
	for _, ch := range b.subscribers {
		subs = append(subs, ch)
	}
	writer := b.kafkaWriter
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			b.logger.Warn("dropping progress event, subscriber channel full", "event_type", event.Type)
		}
	}

	if writer == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("failed to marshal progress event for kafka mirror", "error", err)
		return
	}

	if err := writer.WriteMessages(ctx, kafka.Message{Key: []byte(event.Type), Value: payload}); err != nil {
		b.logger.Error("failed to mirror progress event to kafka", "error", err)
	}
}
