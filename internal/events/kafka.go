package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// DefaultTopic receives events when no topic is configured.
const DefaultTopic = "agentpilot.events"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink forwards every event as JSON to a Kafka topic, keyed by session id.
// Events are queued; when the queue is full the event is dropped.
type KafkaSink struct {
	w     messageWriter
	queue chan Event

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewKafkaSink creates a sink writing to brokers (comma separated).
func NewKafkaSink(brokers, topic string) *KafkaSink {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(brokers, ",")...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 100 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
	}
	return newKafkaSink(w, 256)
}

func newKafkaSink(w messageWriter, size int) *KafkaSink {
	s := &KafkaSink{
		w:     w,
		queue: make(chan Event, size),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

// Attach subscribes the sink to bus and returns the unsubscribe function.
func (s *KafkaSink) Attach(b *Bus) func() {
	return b.Subscribe(s.Handle)
}

// Handle enqueues ev without blocking.
func (s *KafkaSink) Handle(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- ev:
	default:
		slog.Warn("Kafka event queue full, dropping event", "type", ev.Type, "session", ev.SessionID)
	}
}

func (s *KafkaSink) run() {
	defer close(s.done)
	for ev := range s.queue {
		value, err := json.Marshal(ev)
		if err != nil {
			slog.Warn("Kafka event encode failed", "error", err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err = s.w.WriteMessages(ctx, kafka.Message{
			Key:   []byte(ev.SessionID),
			Value: value,
			Time:  ev.Timestamp,
		})
		cancel()
		if err != nil {
			slog.Warn("Kafka event write failed", "type", ev.Type, "error", err)
		}
	}
}

// Close flushes queued events and closes the writer.
func (s *KafkaSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	return s.w.Close()
}
