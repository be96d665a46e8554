// Package events publishes run lifecycle events for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/jonathan/lesson-video-pipeline/internal/logging"
)

// Event types.
const (
	TypeRunCompleted = "run.completed"
	TypeRunFailed    = "run.failed"
)

// RunEvent is the JSON payload published once per finished run.
type RunEvent struct {
	Type           string    `json:"type"`
	RunID          string    `json:"run_id"`
	Topic          string    `json:"topic,omitempty"`
	FinalVideo     string    `json:"final_video,omitempty"`
	ProcessedFrom  string    `json:"processed_from,omitempty"`
	FailedStage    string    `json:"failed_stage,omitempty"`
	Error          string    `json:"error,omitempty"`
	UnitsAttempted int       `json:"units_attempted"`
	UnitsSucceeded int       `json:"units_succeeded"`
	Timestamp      time.Time `json:"timestamp"`
}

// Publisher sends run events.
type Publisher interface {
	Publish(ctx context.Context, event RunEvent) error
	Close() error
}

// MessageWriter is the part of kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes run events to a Kafka topic keyed by run id.
type KafkaPublisher struct {
	writer MessageWriter
	topic  string
	logger *zap.Logger
}

// NewPublisher returns a Kafka publisher, or a no-op publisher when brokers is empty.
func NewPublisher(brokers []string, topic string, logger *zap.Logger) Publisher {
	if len(brokers) == 0 {
		return Nop{}
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: true,
	}
	return NewKafkaPublisher(w, topic, logger)
}

// NewKafkaPublisher wraps an existing writer.
func NewKafkaPublisher(w MessageWriter, topic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, topic: topic, logger: logging.OrNop(logger)}
}

// Publish sends event synchronously.
func (p *KafkaPublisher) Publish(ctx context.Context, event RunEvent) error {
	if event.RunID == "" {
		return fmt.Errorf("run_id is required")
	}
	if event.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.RunID),
		Value: value,
		Time:  event.Timestamp,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}
	p.logger.Info("published run event",
		zap.String("run_id", event.RunID),
		zap.String("type", event.Type),
		zap.String("topic", p.topic))
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, RunEvent) error { return nil }

func (Nop) Close() error { return nil }
