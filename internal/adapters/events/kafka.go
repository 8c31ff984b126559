// Package events provides the Kafka-backed job event publisher.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/terralab/strata/internal/ports/output"
)

// DefaultTopic is the topic job lifecycle events are published to.
const DefaultTopic = "layer.jobs"

// KafkaPublisher implements EventPublisher on a Kafka topic. Events are
// keyed by job ID: Kafka then orders all events of one job within a
// partition, and no ordering is promised across jobs.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers []string
	Topic   string
}

// NewKafkaPublisher creates the publisher.
func NewKafkaPublisher(cfg Config, logger *slog.Logger) *KafkaPublisher {
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: 10 * time.Second,
	}

	return &KafkaPublisher{writer: writer, logger: logger}
}

// PublishJobEvent implements output.EventPublisher.
func (p *KafkaPublisher) PublishJobEvent(ctx context.Context, event output.JobEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding job event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.JobID),
		Value: value,
		Time:  time.Now(),
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing job event: %w", err)
	}

	p.logger.Debug("job event published", "job", event.JobID, "status", event.Status)
	return nil
}

// Close releases the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
