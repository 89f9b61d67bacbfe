package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/shiva/campusride/internal/model"
	"github.com/shiva/campusride/internal/observability"
)

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes trip events as JSON, keyed by trip id so every
// event for a trip lands on the same partition.
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
}

// NewKafkaPublisher creates a publisher for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: w, timeout: 2 * time.Second}
}

func (k *KafkaPublisher) Publish(ctx context.Context, evt model.TripEvent) error {
	b, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode trip event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(evt.Trip.ID, 10)),
		Value: b,
		Time:  evt.OccurredAt,
	})
	if err != nil {
		observability.EventsPublished.WithLabelValues("kafka", "error").Inc()
		return fmt.Errorf("publish %s for trip %d: %w", evt.Type, evt.Trip.ID, err)
	}
	observability.EventsPublished.WithLabelValues("kafka", "ok").Inc()
	return nil
}

func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
