package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes events as JSON envelopes, keyed by account id so one
// account's events stay ordered within a partition.
type Kafka struct {
	writer messageWriter
	source string
}

type envelope struct {
	Type       Type            `json:"type"`
	Source     string          `json:"source"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    100,
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
			MaxAttempts:  3,
		},
		source: "margin-engine",
	}
}

func (k *Kafka) Emit(ctx context.Context, ev Event) error {
	msg, err := k.message(ev, time.Now().UTC())
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish %s: %w", ev.Type(), err)
	}
	return nil
}

func (k *Kafka) message(ev Event, now time.Time) (kafka.Message, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal %s: %w", ev.Type(), err)
	}
	value, err := json.Marshal(envelope{
		Type:       ev.Type(),
		Source:     k.source,
		OccurredAt: now,
		Payload:    payload,
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal envelope: %w", err)
	}
	return kafka.Message{
		Key:   []byte(ev.Key()),
		Value: value,
		Time:  now,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(ev.Type())},
		},
	}, nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
