package audit

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
)

// Publisher forwards committed audit events to downstream consumers.
//
// Publishing happens after the store transaction commits and is best effort:
// the audit table stays the source of truth, so a failed publish is logged
// and never undoes or retries the write.
type Publisher interface {
	Publish(ctx context.Context, events []Event) error
	Close() error
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, []Event) error { return nil }
func (NopPublisher) Close() error                           { return nil }

// KafkaConfig configures a KafkaPublisher.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	Username string
	Password string
	TLS      bool
	Timeout  time.Duration
}

// KafkaPublisher writes one message per event, keyed by entity id so every
// event of a record lands on the same partition in append order.
type KafkaPublisher struct {
	writer  *kafka.Writer
	timeout time.Duration
}

// NewKafkaPublisher creates a synchronous producer that waits for all
// in-sync replicas.
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka publisher: no topic configured")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	transport := &kafka.Transport{}
	if cfg.Username != "" {
		transport.SASL = plain.Mechanism{Username: cfg.Username, Password: cfg.Password}
	}
	if cfg.TLS {
		transport.TLS = &tls.Config{}
	}

	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			Transport:    transport,
			WriteTimeout: 10 * time.Second,
		},
		timeout: timeout,
	}, nil
}

// Publish writes events in order.
func (p *KafkaPublisher) Publish(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs, err := Messages(events)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d audit events: %w", len(events), err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Messages encodes events as Kafka messages.
func Messages(events []Event) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		value, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("encode audit event %s: %w", ev.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(ev.EntityID),
			Value: value,
			Time:  ev.Timestamp,
			Headers: []kafka.Header{
				{Key: "action", Value: []byte(ev.Action)},
				{Key: "correlation_id", Value: []byte(ev.CorrelationID)},
			},
		})
	}
	return msgs, nil
}
