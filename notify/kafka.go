/*
Package notify provides ledger.Publisher implementations.

PURPOSE:
  Downstream consumers (budget alerts, reporting) learn about posted
  transactions, created occurrences and completed runs from events
  published after each commit.

IMPLEMENTATIONS:
  KafkaPublisher: JSON events on one topic, keyed by Event.Key so all
                  events of an account land on the same partition.
  LogPublisher:   Writes events to the structured log.

SEE ALSO:
  - ledger/events.go: Event and Publisher
*/
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/warp/finance-ledger/ledger"
)

// KafkaPublisher publishes ledger events to Kafka through a SyncProducer.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

var _ ledger.Publisher = (*KafkaPublisher)(nil)

// NewKafkaProducer creates a SyncProducer that waits for all in-sync
// replicas before a send returns.
func NewKafkaProducer(brokers []string, clientID string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	cfg.Producer.Timeout = 10 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return producer, nil
}

// NewKafkaPublisher wraps producer. The publisher owns it from now on.
func NewKafkaPublisher(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// Publish sends e and waits for the broker acknowledgement.
func (p *KafkaPublisher) Publish(_ context.Context, e ledger.Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", e.Type, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(e.Key),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-type"), Value: []byte(e.Type)},
		},
		Timestamp: e.OccurredAt,
	}

	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("publish %s event: %w", e.Type, err)
	}
	return nil
}

// Close closes the producer.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
