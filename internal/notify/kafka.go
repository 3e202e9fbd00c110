package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"xrpl-wash-monitor/internal/domain"
)

// Envelope wraps every message published to the alerts topic.
type Envelope struct {
	Type string          `json:"type"`
	TS   int64           `json:"ts"` // unix milliseconds
	Data json.RawMessage `json:"data"`
}

// EnvelopeTypeAlert is the envelope type of suspicious-trade alerts.
const EnvelopeTypeAlert = "suspicious_trade"

// KafkaChannel publishes alerts to a Kafka topic, keyed by account pair.
type KafkaChannel struct {
	topic    string
	producer sarama.SyncProducer
}

// NewKafkaChannel creates a sync producer for brokers.
func NewKafkaChannel(brokers []string, topic string) (*KafkaChannel, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("kafka alerts: brokers and topic required")
	}
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 1

	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return NewKafkaChannelWithProducer(p, topic), nil
}

// NewKafkaChannelWithProducer wraps an existing producer.
func NewKafkaChannelWithProducer(p sarama.SyncProducer, topic string) *KafkaChannel {
	return &KafkaChannel{topic: topic, producer: p}
}

// Name returns "kafka".
func (c *KafkaChannel) Name() string { return "kafka" }

// Send publishes alert wrapped in an Envelope.
func (c *KafkaChannel) Send(ctx context.Context, alert *domain.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	b, err := json.Marshal(Envelope{
		Type: EnvelopeTypeAlert,
		TS:   time.Now().UnixMilli(),
		Data: data,
	})
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: c.topic,
		Key:   sarama.StringEncoder(alert.Sender + "-" + alert.Receiver),
		Value: sarama.ByteEncoder(b),
	}
	if _, _, err := c.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("%w: kafka emit: %v", ErrTemporary, err)
	}
	return nil
}

// Close closes the producer.
func (c *KafkaChannel) Close() error {
	if c.producer != nil {
		return c.producer.Close()
	}
	return nil
}

var _ Channel = (*KafkaChannel)(nil)
