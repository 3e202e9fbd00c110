package ingestion

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"xrpl-wash-monitor/internal/logging"
)

// KafkaSourceOptions configures a KafkaSource.
type KafkaSourceOptions struct {
	Brokers []string
	Group   string
	Topic   string
	// FromOldest starts a new group at the oldest retained offset.
	FromOldest bool
	// BufferSize is the capacity of the delivered channel.
	BufferSize int
	Logger     *zap.Logger
}

// KafkaSource replays raw transaction JSON from a Kafka topic, one message
// per transaction, using a consumer group.
type KafkaSource struct {
	group  sarama.ConsumerGroup
	topic  string
	buffer int
	log    *zap.Logger
}

// NewKafkaSource creates the consumer group.
func NewKafkaSource(opts KafkaSourceOptions) (*KafkaSource, error) {
	if len(opts.Brokers) == 0 || opts.Group == "" || opts.Topic == "" {
		return nil, errors.New("kafka source: brokers/group/topic required")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRange
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	if opts.FromOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(opts.Brokers, opts.Group, cfg)
	if err != nil {
		return nil, err
	}
	return newKafkaSource(group, opts), nil
}

func newKafkaSource(group sarama.ConsumerGroup, opts KafkaSourceOptions) *KafkaSource {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1000
	}
	return &KafkaSource{
		group:  group,
		topic:  opts.Topic,
		buffer: opts.BufferSize,
		log:    logging.OrNop(opts.Logger).Named("kafka-source"),
	}
}

// Name returns "kafka".
func (s *KafkaSource) Name() string { return "kafka" }

// Subscribe runs the consume loop until ctx is cancelled, then closes the
// consumer group and the returned channel.
func (s *KafkaSource) Subscribe(ctx context.Context) (<-chan []byte, error) {
	out := make(chan []byte, s.buffer)
	h := &claimHandler{out: out}

	go func() {
		defer close(out)
		defer s.group.Close()

		go func() {
			for err := range s.group.Errors() {
				s.log.Warn("consumer group error", zap.Error(err))
			}
		}()

		// Consume returns on every rebalance and must be called again.
		for {
			if err := s.group.Consume(ctx, []string{s.topic}, h); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				s.log.Warn("consume failed", zap.Error(err))
				select {
				case <-ctx.Done():
				case <-time.After(300 * time.Millisecond):
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	return out, nil
}

// claimHandler forwards claimed messages. An offset is marked once the
// message has been handed to the pipeline.
type claimHandler struct {
	out chan<- []byte
}

func (h *claimHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *claimHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *claimHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			value := msg.Value
			if len(strings.TrimSpace(string(value))) == 0 {
				sess.MarkMessage(msg, "")
				continue
			}
			select {
			case h.out <- value:
				sess.MarkMessage(msg, "")
			case <-ctx.Done():
				return nil
			}
		}
	}
}

var _ Source = (*KafkaSource)(nil)
