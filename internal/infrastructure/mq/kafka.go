package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"payledger/internal/config"
	"payledger/internal/model"

	"github.com/IBM/sarama"
)

// NewProducerConfig is the sarama config every producer in the service uses.
func NewProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	return cfg
}

// Producer wraps a sarama.SyncProducer.
type Producer struct {
	sync sarama.SyncProducer
}

// InitKafka dials the brokers and returns a ready Producer.
func InitKafka(cfg *config.KafkaConfig) (*Producer, error) {
	p, err := sarama.NewSyncProducer(cfg.Brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewProducer(p), nil
}

func NewProducer(p sarama.SyncProducer) *Producer {
	return &Producer{sync: p}
}

// SendMessage sends one message and waits for the broker ack.
func (p *Producer) SendMessage(topic, key, value string) error {
	_, _, err := p.sync.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	})
	return err
}

func (p *Producer) Close() error {
	if p == nil || p.sync == nil {
		return nil
	}
	return p.sync.Close()
}

// ============================================================================
// Direct event publisher
// ============================================================================

// KafkaPublisher sends transaction events straight to Kafka, keyed by
// account id. Delivery is at most once: nothing is persisted before sending.
type KafkaPublisher struct {
	producer *Producer
	topic    string
	log      *slog.Logger
}

func NewKafkaPublisher(producer *Producer, topic string, log *slog.Logger) *KafkaPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &KafkaPublisher{
		producer: producer,
		topic:    topic,
		log:      log.With("component", "kafka_publisher"),
	}
}

// Publish sends every event and returns the first failure after trying all.
func (p *KafkaPublisher) Publish(_ context.Context, events []model.TransactionEvent) error {
	var firstErr error
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode event %d: %w", ev.TransactionID, err)
		}
		key := strconv.FormatInt(ev.AccountID, 10)
		if err := p.producer.SendMessage(p.topic, key, string(payload)); err != nil {
			p.log.Warn("publish event failed", "transaction_id", ev.TransactionID, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("publish event %d: %w", ev.TransactionID, err)
			}
		}
	}
	return firstErr
}

// ============================================================================
// Consumer group
// ============================================================================

// NewConsumerGroup joins group on the configured brokers, starting from the
// oldest offset when the group has no committed position.
func NewConsumerGroup(cfg *config.KafkaConfig, group string) (sarama.ConsumerGroup, error) {
	sc := sarama.NewConfig()
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
	cg, err := sarama.NewConsumerGroup(cfg.Brokers, group, sc)
	if err != nil {
		return nil, fmt.Errorf("join consumer group %s: %w", group, err)
	}
	return cg, nil
}
