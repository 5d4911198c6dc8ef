package kafka

import (
	"fmt"

	"github.com/IBM/sarama"

	"github.com/airtimehq/topup-core/internal/domain/ports"
)

// Producer publishes drained outbox messages to Kafka through a synchronous
// producer so the sender job only marks a row sent after the broker acked.
type Producer struct {
	producer sarama.SyncProducer
	logger   ports.Logger
}

func NewProducer(brokers []string, logger ports.Logger) (*Producer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	logger.Info("kafka producer initialized", ports.Int("brokers", len(brokers)))
	return &Producer{producer: producer, logger: logger}, nil
}

var _ ports.EventPublisher = (*Producer)(nil)

func (p *Producer) Publish(topic, key string, payload []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.logger.Debug("event published",
		ports.String("topic", topic),
		ports.String("key", key),
		ports.Int("partition", int(partition)),
		ports.Any("offset", offset))
	return nil
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
