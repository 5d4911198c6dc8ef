package jobs

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/airtimehq/topup-core/internal/domain/ports"
)

// SenderConfig tunes the outbox drain loop
type SenderConfig struct {
	Interval   time.Duration
	BatchSize  int32
	MaxRetries int
	// TopicPrefix is prepended to the event type to form the Kafka topic,
	// e.g. prefix "topup" and event "transaction.completed" publish to
	// "topup.transaction.completed"
	TopicPrefix string
}

func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		Interval:    2 * time.Second,
		BatchSize:   50,
		MaxRetries:  5,
		TopicPrefix: "topup",
	}
}

// OutboxSender drains pending outbox rows to the broker. Rows are claimed
// with a row lock inside a transaction so multiple sender instances never
// publish the same row twice; a row that keeps failing past MaxRetries is
// parked as failed for manual inspection.
type OutboxSender struct {
	db        ports.DBPort
	outbox    ports.OutboxRepository
	publisher ports.EventPublisher
	logger    ports.Logger
	cfg       SenderConfig
}

func NewOutboxSender(db ports.DBPort, outbox ports.OutboxRepository, publisher ports.EventPublisher, logger ports.Logger, cfg SenderConfig) *OutboxSender {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSenderConfig().Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultSenderConfig().BatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultSenderConfig().MaxRetries
	}
	return &OutboxSender{db: db, outbox: outbox, publisher: publisher, logger: logger, cfg: cfg}
}

// Run blocks draining the outbox until the context is cancelled
func (s *OutboxSender) Run(ctx context.Context) {
	s.logger.Info("outbox sender started",
		ports.Any("interval", s.cfg.Interval),
		ports.Int("batch_size", int(s.cfg.BatchSize)))

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("outbox sender stopped")
			return
		case <-ticker.C:
			if err := s.drainOnce(ctx); err != nil {
				s.logger.Error("outbox drain failed", ports.Err(err))
			}
		}
	}
}

// drainOnce claims one batch and publishes it. The claim and the status
// writes share a transaction; the SKIP LOCKED select keeps concurrent
// drains disjoint.
func (s *OutboxSender) drainOnce(ctx context.Context) error {
	return s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		msgs, err := s.outbox.PendingMessages(ctx, tx, s.cfg.BatchSize)
		if err != nil {
			return err
		}

		for _, msg := range msgs {
			topic := msg.EventType
			if s.cfg.TopicPrefix != "" {
				topic = s.cfg.TopicPrefix + "." + msg.EventType
			}

			if err := s.publisher.Publish(topic, msg.MessageKey, msg.Payload); err != nil {
				s.logger.Warn("outbox publish failed",
					ports.Any("message_id", msg.ID),
					ports.String("event_type", msg.EventType),
					ports.Int("retry_count", msg.RetryCount),
					ports.Err(err))

				if msg.RetryCount+1 >= s.cfg.MaxRetries {
					s.logger.Error("outbox message exhausted retries, parking as failed",
						ports.Any("message_id", msg.ID),
						ports.String("event_type", msg.EventType))
					if err := s.outbox.MarkFailed(ctx, tx, msg.ID); err != nil {
						return err
					}
					continue
				}
				if err := s.outbox.IncrementRetry(ctx, tx, msg.ID); err != nil {
					return err
				}
				continue
			}

			if err := s.outbox.MarkSent(ctx, tx, msg.ID); err != nil {
				return err
			}
		}
		return nil
	})
}
