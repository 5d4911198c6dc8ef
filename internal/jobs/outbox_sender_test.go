package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airtimehq/topup-core/internal/domain/models"
	"github.com/airtimehq/topup-core/test/mocks"
)

func newSender(outbox *mocks.MockOutboxRepository, publisher *mocks.MockEventPublisher) (*OutboxSender, *mocks.MockLogger) {
	logger := mocks.NewMockLogger()
	cfg := DefaultSenderConfig()
	cfg.MaxRetries = 3
	return NewOutboxSender(mocks.NewMockDBPort(), outbox, publisher, logger, cfg), logger
}

func appendMessage(t *testing.T, outbox *mocks.MockOutboxRepository, eventType, key string) *models.OutboxMessage {
	t.Helper()
	msg := &models.OutboxMessage{
		EventType:  eventType,
		MessageKey: key,
		Payload:    []byte(`{"orderId":"` + key + `"}`),
	}
	require.NoError(t, outbox.Append(context.Background(), nil, msg))
	return msg
}

func TestOutboxSender_PublishesPendingAndMarksSent(t *testing.T) {
	outbox := mocks.NewMockOutboxRepository()
	publisher := mocks.NewMockEventPublisher()
	sender, _ := newSender(outbox, publisher)

	first := appendMessage(t, outbox, models.EventTransactionCompleted, "ord-1")
	second := appendMessage(t, outbox, models.EventTransactionRefunded, "ord-2")

	require.NoError(t, sender.drainOnce(context.Background()))

	require.Len(t, publisher.Published, 2)
	assert.Equal(t, "topup.transaction.completed", publisher.Published[0].Topic)
	assert.Equal(t, "ord-1", publisher.Published[0].Key)
	assert.Equal(t, "topup.transaction.refunded", publisher.Published[1].Topic)

	assert.Equal(t, models.OutboxStatusSent, first.Status)
	assert.Equal(t, models.OutboxStatusSent, second.Status)
}

func TestOutboxSender_SentMessagesAreNotRepublished(t *testing.T) {
	outbox := mocks.NewMockOutboxRepository()
	publisher := mocks.NewMockEventPublisher()
	sender, _ := newSender(outbox, publisher)

	appendMessage(t, outbox, models.EventTransactionCompleted, "ord-1")

	require.NoError(t, sender.drainOnce(context.Background()))
	require.NoError(t, sender.drainOnce(context.Background()))

	assert.Len(t, publisher.Published, 1)
}

func TestOutboxSender_PublishFailureIncrementsRetry(t *testing.T) {
	outbox := mocks.NewMockOutboxRepository()
	publisher := mocks.NewMockEventPublisher()
	publisher.PublishErr = errors.New("broker unavailable")
	sender, _ := newSender(outbox, publisher)

	msg := appendMessage(t, outbox, models.EventTransactionCompleted, "ord-1")

	require.NoError(t, sender.drainOnce(context.Background()))

	assert.Equal(t, models.OutboxStatusPending, msg.Status, "message stays pending for the next drain")
	assert.Equal(t, 1, msg.RetryCount)
	assert.Empty(t, publisher.Published)
}

func TestOutboxSender_ExhaustedRetriesParkAsFailed(t *testing.T) {
	outbox := mocks.NewMockOutboxRepository()
	publisher := mocks.NewMockEventPublisher()
	publisher.PublishErr = errors.New("broker unavailable")
	sender, logger := newSender(outbox, publisher)

	msg := appendMessage(t, outbox, models.EventTransactionFailed, "ord-1")

	// MaxRetries is 3: two drains increment, the third parks
	require.NoError(t, sender.drainOnce(context.Background()))
	require.NoError(t, sender.drainOnce(context.Background()))
	require.NoError(t, sender.drainOnce(context.Background()))

	assert.Equal(t, models.OutboxStatusFailed, msg.Status)
	assert.True(t, logger.HasMessage("outbox message exhausted retries, parking as failed"))

	// Parked rows are out of the drain entirely
	require.NoError(t, sender.drainOnce(context.Background()))
	assert.Equal(t, models.OutboxStatusFailed, msg.Status)
}

func TestOutboxSender_EmptyPrefixPublishesBareEventType(t *testing.T) {
	outbox := mocks.NewMockOutboxRepository()
	publisher := mocks.NewMockEventPublisher()
	logger := mocks.NewMockLogger()
	cfg := DefaultSenderConfig()
	cfg.TopicPrefix = ""
	sender := NewOutboxSender(mocks.NewMockDBPort(), outbox, publisher, logger, cfg)

	appendMessage(t, outbox, models.EventTransactionCompleted, "ord-1")

	require.NoError(t, sender.drainOnce(context.Background()))
	require.Len(t, publisher.Published, 1)
	assert.Equal(t, "transaction.completed", publisher.Published[0].Topic)
}
