package mocks

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/airtimehq/topup-core/internal/domain/ports"
)

// MockTopupProvider is a configurable fulfillment provider double
type MockTopupProvider struct {
	mu sync.Mutex

	name      string
	retryable bool

	transferResult *ports.TransferResult
	transferErr    error
	estimateCost   decimal.Decimal
	estimateErr    error

	SendCalls     int
	EstimateCalls int
	LastRequest   *ports.TransferRequest
}

func NewMockTopupProvider() *MockTopupProvider {
	return &MockTopupProvider{
		name:      "mock-provider",
		retryable: true,
		transferResult: &ports.TransferResult{
			ProviderTransactionID: "prov-txn-1",
			Status:                ports.TransferCompleted,
		},
	}
}

func (m *MockTopupProvider) SetName(name string) { m.name = name }
func (m *MockTopupProvider) SetRetryable(v bool) { m.retryable = v }

// SetTransferResponse configures what SendTransfer returns
func (m *MockTopupProvider) SetTransferResponse(result *ports.TransferResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transferResult = result
	m.transferErr = err
}

// SetEstimateResponse configures what EstimateCost returns
func (m *MockTopupProvider) SetEstimateResponse(cost decimal.Decimal, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.estimateCost = cost
	m.estimateErr = err
}

func (m *MockTopupProvider) Name() string    { return m.name }
func (m *MockTopupProvider) Retryable() bool { return m.retryable }

func (m *MockTopupProvider) SendTransfer(_ context.Context, req ports.TransferRequest) (*ports.TransferResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SendCalls++
	m.LastRequest = &req
	if m.transferErr != nil {
		return nil, m.transferErr
	}
	result := *m.transferResult
	return &result, nil
}

func (m *MockTopupProvider) EstimateCost(_ context.Context, productID string, sendAmount decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EstimateCalls++
	if m.estimateErr != nil {
		return decimal.Zero, m.estimateErr
	}
	return m.estimateCost, nil
}

// MockAccountLocker grants every lock unless told otherwise
type MockAccountLocker struct {
	mu sync.Mutex

	Denied     bool
	AcquireErr error

	AcquireCalls int
	ReleaseCalls int
}

func NewMockAccountLocker() *MockAccountLocker {
	return &MockAccountLocker{}
}

func (m *MockAccountLocker) Acquire(_ context.Context, orgID, accountID, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AcquireCalls++
	if m.AcquireErr != nil {
		return false, m.AcquireErr
	}
	return !m.Denied, nil
}

func (m *MockAccountLocker) Release(_ context.Context, orgID, accountID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReleaseCalls++
	return nil
}

// MockEventPublisher records published events
type MockEventPublisher struct {
	mu sync.Mutex

	PublishErr error
	Published  []PublishedEvent
}

type PublishedEvent struct {
	Topic   string
	Key     string
	Payload []byte
}

func NewMockEventPublisher() *MockEventPublisher {
	return &MockEventPublisher{}
}

func (m *MockEventPublisher) Publish(topic, key string, payload []byte) error {
	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Published = append(m.Published, PublishedEvent{Topic: topic, Key: key, Payload: payload})
	return nil
}
