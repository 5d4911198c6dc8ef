package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/airtimehq/topup-core/internal/domain"
	"github.com/airtimehq/topup-core/internal/domain/models"
	"github.com/airtimehq/topup-core/internal/domain/ports"
)

// In-memory repositories that mirror the conditional-update semantics of the
// postgres adapters so services can be tested without a database.

// MockLedgerRepository keeps accounts keyed by org|customer
type MockLedgerRepository struct {
	mu       sync.Mutex
	accounts map[string]*models.LedgerAccount
	nextID   int

	// Forced errors per operation, nil means normal behavior
	ReserveErr error
	DeductErr  error
	DepositErr error
}

func NewMockLedgerRepository() *MockLedgerRepository {
	return &MockLedgerRepository{accounts: make(map[string]*models.LedgerAccount)}
}

func (m *MockLedgerRepository) key(orgID, customerID string) string {
	return orgID + "|" + customerID
}

// Seed installs an account with the given balances
func (m *MockLedgerRepository) Seed(orgID, customerID string, balance, reserved decimal.Decimal) *models.LedgerAccount {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	acct := &models.LedgerAccount{
		ID:               fmt.Sprintf("acct-%d", m.nextID),
		OrgID:            orgID,
		CustomerID:       customerID,
		Currency:         "USD",
		Balance:          balance,
		ReservedBalance:  reserved,
		AvailableBalance: balance.Sub(reserved),
		IsActive:         true,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
	m.accounts[m.key(orgID, customerID)] = acct
	return acct
}

// Account returns the live account for balance assertions
func (m *MockLedgerRepository) Account(orgID, customerID string) *models.LedgerAccount {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[m.key(orgID, customerID)]
}

func (m *MockLedgerRepository) byID(orgID, accountID string) *models.LedgerAccount {
	for _, a := range m.accounts {
		if a.OrgID == orgID && a.ID == accountID {
			return a
		}
	}
	return nil
}

func (m *MockLedgerRepository) GetByCustomer(_ context.Context, _ ports.DBTX, orgID, customerID string) (*models.LedgerAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[m.key(orgID, customerID)]
	if !ok {
		return nil, domain.ErrAccountNotFound.WithDetail("customerId", customerID)
	}
	copied := *acct
	return &copied, nil
}

func (m *MockLedgerRepository) GetByCustomerForUpdate(ctx context.Context, db ports.DBTX, orgID, customerID string) (*models.LedgerAccount, error) {
	return m.GetByCustomer(ctx, db, orgID, customerID)
}

func (m *MockLedgerRepository) GetOrCreate(_ context.Context, _ ports.DBTX, orgID, customerID, currency string) (*models.LedgerAccount, error) {
	m.mu.Lock()
	if acct, ok := m.accounts[m.key(orgID, customerID)]; ok {
		copied := *acct
		m.mu.Unlock()
		return &copied, nil
	}
	m.mu.Unlock()
	acct := m.Seed(orgID, customerID, decimal.Zero, decimal.Zero)
	acct.Currency = currency
	copied := *acct
	return &copied, nil
}

func (m *MockLedgerRepository) Reserve(_ context.Context, _ ports.DBTX, orgID, accountID string, amount decimal.Decimal) error {
	if m.ReserveErr != nil {
		return m.ReserveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	acct := m.byID(orgID, accountID)
	if acct == nil || !acct.IsActive || !acct.Reserve(amount) {
		return domain.ErrInsufficientFunds.WithDetail("accountId", accountID)
	}
	return nil
}

func (m *MockLedgerRepository) ReleaseReservation(_ context.Context, _ ports.DBTX, orgID, accountID string, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct := m.byID(orgID, accountID)
	if acct == nil {
		return domain.ErrAccountNotFound.WithDetail("accountId", accountID)
	}
	acct.ReleaseReservation(amount)
	return nil
}

func (m *MockLedgerRepository) Deduct(_ context.Context, _ ports.DBTX, orgID, accountID string, amount decimal.Decimal, fromReserved bool) error {
	if m.DeductErr != nil {
		return m.DeductErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	acct := m.byID(orgID, accountID)
	if acct == nil || !acct.Deduct(amount, fromReserved) {
		return domain.ErrInsufficientFunds.WithDetail("accountId", accountID)
	}
	return nil
}

func (m *MockLedgerRepository) Deposit(_ context.Context, _ ports.DBTX, orgID, accountID string, amount decimal.Decimal) error {
	if m.DepositErr != nil {
		return m.DepositErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	acct := m.byID(orgID, accountID)
	if acct == nil {
		return domain.ErrAccountNotFound.WithDetail("accountId", accountID)
	}
	acct.Deposit(amount)
	return nil
}

// MockTransactionRepository keeps orders keyed by org|order and enforces the
// same compare-and-set rules as the real adapter
type MockTransactionRepository struct {
	mu     sync.Mutex
	txns   map[string]*models.Transaction
	nextID int

	CreateErr error
	UpdateErr error
	// UpdateFailures makes the next N Update calls fail before touching state
	UpdateFailures int
}

func NewMockTransactionRepository() *MockTransactionRepository {
	return &MockTransactionRepository{txns: make(map[string]*models.Transaction)}
}

func (m *MockTransactionRepository) key(orgID, orderID string) string {
	return orgID + "|" + orderID
}

func copyTxn(t *models.Transaction) *models.Transaction {
	copied := *t
	if t.Metadata != nil {
		copied.Metadata = make(map[string]interface{}, len(t.Metadata))
		for k, v := range t.Metadata {
			copied.Metadata[k] = v
		}
	}
	return &copied
}

// Stored returns the persisted state of an order
func (m *MockTransactionRepository) Stored(orgID, orderID string) *models.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[m.key(orgID, orderID)]
	if !ok {
		return nil
	}
	return copyTxn(t)
}

func (m *MockTransactionRepository) Create(_ context.Context, _ ports.DBTX, txn *models.Transaction) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(txn.OrgID, txn.OrderID)
	if _, exists := m.txns[k]; exists {
		return domain.ErrDuplicateOrder.WithDetail("orderId", txn.OrderID)
	}
	m.nextID++
	txn.ID = fmt.Sprintf("txn-%d", m.nextID)
	txn.CreatedAt = time.Now()
	txn.UpdatedAt = txn.CreatedAt
	m.txns[k] = copyTxn(txn)
	return nil
}

func (m *MockTransactionRepository) GetByOrderID(_ context.Context, _ ports.DBTX, orgID, orderID string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[m.key(orgID, orderID)]
	if !ok {
		return nil, domain.ErrTxnNotFound.WithDetail("orderId", orderID)
	}
	return copyTxn(t), nil
}

func (m *MockTransactionRepository) Update(_ context.Context, _ ports.DBTX, txn *models.Transaction, expected domain.TransactionStatus) error {
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateFailures > 0 {
		m.UpdateFailures--
		return domain.ErrDatabaseError.WithDetail("orderId", txn.OrderID)
	}
	k := m.key(txn.OrgID, txn.OrderID)
	stored, ok := m.txns[k]
	if !ok || stored.Status != expected {
		return domain.NewDomainError(domain.ErrorCodeTxnInvalidTransition,
			"transaction was modified concurrently, transition no longer valid").
			WithDetail("orderId", txn.OrderID)
	}
	txn.UpdatedAt = time.Now()
	m.txns[k] = copyTxn(txn)
	return nil
}

func (m *MockTransactionRepository) ClaimForRetry(_ context.Context, _ ports.DBTX, orgID, orderID, claimedBy string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.txns[m.key(orgID, orderID)]
	if !ok || stored.Status != domain.StatusFailed {
		return nil, domain.ErrTxnRetryConflict.WithDetail("orderId", orderID)
	}
	stored.Status = domain.StatusProcessing
	stored.RetryCount++
	if stored.Metadata == nil {
		stored.Metadata = make(map[string]interface{})
	}
	stored.Metadata["retriedBy"] = claimedBy
	stored.UpdatedAt = time.Now()
	return copyTxn(stored), nil
}

func (m *MockTransactionRepository) ListByOrg(_ context.Context, _ ports.DBTX, orgID string, limit, offset int32) ([]*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Transaction
	for _, t := range m.txns {
		if t.OrgID == orgID {
			out = append(out, copyTxn(t))
		}
	}
	return out, nil
}

// MockCustomerRepository keeps customers in memory
type MockCustomerRepository struct {
	mu        sync.Mutex
	customers []*models.Customer
	nextID    int
}

func NewMockCustomerRepository() *MockCustomerRepository {
	return &MockCustomerRepository{}
}

// Seed installs a customer
func (m *MockCustomerRepository) Seed(c *models.Customer) *models.Customer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		m.nextID++
		c.ID = fmt.Sprintf("cust-%d", m.nextID)
	}
	m.customers = append(m.customers, c)
	return c
}

func (m *MockCustomerRepository) GetByID(_ context.Context, _ ports.DBTX, orgID, id string) (*models.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.customers {
		if c.OrgID == orgID && c.ID == id {
			copied := *c
			return &copied, nil
		}
	}
	return nil, domain.ErrCustomerNotFound.WithDetail("customerId", id)
}

func (m *MockCustomerRepository) FindByIdentifier(_ context.Context, _ ports.DBTX, orgID, phone, email string) (*models.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.customers {
		if c.OrgID != orgID {
			continue
		}
		if phone != "" && c.PhoneNumber == phone {
			copied := *c
			return &copied, nil
		}
		if phone == "" && email != "" && c.Email == email {
			copied := *c
			return &copied, nil
		}
	}
	return nil, domain.ErrCustomerNotFound.WithDetail("ref", phone+email)
}

func (m *MockCustomerRepository) Create(_ context.Context, _ ports.DBTX, customer *models.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	customer.ID = fmt.Sprintf("cust-%d", m.nextID)
	customer.CreatedAt = time.Now()
	copied := *customer
	m.customers = append(m.customers, &copied)
	return nil
}

func (m *MockCustomerRepository) Update(_ context.Context, _ ports.DBTX, customer *models.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.customers {
		if c.OrgID == customer.OrgID && c.ID == customer.ID {
			copied := *customer
			m.customers[i] = &copied
			return nil
		}
	}
	return domain.ErrCustomerNotFound.WithDetail("customerId", customer.ID)
}

// MockBalanceHistoryRepository records appended entries
type MockBalanceHistoryRepository struct {
	mu      sync.Mutex
	Entries []*models.BalanceHistory

	AppendErr error
}

func NewMockBalanceHistoryRepository() *MockBalanceHistoryRepository {
	return &MockBalanceHistoryRepository{}
}

func (m *MockBalanceHistoryRepository) Append(_ context.Context, _ ports.DBTX, entry *models.BalanceHistory) error {
	if m.AppendErr != nil {
		return m.AppendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.CreatedAt = time.Now()
	m.Entries = append(m.Entries, entry)
	return nil
}

func (m *MockBalanceHistoryRepository) ListByAccount(_ context.Context, _ ports.DBTX, orgID, accountID string, limit, offset int32) ([]*models.BalanceHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.BalanceHistory
	for _, e := range m.Entries {
		if e.OrgID == orgID && e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out, nil
}

// EntriesOfType returns recorded entries matching the type
func (m *MockBalanceHistoryRepository) EntriesOfType(t models.BalanceHistoryType) []*models.BalanceHistory {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.BalanceHistory
	for _, e := range m.Entries {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// MockSpendingCapRepository keeps caps keyed by org|member
type MockSpendingCapRepository struct {
	mu   sync.Mutex
	caps map[string]*models.SpendingCap
}

func NewMockSpendingCapRepository() *MockSpendingCapRepository {
	return &MockSpendingCapRepository{caps: make(map[string]*models.SpendingCap)}
}

// Seed installs a cap
func (m *MockSpendingCapRepository) Seed(sc *models.SpendingCap) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caps[sc.OrgID+"|"+sc.MemberID] = sc
}

func (m *MockSpendingCapRepository) GetByMember(_ context.Context, _ ports.DBTX, orgID, memberID string) (*models.SpendingCap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.caps[orgID+"|"+memberID]
	if !ok {
		return nil, domain.ErrAccountNotFound.WithDetail("memberId", memberID)
	}
	copied := *c
	return &copied, nil
}

func (m *MockSpendingCapRepository) RecordUsage(_ context.Context, _ ports.DBTX, orgID, memberID string, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.caps[orgID+"|"+memberID]
	if !ok {
		return domain.ErrAccountNotFound.WithDetail("memberId", memberID)
	}
	// Same conditional semantics as the SQL adapter: the cap is rechecked
	// inside the write
	if !c.Spend(amount) {
		return domain.ErrSpendingCapReached.WithDetail("memberId", memberID)
	}
	return nil
}

func (m *MockSpendingCapRepository) ResetUsage(_ context.Context, _ ports.DBTX, orgID, memberID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.caps[orgID+"|"+memberID]
	if !ok {
		return domain.ErrAccountNotFound.WithDetail("memberId", memberID)
	}
	c.CurrentUsed = decimal.Zero
	return nil
}

// MockPricingRepository serves configured rules and discount
type MockPricingRepository struct {
	Rules    []*models.PricingRule
	Discount *models.Discount

	RulesErr error
}

func NewMockPricingRepository() *MockPricingRepository {
	return &MockPricingRepository{}
}

func (m *MockPricingRepository) ActiveRules(_ context.Context, _ ports.DBTX, orgID string) ([]*models.PricingRule, error) {
	if m.RulesErr != nil {
		return nil, m.RulesErr
	}
	return m.Rules, nil
}

func (m *MockPricingRepository) ActiveDiscount(_ context.Context, _ ports.DBTX, orgID string) (*models.Discount, error) {
	return m.Discount, nil
}

func (m *MockPricingRepository) CreateRule(_ context.Context, _ ports.DBTX, rule *models.PricingRule) error {
	m.Rules = append(m.Rules, rule)
	return nil
}

func (m *MockPricingRepository) UpdateRulePriorities(_ context.Context, _ ports.DBTX, orgID string, ruleIDs []string) error {
	return nil
}

func (m *MockPricingRepository) SetRuleActive(_ context.Context, _ ports.DBTX, orgID, ruleID string, active bool) error {
	return nil
}

// MockOutboxRepository records appended event rows
type MockOutboxRepository struct {
	mu       sync.Mutex
	Messages []*models.OutboxMessage
	nextID   int64

	AppendErr error
}

func NewMockOutboxRepository() *MockOutboxRepository {
	return &MockOutboxRepository{}
}

func (m *MockOutboxRepository) Append(_ context.Context, _ ports.DBTX, msg *models.OutboxMessage) error {
	if m.AppendErr != nil {
		return m.AppendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	msg.ID = m.nextID
	msg.Status = models.OutboxStatusPending
	msg.CreatedAt = time.Now()
	m.Messages = append(m.Messages, msg)
	return nil
}

func (m *MockOutboxRepository) PendingMessages(_ context.Context, _ ports.DBTX, limit int32) ([]*models.OutboxMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.OutboxMessage
	for _, msg := range m.Messages {
		if msg.Status == models.OutboxStatusPending && int32(len(out)) < limit {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *MockOutboxRepository) MarkSent(_ context.Context, _ ports.DBTX, id int64) error {
	return m.setStatus(id, models.OutboxStatusSent)
}

func (m *MockOutboxRepository) IncrementRetry(_ context.Context, _ ports.DBTX, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.Messages {
		if msg.ID == id {
			msg.RetryCount++
			return nil
		}
	}
	return nil
}

func (m *MockOutboxRepository) MarkFailed(_ context.Context, _ ports.DBTX, id int64) error {
	return m.setStatus(id, models.OutboxStatusFailed)
}

func (m *MockOutboxRepository) setStatus(id int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.Messages {
		if msg.ID == id {
			msg.Status = status
			return nil
		}
	}
	return nil
}

// EventsOfType returns appended messages matching the event type
func (m *MockOutboxRepository) EventsOfType(eventType string) []*models.OutboxMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.OutboxMessage
	for _, msg := range m.Messages {
		if msg.EventType == eventType {
			out = append(out, msg)
		}
	}
	return out
}
