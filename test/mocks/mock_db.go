package mocks

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MockDBPort satisfies ports.DBPort without a database. WithTransaction
// simply invokes the function; the in-memory repositories don't use the tx
// handle.
type MockDBPort struct {
	// BeginErr, when set, makes WithTransaction fail before invoking fn
	BeginErr error

	TransactionCalls int
}

func NewMockDBPort() *MockDBPort {
	return &MockDBPort{}
}

func (m *MockDBPort) GetDB() *pgxpool.Pool {
	return nil
}

func (m *MockDBPort) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	m.TransactionCalls++
	if m.BeginErr != nil {
		return m.BeginErr
	}
	return fn(ctx, nil)
}
