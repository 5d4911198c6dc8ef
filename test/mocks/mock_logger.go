package mocks

import (
	"sync"

	"github.com/airtimehq/topup-core/internal/domain/ports"
)

// LogEntry captures one logged line for assertions
type LogEntry struct {
	Level   string
	Message string
	Fields  []ports.Field
}

// MockLogger records log calls instead of writing them
type MockLogger struct {
	mu      sync.Mutex
	Entries []LogEntry
}

func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

func (m *MockLogger) log(level, msg string, fields []ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, LogEntry{Level: level, Message: msg, Fields: fields})
}

func (m *MockLogger) Info(msg string, fields ...ports.Field)  { m.log("info", msg, fields) }
func (m *MockLogger) Error(msg string, fields ...ports.Field) { m.log("error", msg, fields) }
func (m *MockLogger) Warn(msg string, fields ...ports.Field)  { m.log("warn", msg, fields) }
func (m *MockLogger) Debug(msg string, fields ...ports.Field) { m.log("debug", msg, fields) }

// HasMessage reports whether a message was logged at any level
func (m *MockLogger) HasMessage(msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.Entries {
		if e.Message == msg {
			return true
		}
	}
	return false
}
