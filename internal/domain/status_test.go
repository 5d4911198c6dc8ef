package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    TransactionStatus
		to      TransactionStatus
		allowed bool
	}{
		{"pending to paid", StatusPending, StatusPaid, true},
		{"pending to processing", StatusPending, StatusProcessing, true},
		{"pending to failed", StatusPending, StatusFailed, true},
		{"pending to completed skips processing", StatusPending, StatusCompleted, false},
		{"paid to processing", StatusPaid, StatusProcessing, true},
		{"paid to failed", StatusPaid, StatusFailed, true},
		{"paid to refunded", StatusPaid, StatusRefunded, true},
		{"paid to completed skips processing", StatusPaid, StatusCompleted, false},
		{"processing to completed", StatusProcessing, StatusCompleted, true},
		{"processing to failed", StatusProcessing, StatusFailed, true},
		{"processing to refunded", StatusProcessing, StatusRefunded, false},
		{"completed to refunded", StatusCompleted, StatusRefunded, true},
		{"completed to paid", StatusCompleted, StatusPaid, false},
		{"completed to processing", StatusCompleted, StatusProcessing, false},
		{"failed to processing is a retry", StatusFailed, StatusProcessing, true},
		{"failed to refunded", StatusFailed, StatusRefunded, true},
		{"failed to paid", StatusFailed, StatusPaid, false},
		{"refunded is terminal", StatusRefunded, StatusProcessing, false},
		{"refunded to failed", StatusRefunded, StatusFailed, false},
		{"same status is not a transition", StatusPaid, StatusPaid, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}
}

func TestValidateTransition_ErrorNamesBothStates(t *testing.T) {
	err := ValidateTransition(StatusCompleted, StatusPaid)
	require.Error(t, err)

	var de *DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, ErrorCodeTxnInvalidTransition, de.Code)
	assert.Equal(t, string(StatusCompleted), de.Details["from"])
	assert.Equal(t, string(StatusPaid), de.Details["to"])
}

func TestValidateTransition_AllowedReturnsNil(t *testing.T) {
	assert.NoError(t, ValidateTransition(StatusPending, StatusPaid))
	assert.NoError(t, ValidateTransition(StatusFailed, StatusProcessing))
}

func TestRequiresReason(t *testing.T) {
	assert.True(t, RequiresReason(StatusFailed))
	assert.True(t, RequiresReason(StatusRefunded))
	assert.False(t, RequiresReason(StatusCompleted))
	assert.False(t, RequiresReason(StatusPaid))
	assert.False(t, RequiresReason(StatusProcessing))
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(StatusRefunded))
	assert.True(t, IsTerminal(StatusCompleted))
	assert.False(t, IsTerminal(StatusFailed))
	assert.False(t, IsTerminal(StatusPending))
	assert.False(t, IsTerminal(StatusProcessing))
}

func TestIsRefundable(t *testing.T) {
	assert.True(t, IsRefundable(StatusFailed))
	assert.True(t, IsRefundable(StatusCompleted))
	assert.True(t, IsRefundable(StatusPaid))
	assert.False(t, IsRefundable(StatusPending))
	assert.False(t, IsRefundable(StatusProcessing))
	assert.False(t, IsRefundable(StatusRefunded))
}
