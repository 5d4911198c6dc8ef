package resilience

import (
	"context"
	"time"
)

// TimeoutConfig defines the application's timeout hierarchy
//
//	HTTP handler (60s)
//	  > service operation (50s)
//	    > fulfillment provider call (30s)
//	      > database query (5s)
//
// Each layer completes before its parent times out, so a slow provider call
// surfaces as a provider failure rather than a cascade of parent timeouts.
type TimeoutConfig struct {
	HTTPHandler time.Duration
	Service     time.Duration
	ProviderAPI time.Duration
	Database    time.Duration
}

// DefaultTimeoutConfig returns production timeout values
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		HTTPHandler: 60 * time.Second,
		Service:     50 * time.Second,
		ProviderAPI: 30 * time.Second,
		Database:    5 * time.Second,
	}
}

// TestTimeoutConfig returns shorter timeouts for testing
func TestTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		HTTPHandler: 5 * time.Second,
		Service:     4 * time.Second,
		ProviderAPI: 2 * time.Second,
		Database:    1 * time.Second,
	}
}

// HandlerContext creates a context with timeout for HTTP handlers
func (tc *TimeoutConfig) HandlerContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.HTTPHandler)
}

// ServiceContext creates a context with timeout for service operations
func (tc *TimeoutConfig) ServiceContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.Service)
}

// ProviderContext creates a context with timeout for fulfillment provider calls
func (tc *TimeoutConfig) ProviderContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.ProviderAPI)
}
