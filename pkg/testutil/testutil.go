// Package testutil provides testing utilities for orbit
package testutil

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/orbit/pkg/clients"
)

// TestLogger creates a test logger that writes to the test output.
// The logger is automatically cleaned up when the test completes.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext creates a test context with a 30-second timeout.
// The caller must call the returned cancel function to avoid leaks.
func TestContext(_ *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// TestHTTPClient returns an HTTP client suited to stub servers: no rate
// limiting, no circuit breaker and plain HTTP/1.1.
func TestHTTPClient(t *testing.T) *clients.HTTPClient {
	cfg := clients.DefaultHTTPConfig()
	cfg.EnableHTTP2 = false
	cfg.RateLimit = 0
	cfg.CircuitBreakerEnabled = false
	cfg.RequestTimeout = 10 * time.Second

	client := clients.NewHTTPClient(cfg, clients.StaticToken("test-token"), TestLogger(t))
	t.Cleanup(func() { _ = client.Close() })
	return client
}
