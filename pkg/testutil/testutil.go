// Package testutil provides shared helpers for package tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/quotewire/quotewire/pkg/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// Logger returns a zap logger that writes through t.Log.
func Logger(t *testing.T) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t)
}

// Context returns a context cancelled when the test ends.
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

// Store returns a config store seeded with defaults, with breaker and
// health windows shrunk so state-machine tests run in milliseconds.
func Store(t *testing.T) *config.Store {
	t.Helper()
	cfg := config.Default()
	cfg.CircuitBreaker.InitialCooldown = 20 * time.Millisecond
	cfg.CircuitBreaker.MaxCooldown = 500 * time.Millisecond
	cfg.Connect.Timeout = 2 * time.Second

	store, err := config.NewStore(cfg)
	if err != nil {
		t.Fatalf("failed to build config store: %v", err)
	}
	return store
}

// Eventually polls the condition until it holds or the timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}
