// Package base provides the per-plugin runtime machinery the router builds
// on: the connection state machine, the health monitor, the circuit breaker
// and an optional request rate limiter. Each plugin gets its own instances
// guarded by their own locks, so plugins never contend with each other.
package base

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/quotewire/quotewire/pkg/errors"
	"github.com/quotewire/quotewire/pkg/observability"
	"github.com/quotewire/quotewire/pkg/plugin/core"
	"go.uber.org/zap"
)

// ConnState is the lifecycle state of a plugin connection.
type ConnState int32

const (
	StateCreated ConnState = iota
	StateInitializing
	StateInitialized
	StateConnecting
	StateConnected
	StateFailed
)

// String returns the state name.
func (s ConnState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ConnectPool bounds how many plugin connect attempts run concurrently.
// Attempts beyond the cap queue on the semaphore inside their goroutine,
// so ConnectAsync itself never blocks the caller.
type ConnectPool struct {
	sem chan struct{}
}

// NewConnectPool creates a pool admitting at most maxConcurrent attempts.
func NewConnectPool(maxConcurrent int) *ConnectPool {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &ConnectPool{sem: make(chan struct{}, maxConcurrent)}
}

func (p *ConnectPool) run(fn func()) {
	go func() {
		p.sem <- struct{}{}
		defer func() { <-p.sem }()
		fn()
	}()
}

// Connection drives one plugin through its non-blocking connect lifecycle:
// CREATED → INITIALIZING → INITIALIZED → CONNECTING → CONNECTED, with FAILED
// reachable from any state after CREATED. Reconnection from FAILED is
// allowed; the attempt restarts from CONNECTING.
type Connection struct {
	plugin  core.Plugin
	pool    *ConnectPool
	timeout time.Duration
	logger  *zap.Logger

	state atomic.Int32

	mu          sync.Mutex
	attempt     chan struct{} // closed when the in-flight attempt completes
	lastErr     error
	failedAt    time.Time
	connectedAt time.Time
}

// NewConnection wraps a plugin with lifecycle management. The pool is shared
// across plugins; timeout bounds a single connect attempt.
func NewConnection(p core.Plugin, pool *ConnectPool, timeout time.Duration, logger *zap.Logger) *Connection {
	return &Connection{
		plugin:  p,
		pool:    pool,
		timeout: timeout,
		logger:  logger.With(zap.String("component", "connection"), zap.String("plugin", p.Descriptor().ID)),
	}
}

// Initialize prepares local plugin resources. It is synchronous, performs no
// I/O and is expected to complete well under 100ms.
func (c *Connection) Initialize(cfg map[string]string) error {
	if !c.state.CompareAndSwap(int32(StateCreated), int32(StateInitializing)) {
		return errors.Newf(errors.ErrorTypeInternal,
			"initialize called in state %s", c.State())
	}

	if err := c.plugin.Initialize(cfg); err != nil {
		c.fail(errors.Wrap(err, errors.ErrorTypeConfig, "plugin initialization failed"))
		return c.lastErr
	}

	c.state.Store(int32(StateInitialized))
	c.logger.Debug("plugin initialized")
	return nil
}

// ConnectAsync starts the real handshake on a pooled worker and returns
// immediately. Calls made while an attempt is in flight coalesce onto it and
// receive the same completion channel; the channel closes when the attempt
// finishes either way.
func (c *Connection) ConnectAsync() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.State() {
	case StateConnecting:
		return c.attempt
	case StateConnected:
		done := make(chan struct{})
		close(done)
		return done
	case StateInitialized, StateFailed:
		// proceed
	default:
		done := make(chan struct{})
		close(done)
		c.setErrLocked(errors.Newf(errors.ErrorTypeInternal,
			"connect called in state %s", c.State()))
		return done
	}

	c.state.Store(int32(StateConnecting))
	attempt := make(chan struct{})
	c.attempt = attempt

	c.pool.run(func() {
		defer close(attempt)
		err := c.awaitHandshake()

		c.mu.Lock()
		defer c.mu.Unlock()
		c.attempt = nil
		if err != nil {
			c.state.Store(int32(StateFailed))
			c.setErrLocked(err)
			c.failedAt = time.Now()
			c.logger.Warn("plugin connect failed", zap.Error(err))
			observability.RecordConnectAttempt(c.plugin.Descriptor().ID, "failed")
			return
		}
		c.state.Store(int32(StateConnected))
		c.connectedAt = time.Now()
		c.lastErr = nil
		c.logger.Info("plugin connected")
		observability.RecordConnectAttempt(c.plugin.Descriptor().ID, "connected")
	})

	return attempt
}

// awaitHandshake waits for the plugin's own async connect to settle.
func (c *Connection) awaitHandshake() error {
	errCh := c.plugin.ConnectAsync()

	var timeoutCh <-chan time.Time
	if c.timeout > 0 {
		timer := time.NewTimer(c.timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case err, ok := <-errCh:
		if !ok || err == nil {
			return nil
		}
		return errors.Wrap(err, errors.ErrorTypeConnection, "plugin handshake failed")
	case <-timeoutCh:
		return errors.Newf(errors.ErrorTypeConnection,
			"plugin handshake timed out after %s", c.timeout)
	}
}

// IsReady reports whether the plugin is CONNECTED. O(1), never blocks.
func (c *Connection) IsReady() bool {
	return c.State() == StateConnected
}

// WaitUntilReady blocks until the plugin is CONNECTED or the timeout
// elapses, returning false on timeout without raising. It is intended for
// first real use, not for routine checks.
func (c *Connection) WaitUntilReady(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	for {
		if c.IsReady() {
			return true
		}

		c.mu.Lock()
		attempt := c.attempt
		c.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}

		if attempt == nil {
			// No attempt in flight; poll cheaply until one starts.
			sleep := 5 * time.Millisecond
			if sleep > remaining {
				sleep = remaining
			}
			time.Sleep(sleep)
			continue
		}

		timer := time.NewTimer(remaining)
		select {
		case <-attempt:
			timer.Stop()
		case <-timer.C:
			return c.IsReady()
		}
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() ConnState {
	return ConnState(c.state.Load())
}

// LastError returns the most recent failure, if any.
func (c *Connection) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// FailedAt returns when the last failure was recorded.
func (c *Connection) FailedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failedAt
}

// ConnectedAt returns when the connection last succeeded.
func (c *Connection) ConnectedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectedAt
}

// Plugin returns the wrapped plugin.
func (c *Connection) Plugin() core.Plugin {
	return c.plugin
}

func (c *Connection) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Store(int32(StateFailed))
	c.setErrLocked(err)
	c.failedAt = time.Now()
}

func (c *Connection) setErrLocked(err error) {
	c.lastErr = err
}
