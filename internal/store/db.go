package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"

	"github.com/kiranshivaraju/copilotmeter/internal/config"
)

// RetryPolicy bounds how hard a store tries to (re)establish its connection
// before giving up on one call.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy matches the DB_CONNECT_* defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, InitialInterval: 500 * time.Millisecond, MaxInterval: 10 * time.Second}
}

// RetryPolicyFrom builds the policy from database configuration.
func RetryPolicyFrom(cfg config.DatabaseConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     cfg.ConnectMaxAttempts,
		InitialInterval: cfg.ConnectInitialBackoff,
		MaxInterval:     cfg.ConnectMaxBackoff,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// State is the connection state of a store.
type State int32

const (
	StateDisconnected State = iota
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

type dialFunc func(ctx context.Context, cfg *pgx.ConnConfig) (*pgx.Conn, error)

// Conn is a single lazily established database connection. pgx.Conn is not
// safe for concurrent use, so every statement runs under mu.
//
// A Conn never fails at construction: when the database is unreachable it
// stays disconnected and every later call retries under its RetryPolicy.
type Conn struct {
	name     string
	cfg      *pgx.ConnConfig
	parseErr error
	policy   RetryPolicy
	dial     dialFunc

	mu    sync.Mutex
	conn  *pgx.Conn
	state State
}

// NewConn parses dsn and makes one connection attempt. A failed attempt is
// logged, not returned.
func NewConn(ctx context.Context, name, dsn string, policy RetryPolicy) *Conn {
	c := &Conn{name: name, policy: policy, dial: pgx.ConnectConfig}

	c.cfg, c.parseErr = pgx.ParseConfig(dsn)
	if c.parseErr != nil {
		c.state = StateFailed
		slog.Error("invalid database connection string", "store", name, "error", c.parseErr)
		return c
	}

	conn, err := c.dial(ctx, c.cfg)
	if err != nil {
		slog.Warn("initial database connection failed, will retry on first use", "store", name, "error", err)
		return c
	}
	c.conn = conn
	c.state = StateConnected
	return c
}

// State reports the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateConnected && (c.conn == nil || c.conn.IsClosed()) {
		return StateDisconnected
	}
	return c.state
}

// Ping verifies the connection, reconnecting first if needed.
func (c *Conn) Ping(ctx context.Context) error {
	return c.do(ctx, "ping", func(conn *pgx.Conn) error {
		return conn.Ping(ctx)
	})
}

// Close releases the connection. The Conn may be used again afterwards.
func (c *Conn) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close(ctx)
	c.conn = nil
	c.state = StateDisconnected
	return err
}

// do runs fn on a live connection. A statement failure that leaves the
// connection closed is healed by the next call.
func (c *Conn) do(ctx context.Context, op string, fn func(conn *pgx.Conn) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(ctx, op); err != nil {
		return err
	}

	if err := fn(c.conn); err != nil {
		if c.conn.IsClosed() {
			slog.Warn("database connection lost", "store", c.name, "op", op, "error", err)
			c.conn = nil
			c.state = StateDisconnected
		}
		return wrapErr(op, err)
	}
	return nil
}

// ensureConnected must be called with mu held.
func (c *Conn) ensureConnected(ctx context.Context, op string) error {
	if c.conn != nil && !c.conn.IsClosed() {
		return nil
	}
	if c.parseErr != nil {
		return &StorageError{Op: op, Err: errors.Join(ErrNotConnected, c.parseErr)}
	}

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		conn, err := c.dial(ctx, c.cfg)
		if err != nil {
			slog.Debug("database connect attempt failed", "store", c.name, "attempt", attempt, "error", err)
			return err
		}
		c.conn = conn
		return nil
	}, c.policy.backOff(ctx))
	if err != nil {
		c.conn = nil
		c.state = StateFailed
		slog.Error("database unavailable", "store", c.name, "op", op, "attempts", attempt, "error", err)
		return &StorageError{Op: op, Err: errors.Join(ErrNotConnected, err)}
	}

	if attempt > 1 || c.state != StateConnected {
		slog.Info("database connection established", "store", c.name, "attempts", attempt)
	}
	c.state = StateConnected
	return nil
}
