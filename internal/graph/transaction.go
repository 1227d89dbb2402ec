package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	appErrors "pagegraph-backend/pkg/errors"
	"pagegraph-backend/pkg/observability"
)

// DefaultQueryTimeout bounds every query unless overridden.
const DefaultQueryTimeout = 15 * time.Second

// RetryConfig defines the transaction retry policy.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns the retry defaults: 3 attempts, 1s initial delay
// doubling up to 8s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  1 * time.Second,
		MaxDelay:      8 * time.Second,
		BackoffFactor: 2.0,
	}
}

// RollbackHandler is a user-registered compensation callback. Handlers must be
// idempotent: a failed commit first attempts rollback before the error
// propagates, so re-driven operations may observe compensations twice.
type RollbackHandler func(ctx context.Context) error

// txHandle is the slice of the driver transaction the layer depends on.
// Narrowed for testability.
type txHandle interface {
	Run(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// neoTx adapts the driver's explicit transaction to txHandle, collecting
// records eagerly.
type neoTx struct {
	inner neo4j.ExplicitTransaction
}

func (n neoTx) Run(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	result, err := n.inner.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return result.Collect(ctx)
}

func (n neoTx) Commit(ctx context.Context) error   { return n.inner.Commit(ctx) }
func (n neoTx) Rollback(ctx context.Context) error { return n.inner.Rollback(ctx) }

// Transaction is a scoped unit of work against the graph store.
type Transaction struct {
	id           string
	tx           txHandle
	release      func(ctx context.Context)
	handlers     []RollbackHandler
	queryTimeout time.Duration
	finished     bool
	logger       *zap.Logger
}

// ID returns the transaction's identifier, used in retry histories and logs.
func (t *Transaction) ID() string { return t.id }

// AddRollbackHandler appends a compensation callback. Callbacks run in LIFO
// order on rollback.
func (t *Transaction) AddRollbackHandler(fn RollbackHandler) {
	t.handlers = append(t.handlers, fn)
}

// Run executes one query inside the transaction and collects its records.
// Every query carries the configured timeout; expiry cancels the in-flight
// query and fails with a timeout error.
func (t *Transaction) Run(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	if t.finished {
		return nil, appErrors.NewStore(appErrors.CodeInvalidTransaction, "transaction already finished", nil)
	}
	timeout := t.queryTimeout
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	records, err := t.tx.Run(queryCtx, cypher, params)
	if err != nil {
		return nil, classifyStoreError(queryCtx, err)
	}
	return records, nil
}

// Commit commits the underlying transaction and releases resources. An error
// during commit triggers an automatic rollback before surfacing.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.finished {
		return appErrors.NewStore(appErrors.CodeInvalidTransaction, "transaction already finished", nil)
	}
	if err := t.tx.Commit(ctx); err != nil {
		t.logger.Warn("commit failed, rolling back",
			zap.String("tx_id", t.id),
			zap.Error(err))
		t.rollbackLocked(ctx)
		return classifyStoreError(ctx, err)
	}
	t.finished = true
	t.close(ctx)
	return nil
}

// Rollback rolls back the underlying transaction, then invokes registered
// handlers in LIFO order. Handler failures are logged and do not mask
// subsequent handlers.
func (t *Transaction) Rollback(ctx context.Context) error {
	if t.finished {
		return nil
	}
	t.rollbackLocked(ctx)
	return nil
}

func (t *Transaction) rollbackLocked(ctx context.Context) {
	t.finished = true
	if err := t.tx.Rollback(ctx); err != nil {
		t.logger.Warn("store rollback failed",
			zap.String("tx_id", t.id),
			zap.Error(err))
	}
	for i := len(t.handlers) - 1; i >= 0; i-- {
		if err := t.handlers[i](ctx); err != nil {
			t.logger.Warn("rollback handler failed",
				zap.String("tx_id", t.id),
				zap.Int("handler", i),
				zap.Error(err))
		}
	}
	t.close(ctx)
}

func (t *Transaction) close(ctx context.Context) {
	if t.release != nil {
		t.release(ctx)
		t.release = nil
	}
}

// RetryHistory records what happened across the attempts of one logical
// transaction.
type RetryHistory struct {
	TxID         string
	Attempts     int
	FirstErrorAt time.Time
	Codes        []string
}

// Manager begins transactions and drives retryable units of work.
type Manager struct {
	conn         *Connection
	retry        RetryConfig
	queryTimeout time.Duration
	logger       *zap.Logger

	// begin opens one transaction attempt; swapped in tests.
	begin func(ctx context.Context) (*Transaction, error)
}

// NewManager creates a transaction manager over a connection.
func NewManager(conn *Connection, retry RetryConfig, queryTimeout time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queryTimeout <= 0 {
		queryTimeout = DefaultQueryTimeout
	}
	m := &Manager{conn: conn, retry: retry, queryTimeout: queryTimeout, logger: logger}
	m.begin = m.beginTx
	return m
}

// Begin acquires a session and opens an explicit store transaction.
func (m *Manager) Begin(ctx context.Context) (*Transaction, error) {
	return m.begin(ctx)
}

func (m *Manager) beginTx(ctx context.Context) (*Transaction, error) {
	session := m.conn.acquireSession(ctx)
	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		m.conn.releaseSession(ctx, session)
		return nil, classifyStoreError(ctx, err)
	}
	return &Transaction{
		id:           uuid.New().String(),
		tx:           neoTx{inner: tx},
		queryTimeout: m.queryTimeout,
		logger:       m.logger,
		release: func(ctx context.Context) {
			m.conn.releaseSession(ctx, session)
		},
	}, nil
}

// Execute runs fn inside a transaction with the retry policy applied: up to
// MaxRetries attempts, exponential backoff between them, retrying only errors
// classified transient. On exhaustion the last error surfaces with the retry
// history attached.
func (m *Manager) Execute(ctx context.Context, fn func(ctx context.Context, tx *Transaction) error) (err error) {
	history := RetryHistory{TxID: uuid.New().String()}
	ctx, span := observability.Tracer().Start(ctx, "store.transaction",
		trace.WithAttributes(attribute.String("tx.id", history.TxID)))
	defer func() {
		span.SetAttributes(attribute.Int("tx.attempts", history.Attempts))
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()
	delay := m.retry.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= m.retry.MaxRetries; attempt++ {
		history.Attempts = attempt

		lastErr = m.runOnce(ctx, fn)
		if lastErr == nil {
			return nil
		}

		if history.FirstErrorAt.IsZero() {
			history.FirstErrorAt = time.Now()
		}
		history.Codes = append(history.Codes, errorCode(lastErr))

		if !appErrors.IsRetryable(lastErr) {
			m.logger.Debug("transaction failed with fatal error",
				zap.String("tx_id", history.TxID),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			return lastErr
		}
		if attempt == m.retry.MaxRetries {
			break
		}

		observability.TransactionRetries.Inc()
		m.logger.Info("retrying transaction",
			zap.String("tx_id", history.TxID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(lastErr))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return classifyStoreError(ctx, ctx.Err())
		case <-timer.C:
		}
		delay = time.Duration(float64(delay) * m.retry.BackoffFactor)
		if delay > m.retry.MaxDelay {
			delay = m.retry.MaxDelay
		}
	}

	return appErrors.Wrap(lastErr, fmt.Sprintf(
		"transaction %s exhausted %d attempts (first error %s, codes %v)",
		history.TxID, history.Attempts,
		history.FirstErrorAt.Format(time.RFC3339), history.Codes))
}

// runOnce drives one attempt through the circuit breaker.
func (m *Manager) runOnce(ctx context.Context, fn func(ctx context.Context, tx *Transaction) error) error {
	_, err := m.conn.breaker.Execute(func() (any, error) {
		tx, err := m.Begin(ctx)
		if err != nil {
			return nil, err
		}
		if err := fn(ctx, tx); err != nil {
			_ = tx.Rollback(ctx)
			return nil, err
		}
		return nil, tx.Commit(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return appErrors.NewStoreRetryable(appErrors.CodeServiceUnavailable, "store circuit open", err)
	}
	if err != nil {
		return classifyStoreError(ctx, err)
	}
	return nil
}
