package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appErrors "pagegraph-backend/pkg/errors"
)

// fakeTx is a scriptable txHandle.
type fakeTx struct {
	runErr      error
	commitErr   error
	rollbackErr error
	records     []*neo4j.Record

	runs      int
	commits   int
	rollbacks int
	queries   []string
}

func (f *fakeTx) Run(_ context.Context, cypher string, _ map[string]any) ([]*neo4j.Record, error) {
	f.runs++
	f.queries = append(f.queries, cypher)
	if f.runErr != nil {
		return nil, f.runErr
	}
	return f.records, nil
}

func (f *fakeTx) Commit(context.Context) error {
	f.commits++
	return f.commitErr
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rollbacks++
	return f.rollbackErr
}

func newTestTransaction(tx txHandle) *Transaction {
	return &Transaction{
		id:     "tx-test",
		tx:     tx,
		logger: zap.NewNop(),
	}
}

func TestRollbackHandlersRunLIFO(t *testing.T) {
	inner := &fakeTx{}
	tx := newTestTransaction(inner)

	var order []string
	tx.AddRollbackHandler(func(context.Context) error {
		order = append(order, "first")
		return nil
	})
	tx.AddRollbackHandler(func(context.Context) error {
		order = append(order, "second")
		return nil
	})

	require.NoError(t, tx.Rollback(context.Background()))
	assert.Equal(t, []string{"second", "first"}, order)
	assert.Equal(t, 1, inner.rollbacks)
}

func TestRollbackHandlerFailureDoesNotMaskLaterHandlers(t *testing.T) {
	tx := newTestTransaction(&fakeTx{})

	var reached bool
	tx.AddRollbackHandler(func(context.Context) error {
		reached = true
		return nil
	})
	tx.AddRollbackHandler(func(context.Context) error {
		return errors.New("compensation failed")
	})

	require.NoError(t, tx.Rollback(context.Background()))
	assert.True(t, reached, "every handler runs even after one fails")
}

func TestCommitFailureTriggersRollback(t *testing.T) {
	inner := &fakeTx{commitErr: errors.New("commit refused")}
	tx := newTestTransaction(inner)

	var compensated bool
	tx.AddRollbackHandler(func(context.Context) error {
		compensated = true
		return nil
	})

	err := tx.Commit(context.Background())
	require.Error(t, err)
	assert.True(t, appErrors.IsStore(err))
	assert.Equal(t, 1, inner.rollbacks, "failed commit rolls back before surfacing")
	assert.True(t, compensated)
}

func TestFinishedTransactionRejectsFurtherUse(t *testing.T) {
	inner := &fakeTx{}
	tx := newTestTransaction(inner)
	require.NoError(t, tx.Rollback(context.Background()))

	_, err := tx.Run(context.Background(), "RETURN 1", nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.CodeInvalidTransaction, appErrors.CodeOf(err))

	err = tx.Commit(context.Background())
	require.Error(t, err)
	assert.Equal(t, appErrors.CodeInvalidTransaction, appErrors.CodeOf(err))

	// Rollback of a finished transaction is a no-op.
	require.NoError(t, tx.Rollback(context.Background()))
	assert.Equal(t, 1, inner.rollbacks)
}

func TestRunClassifiesDriverErrors(t *testing.T) {
	inner := &fakeTx{runErr: &neo4j.Neo4jError{Code: "Neo.TransientError.Transaction.DeadlockDetected"}}
	tx := newTestTransaction(inner)

	_, err := tx.Run(context.Background(), "RETURN 1", nil)
	require.Error(t, err)
	assert.True(t, appErrors.IsStore(err))
	assert.True(t, appErrors.IsRetryable(err))
}

func TestClassifyStoreError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  string
		retryable bool
	}{
		{
			"transient store error",
			&neo4j.Neo4jError{Code: "Neo.TransientError.General.Whatever"},
			"Neo.TransientError.General.Whatever",
			true,
		},
		{
			"session expired",
			&neo4j.Neo4jError{Code: "Neo.ClientError.Security.SessionExpired"},
			appErrors.CodeSessionExpired,
			true,
		},
		{
			"service unavailable",
			&neo4j.Neo4jError{Code: "Neo.ClientError.General.ServiceUnavailable"},
			appErrors.CodeServiceUnavailable,
			true,
		},
		{
			"syntax error is fatal",
			&neo4j.Neo4jError{Code: "Neo.ClientError.Statement.SyntaxError"},
			appErrors.CodeQueryExecution,
			false,
		},
		{
			"deadline maps to query timeout",
			context.DeadlineExceeded,
			appErrors.CodeQueryTimeout,
			true,
		},
		{
			"connection refused string",
			errors.New("dial tcp 127.0.0.1:7687: connection refused"),
			appErrors.CodeServiceUnavailable,
			true,
		},
		{
			"unknown error is fatal",
			errors.New("something odd"),
			appErrors.CodeQueryExecution,
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyStoreError(context.Background(), tt.err)
			require.Error(t, got)
			assert.Equal(t, tt.wantCode, appErrors.CodeOf(got))
			assert.Equal(t, tt.retryable, appErrors.IsRetryable(got))
		})
	}
}

func TestClassifyStoreErrorPassesThroughTaxonomy(t *testing.T) {
	orig := appErrors.NewNotFound("no such node")
	assert.Equal(t, orig, classifyStoreError(context.Background(), orig))
}

// newTestManager builds a manager whose transactions come from begin instead
// of a live driver session.
func newTestManager(begin func(ctx context.Context) (*Transaction, error)) *Manager {
	m := NewManager(&Connection{breaker: newBreaker(nil), logger: zap.NewNop()}, RetryConfig{
		MaxRetries:    3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      4 * time.Millisecond,
		BackoffFactor: 2,
	}, 0, nil)
	m.begin = begin
	return m
}

func TestExecuteRetriesTransientAndCommitsOnce(t *testing.T) {
	var txs []*fakeTx
	m := newTestManager(func(context.Context) (*Transaction, error) {
		inner := &fakeTx{}
		txs = append(txs, inner)
		return newTestTransaction(inner), nil
	})

	calls := 0
	err := m.Execute(context.Background(), func(ctx context.Context, tx *Transaction) error {
		calls++
		if calls == 1 {
			return appErrors.NewStoreRetryable(appErrors.CodeSessionExpired, "session expired", nil)
		}
		_, err := tx.Run(ctx, "MERGE (k:Keyword {id: $id}) SET k.score = $score", map[string]any{"id": "k1", "score": 0.8})
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, txs, 2)
	assert.Equal(t, 1, txs[0].rollbacks, "the failed attempt rolls back")
	assert.Equal(t, 0, txs[0].commits)
	assert.Equal(t, 1, txs[1].commits, "the successful attempt commits exactly once")
	assert.Equal(t, 0, txs[1].rollbacks)
	assert.Equal(t, 1, txs[1].runs, "the keyword upsert runs once on the committed attempt")
}

func TestExecuteDoesNotRetryFatalErrors(t *testing.T) {
	var txs []*fakeTx
	m := newTestManager(func(context.Context) (*Transaction, error) {
		inner := &fakeTx{}
		txs = append(txs, inner)
		return newTestTransaction(inner), nil
	})

	calls := 0
	err := m.Execute(context.Background(), func(context.Context, *Transaction) error {
		calls++
		return appErrors.NewStore(appErrors.CodeQueryExecution, "syntax error", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	require.Len(t, txs, 1)
	assert.Equal(t, 1, txs[0].rollbacks)
	assert.Equal(t, 0, txs[0].commits)
	assert.False(t, appErrors.IsRetryable(err))
}

func TestExecuteExhaustsRetriesAndSurfacesHistory(t *testing.T) {
	m := newTestManager(func(context.Context) (*Transaction, error) {
		return newTestTransaction(&fakeTx{}), nil
	})

	calls := 0
	err := m.Execute(context.Background(), func(context.Context, *Transaction) error {
		calls++
		return appErrors.NewStoreRetryable(appErrors.CodeServiceUnavailable, "store down", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls, "attempts stop at max_retries")
	assert.Contains(t, err.Error(), "exhausted 3 attempts")
}
