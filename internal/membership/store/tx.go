package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"

	dErrors "agencyhub/pkg/domain-errors"
	"agencyhub/pkg/platform/sentinel"
	txcontext "agencyhub/pkg/platform/tx"
)

// DefaultTxTimeout bounds a ledger transaction when the caller set no deadline.
const DefaultTxTimeout = 5 * time.Second

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"

	defaultTxAttempts = 3
)

// TxOption configures a transaction runner.
type TxOption func(*txConfig)

type txConfig struct {
	timeout  time.Duration
	attempts int
}

// WithTimeout overrides DefaultTxTimeout.
func WithTimeout(d time.Duration) TxOption {
	return func(c *txConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithAttempts sets how many times a Postgres transaction is tried when the
// database aborts it with a serialization failure or deadlock.
func WithAttempts(n int) TxOption {
	return func(c *txConfig) {
		if n > 0 {
			c.attempts = n
		}
	}
}

func newTxConfig(opts []TxOption) txConfig {
	cfg := txConfig{timeout: DefaultTxTimeout, attempts: defaultTxAttempts}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// withDeadline applies the runner timeout unless ctx already carries a deadline.
func (c txConfig) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func ctxAborted(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: deadline exceeded")
	}
	return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
}

// PostgresTx runs functions inside a database transaction bound to ctx.
type PostgresTx struct {
	db  *sql.DB
	cfg txConfig
}

func NewPostgresTx(db *sql.DB, opts ...TxOption) *PostgresTx {
	return &PostgresTx{db: db, cfg: newTxConfig(opts)}
}

// RunInTx commits when fn returns nil and rolls back otherwise. A transaction
// the database aborted for serialization or deadlock reasons is retried with
// backoff. Calls made while ctx already carries a transaction join it.
func (t *PostgresTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txcontext.InTx(ctx) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return ctxAborted(err)
	}
	ctx, cancel := t.cfg.withDeadline(ctx)
	defer cancel()

	policy := backoff.WithContext(
		backoff.WithMaxRetries(newTxBackoff(), uint64(t.cfg.attempts-1)),
		ctx,
	)
	err := backoff.Retry(func() error {
		err := t.runOnce(ctx, fn)
		if err == nil || isRetryableTxErr(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !isDomainErr(err) {
		return ctxAborted(ctxErr)
	}
	if isRetryableTxErr(err) {
		return dErrors.Wrap(fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err), dErrors.CodeUnavailable, "ledger transaction aborted, retry later")
	}
	return err
}

func (t *PostgresTx) runOnce(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	sqlTx, err := t.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return dErrors.Wrap(fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err), dErrors.CodeUnavailable, "failed to begin ledger transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txcontext.WithTx(ctx, sqlTx)); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit ledger transaction: %w", err)
	}
	return nil
}

func newTxBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 0
	return b
}

func isRetryableTxErr(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	return false
}

func isDomainErr(err error) bool {
	var de *dErrors.Error
	return errors.As(err, &de)
}

// MemoryTx serializes transactions over an InMemoryLedger and restores the
// pre-transaction snapshot when fn fails.
type MemoryTx struct {
	ledger *InMemoryLedger
	cfg    txConfig
}

func NewMemoryTx(ledger *InMemoryLedger, opts ...TxOption) *MemoryTx {
	return &MemoryTx{ledger: ledger, cfg: newTxConfig(opts)}
}

type memTxKey struct{}

func (t *MemoryTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return ctxAborted(err)
	}
	ctx, cancel := t.cfg.withDeadline(ctx)
	defer cancel()

	t.ledger.txMu.Lock()
	defer t.ledger.txMu.Unlock()

	// Check again after acquiring lock
	if err := ctx.Err(); err != nil {
		return ctxAborted(err)
	}

	snap := t.ledger.snapshot()
	err := fn(context.WithValue(ctx, memTxKey{}, true))
	if err == nil {
		err = ctx.Err()
		if err != nil {
			err = ctxAborted(err)
		}
	}
	if err != nil {
		t.ledger.restore(snap)
		return err
	}
	return nil
}
