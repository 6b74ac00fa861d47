package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	defaultTxAttempts   = 3
	defaultLockTimeout  = 2 * time.Second
	defaultRetryBackoff = 20 * time.Millisecond
)

// Beginner is satisfied by *pgxpool.Pool and pgx.Conn.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// TxFunc is executed within a database transaction.
type TxFunc func(ctx context.Context, tx pgx.Tx) error

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	attempts         int
	lockTimeout      time.Duration
	statementTimeout time.Duration
	backoff          time.Duration
	onRetry          func(attempt int, err error)
}

// WithTxAttempts overrides how many times a contended unit of work runs.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithLockTimeout sets lock_timeout for the transaction.
func WithLockTimeout(d time.Duration) TxOption {
	return func(cfg *txConfig) {
		if d > 0 {
			cfg.lockTimeout = d
		}
	}
}

// WithStatementTimeout sets statement_timeout for the transaction.
func WithStatementTimeout(d time.Duration) TxOption {
	return func(cfg *txConfig) {
		if d > 0 {
			cfg.statementTimeout = d
		}
	}
}

// WithRetryBackoff sets the base pause between attempts; it grows linearly.
func WithRetryBackoff(d time.Duration) TxOption {
	return func(cfg *txConfig) {
		if d >= 0 {
			cfg.backoff = d
		}
	}
}

// OnRetry registers a callback invoked before every re-run.
func OnRetry(fn func(attempt int, err error)) TxOption {
	return func(cfg *txConfig) {
		cfg.onRetry = fn
	}
}

// RunInTx executes fn in a READ COMMITTED transaction. The transaction is
// committed when fn returns nil and rolled back otherwise. Lock timeouts,
// deadlocks and serialization failures re-run fn from scratch; when attempts
// run out the error wraps ErrContention. So does running out of time: a
// context deadline or statement timeout, or a deadline too close to fit
// another lock wait.
func RunInTx(ctx context.Context, db Beginner, fn TxFunc, opts ...TxOption) error {
	if db == nil {
		return errors.New("postgres: database is nil")
	}
	if fn == nil {
		return errors.New("postgres: transaction function is nil")
	}

	cfg := txConfig{attempts: defaultTxAttempts, lockTimeout: defaultLockTimeout, backoff: defaultRetryBackoff}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	var err error
	for attempt := 1; attempt <= cfg.attempts; attempt++ {
		err = runOnce(ctx, db, fn, cfg)
		if err == nil {
			return nil
		}
		if IsTimeout(err) {
			return fmt.Errorf("%w on attempt %d: %w", ErrContention, attempt, err)
		}
		if !IsRetryable(err) {
			return err
		}
		if attempt == cfg.attempts {
			break
		}
		if !fitsAnotherAttempt(ctx, cfg, attempt) {
			return fmt.Errorf("%w: deadline too close for attempt %d: %w", ErrContention, attempt+1, err)
		}
		if cfg.onRetry != nil {
			cfg.onRetry(attempt, err)
		}
		if cfg.backoff > 0 {
			t := time.NewTimer(time.Duration(attempt) * cfg.backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return fmt.Errorf("%w: %w", ErrContention, ctx.Err())
			case <-t.C:
			}
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrContention, cfg.attempts, err)
}

// fitsAnotherAttempt reports whether the caller's deadline leaves room for
// the backoff plus one full lock wait.
func fitsAnotherAttempt(ctx context.Context, cfg txConfig, attempt int) bool {
	deadline, ok := ctx.Deadline()
	if !ok {
		return true
	}
	return time.Until(deadline) > time.Duration(attempt)*cfg.backoff+cfg.lockTimeout
}

func runOnce(ctx context.Context, db Beginner, fn TxFunc, cfg txConfig) (err error) {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// SET does not take bind parameters.
	if cfg.lockTimeout > 0 {
		if _, err = tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", cfg.lockTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("postgres: set lock_timeout: %w", err)
		}
	}
	if cfg.statementTimeout > 0 {
		if _, err = tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", cfg.statementTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("postgres: set statement_timeout: %w", err)
		}
	}

	if err = fn(ctx, tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}
