package tx

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"searchsync/pkg/platform/tenancy"
)

const defaultTxTimeout = 5 * time.Second

// Runner executes fn as one logical unit. The Postgres runner wraps fn in a
// transaction carried through context; Nop runs fn directly for memory-backed
// wiring where every store call is already atomic.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PostgresRunner runs fn inside one *sql.Tx exposed via WithTx.
type PostgresRunner struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresRunner(db *sql.DB) *PostgresRunner {
	return &PostgresRunner{db: db}
}

func (r *PostgresRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	timeout := r.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = dbTx.Rollback()
	}()

	// Tenant-bound transactions carry the acting tenant into the session
	// GUC the row-level security policies read. Local to this transaction,
	// so the pooled connection comes back clean.
	if tenant, ok := tenancy.From(ctx); ok {
		if _, err := dbTx.ExecContext(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenant); err != nil {
			return fmt.Errorf("bind tenant: %w", err)
		}
	}

	if err := fn(WithTx(ctx, dbTx)); err != nil {
		return err
	}
	return dbTx.Commit()
}

// NopRunner executes fn without a transaction.
type NopRunner struct{}

func (NopRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
