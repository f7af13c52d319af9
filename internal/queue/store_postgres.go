package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"searchsync/internal/domain"
	"searchsync/pkg/platform/sentinel"
	txcontext "searchsync/pkg/platform/tx"
)

// PostgresStore persists queue entries in the index_queue table. Claiming
// uses FOR UPDATE SKIP LOCKED plus a lease column: SKIP LOCKED keeps
// concurrent claimants off each other's rows inside the claiming transaction,
// and the lease keeps the claim exclusive after it commits until the worker
// reports an outcome or crashes and the lease lapses.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Insert(ctx context.Context, e *Entry) (bool, error) {
	query := `
		INSERT INTO index_queue (
			tenant_id, entity_type, entity_id, operation, payload,
			priority, version, idempotency_key, enqueued_at, next_attempt_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id, enqueued_at
	`
	err := s.execer(ctx).QueryRowContext(ctx, query,
		e.Entity.Tenant,
		e.Entity.Type,
		e.Entity.ID,
		e.Operation,
		[]byte(e.Payload),
		e.Priority,
		e.Version,
		e.IdempotencyKey,
	).Scan(&e.ID, &e.EnqueuedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			// Conflict on idempotency_key: the row already exists.
			return false, nil
		}
		return false, fmt.Errorf("insert queue entry: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) DequeueBatch(ctx context.Context, limit int, lease time.Duration) ([]*Entry, error) {
	query := `
		WITH due AS (
			SELECT id FROM index_queue
			WHERE processed_at IS NULL
			  AND outcome IS NULL
			  AND next_attempt_at <= now()
			  AND (leased_until IS NULL OR leased_until <= now())
			ORDER BY priority ASC, enqueued_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE index_queue q
		SET leased_until = now() + make_interval(secs => $2)
		FROM due
		WHERE q.id = due.id
		RETURNING q.id, q.tenant_id, q.entity_type, q.entity_id, q.operation,
		          q.payload, q.priority, q.version, q.idempotency_key,
		          q.attempts, q.last_error, q.enqueued_at, q.next_attempt_at,
		          q.leased_until
	`
	rows, err := s.db.QueryContext(ctx, query, limit, lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("dequeue batch: %w", err)
	}
	defer rows.Close()

	var claimed []*Entry
	for rows.Next() {
		var (
			e           Entry
			op          string
			leasedUntil sql.NullTime
		)
		err := rows.Scan(
			&e.ID,
			&e.Entity.Tenant,
			&e.Entity.Type,
			&e.Entity.ID,
			&op,
			(*[]byte)(&e.Payload),
			&e.Priority,
			&e.Version,
			&e.IdempotencyKey,
			&e.Attempts,
			&e.LastError,
			&e.EnqueuedAt,
			&e.NextAttemptAt,
			&leasedUntil,
		)
		if err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		e.Operation = domain.Operation(op)
		if leasedUntil.Valid {
			e.LeasedUntil = &leasedUntil.Time
		}
		claimed = append(claimed, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue entries: %w", err)
	}
	return claimed, nil
}

func (s *PostgresStore) MaxPendingVersion(ctx context.Context, entity domain.EntityRef) (int64, error) {
	query := `
		SELECT COALESCE(MAX(version), 0)
		FROM index_queue
		WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3
		  AND processed_at IS NULL AND outcome IS NULL
	`
	var max int64
	err := s.db.QueryRowContext(ctx, query, entity.Tenant, entity.Type, entity.ID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max pending version: %w", err)
	}
	return max, nil
}

func (s *PostgresStore) MarkApplied(ctx context.Context, id int64) error {
	query := `
		UPDATE index_queue
		SET processed_at = now(), outcome = $2, leased_until = NULL
		WHERE id = $1
	`
	return s.mark(ctx, query, id, OutcomeApplied)
}

func (s *PostgresStore) MarkCoalesced(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE index_queue
		SET processed_at = now(), outcome = $2, leased_until = NULL
		WHERE id = ANY($1)
	`
	_, err := s.db.ExecContext(ctx, query, pq.Array(ids), OutcomeCoalesced)
	if err != nil {
		return fmt.Errorf("mark coalesced: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkRetry(ctx context.Context, id int64, cause error, nextAttempt time.Time) error {
	query := `
		UPDATE index_queue
		SET attempts = attempts + 1, last_error = $2, next_attempt_at = $3, leased_until = NULL
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query, id, cause.Error(), nextAttempt)
	if err != nil {
		return fmt.Errorf("mark retry: %w", err)
	}
	return checkAffected(res, "mark retry")
}

func (s *PostgresStore) MarkExhausted(ctx context.Context, id int64, cause error) error {
	query := `
		UPDATE index_queue
		SET attempts = attempts + 1, last_error = $2, outcome = $3, leased_until = NULL
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query, id, cause.Error(), OutcomeFailed)
	if err != nil {
		return fmt.Errorf("mark exhausted: %w", err)
	}
	return checkAffected(res, "mark exhausted")
}

func (s *PostgresStore) Depth(ctx context.Context) (int64, error) {
	var depth int64
	query := `SELECT COUNT(*) FROM index_queue WHERE processed_at IS NULL AND outcome IS NULL`
	if err := s.db.QueryRowContext(ctx, query).Scan(&depth); err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return depth, nil
}

func (s *PostgresStore) FailedCount(ctx context.Context) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM index_queue WHERE outcome = $1`
	if err := s.db.QueryRowContext(ctx, query, OutcomeFailed).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed count: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) mark(ctx context.Context, query string, id int64, outcome Outcome) error {
	res, err := s.db.ExecContext(ctx, query, id, outcome)
	if err != nil {
		return fmt.Errorf("mark %s: %w", outcome, err)
	}
	return checkAffected(res, fmt.Sprintf("mark %s", outcome))
}

func checkAffected(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, sentinel.ErrNotFound)
	}
	return nil
}
