package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"searchsync/internal/domain"
	"searchsync/pkg/platform/sentinel"
	txcontext "searchsync/pkg/platform/tx"
)

// PostgresStore persists ledger rows in the index_versions table. All writes
// are conditional single statements, so concurrent workers need no lock
// beyond the row-level one Postgres already takes.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// execer joins a transaction carried in context (enqueue + advance commit as
// one unit) and falls back to the pool.
func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Advance(ctx context.Context, entity domain.EntityRef, version int64) error {
	query := `
		INSERT INTO index_versions (tenant_id, entity_type, entity_id, version, index_status, updated_at)
		VALUES ($1, $2, $3, $4, 'PENDING', now())
		ON CONFLICT (tenant_id, entity_type, entity_id) DO UPDATE
		SET version = EXCLUDED.version, index_status = 'PENDING', updated_at = now()
		WHERE index_versions.version < EXCLUDED.version
	`
	_, err := s.execer(ctx).ExecContext(ctx, query, entity.Tenant, entity.Type, entity.ID, version)
	if err != nil {
		return fmt.Errorf("advance ledger: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkIndexed(ctx context.Context, entity domain.EntityRef, version int64) error {
	return s.markTerminal(ctx, entity, version, StatusIndexed)
}

func (s *PostgresStore) MarkRemoved(ctx context.Context, entity domain.EntityRef, version int64) error {
	return s.markTerminal(ctx, entity, version, StatusRemoved)
}

// markTerminal is the compare-and-set at the heart of the ledger: the update
// lands only when version is at least the row's current value, which makes
// duplicate and out-of-order completions harmless.
func (s *PostgresStore) markTerminal(ctx context.Context, entity domain.EntityRef, version int64, status Status) error {
	query := `
		UPDATE index_versions
		SET index_status = $5, version = $4, indexed_at = now(), last_error = '', updated_at = now()
		WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3 AND version <= $4
	`
	res, err := s.execer(ctx).ExecContext(ctx, query, entity.Tenant, entity.Type, entity.ID, version, status)
	if err != nil {
		return fmt.Errorf("mark %s: %w", status, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark %s rows affected: %w", status, err)
	}
	if affected > 0 {
		return nil
	}
	if _, err := s.Get(ctx, entity); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return ErrEntityNotFound
		}
		return err
	}
	return ErrVersionConflict
}

// MarkFailed carries the same version guard as the completions: a stale
// entry failing after a newer version was indexed must not flip the row back
// to FAILED.
func (s *PostgresStore) MarkFailed(ctx context.Context, entity domain.EntityRef, version int64, cause error) error {
	query := `
		UPDATE index_versions
		SET index_status = 'FAILED', retry_count = retry_count + 1, last_error = $5, updated_at = now()
		WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3 AND version <= $4
	`
	res, err := s.execer(ctx).ExecContext(ctx, query, entity.Tenant, entity.Type, entity.ID, version, cause.Error())
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark failed rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	if _, err := s.Get(ctx, entity); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return ErrEntityNotFound
		}
		return err
	}
	return ErrVersionConflict
}

func (s *PostgresStore) Get(ctx context.Context, entity domain.EntityRef) (*IndexVersion, error) {
	query := `
		SELECT version, index_status, retry_count, last_error, indexed_at, updated_at
		FROM index_versions
		WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3
	`
	row := s.execer(ctx).QueryRowContext(ctx, query, entity.Tenant, entity.Type, entity.ID)

	v := IndexVersion{Entity: entity}
	var indexedAt sql.NullTime
	err := row.Scan(&v.Version, &v.Status, &v.RetryCount, &v.LastError, &indexedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("ledger row %s: %w", entity, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get ledger row: %w", err)
	}
	if indexedAt.Valid {
		v.IndexedAt = &indexedAt.Time
	}
	return &v, nil
}
