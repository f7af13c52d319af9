package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"searchsync/pkg/platform/sentinel"
)

// PostgresStore persists migrations in index_migrations. The partial unique
// index on (alias) WHERE state NOT IN (terminal) makes Begin the single-
// flight gate: losing the insert race means another migration is active.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Begin(ctx context.Context, m *Migration) error {
	query := `
		INSERT INTO index_migrations (id, alias, new_index, state, started_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		RETURNING started_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query, m.ID, m.Alias, m.NewIndex, m.State).
		Scan(&m.StartedAt, &m.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrMigrationInProgress
		}
		return fmt.Errorf("begin migration: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetState(ctx context.Context, id string, state State, detail string, docsCopied int) error {
	query := `
		UPDATE index_migrations
		SET state = $2,
		    error = $3,
		    docs_copied = GREATEST(docs_copied, $4),
		    updated_at = now(),
		    finished_at = CASE WHEN $2 IN ('DONE', 'FAILED', 'CRITICAL') THEN now() ELSE finished_at END
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query, id, state, detail, docsCopied)
	if err != nil {
		return fmt.Errorf("set migration state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set migration state rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("migration %q: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Migration, error) {
	query := `
		SELECT id, alias, new_index, state, error, docs_copied, started_at, updated_at, finished_at
		FROM index_migrations
		WHERE id = $1
	`
	return s.scanOne(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) Active(ctx context.Context) ([]*Migration, error) {
	query := `
		SELECT id, alias, new_index, state, error, docs_copied, started_at, updated_at, finished_at
		FROM index_migrations
		WHERE state NOT IN ('DONE', 'FAILED', 'CRITICAL')
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active migrations: %w", err)
	}
	defer rows.Close()

	var active []*Migration
	for rows.Next() {
		m, err := scanMigration(rows.Scan)
		if err != nil {
			return nil, err
		}
		active = append(active, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate migrations: %w", err)
	}
	return active, nil
}

func (s *PostgresStore) scanOne(row *sql.Row) (*Migration, error) {
	m, err := scanMigration(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("migration: %w", sentinel.ErrNotFound)
		}
		return nil, err
	}
	return m, nil
}

func scanMigration(scan func(dest ...any) error) (*Migration, error) {
	var (
		m          Migration
		finishedAt sql.NullTime
	)
	err := scan(&m.ID, &m.Alias, &m.NewIndex, &m.State, &m.Error, &m.DocsCopied, &m.StartedAt, &m.UpdatedAt, &finishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan migration: %w", err)
	}
	if finishedAt.Valid {
		m.FinishedAt = &finishedAt.Time
	}
	return &m, nil
}
