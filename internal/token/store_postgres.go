package token

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"searchsync/pkg/platform/sentinel"
)

// PostgresStore keeps tokens in the consistency_tokens table for deployments
// without Redis. Expired rows are purged opportunistically on Save.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, t *Token) error {
	required, err := json.Marshal(t.Required)
	if err != nil {
		return fmt.Errorf("marshal required versions: %w", err)
	}
	query := `
		INSERT INTO consistency_tokens (token, client_id, tenant_id, required_versions, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := s.db.ExecContext(ctx, query, t.ID, t.ClientID, t.Tenant, required, t.IssuedAt, t.ExpiresAt); err != nil {
		return fmt.Errorf("save token: %w", err)
	}

	// Lazy reclamation; failures only delay cleanup.
	_, _ = s.db.ExecContext(ctx, `DELETE FROM consistency_tokens WHERE expires_at < now() - interval '1 hour'`)
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Token, error) {
	query := `
		SELECT token, client_id, tenant_id, required_versions, issued_at, expires_at
		FROM consistency_tokens
		WHERE token = $1
	`
	var (
		t        Token
		required []byte
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&t.ID, &t.ClientID, &t.Tenant, &required, &t.IssuedAt, &t.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("token %q: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get token: %w", err)
	}
	if err := json.Unmarshal(required, &t.Required); err != nil {
		return nil, fmt.Errorf("unmarshal required versions: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM consistency_tokens WHERE token = $1`, id); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}
