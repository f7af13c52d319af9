package migrate

import (
	"context"
	"errors"
)

// ErrMigrationInProgress rejects a second migration for an alias that already
// has one in flight. No state changes on rejection.
var ErrMigrationInProgress = errors.New("migration already in progress for alias")

// Store persists migration records and enforces the per-alias single-flight
// constraint at insert time.
type Store interface {
	// Begin inserts m in its initial state. Returns ErrMigrationInProgress
	// when a non-terminal migration exists for the same alias.
	Begin(ctx context.Context, m *Migration) error

	// SetState advances the state machine and records progress/error detail.
	SetState(ctx context.Context, id string, state State, detail string, docsCopied int) error

	// Get returns a migration or sentinel.ErrNotFound (wrapped).
	Get(ctx context.Context, id string) (*Migration, error)

	// Active returns the non-terminal migrations, any alias. Startup
	// recovery walks these.
	Active(ctx context.Context) ([]*Migration, error)
}
