package token

import "context"

// Store persists issued tokens until they expire. Reads are by token ID only;
// the service checks expiry itself so stores need no clock of their own (the
// Redis store gets TTL reclamation for free, the Postgres store is purged
// lazily).
type Store interface {
	// Save persists a token.
	Save(ctx context.Context, t *Token) error
	// Get returns a token or sentinel.ErrNotFound (wrapped).
	Get(ctx context.Context, id string) (*Token, error)
	// Delete reclaims a token; deleting an absent token is a no-op.
	Delete(ctx context.Context, id string) error
}
