package ledger

import (
	"context"
	"errors"

	"searchsync/internal/domain"
)

var (
	// ErrEntityNotFound means a completion arrived for an entity the ledger
	// never saw. Enqueue always advances the ledger first, so this indicates
	// a producer or queue bug and fails the operation.
	ErrEntityNotFound = errors.New("ledger: entity not found")

	// ErrVersionConflict reports a compare-and-set that lost to a newer
	// version. Callers treat it as a no-op: the event was stale and dropping
	// it is the correct outcome. Logged at debug, never escalated.
	ErrVersionConflict = errors.New("ledger: stale version")
)

// Store is the version ledger. The conditional updates here are the only
// cross-worker coordination the apply path needs.
type Store interface {
	// Advance creates the row at version with StatusPending, or raises an
	// existing row to version. An older or equal version is a no-op.
	Advance(ctx context.Context, entity domain.EntityRef, version int64) error

	// MarkIndexed applies StatusIndexed iff version >= the current row
	// version; otherwise ErrVersionConflict. Missing row: ErrEntityNotFound.
	MarkIndexed(ctx context.Context, entity domain.EntityRef, version int64) error

	// MarkRemoved is MarkIndexed's terminal counterpart for deletions.
	MarkRemoved(ctx context.Context, entity domain.EntityRef, version int64) error

	// MarkFailed records a failed apply: increments retry_count, stores the
	// cause, sets StatusFailed. Guarded like the completions: a row already
	// past version is left alone (ErrVersionConflict), so a stale entry's
	// failure cannot clobber a newer indexed state. Missing row:
	// ErrEntityNotFound.
	MarkFailed(ctx context.Context, entity domain.EntityRef, version int64, cause error) error

	// Get returns the row, or sentinel.ErrNotFound (wrapped).
	Get(ctx context.Context, entity domain.EntityRef) (*IndexVersion, error)
}
