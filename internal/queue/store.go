package queue

import (
	"context"
	"time"

	"searchsync/internal/domain"
)

// Store is the durable work list. Claim semantics: DequeueBatch hands an
// entry to exactly one worker at a time by taking a lease; an entry whose
// lease lapses without a terminal mark becomes claimable again, which is what
// makes worker crashes safe under at-least-once delivery.
type Store interface {
	// Insert adds an entry. Returns false (and no error) when the
	// idempotency key already exists: duplicate enqueue is a no-op.
	Insert(ctx context.Context, e *Entry) (inserted bool, err error)

	// DequeueBatch claims up to limit due entries ordered by
	// (priority asc, enqueued_at asc), skipping entries claimed by other
	// workers. Claimed entries hold a lease for the given duration.
	DequeueBatch(ctx context.Context, limit int, lease time.Duration) ([]*Entry, error)

	// MaxPendingVersion returns the highest version among unprocessed
	// entries for the entity (0 when none). Drives coalescing.
	MaxPendingVersion(ctx context.Context, entity domain.EntityRef) (int64, error)

	// MarkApplied records a successful engine write.
	MarkApplied(ctx context.Context, id int64) error

	// MarkCoalesced terminally marks superseded entries, no engine write.
	MarkCoalesced(ctx context.Context, ids []int64) error

	// MarkRetry releases the claim after a failed attempt and schedules the
	// next one.
	MarkRetry(ctx context.Context, id int64, cause error, nextAttempt time.Time) error

	// MarkExhausted parks the entry as stuck-FAILED. It stays visible (and
	// countable) but is never claimed again without operator action.
	MarkExhausted(ctx context.Context, id int64, cause error) error

	// Depth returns the number of unprocessed, non-exhausted entries.
	Depth(ctx context.Context) (int64, error)

	// FailedCount returns the number of stuck-FAILED entries, for alerting.
	FailedCount(ctx context.Context) (int64, error)
}
