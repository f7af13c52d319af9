package ledger

import (
	"time"

	"searchsync/internal/domain"
)

// Status is the index state recorded for an entity.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusIndexed Status = "INDEXED"
	StatusFailed  Status = "FAILED"
	// StatusRemoved is the terminal marker a DELETE leaves behind. The row is
	// kept so the version sequence stays monotonic if a stale UPSERT for the
	// entity arrives later.
	StatusRemoved Status = "REMOVED"
)

// IndexVersion is the ledger row: the highest index version reached per
// entity. version never decreases; StatusIndexed means the engine holds a
// document reflecting exactly that version or later.
type IndexVersion struct {
	Entity     domain.EntityRef
	Version    int64
	Status     Status
	RetryCount int
	LastError  string
	IndexedAt  *time.Time
	UpdatedAt  time.Time
}

// Visible reports whether a reader at requiredVersion can trust the index for
// this entity. A removed entity at or past the required version counts: the
// deletion itself is what became visible.
func (v *IndexVersion) Visible(requiredVersion int64) bool {
	if v.Status != StatusIndexed && v.Status != StatusRemoved {
		return false
	}
	return v.Version >= requiredVersion
}
