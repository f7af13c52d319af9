package queue

import (
	"encoding/json"
	"time"

	"searchsync/internal/domain"
)

// Outcome is the terminal disposition of a queue entry. Empty while pending.
type Outcome string

const (
	// OutcomeApplied: the entry's payload reached the engine.
	OutcomeApplied Outcome = "APPLIED"
	// OutcomeCoalesced: a newer entry for the same entity superseded this
	// one; processed without an engine write.
	OutcomeCoalesced Outcome = "COALESCED"
	// OutcomeFailed: retries exhausted; stuck until an operator intervenes.
	OutcomeFailed Outcome = "FAILED"
)

// Entry is one persisted document operation. Rows are never deleted; terminal
// rows stay behind for audit and are archived out-of-band.
type Entry struct {
	ID             int64
	Entity         domain.EntityRef
	Operation      domain.Operation
	Payload        json.RawMessage
	Priority       int
	Version        int64
	IdempotencyKey string

	Attempts      int
	LastError     string
	EnqueuedAt    time.Time
	NextAttemptAt time.Time
	LeasedUntil   *time.Time
	ProcessedAt   *time.Time
	Outcome       Outcome
}

// Pending reports whether the entry still needs processing.
func (e *Entry) Pending() bool {
	return e.ProcessedAt == nil && e.Outcome != OutcomeFailed
}
