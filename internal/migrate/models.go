package migrate

import "time"

// State is the migration lifecycle. FAILED is reachable only before the swap
// (safe: nothing client-visible happened); CRITICAL only from a swap failure
// and demands manual reconciliation.
type State string

const (
	StateBuilding   State = "BUILDING"
	StatePopulating State = "POPULATING"
	StateSwapping   State = "SWAPPING"
	StateCleanup    State = "CLEANUP"
	StateDone       State = "DONE"
	StateFailed     State = "FAILED"
	StateCritical   State = "CRITICAL"
)

// Terminal reports whether the migration has settled.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCritical
}

// Migration is the persisted record of one reindex run. The row doubles as
// the single-flight marker: at most one non-terminal row may exist per alias,
// and because it lives in Postgres the exclusion survives process restarts.
type Migration struct {
	ID         string
	Alias      string
	NewIndex   string
	State      State
	Error      string
	DocsCopied int
	StartedAt  time.Time
	UpdatedAt  time.Time
	FinishedAt *time.Time
}
