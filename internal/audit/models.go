package audit

import "time"

// Actions emitted by the pipeline. Consumers alert on entry_exhausted and
// migration_critical; the rest form the operational trail.
const (
	ActionEntryExhausted    = "index.entry_exhausted"
	ActionMigrationStarted  = "index.migration_started"
	ActionMigrationFinished = "index.migration_finished"
	ActionMigrationFailed   = "index.migration_failed"
	ActionMigrationCritical = "index.migration_critical"
)

// Event is one operational event about the index pipeline.
type Event struct {
	Action    string            `json:"action"`
	Subject   string            `json:"subject"`
	Detail    map[string]string `json:"detail,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
