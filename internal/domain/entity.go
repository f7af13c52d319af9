package domain

import "fmt"

// EntityType names a kind of indexed entity ("event", "venue", ...). Each type
// maps to one search alias.
type EntityType string

// EntityRef identifies one indexed entity within a tenant.
type EntityRef struct {
	Tenant string     `json:"tenant"`
	Type   EntityType `json:"type"`
	ID     string     `json:"id"`
}

// Key returns a stable map/grouping key for the entity.
func (e EntityRef) Key() string {
	return e.Tenant + "/" + string(e.Type) + "/" + e.ID
}

// DocID is the identifier the entity's document carries in the search engine.
// Tenant-prefixed so tenants sharing a physical index never collide.
func (e EntityRef) DocID() string {
	return e.Tenant + ":" + e.ID
}

func (e EntityRef) String() string {
	return e.Key()
}

// Validate reports whether the reference is fully populated.
func (e EntityRef) Validate() error {
	if e.Tenant == "" || e.Type == "" || e.ID == "" {
		return fmt.Errorf("entity ref requires tenant, type and id, got %q", e.Key())
	}
	return nil
}

// Operation is the closed set of document operations a queue entry can carry.
// Handling code switches over it exhaustively; an unknown value is a permanent
// error, never a silent default.
type Operation string

const (
	OpUpsert Operation = "UPSERT"
	OpDelete Operation = "DELETE"
)

// ParseOperation validates an operation received over the wire.
func ParseOperation(s string) (Operation, error) {
	switch Operation(s) {
	case OpUpsert, OpDelete:
		return Operation(s), nil
	default:
		return "", fmt.Errorf("unknown operation %q", s)
	}
}

// Write records that a producer wrote an entity at a given version. Consistency
// tokens carry a set of these as their visibility requirements.
type Write struct {
	Entity  EntityRef `json:"entity"`
	Version int64     `json:"version"`
}
