package tierq

import "time"

// Entity carries the creation and modification timestamps shared by all
// stored records. For jobs, CreatedAt doubles as the FIFO tie-break key,
// so it is immutable after construction.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity returns an Entity stamped with the current UTC time.
func NewEntity() Entity {
	return NewEntityAt(time.Now().UTC())
}

// NewEntityAt returns an Entity stamped with the given time. Use with an
// injected Clock so arrival order is deterministic in tests.
func NewEntityAt(t time.Time) Entity {
	return Entity{CreatedAt: t, UpdatedAt: t}
}

// Touch sets UpdatedAt to the given time.
func (e *Entity) Touch(t time.Time) {
	e.UpdatedAt = t
}
