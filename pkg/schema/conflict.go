package schema

import "fmt"

// Event is the kind of mutation a conflict-resolution directive requests.
type Event string

const (
	EventAdd    Event = "ADD"
	EventUpdate Event = "UPDATE"
	EventDelete Event = "DELETE"
	EventNone   Event = "NONE"
)

// Valid reports whether e is one of the four known events.
func (e Event) Valid() bool {
	switch e {
	case EventAdd, EventUpdate, EventDelete, EventNone:
		return true
	}
	return false
}

// SimpleEntity is the reduced view of an entity shown to the LLM during
// conflict resolution. It deliberately omits metadata.
type SimpleEntity struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Content any    `json:"content"`
}

// SimplifyEntities projects recorded entities down to SimpleEntity.
func SimplifyEntities(entities []*RecordedEntity) []SimpleEntity {
	simplified := make([]SimpleEntity, 0, len(entities))
	for _, e := range entities {
		simplified = append(simplified, SimpleEntity{ID: e.ID, Type: e.Type, Content: e.Content})
	}
	return simplified
}

// EntityUpdate is an LLM-produced directive against an entity, consumed by a
// backend and returned to the caller as the authoritative record of what
// happened.
type EntityUpdate struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Content   any            `json:"content"`
	Event     Event          `json:"event"`
	OldEntity *string        `json:"old_entity,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Validate checks the fields the LLM is responsible for.
func (u *EntityUpdate) Validate() error {
	if !u.Event.Valid() {
		return fmt.Errorf("invalid event %q", u.Event)
	}
	if u.ID == "" {
		return fmt.Errorf("entity update missing id")
	}
	return nil
}

// PlaceholderID is the synthetic id assigned to the i-th unprocessed entity
// in a conflict-resolution batch.
func PlaceholderID(i int) string {
	return fmt.Sprintf("Unprocessed_Entity_%d", i)
}
