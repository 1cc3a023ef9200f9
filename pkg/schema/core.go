// Package schema defines the record types shared by every Kaizen component
// and the error taxonomy that crosses component boundaries.
package schema

import (
	"encoding/json"
	"time"
)

// Namespace is a named container holding a disjoint set of entities.
type Namespace struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	// NumEntities is derived from the backing store and may lag reality.
	// Nil means "not populated".
	NumEntities *int `json:"num_entities,omitempty"`
}

// Entity is a unit of content before it has been persisted. Content may be a
// string, an object or a list; non-string content is JSON-serialized at write
// time and deserialized on read.
type Entity struct {
	Type     string         `json:"type"`
	Content  any            `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RecordedEntity is an Entity that has been assigned an id and timestamp by a
// backend. (namespace, ID) is unique; CreatedAt reflects the most recent
// mutation.
type RecordedEntity struct {
	Entity
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// SerializeContent renders entity content as a string for storage and search.
// String content passes through; everything else is JSON-encoded.
func SerializeContent(content any) string {
	if s, ok := content.(string); ok {
		return s
	}
	b, err := json.Marshal(content)
	if err != nil {
		return ""
	}
	return string(b)
}

// DeserializeContent reverses SerializeContent. Strings that do not parse as
// JSON are returned unchanged.
func DeserializeContent(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	switch v.(type) {
	case map[string]any, []any:
		return v
	default:
		// Scalars round-trip as the original string form.
		return raw
	}
}
