package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// RawDocument stores an entire serialized Result Document (or rusage
// record) verbatim in a TEXT column, for endpoints that hand the raw
// JSON back to a caller rather than projecting individual fields —
// adapted from the teacher's JSONMap scan/value pair, narrowed from an
// unordered map[string]any to an opaque byte payload since this
// dashboard re-emits the document's own key order rather than
// reconstructing it.
type RawDocument []byte

func (d *RawDocument) Scan(value any) error {
	if value == nil {
		*d = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*d = append(RawDocument(nil), v...)
	case string:
		*d = RawDocument(v)
	default:
		return fmt.Errorf("cannot scan %T into RawDocument", value)
	}
	return nil
}

func (d RawDocument) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	if !json.Valid(d) {
		return nil, fmt.Errorf("RawDocument is not valid JSON")
	}
	return []byte(d), nil
}
