package dbtypes

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// RawJSON stores a JSON document verbatim. It binds as text so jsonb columns
// accept it under the simple query protocol.
type RawJSON []byte

func (j *RawJSON) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*j = nil
		return nil
	case string:
		*j = append((*j)[:0], v...)
		return nil
	case []byte:
		*j = append((*j)[:0], v...)
		return nil
	default:
		return fmt.Errorf("RawJSON: unsupported Scan type %T", src)
	}
}

func (j RawJSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return "null", nil
	}
	if !json.Valid(j) {
		return nil, fmt.Errorf("RawJSON: invalid json document")
	}
	return string(j), nil
}

// MarshalJSON emits the stored document as-is.
func (j RawJSON) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}
