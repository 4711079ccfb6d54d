package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// JSONBMap is the bun column type backing every jsonb column in this
// package: node configs, execution context, node input/output documents,
// event payloads.
type JSONBMap map[string]any

// Value implements driver.Valuer.
func (j JSONBMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (j *JSONBMap) Scan(value any) error {
	if value == nil {
		*j = make(JSONBMap)
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			b = []byte(s)
		} else {
			return errors.New("failed to scan JSONBMap: unsupported type")
		}
	}
	if len(b) == 0 {
		*j = make(JSONBMap)
		return nil
	}
	return json.Unmarshal(b, j)
}
