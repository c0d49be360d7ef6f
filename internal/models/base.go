package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Timestamps contains the bookkeeping fields shared by stored records
type Timestamps struct {
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Frequencies is a list of frequencies in Hz stored as a JSON array
type Frequencies []uint32

// Value implements driver.Valuer interface
func (f Frequencies) Value() (driver.Value, error) {
	if f == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(f)
}

// Scan implements sql.Scanner interface
func (f *Frequencies) Scan(value interface{}) error {
	if value == nil {
		*f = nil
		return nil
	}

	switch data := value.(type) {
	case []byte:
		return json.Unmarshal(data, f)
	case string:
		return json.Unmarshal([]byte(data), f)
	default:
		return fmt.Errorf("scan frequencies: unexpected type %T", value)
	}
}

// Variables represents a JSON object for storing arbitrary data
type Variables map[string]interface{}

// Value implements driver.Valuer interface
func (v Variables) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Scan implements sql.Scanner interface
func (v *Variables) Scan(value interface{}) error {
	if value == nil {
		*v = make(Variables)
		return nil
	}

	switch data := value.(type) {
	case []byte:
		return json.Unmarshal(data, v)
	case string:
		return json.Unmarshal([]byte(data), v)
	default:
		return fmt.Errorf("scan variables: unexpected type %T", value)
	}
}
