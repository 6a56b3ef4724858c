package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/siherrmann/cohortflow/helper"
)

// Metadata is free-form JSONB attached to observations and flow snapshots,
// e.g. the query parameters a snapshot was built with.
type Metadata map[string]interface{}

// Value implements driver.Valuer. A nil map is stored as an empty object.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for JSONB columns.
func (m *Metadata) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		return m.decode(v)
	case string:
		return m.decode([]byte(v))
	case Metadata:
		*m = v
		return nil
	default:
		return helper.NewError("scan metadata", fmt.Errorf("unsupported type %T", value))
	}
}

func (m *Metadata) decode(b []byte) error {
	decoded := Metadata{}
	if err := json.Unmarshal(b, &decoded); err != nil {
		return helper.NewError("decode metadata", err)
	}
	*m = decoded
	return nil
}
