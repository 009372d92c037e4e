package domain

import (
	"database/sql/driver"
	"fmt"
)

// Metadata is an opaque JSON document mirrored from the identity provider.
// It is replaced as a whole, never merged field by field.
type Metadata []byte

// Scan implements sql.Scanner for JSONB columns.
func (m *Metadata) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = nil
	case []byte:
		*m = append(Metadata(nil), v...)
	case string:
		*m = Metadata(v)
	default:
		return fmt.Errorf("scan metadata: unsupported type %T", src)
	}
	return nil
}

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return string(m), nil
}

// MarshalJSON embeds the document as-is.
func (m Metadata) MarshalJSON() ([]byte, error) {
	if len(m) == 0 {
		return []byte("null"), nil
	}
	return m, nil
}
