package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONObject is an opaque string-keyed map persisted as a JSON(B) object.
type JSONObject map[string]any

// Value marshals the map into JSON text. Text (not bytes) keeps the simple
// query protocol from encoding the payload as bytea.
func (o JSONObject) Value() (driver.Value, error) {
	if o == nil {
		return "{}", nil
	}
	buf, err := json.Marshal(map[string]any(o))
	if err != nil {
		return nil, err
	}
	return string(buf), nil
}

// Scan decodes a JSON object column.
func (o *JSONObject) Scan(value interface{}) error {
	raw, err := scanBytes("json object", value)
	if err != nil {
		return err
	}
	if raw == nil {
		*o = nil
		return nil
	}
	result := make(JSONObject)
	if err := json.Unmarshal(raw, &result); err != nil {
		return err
	}
	*o = result
	return nil
}

// JSONDocument stores an arbitrary JSON value verbatim (audit snapshots).
type JSONDocument []byte

// NewJSONDocument marshals v; a nil v yields a nil document (SQL NULL).
func NewJSONDocument(v any) (JSONDocument, error) {
	if v == nil {
		return nil, nil
	}
	buf, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return JSONDocument(buf), nil
}

func (d JSONDocument) Value() (driver.Value, error) {
	if len(d) == 0 {
		return nil, nil
	}
	if !json.Valid(d) {
		return nil, fmt.Errorf("json document: invalid json")
	}
	return string(d), nil
}

func (d *JSONDocument) Scan(value interface{}) error {
	raw, err := scanBytes("json document", value)
	if err != nil {
		return err
	}
	if raw == nil {
		*d = nil
		return nil
	}
	*d = append(JSONDocument(nil), raw...)
	return nil
}

// MarshalJSON emits the stored document as-is.
func (d JSONDocument) MarshalJSON() ([]byte, error) {
	if len(d) == 0 {
		return []byte("null"), nil
	}
	return d, nil
}

func scanBytes(kind string, value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return nil, fmt.Errorf("%s: unsupported scan type %T", kind, value)
	}
}
