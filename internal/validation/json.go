package validation

import (
	"bytes"
	"encoding/json"

	validation "github.com/jellydator/validation"
)

// JSONDocument validates that a json.RawMessage, []byte or string holds one JSON
// value other than null.
var JSONDocument = validation.By(func(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return validation.NewError("validation_json_type", "must be a JSON document")
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil // Let Required handle empty documents
	}
	if !json.Valid(trimmed) {
		return validation.NewError("validation_json", "must be valid JSON")
	}
	if bytes.Equal(trimmed, []byte("null")) {
		return validation.NewError("validation_json_null", "must not be null")
	}
	return nil
})
