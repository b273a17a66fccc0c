package db

import (
	"encoding/json"
	"reflect"
)

// marshalJSON serializes v for storage in a TEXT column, treating nil as an
// empty JSON object so the column is never NULL.
func marshalJSON(v any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// unmarshalJSON decodes a TEXT column into dst, treating an empty string the
// same as "{}" or "[]" depending on dst's underlying kind.
func unmarshalJSON(s string, dst any) error {
	if s == "" {
		s = "{}"
		if rv := reflect.ValueOf(dst); rv.Kind() == reflect.Ptr && rv.Elem().Kind() == reflect.Slice {
			s = "[]"
		}
	}
	return json.Unmarshal([]byte(s), dst)
}
