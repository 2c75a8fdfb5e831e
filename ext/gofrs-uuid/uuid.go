// Package uuid provides a field type carrying github.com/gofrs/uuid values
// over the server's uuid text representation.
package uuid

import (
	"fmt"

	"github.com/anserdb/anser/field"
	"github.com/gofrs/uuid"
)

// Type describes a non-null uuid column or parameter. Values are
// uuid.UUID; strings in canonical form are accepted on encode.
func Type() *field.Type {
	return field.Custom(field.String, encode, decode)
}

func encode(v interface{}) (interface{}, error) {
	switch value := v.(type) {
	case uuid.UUID:
		return value.String(), nil
	case [16]byte:
		return uuid.UUID(value).String(), nil
	case string:
		u, err := uuid.FromString(value)
		if err != nil {
			return nil, err
		}
		return u.String(), nil
	}
	return nil, fmt.Errorf("cannot convert %T to UUID", v)
}

func decode(rep interface{}) (interface{}, error) {
	s, ok := rep.(string)
	if !ok {
		return nil, fmt.Errorf("expected string representation, got %T", rep)
	}
	return uuid.FromString(s)
}
