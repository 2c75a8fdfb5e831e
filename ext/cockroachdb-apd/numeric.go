// Package numeric provides a field type carrying github.com/cockroachdb/apd
// arbitrary-precision decimals over the server's numeric text
// representation.
package numeric

import (
	"fmt"

	"github.com/anserdb/anser/field"
	"github.com/cockroachdb/apd"
)

// Type describes a non-null numeric column or parameter carried as an
// *apd.Decimal.
func Type() *field.Type {
	return field.Custom(field.String, encode, decode)
}

func encode(v interface{}) (interface{}, error) {
	switch value := v.(type) {
	case *apd.Decimal:
		return value.String(), nil
	case string:
		d, _, err := apd.NewFromString(value)
		if err != nil {
			return nil, err
		}
		return d.String(), nil
	}
	return nil, fmt.Errorf("cannot convert %T to apd.Decimal", v)
}

func decode(rep interface{}) (interface{}, error) {
	s, ok := rep.(string)
	if !ok {
		return nil, fmt.Errorf("expected string representation, got %T", rep)
	}
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return d, nil
}
