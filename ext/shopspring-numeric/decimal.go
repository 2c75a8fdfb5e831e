// Package numeric provides a field type carrying
// github.com/shopspring/decimal values over the server's numeric text
// representation.
package numeric

import (
	"fmt"

	"github.com/anserdb/anser/field"
	"github.com/shopspring/decimal"
)

// Type describes a non-null numeric column or parameter carried as a
// decimal.Decimal.
func Type() *field.Type {
	return field.Custom(field.String, encode, decode)
}

func encode(v interface{}) (interface{}, error) {
	switch value := v.(type) {
	case decimal.Decimal:
		return value.String(), nil
	case string:
		d, err := decimal.NewFromString(value)
		if err != nil {
			return nil, err
		}
		return d.String(), nil
	}
	return nil, fmt.Errorf("cannot convert %T to decimal", v)
}

func decode(rep interface{}) (interface{}, error) {
	s, ok := rep.(string)
	if !ok {
		return nil, fmt.Errorf("expected string representation, got %T", rep)
	}
	return decimal.NewFromString(s)
}
