package postgres

import (
	"fmt"
	"strconv"
	"time"

	"github.com/anserdb/anser"
	"github.com/anserdb/anser/field"
)

const (
	textFormat   = int16(0)
	binaryFormat = int16(1)
)

// oidOfKind returns the parameter OID for a primitive field kind. Enum
// fields are resolved through the connection's type OID cache instead.
func oidOfKind(k field.Kind) uint32 {
	switch k {
	case field.KindBool:
		return boolOID
	case field.KindInt, field.KindInt64:
		return int8OID
	case field.KindInt16:
		return int2OID
	case field.KindInt32:
		return int4OID
	case field.KindFloat:
		return float8OID
	case field.KindString:
		return unknownOID
	case field.KindOctets:
		return byteaOID
	case field.KindDate:
		return dateOID
	case field.KindTimestamp:
		return timestamptzOID
	case field.KindInterval:
		return intervalOID
	}
	return unknownOID
}

// initParamTypes walks the parameter descriptor left to right, assigning
// each field leaf its OID and format code. Only octets are bound in binary
// format.
func (c *conn) initParamTypes(oids []uint32, formats []int16, t *field.Type, query string) *anser.Error {
	i, aerr := c.walkParamTypes(oids, formats, t, 0, query)
	if aerr != nil {
		return aerr
	}
	if i != t.Length() {
		return &anser.Error{Kind: anser.KindEncodeRejected, URI: c.uri, Query: query,
			Msg: fmt.Sprintf("field type %s covers %d cells, walked %d", t, t.Length(), i)}
	}
	return nil
}

func (c *conn) walkParamTypes(oids []uint32, formats []int16, t *field.Type, i int, query string) (int, *anser.Error) {
	switch t.Op() {
	case field.OpUnit:
		return i, nil
	case field.OpField:
		var oid uint32
		if t.Kind() == field.KindEnum {
			var ok bool
			oid, ok = c.typeOIDs[t.EnumName()]
			if !ok {
				return i, anser.NewEncodeMissing(c.uri, query, t.String())
			}
		} else {
			oid = oidOfKind(t.Kind())
		}
		oids[i] = oid
		if oid == byteaOID {
			formats[i] = binaryFormat
		} else {
			formats[i] = textFormat
		}
		return i + 1, nil
	case field.OpOption, field.OpAnnot:
		return c.walkParamTypes(oids, formats, t.Elem(), i, query)
	case field.OpCustom:
		return c.walkParamTypes(oids, formats, t.Elem(), i, query)
	case field.OpTup:
		var aerr *anser.Error
		for _, e := range t.Elems() {
			i, aerr = c.walkParamTypes(oids, formats, e, i, query)
			if aerr != nil {
				return i, aerr
			}
		}
		return i, nil
	}
	return i, anser.NewEncodeMissing(c.uri, query, t.String())
}

// bindParams encodes args against the parameter descriptor into the wire
// value array.
func (c *conn) bindParams(t *field.Type, args interface{}, query string) ([][]byte, *anser.Error) {
	values := make([][]byte, t.Length())
	i, aerr := c.encodeValue(values, t, args, 0, query)
	if aerr != nil {
		return nil, aerr
	}
	if i != t.Length() {
		return nil, &anser.Error{Kind: anser.KindEncodeRejected, URI: c.uri, Query: query,
			Msg: fmt.Sprintf("field type %s covers %d cells, encoded %d", t, t.Length(), i)}
	}
	return values, nil
}

func (c *conn) encodeValue(values [][]byte, t *field.Type, v interface{}, i int, query string) (int, *anser.Error) {
	switch t.Op() {
	case field.OpUnit:
		return i, nil
	case field.OpField:
		cell, err := encodeField(t.Kind(), v)
		if err != nil {
			return i, anser.NewEncodeRejected(c.uri, query, t.String(), err)
		}
		values[i] = cell
		return i + 1, nil
	case field.OpOption:
		if v == nil {
			// All cells covered by the inner type stay NULL.
			return i + t.Length(), nil
		}
		return c.encodeValue(values, t.Elem(), v, i, query)
	case field.OpAnnot:
		return c.encodeValue(values, t.Elem(), v, i, query)
	case field.OpCustom:
		encode := t.Encoder()
		if encode == nil {
			return i, anser.NewEncodeMissing(c.uri, query, t.String())
		}
		rep, err := encode(v)
		if err != nil {
			return i, anser.NewEncodeRejected(c.uri, query, t.String(), err)
		}
		return c.encodeValue(values, t.Elem(), rep, i, query)
	case field.OpTup:
		tuple, ok := v.([]interface{})
		if !ok {
			return i, anser.NewEncodeRejected(c.uri, query, t.String(),
				fmt.Errorf("expected []interface{}, got %T", v))
		}
		if len(tuple) != len(t.Elems()) {
			return i, anser.NewEncodeRejected(c.uri, query, t.String(),
				fmt.Errorf("expected %d members, got %d", len(t.Elems()), len(tuple)))
		}
		var aerr *anser.Error
		for j, e := range t.Elems() {
			i, aerr = c.encodeValue(values, e, tuple[j], i, query)
			if aerr != nil {
				return i, aerr
			}
		}
		return i, nil
	}
	return i, anser.NewEncodeMissing(c.uri, query, t.String())
}

// encodeField renders a primitive value in the server's text representation,
// except octets which are bound raw in binary format.
func encodeField(k field.Kind, v interface{}) ([]byte, error) {
	switch k {
	case field.KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, typeError("bool", v)
		}
		if b {
			return []byte("t"), nil
		}
		return []byte("f"), nil
	case field.KindInt, field.KindInt64:
		n, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		return strconv.AppendInt(nil, n, 10), nil
	case field.KindInt16:
		switch n := v.(type) {
		case int16:
			return strconv.AppendInt(nil, int64(n), 10), nil
		case int:
			return strconv.AppendInt(nil, int64(n), 10), nil
		}
		return nil, typeError("int16", v)
	case field.KindInt32:
		switch n := v.(type) {
		case int32:
			return strconv.AppendInt(nil, int64(n), 10), nil
		case int:
			return strconv.AppendInt(nil, int64(n), 10), nil
		}
		return nil, typeError("int32", v)
	case field.KindFloat:
		f, ok := v.(float64)
		if !ok {
			return nil, typeError("float64", v)
		}
		return strconv.AppendFloat(nil, f, 'g', 17, 64), nil
	case field.KindString:
		s, ok := v.(string)
		if !ok {
			return nil, typeError("string", v)
		}
		return []byte(s), nil
	case field.KindEnum:
		s, ok := v.(string)
		if !ok {
			return nil, typeError("string", v)
		}
		return []byte(s), nil
	case field.KindOctets:
		b, ok := v.([]byte)
		if !ok {
			return nil, typeError("[]byte", v)
		}
		return b, nil
	case field.KindDate:
		t, ok := v.(time.Time)
		if !ok {
			return nil, typeError("time.Time", v)
		}
		return []byte(t.UTC().Format("2006-01-02")), nil
	case field.KindTimestamp:
		t, ok := v.(time.Time)
		if !ok {
			return nil, typeError("time.Time", v)
		}
		return []byte(t.UTC().Format("2006-01-02 15:04:05.999999") + "+00"), nil
	case field.KindInterval:
		d, ok := v.(time.Duration)
		if !ok {
			return nil, typeError("time.Duration", v)
		}
		return []byte(encodeInterval(d)), nil
	}
	return nil, fmt.Errorf("unsupported field kind %s", k)
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int16:
		return int64(n), nil
	}
	return 0, typeError("int64", v)
}

func typeError(want string, got interface{}) error {
	return fmt.Errorf("expected %s, got %T", want, got)
}

// encodeInterval renders a duration in the day-time interval form the
// server accepts, e.g. "1 days 02:03:04.500000".
func encodeInterval(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second
	d -= seconds * time.Second
	micros := d / time.Microsecond

	return fmt.Sprintf("%s%d days %s%02d:%02d:%02d.%06d", sign, days, sign, hours, minutes, seconds, micros)
}
