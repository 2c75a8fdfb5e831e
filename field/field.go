// Package field provides first-class descriptions of the shape of a query's
// parameters and rows. A *Type is a tree whose leaves are primitive field
// kinds and whose inner nodes combine them into tuples, options, and custom
// codings. Drivers interpret the tree at run time to bind parameters and
// decode rows.
//
// Values are carried as interface{} with the following conventions:
//
//	Unit        nil
//	Bool        bool
//	Int, Int64  int64
//	Int16       int16
//	Int32       int32
//	Float       float64
//	String      string
//	Octets      []byte
//	Date        time.Time (midnight UTC)
//	Timestamp   time.Time
//	Interval    time.Duration
//	Enum        string
//	Tup2..Tup4  []interface{} of matching arity
//	Option      nil for absent, otherwise the inner value
//	Custom      whatever the user coding produces
package field

import (
	"fmt"
	"strings"
)

// Kind identifies a primitive field type.
type Kind int8

const (
	KindBool Kind = iota
	KindInt
	KindInt16
	KindInt32
	KindInt64
	KindFloat
	KindString
	KindOctets
	KindDate
	KindTimestamp
	KindInterval
	KindEnum
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindInt16:
		return "int16"
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindOctets:
		return "octets"
	case KindDate:
		return "date"
	case KindTimestamp:
		return "timestamp"
	case KindInterval:
		return "interval"
	case KindEnum:
		return "enum"
	}
	return fmt.Sprintf("kind(%d)", int8(k))
}

// Op identifies the node structure of a Type.
type Op int8

const (
	OpUnit Op = iota
	OpField
	OpOption
	OpTup
	OpCustom
	OpAnnot
)

// CodingFunc converts between a user value and its representation value.
type CodingFunc func(interface{}) (interface{}, error)

// Type describes the shape of a parameter list or a result row. Types are
// immutable after construction and safe to share across connections.
type Type struct {
	op     Op
	kind   Kind
	enum   string
	elems  []*Type
	encode CodingFunc
	decode CodingFunc
	label  string
	length int
}

var (
	// Unit is the empty type: no parameters or no columns.
	Unit = &Type{op: OpUnit}

	Bool      = newField(KindBool)
	Int       = newField(KindInt)
	Int16     = newField(KindInt16)
	Int32     = newField(KindInt32)
	Int64     = newField(KindInt64)
	Float     = newField(KindFloat)
	String    = newField(KindString)
	Octets    = newField(KindOctets)
	Date      = newField(KindDate)
	Timestamp = newField(KindTimestamp)
	Interval  = newField(KindInterval)
)

func newField(k Kind) *Type {
	return &Type{op: OpField, kind: k, length: 1}
}

// Enum describes a value of the named user-defined enum type. The driver
// resolves the name to a type OID at call time.
func Enum(name string) *Type {
	return &Type{op: OpField, kind: KindEnum, enum: name, length: 1}
}

// Option wraps t so that the absent value maps to SQL NULL in every cell
// covered by t.
func Option(t *Type) *Type {
	return &Type{op: OpOption, elems: []*Type{t}, length: t.length}
}

// Tup2 combines two types into consecutive cells.
func Tup2(a, b *Type) *Type {
	return tup(a, b)
}

// Tup3 combines three types into consecutive cells.
func Tup3(a, b, c *Type) *Type {
	return tup(a, b, c)
}

// Tup4 combines four types into consecutive cells.
func Tup4(a, b, c, d *Type) *Type {
	return tup(a, b, c, d)
}

func tup(elems ...*Type) *Type {
	n := 0
	for _, e := range elems {
		n += e.length
	}
	return &Type{op: OpTup, elems: elems, length: n}
}

// Custom wraps rep with a user coding layer. encode converts the user value
// to a rep value before parameter binding; decode converts a decoded rep
// value back to the user value. A nil coding function marks the direction as
// unavailable and surfaces as a missing-coding error when exercised.
func Custom(rep *Type, encode, decode CodingFunc) *Type {
	return &Type{op: OpCustom, elems: []*Type{rep}, encode: encode, decode: decode, length: rep.length}
}

// Annot attaches a label to t for diagnostic purposes only.
func Annot(label string, t *Type) *Type {
	return &Type{op: OpAnnot, elems: []*Type{t}, label: label, length: t.length}
}

// Op returns the node structure of t.
func (t *Type) Op() Op { return t.op }

// Kind returns the primitive kind of an OpField node.
func (t *Type) Kind() Kind { return t.kind }

// EnumName returns the type name of an Enum field.
func (t *Type) EnumName() string { return t.enum }

// Elems returns the members of an OpTup node.
func (t *Type) Elems() []*Type { return t.elems }

// Elem returns the single child of an OpOption, OpCustom, or OpAnnot node.
func (t *Type) Elem() *Type { return t.elems[0] }

// Label returns the annotation label of an OpAnnot node.
func (t *Type) Label() string { return t.label }

// Encoder returns the user-to-rep coding of an OpCustom node, or nil when
// the direction has no coding.
func (t *Type) Encoder() CodingFunc { return t.encode }

// Decoder returns the rep-to-user coding of an OpCustom node, or nil when
// the direction has no coding.
func (t *Type) Decoder() CodingFunc { return t.decode }

// Length returns the number of primitive cells covered by t. It equals the
// parameter or row array width for the descriptor.
func (t *Type) Length() int { return t.length }

func (t *Type) String() string {
	var sb strings.Builder
	t.render(&sb)
	return sb.String()
}

func (t *Type) render(sb *strings.Builder) {
	switch t.op {
	case OpUnit:
		sb.WriteString("unit")
	case OpField:
		if t.kind == KindEnum {
			fmt.Fprintf(sb, "enum(%s)", t.enum)
		} else {
			sb.WriteString(t.kind.String())
		}
	case OpOption:
		sb.WriteString("option(")
		t.elems[0].render(sb)
		sb.WriteString(")")
	case OpTup:
		fmt.Fprintf(sb, "tup%d(", len(t.elems))
		for i, e := range t.elems {
			if i > 0 {
				sb.WriteString(", ")
			}
			e.render(sb)
		}
		sb.WriteString(")")
	case OpCustom:
		sb.WriteString("custom(")
		t.elems[0].render(sb)
		sb.WriteString(")")
	case OpAnnot:
		sb.WriteString(t.label)
		sb.WriteString("=")
		t.elems[0].render(sb)
	}
}
