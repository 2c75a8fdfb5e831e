package anser

import (
	"sync/atomic"

	"github.com/anserdb/anser/field"
)

// Multiplicity is the static contract on how many rows a request produces.
type Multiplicity int

const (
	// Zero expects a command response with no rows.
	Zero Multiplicity = iota
	// One expects exactly one row.
	One
	// ZeroOrOne expects at most one row.
	ZeroOrOne
	// ZeroOrMore places no bound on the row count.
	ZeroOrMore
)

func (m Multiplicity) String() string {
	switch m {
	case Zero:
		return "zero"
	case One:
		return "one"
	case ZeroOrOne:
		return "zero-or-one"
	case ZeroOrMore:
		return "zero-or-more"
	}
	return "invalid"
}

// CanBeZero reports whether an empty result satisfies the contract.
func (m Multiplicity) CanBeZero() bool { return m != One }

// CanBeMany reports whether more than one row satisfies the contract.
func (m Multiplicity) CanBeMany() bool { return m == ZeroOrMore }

var requestID int64

// Request couples a query template with the types of its parameters and
// rows and a row multiplicity. A request carries a stable identity unless
// built with OneShot; drivers key their prepared-statement caches on that
// identity, so requests are normally declared once and reused.
type Request struct {
	id        int64
	oneShot   bool
	paramType *field.Type
	rowType   *field.Type
	mult      Multiplicity
	queryFn   func(DriverInfo) (*Template, error)
}

// RequestOption adjusts a request at construction time.
type RequestOption func(*Request)

// OneShot marks the request as not preparable: drivers execute it directly
// and cache nothing.
func OneShot() RequestOption {
	return func(r *Request) { r.oneShot = true }
}

// WithQueryFunc replaces the parsed query template with a function producing
// a template from driver info, for queries whose text depends on the
// dialect.
func WithQueryFunc(fn func(DriverInfo) (*Template, error)) RequestOption {
	return func(r *Request) { r.queryFn = fn }
}

// NewRequest builds a request from the parameter type, row type, row
// multiplicity, and query text. The query is parsed with ParseTemplate.
func NewRequest(paramType, rowType *field.Type, mult Multiplicity, sql string, opts ...RequestOption) (*Request, error) {
	tmpl, err := ParseTemplate(sql)
	if err != nil {
		return nil, err
	}
	r := &Request{
		id:        atomic.AddInt64(&requestID, 1),
		paramType: paramType,
		rowType:   rowType,
		mult:      mult,
		queryFn:   func(DriverInfo) (*Template, error) { return tmpl, nil },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// MustNewRequest is like NewRequest but panics on a malformed query. It is
// intended for package-level request declarations.
func MustNewRequest(paramType, rowType *field.Type, mult Multiplicity, sql string, opts ...RequestOption) *Request {
	r, err := NewRequest(paramType, rowType, mult, sql, opts...)
	if err != nil {
		panic(err)
	}
	return r
}

// ID returns the request's stable identity. One-shot requests have no
// meaningful identity.
func (r *Request) ID() int64 { return r.id }

// IsOneShot reports whether the request bypasses statement preparation.
func (r *Request) IsOneShot() bool { return r.oneShot }

// ParamType returns the parameter type descriptor.
func (r *Request) ParamType() *field.Type { return r.paramType }

// RowType returns the row type descriptor.
func (r *Request) RowType() *field.Type { return r.rowType }

// Multiplicity returns the row multiplicity contract.
func (r *Request) Multiplicity() Multiplicity { return r.mult }

// QueryTemplate produces the query template for the given driver.
func (r *Request) QueryTemplate(info DriverInfo) (*Template, error) {
	return r.queryFn(info)
}
