package anser

import (
	"context"
	"time"

	"github.com/anserdb/anser/field"
)

// Response is the result of a dispatched request. A complete response is
// backed by a buffered server result; a streaming response (single-row
// mode) fetches rows from the wire as they are consumed. A Response is only
// valid inside the callback passed to Conn.Call.
type Response interface {
	// Exec discards the response content. It never fails: the dispatcher
	// has already verified the response against the request's contract.
	Exec() error

	// ReturnedCount returns the number of rows. It is unsupported on
	// streaming responses.
	ReturnedCount() (int, error)

	// AffectedCount returns the number of rows affected by the command. It
	// is unsupported on streaming responses.
	AffectedCount() (int64, error)

	// Find decodes the first row. The dispatcher has verified that exactly
	// one row is present for requests with multiplicity One.
	Find() (interface{}, error)

	// FindOpt decodes the first row if present.
	FindOpt() (interface{}, bool, error)

	// Fold applies f to each row in order, threading the accumulator.
	Fold(acc interface{}, f func(row, acc interface{}) (interface{}, error)) (interface{}, error)

	// Iter applies f to each row in order.
	Iter(f func(row interface{}) error) error

	// Stream returns a lazy row sequence. The stream is exhausted, not the
	// response, when consumed partially.
	Stream() Stream
}

// Stream is a lazy row sequence. Next returns (row, true, nil) for each
// row, (nil, false, nil) at the end, and (nil, false, err) on failure.
type Stream interface {
	Next() (interface{}, bool, error)
}

// RowSource supplies rows for bulk loading. Next advances to the next row
// and reports whether one exists; Values returns the current row; Err
// returns the error that stopped iteration, if any.
type RowSource interface {
	Next() bool
	Values() (interface{}, error)
	Err() error
}

type sliceRowSource struct {
	rows []interface{}
	idx  int
}

// RowsFromSlice returns a RowSource yielding the given rows.
func RowsFromSlice(rows []interface{}) RowSource {
	return &sliceRowSource{rows: rows, idx: -1}
}

func (s *sliceRowSource) Next() bool {
	if s.idx+1 >= len(s.rows) {
		return false
	}
	s.idx++
	return true
}

func (s *sliceRowSource) Values() (interface{}, error) { return s.rows[s.idx], nil }

func (s *sliceRowSource) Err() error { return nil }

// Conn is a single database connection. A connection serialises requests:
// concurrent use is a programming error and fails loudly rather than
// queueing.
type Conn interface {
	// Call dispatches req with the given arguments and invokes f with the
	// response. The response must not escape f.
	Call(ctx context.Context, req *Request, args interface{}, f func(Response) error) error

	// Deallocate releases the prepared statement cached for req on this
	// connection, if any.
	Deallocate(ctx context.Context, req *Request) error

	// Begin, Commit, and Rollback delimit a transaction. While a
	// transaction is open the connection will not transparently reconnect.
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// SetStatementTimeout bounds server-side statement execution. A zero
	// or negative timeout disables the bound.
	SetStatementTimeout(ctx context.Context, timeout time.Duration) error

	// Populate bulk-loads rows into the named table columns.
	Populate(ctx context.Context, table string, columns []string, rowType *field.Type, rows RowSource) error

	// Validate reports whether the connection is usable, attempting a
	// reset when it is not.
	Validate(ctx context.Context) bool

	// Check invokes f with the connection's current liveness.
	Check(f func(ok bool))

	// DriverInfo describes the driver serving this connection.
	DriverInfo() DriverInfo

	// Close disconnects. Transport errors during disconnect are logged and
	// suppressed.
	Close(ctx context.Context) error
}

// Exec dispatches a request and discards the response.
func Exec(ctx context.Context, c Conn, req *Request, args interface{}) error {
	return c.Call(ctx, req, args, func(resp Response) error {
		return resp.Exec()
	})
}

// Find dispatches a request expecting exactly one row and decodes it.
func Find(ctx context.Context, c Conn, req *Request, args interface{}) (interface{}, error) {
	var row interface{}
	err := c.Call(ctx, req, args, func(resp Response) error {
		var err error
		row, err = resp.Find()
		return err
	})
	return row, err
}

// FindOpt dispatches a request expecting at most one row and decodes it if
// present.
func FindOpt(ctx context.Context, c Conn, req *Request, args interface{}) (interface{}, bool, error) {
	var row interface{}
	var ok bool
	err := c.Call(ctx, req, args, func(resp Response) error {
		var err error
		row, ok, err = resp.FindOpt()
		return err
	})
	return row, ok, err
}

// Collect dispatches a request and gathers all rows into a slice.
func Collect(ctx context.Context, c Conn, req *Request, args interface{}) ([]interface{}, error) {
	var rows []interface{}
	err := c.Call(ctx, req, args, func(resp Response) error {
		return resp.Iter(func(row interface{}) error {
			rows = append(rows, row)
			return nil
		})
	})
	return rows, err
}

// Iter dispatches a request and applies f to each row.
func Iter(ctx context.Context, c Conn, req *Request, args interface{}, f func(row interface{}) error) error {
	return c.Call(ctx, req, args, func(resp Response) error {
		return resp.Iter(f)
	})
}

// Fold dispatches a request and folds f over the rows.
func Fold(ctx context.Context, c Conn, req *Request, args interface{}, acc interface{}, f func(row, acc interface{}) (interface{}, error)) (interface{}, error) {
	var out interface{}
	err := c.Call(ctx, req, args, func(resp Response) error {
		var err error
		out, err = resp.Fold(acc, f)
		return err
	})
	return out, err
}
