package postgres

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/anserdb/anser"
	"github.com/anserdb/anser/field"
	"github.com/anserdb/anser/internal/pqconn"
)

// wire is the slice of the protocol client the dispatcher drives. It is an
// interface so request handling can be exercised against a scripted fake.
type wire interface {
	SendQueryParams(ctx context.Context, sql string, paramOIDs []uint32, paramValues [][]byte, paramFormats []int16, singleRow bool) error
	SendQueryPrepared(ctx context.Context, name string, paramValues [][]byte, paramFormats []int16, singleRow bool) error
	SendPrepare(ctx context.Context, name, sql string, paramOIDs []uint32) error
	SendQuery(ctx context.Context, sql string) error
	GetResult(ctx context.Context) (*pqconn.Result, error)
	PutCopyData(ctx context.Context, data []byte) error
	PutCopyEnd(ctx context.Context) error
	PutCopyFail(ctx context.Context, message string) error
	ResultPending() bool
	Status() bool
	Reset(ctx context.Context) error
	Close(ctx context.Context) error
}

// conn is a single connection to a PostgreSQL server. It owns its prepared
// statement table and type OID cache and shares neither with other
// connections. A reconnect clears the prepared statement table; the type
// OID cache is kept.
type conn struct {
	pq       wire
	info     anser.DriverInfo
	uri      string
	config   *anser.Config
	prepared map[int64]*preparedEntry
	typeOIDs map[string]uint32
	inUse    bool
	inTx     bool
	poisoned bool
}

var (
	beginRequest    = anser.MustNewRequest(field.Unit, field.Unit, anser.Zero, "BEGIN")
	commitRequest   = anser.MustNewRequest(field.Unit, field.Unit, anser.Zero, "COMMIT")
	rollbackRequest = anser.MustNewRequest(field.Unit, field.Unit, anser.Zero, "ROLLBACK")
)

func (c *conn) log(ctx context.Context, level anser.LogLevel, msg string, data map[string]interface{}) {
	if c.config.ShouldLog(level) {
		c.config.Logger.Log(ctx, level, msg, data)
	}
}

// usingDB serialises access to the connection. Concurrent use is a
// programming error and panics rather than queueing. A connection whose
// previous request left the wire mid-flight is reset before reuse.
func (c *conn) usingDB(ctx context.Context, f func() error) error {
	if c.inUse {
		panic("postgres: connection used concurrently")
	}
	c.inUse = true
	defer func() { c.inUse = false }()

	if c.poisoned {
		if aerr := c.reset(ctx); aerr != nil {
			return aerr
		}
	}

	err := f()
	if c.pq.ResultPending() {
		c.poisoned = true
	}
	return err
}

// reset clears the prepared-statement cache, re-establishes the underlying
// connection, and replays session startup. The type OID cache survives:
// OIDs are stable for the life of the catalog entry.
func (c *conn) reset(ctx context.Context) *anser.Error {
	c.prepared = make(map[int64]*preparedEntry)
	c.poisoned = false
	c.inTx = false
	if err := c.pq.Reset(ctx); err != nil {
		return anser.NewConnectFailed(c.uri, err)
	}
	if aerr := c.setTimeZoneUTC(ctx); aerr != nil {
		return anser.NewPostConnect(c.uri, aerr)
	}
	return nil
}

func (c *conn) setTimeZoneUTC(ctx context.Context) *anser.Error {
	const sql = "SET TimeZone TO 'UTC'"
	if err := c.pq.SendQuery(ctx, sql); err != nil {
		return anser.NewRequestFailed(c.uri, sql, err)
	}
	res, aerr := c.getFinalResult(ctx, sql)
	if aerr != nil {
		return aerr
	}
	return c.checkQueryResult(anser.Zero, false, res, sql)
}

// retryOnConnectionError runs f, and when it fails with a lost connection
// outside a transaction, resets once and retries once. Inside a transaction
// session state would be silently lost, so the original error surfaces.
func (c *conn) retryOnConnectionError(ctx context.Context, f func() *anser.Error) *anser.Error {
	aerr := f()
	if aerr == nil {
		return nil
	}
	if c.inTx || aerr.Kind != anser.KindRequestFailed || !pqconn.IsConnectionError(aerr.Err) {
		return aerr
	}

	c.log(ctx, anser.LogLevelWarn, "connection lost, resetting and retrying",
		map[string]interface{}{"err": aerr})
	if rerr := c.reset(ctx); rerr != nil {
		return aerr
	}
	return f()
}

// Call dispatches req and hands the response to f. The response must not
// escape f: single-row responses read from the wire while f runs, and any
// rows f leaves unread are drained before Call returns.
func (c *conn) Call(ctx context.Context, req *anser.Request, args interface{}, f func(anser.Response) error) error {
	if aerr := c.probeEnums(ctx, req.ParamType()); aerr != nil {
		return aerr
	}

	return c.usingDB(ctx, func() error {
		var resp anser.Response
		var queryText string
		aerr := c.retryOnConnectionError(ctx, func() *anser.Error {
			entry, aerr := c.preparedFor(ctx, req)
			if aerr != nil {
				return aerr
			}
			queryText = entry.queryText
			values, aerr := c.bindParams(req.ParamType(), args, entry.queryText)
			if aerr != nil {
				return aerr
			}

			var err error
			if req.IsOneShot() {
				err = c.pq.SendQueryParams(ctx, entry.queryText, entry.paramOIDs, values, entry.paramFormats, entry.singleRow)
			} else {
				err = c.pq.SendQueryPrepared(ctx, entry.name, values, entry.paramFormats, entry.singleRow)
			}
			if err != nil {
				return anser.NewRequestFailed(c.uri, entry.queryText, err)
			}

			if entry.singleRow {
				resp = &singleRowResponse{c: c, ctx: ctx, query: entry.queryText, rowType: req.RowType()}
				return nil
			}

			res, aerr := c.getFinalResult(ctx, entry.queryText)
			if aerr != nil {
				return aerr
			}
			if aerr := c.checkQueryResult(req.Multiplicity(), false, res, entry.queryText); aerr != nil {
				return aerr
			}
			resp = &completeResponse{c: c, query: entry.queryText, rowType: req.RowType(), res: res}
			return nil
		})
		if aerr != nil {
			return aerr
		}
		c.log(ctx, anser.LogLevelDebug, "request dispatched", map[string]interface{}{
			"request_id": req.ID(),
			"query":      queryText,
		})

		err := f(resp)
		if sr, ok := resp.(*singleRowResponse); ok {
			if derr := sr.drain(); derr != nil && err == nil {
				err = derr
			}
		}
		return err
	})
}

// Begin opens a transaction. While it is open, transparent reconnection is
// disabled.
func (c *conn) Begin(ctx context.Context) error {
	if err := anser.Exec(ctx, c, beginRequest, nil); err != nil {
		return err
	}
	c.inTx = true
	return nil
}

// Commit closes the transaction. The transaction flag clears even on
// failure: the session is no longer in a known transaction state.
func (c *conn) Commit(ctx context.Context) error {
	err := anser.Exec(ctx, c, commitRequest, nil)
	c.inTx = false
	return err
}

// Rollback aborts the transaction. The transaction flag clears even on
// failure.
func (c *conn) Rollback(ctx context.Context) error {
	err := anser.Exec(ctx, c, rollbackRequest, nil)
	c.inTx = false
	return err
}

// SetStatementTimeout bounds server-side statement execution. A
// non-positive timeout disables the bound.
func (c *conn) SetStatementTimeout(ctx context.Context, timeout time.Duration) error {
	ms := int64(0)
	if timeout > 0 {
		ms = int64(math.Round(float64(timeout) / float64(time.Millisecond)))
		if ms < 1 {
			ms = 1
		}
	}
	req, err := anser.NewRequest(field.Unit, field.Unit, anser.Zero,
		fmt.Sprintf("SET statement_timeout TO %d", ms), anser.OneShot())
	if err != nil {
		return err
	}
	return anser.Exec(ctx, c, req, nil)
}

// Validate reports whether the connection is usable, attempting a reset
// when it is not.
func (c *conn) Validate(ctx context.Context) bool {
	if c.pq.Status() && !c.poisoned && !c.pq.ResultPending() {
		return true
	}
	return c.reset(ctx) == nil
}

// Check invokes f with the connection's liveness.
func (c *conn) Check(f func(ok bool)) {
	f(c.pq.Status())
}

// DriverInfo describes the driver serving this connection.
func (c *conn) DriverInfo() anser.DriverInfo {
	return c.info
}

// Close disconnects. A transport error during disconnect is logged, not
// surfaced: the connection is gone either way.
func (c *conn) Close(ctx context.Context) error {
	if c.inUse {
		panic("postgres: connection closed while in use")
	}
	if err := c.pq.Close(ctx); err != nil {
		c.log(ctx, anser.LogLevelWarn, "error during disconnect",
			map[string]interface{}{"err": err})
	}
	return nil
}
