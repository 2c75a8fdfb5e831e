package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/anserdb/anser"
	"github.com/anserdb/anser/field"
	"github.com/anserdb/anser/internal/pqconn"
	"github.com/anserdb/anser/log/testingadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wireEvent is one scripted answer to GetResult.
type wireEvent struct {
	res *pqconn.Result
	err error
}

// fakeWire is a scripted protocol client. Send operations are recorded and
// may be failed through sendHook; GetResult pops scripted events.
type fakeWire struct {
	ops      []string
	events   []wireEvent
	next     int
	sendHook func(op string) error
	resets   int
	closed   bool
	bad      bool
	pending  bool
}

func (w *fakeWire) record(op string) error {
	w.ops = append(w.ops, op)
	if w.sendHook != nil {
		if err := w.sendHook(op); err != nil {
			w.bad = true
			return err
		}
	}
	w.pending = true
	return nil
}

func (w *fakeWire) SendQueryParams(ctx context.Context, sql string, paramOIDs []uint32, paramValues [][]byte, paramFormats []int16, singleRow bool) error {
	return w.record("queryParams:" + sql)
}

func (w *fakeWire) SendQueryPrepared(ctx context.Context, name string, paramValues [][]byte, paramFormats []int16, singleRow bool) error {
	return w.record("queryPrepared:" + name)
}

func (w *fakeWire) SendPrepare(ctx context.Context, name, sql string, paramOIDs []uint32) error {
	return w.record("prepare:" + name)
}

func (w *fakeWire) SendQuery(ctx context.Context, sql string) error {
	return w.record("query:" + sql)
}

func (w *fakeWire) GetResult(ctx context.Context) (*pqconn.Result, error) {
	if w.next >= len(w.events) {
		w.pending = false
		return nil, nil
	}
	ev := w.events[w.next]
	w.next++
	if ev.err != nil {
		w.bad = true
		return nil, ev.err
	}
	if ev.res == nil {
		w.pending = false
	}
	return ev.res, nil
}

func (w *fakeWire) PutCopyData(ctx context.Context, data []byte) error {
	return w.record("copyData:" + string(data))
}

func (w *fakeWire) PutCopyEnd(ctx context.Context) error   { return w.record("copyEnd") }
func (w *fakeWire) PutCopyFail(ctx context.Context, message string) error {
	return w.record("copyFail:" + message)
}

func (w *fakeWire) ResultPending() bool { return w.pending }
func (w *fakeWire) Status() bool        { return !w.closed && !w.bad }

func (w *fakeWire) Reset(ctx context.Context) error {
	w.resets++
	w.bad = false
	w.pending = false
	return nil
}

func (w *fakeWire) Close(ctx context.Context) error {
	w.closed = true
	return nil
}

func newTestConn(w *fakeWire) *conn {
	return &conn{
		pq:       w,
		info:     anser.DriverInfo{Scheme: "postgresql", CanConcur: true, CanPool: true},
		uri:      "postgresql://localhost/testdb",
		config:   &anser.Config{},
		prepared: make(map[int64]*preparedEntry),
		typeOIDs: make(map[string]uint32),
	}
}

func commandOK(tag string) wireEvent {
	return wireEvent{res: &pqconn.Result{Status: pqconn.CommandOK, CommandTag: tag}}
}

func tuplesOK(rows ...[][]byte) wireEvent {
	return wireEvent{res: &pqconn.Result{Status: pqconn.TuplesOK, Rows: rows, CommandTag: fmt.Sprintf("SELECT %d", len(rows))}}
}

func singleTuple(cells ...[]byte) wireEvent {
	return wireEvent{res: &pqconn.Result{Status: pqconn.SingleTuple, Rows: [][][]byte{cells}}}
}

func endOfCycle() wireEvent {
	return wireEvent{}
}

func countOps(ops []string, prefix string) int {
	n := 0
	for _, op := range ops {
		if len(op) >= len(prefix) && op[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func countExact(ops []string, op string) int {
	n := 0
	for _, o := range ops {
		if o == op {
			n++
		}
	}
	return n
}

func TestExecCommand(t *testing.T) {
	req := anser.MustNewRequest(field.Unit, field.Unit, anser.Zero, "BEGIN")
	w := &fakeWire{events: []wireEvent{
		commandOK("PREPARE"), endOfCycle(), // preparation
		commandOK("BEGIN"), endOfCycle(), // execution
	}}
	c := newTestConn(w)

	err := c.Call(context.Background(), req, nil, func(resp anser.Response) error {
		n, err := resp.AffectedCount()
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
		return resp.Exec()
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"prepare:" + statementName(req),
		"queryPrepared:" + statementName(req),
	}, w.ops)
}

func TestOneShotUsesQueryParams(t *testing.T) {
	req := anser.MustNewRequest(field.String, field.Int64, anser.ZeroOrOne,
		"SELECT oid FROM pg_type WHERE typname = ?", anser.OneShot())
	w := &fakeWire{events: []wireEvent{
		tuplesOK([][]byte{[]byte("42")}), endOfCycle(),
	}}
	c := newTestConn(w)

	row, found, err := anser.FindOpt(context.Background(), c, req, "mood")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(42), row)

	assert.Equal(t, []string{"queryParams:SELECT oid FROM pg_type WHERE typname = $1"}, w.ops)
	assert.Empty(t, c.prepared)
}

func TestEnumProbeCachesOID(t *testing.T) {
	req := anser.MustNewRequest(field.Enum("mood"), field.Unit, anser.Zero,
		"INSERT INTO moods (m) VALUES (?)")
	w := &fakeWire{events: []wireEvent{
		// enum OID probe
		tuplesOK([][]byte{[]byte("42")}), endOfCycle(),
		// preparation and execution of the insert
		commandOK("PREPARE"), endOfCycle(),
		commandOK("INSERT 0 1"), endOfCycle(),
		// second execution: no probe, no preparation
		commandOK("INSERT 0 1"), endOfCycle(),
	}}
	c := newTestConn(w)

	require.NoError(t, anser.Exec(context.Background(), c, req, "happy"))
	assert.Equal(t, uint32(42), c.typeOIDs["mood"])

	require.NoError(t, anser.Exec(context.Background(), c, req, "sad"))
	assert.Equal(t, 1, countOps(w.ops, "queryParams:SELECT oid FROM pg_catalog.pg_type"))
	assert.Equal(t, 1, countOps(w.ops, "prepare:"))
	assert.Equal(t, 2, countOps(w.ops, "queryPrepared:"))
}

func TestEnumProbeMissingType(t *testing.T) {
	req := anser.MustNewRequest(field.Enum("nosuch"), field.Unit, anser.Zero,
		"INSERT INTO moods (m) VALUES (?)")
	w := &fakeWire{events: []wireEvent{
		tuplesOK(), endOfCycle(), // probe finds nothing
	}}
	c := newTestConn(w)

	err := anser.Exec(context.Background(), c, req, "x")
	var aerr *anser.Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, anser.KindEncodeMissing, aerr.Kind)
}

func TestRowCountContract(t *testing.T) {
	req := anser.MustNewRequest(field.Unit, field.Int64, anser.One, "SELECT x FROM t")
	w := &fakeWire{events: []wireEvent{
		commandOK("PREPARE"), endOfCycle(),
		tuplesOK(), endOfCycle(), // zero rows where one was promised
	}}
	c := newTestConn(w)

	err := anser.Exec(context.Background(), c, req, nil)
	var aerr *anser.Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, anser.KindResponseRejected, aerr.Kind)
	assert.Contains(t, aerr.Error(), "Received 0 tuples, expected one.")
}

func TestSingleRowStream(t *testing.T) {
	req := anser.MustNewRequest(field.Unit, field.Int64, anser.ZeroOrMore,
		"SELECT x FROM t", anser.OneShot())
	w := &fakeWire{events: []wireEvent{
		singleTuple([]byte("1")),
		singleTuple([]byte("2")),
		singleTuple([]byte("3")),
		tuplesOK(), endOfCycle(),
	}}
	c := newTestConn(w)
	c.config = &anser.Config{UseSingleRowMode: true}

	var rows []interface{}
	err := c.Call(context.Background(), req, nil, func(resp anser.Response) error {
		st := resp.Stream()
		for {
			v, ok, err := st.Next()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			rows = append(rows, v)
		}
	})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(1), int64(2), int64(3)}, rows)
}

func TestSingleRowStreamErrorMidway(t *testing.T) {
	req := anser.MustNewRequest(field.Unit, field.Int64, anser.ZeroOrMore,
		"SELECT x FROM t", anser.OneShot())
	w := &fakeWire{events: []wireEvent{
		singleTuple([]byte("1")),
		singleTuple([]byte("2")),
		{err: errors.New("connection reset")},
	}}
	c := newTestConn(w)
	c.config = &anser.Config{UseSingleRowMode: true}

	var rows []interface{}
	var streamErr error
	err := c.Call(context.Background(), req, nil, func(resp anser.Response) error {
		st := resp.Stream()
		for {
			v, ok, err := st.Next()
			if err != nil {
				streamErr = err
				return nil
			}
			if !ok {
				return nil
			}
			rows = append(rows, v)
		}
	})
	assert.Equal(t, []interface{}{int64(1), int64(2)}, rows)
	require.Error(t, streamErr)
	// The drain after the callback reports the same failure.
	require.Error(t, err)
}

func TestSingleRowModeRequiresManyMultiplicity(t *testing.T) {
	req := anser.MustNewRequest(field.Unit, field.Int64, anser.One,
		"SELECT x FROM t", anser.OneShot())
	w := &fakeWire{events: []wireEvent{
		tuplesOK([][]byte{[]byte("7")}), endOfCycle(),
	}}
	c := newTestConn(w)
	c.config = &anser.Config{UseSingleRowMode: true}

	// Multiplicity one cannot stream; the request runs buffered.
	v, err := anser.Find(context.Background(), c, req, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)
}

func netOpError() error {
	return &net.OpError{Op: "write", Err: errors.New("broken pipe")}
}

func TestReconnectOutsideTransaction(t *testing.T) {
	req := anser.MustNewRequest(field.Unit, field.Unit, anser.Zero, "DELETE FROM t")
	failures := 1
	w := &fakeWire{events: []wireEvent{
		// After the reset: session startup, then preparation and execution.
		commandOK("SET"), endOfCycle(),
		commandOK("PREPARE"), endOfCycle(),
		commandOK("DELETE 0"), endOfCycle(),
	}}
	w.sendHook = func(op string) error {
		if countOps(w.ops, "prepare:") == 1 && failures > 0 {
			failures--
			return netOpError()
		}
		return nil
	}
	c := newTestConn(w)

	require.NoError(t, anser.Exec(context.Background(), c, req, nil))
	assert.Equal(t, 1, w.resets)
	assert.Equal(t, 1, countOps(w.ops, "query:SET TimeZone TO 'UTC'"))
}

func TestSecondConnectionFailureSurfaces(t *testing.T) {
	req := anser.MustNewRequest(field.Unit, field.Unit, anser.Zero, "DELETE FROM t")
	w := &fakeWire{events: []wireEvent{
		commandOK("SET"), endOfCycle(), // startup replay after the reset
	}}
	w.sendHook = func(op string) error {
		if countOps(w.ops, "prepare:") > 0 {
			return netOpError()
		}
		return nil
	}
	c := newTestConn(w)

	err := anser.Exec(context.Background(), c, req, nil)
	var aerr *anser.Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, anser.KindRequestFailed, aerr.Kind)
	assert.Equal(t, 1, w.resets)
}

func TestNoReconnectInsideTransaction(t *testing.T) {
	req := anser.MustNewRequest(field.Unit, field.Unit, anser.Zero, "DELETE FROM t")
	w := &fakeWire{}
	w.sendHook = func(op string) error { return netOpError() }
	c := newTestConn(w)
	c.inTx = true

	err := anser.Exec(context.Background(), c, req, nil)
	var aerr *anser.Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, anser.KindRequestFailed, aerr.Kind)
	assert.Equal(t, 0, w.resets)
}

func TestFailedPrepareNotCached(t *testing.T) {
	req := anser.MustNewRequest(field.Unit, field.Unit, anser.Zero, "BOGUS SQL")
	w := &fakeWire{events: []wireEvent{
		{res: &pqconn.Result{Status: pqconn.FatalError, Err: &pqconn.PgError{
			Severity: "ERROR", Code: "42601", Message: "syntax error",
		}}},
		endOfCycle(),
		// The second attempt prepares again and succeeds.
		commandOK("PREPARE"), endOfCycle(),
		commandOK("OK"), endOfCycle(),
	}}
	c := newTestConn(w)

	err := anser.Exec(context.Background(), c, req, nil)
	require.Error(t, err)
	assert.Empty(t, c.prepared)

	require.NoError(t, anser.Exec(context.Background(), c, req, nil))
	assert.Equal(t, 2, countOps(w.ops, "prepare:"))
	assert.Len(t, c.prepared, 1)
}

func TestDeallocate(t *testing.T) {
	req := anser.MustNewRequest(field.Unit, field.Unit, anser.Zero, "SELECT 1")
	w := &fakeWire{events: []wireEvent{
		commandOK("PREPARE"), endOfCycle(),
		commandOK("SELECT 0"), endOfCycle(),
		commandOK("DEALLOCATE"), endOfCycle(),
	}}
	c := newTestConn(w)

	require.NoError(t, anser.Exec(context.Background(), c, req, nil))
	require.Len(t, c.prepared, 1)

	require.NoError(t, c.Deallocate(context.Background(), req))
	assert.Empty(t, c.prepared)
	assert.Equal(t, 1, countOps(w.ops, "query:DEALLOCATE "+statementName(req)))

	// Deallocating an unprepared request is a no-op.
	require.NoError(t, c.Deallocate(context.Background(), req))
}

func TestTransactionFlags(t *testing.T) {
	w := &fakeWire{events: []wireEvent{
		commandOK("PREPARE"), endOfCycle(),
		commandOK("BEGIN"), endOfCycle(),
		commandOK("PREPARE"), endOfCycle(),
		commandOK("COMMIT"), endOfCycle(),
	}}
	c := newTestConn(w)

	require.NoError(t, c.Begin(context.Background()))
	assert.True(t, c.inTx)
	require.NoError(t, c.Commit(context.Background()))
	assert.False(t, c.inTx)
}

func TestRollbackClearsFlagOnFailure(t *testing.T) {
	w := &fakeWire{events: []wireEvent{
		commandOK("PREPARE"), endOfCycle(),
		commandOK("BEGIN"), endOfCycle(),
	}}
	c := newTestConn(w)
	require.NoError(t, c.Begin(context.Background()))

	w.sendHook = func(op string) error { return netOpError() }
	err := c.Rollback(context.Background())
	require.Error(t, err)
	assert.False(t, c.inTx)
}

func TestSetStatementTimeout(t *testing.T) {
	w := &fakeWire{events: []wireEvent{
		commandOK("SET"), endOfCycle(),
		commandOK("SET"), endOfCycle(),
		commandOK("SET"), endOfCycle(),
	}}
	c := newTestConn(w)

	require.NoError(t, c.SetStatementTimeout(context.Background(), 1500*time.Millisecond))
	require.NoError(t, c.SetStatementTimeout(context.Background(), time.Microsecond))
	require.NoError(t, c.SetStatementTimeout(context.Background(), 0))

	assert.Equal(t, 1, countExact(w.ops, "queryParams:SET statement_timeout TO 1500"))
	// Sub-millisecond timeouts round up to the smallest enforceable bound.
	assert.Equal(t, 1, countExact(w.ops, "queryParams:SET statement_timeout TO 1"))
	assert.Equal(t, 1, countExact(w.ops, "queryParams:SET statement_timeout TO 0"))
}

func TestConcurrentUsePanics(t *testing.T) {
	req := anser.MustNewRequest(field.Unit, field.Unit, anser.Zero, "SELECT 1", anser.OneShot())
	w := &fakeWire{events: []wireEvent{
		commandOK("SELECT 0"), endOfCycle(),
	}}
	c := newTestConn(w)

	err := c.Call(context.Background(), req, nil, func(anser.Response) error {
		assert.Panics(t, func() {
			c.Call(context.Background(), req, nil, func(anser.Response) error { return nil })
		})
		return nil
	})
	require.NoError(t, err)
}

func TestValidateResetsBrokenConnection(t *testing.T) {
	w := &fakeWire{events: []wireEvent{
		commandOK("SET"), endOfCycle(), // startup replay during the reset
	}}
	c := newTestConn(w)
	w.bad = true

	assert.True(t, c.Validate(context.Background()))
	assert.Equal(t, 1, w.resets)

	// A healthy connection validates without resetting.
	assert.True(t, c.Validate(context.Background()))
	assert.Equal(t, 1, w.resets)
}

func TestCheckReportsLiveness(t *testing.T) {
	w := &fakeWire{}
	c := newTestConn(w)

	var ok bool
	c.Check(func(report bool) { ok = report })
	assert.True(t, ok)

	w.bad = true
	c.Check(func(report bool) { ok = report })
	assert.False(t, ok)
}

type recordedLog struct {
	lines []string
}

func (r *recordedLog) Log(args ...interface{}) {
	r.lines = append(r.lines, fmt.Sprint(args...))
}

func TestCallLogsDispatchedRequests(t *testing.T) {
	req := anser.MustNewRequest(field.Unit, field.Unit, anser.Zero, "SELECT 1", anser.OneShot())
	w := &fakeWire{events: []wireEvent{
		commandOK("SELECT 0"), endOfCycle(),
	}}
	c := newTestConn(w)
	rec := &recordedLog{}
	c.config = &anser.Config{
		Logger:   testingadapter.NewLogger(rec),
		LogLevel: anser.LogLevelDebug,
	}

	require.NoError(t, anser.Exec(context.Background(), c, req, nil))
	require.Len(t, rec.lines, 1)
	assert.Contains(t, rec.lines[0], "request dispatched")
	assert.Contains(t, rec.lines[0], "query=SELECT 1")
	assert.Contains(t, rec.lines[0], "request_id=")
}

func TestCloseSuppressesTransportError(t *testing.T) {
	w := &fakeWire{}
	c := newTestConn(w)
	require.NoError(t, c.Close(context.Background()))
	assert.True(t, w.closed)
}
