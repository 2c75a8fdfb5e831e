// Package pqconn is a low-level PostgreSQL client modelled on the libpq
// API surface the higher layers expect: send a query, pump typed results,
// stream COPY data, reset. It speaks the frontend/backend protocol via
// github.com/jackc/pgproto3/v2 and suspends on context cancellation.
package pqconn

import (
	"context"
	"crypto/md5"
	"crypto/tls"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/jackc/chunkreader/v2"
	"github.com/jackc/pgio"
	"github.com/jackc/pgproto3/v2"
)

// ErrTLSRefused occurs when the connection attempt requires TLS and the
// server refuses it.
var ErrTLSRefused = errors.New("server refused TLS connection")

// ResultStatus classifies a Result, mirroring libpq's ExecStatusType.
type ResultStatus int

const (
	CommandOK ResultStatus = iota
	TuplesOK
	SingleTuple
	CopyIn
	CopyOut
	CopyBoth
	BadResponse
	NonfatalError
	FatalError
	EmptyQuery
)

func (s ResultStatus) String() string {
	switch s {
	case CommandOK:
		return "command-ok"
	case TuplesOK:
		return "tuples-ok"
	case SingleTuple:
		return "single-tuple"
	case CopyIn:
		return "copy-in"
	case CopyOut:
		return "copy-out"
	case CopyBoth:
		return "copy-both"
	case BadResponse:
		return "bad-response"
	case NonfatalError:
		return "nonfatal-error"
	case FatalError:
		return "fatal-error"
	case EmptyQuery:
		return "empty-query"
	}
	return "invalid"
}

// Result is one response delivered by the server. Rows hold the raw text
// (or binary) cell values; a nil cell is SQL NULL.
type Result struct {
	Status     ResultStatus
	Fields     []pgproto3.FieldDescription
	Rows       [][][]byte
	CommandTag string
	Err        *PgError
}

// NTuples returns the number of rows in the result.
func (r *Result) NTuples() int { return len(r.Rows) }

// Conn is a connection to a PostgreSQL server. It is not safe for
// concurrent use.
type Conn struct {
	netConn           net.Conn
	frontend          *pgproto3.Frontend
	config            *Config
	pid               uint32
	secretKey         uint32
	parameterStatuses map[string]string
	txStatus          byte

	resultPending   bool
	producedInCycle bool
	singleRow       bool
	cycleFields     []pgproto3.FieldDescription

	contextWatcher *contextWatcher
	wbuf           []byte
	closed         bool
	bad            bool
}

// Connect establishes a connection, trying the primary settings and then
// each fallback in order.
func Connect(ctx context.Context, config *Config) (*Conn, error) {
	fallbacks := append([]*FallbackConfig{{
		Host:      config.Host,
		Port:      config.Port,
		TLSConfig: config.TLSConfig,
	}}, config.Fallbacks...)

	var err error
	for _, fb := range fallbacks {
		var conn *Conn
		conn, err = connectFallback(ctx, config, fb)
		if err == nil {
			return conn, nil
		}
	}
	return nil, err
}

func connectFallback(ctx context.Context, config *Config, fb *FallbackConfig) (*Conn, error) {
	c := &Conn{
		config:            config,
		parameterStatuses: make(map[string]string),
	}

	network, address := NetworkAddress(fb.Host, fb.Port)
	netConn, err := config.DialFunc(ctx, network, address)
	if err != nil {
		return nil, err
	}
	c.netConn = netConn
	c.contextWatcher = newContextWatcher(
		func() { c.netConn.SetDeadline(time.Unix(1, 0)) },
		func() { c.netConn.SetDeadline(time.Time{}) },
	)

	c.contextWatcher.Watch(ctx)
	defer c.contextWatcher.Unwatch()

	if fb.TLSConfig != nil {
		if err := c.startTLS(fb.TLSConfig); err != nil {
			netConn.Close()
			return nil, err
		}
	}

	c.frontend = pgproto3.NewFrontend(chunkreader.New(c.netConn), c.netConn)

	if err := c.startup(); err != nil {
		c.netConn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Conn) startTLS(tlsConfig *tls.Config) error {
	err := binary.Write(c.netConn, binary.BigEndian, []int32{8, 80877103})
	if err != nil {
		return err
	}

	response := make([]byte, 1)
	if _, err = io.ReadFull(c.netConn, response); err != nil {
		return err
	}
	if response[0] != 'S' {
		return ErrTLSRefused
	}

	c.netConn = tls.Client(c.netConn, tlsConfig)
	return nil
}

func (c *Conn) startup() error {
	startupMsg := pgproto3.StartupMessage{
		ProtocolVersion: pgproto3.ProtocolVersionNumber,
		Parameters:      make(map[string]string),
	}
	for k, v := range c.config.RuntimeParams {
		startupMsg.Parameters[k] = v
	}
	startupMsg.Parameters["user"] = c.config.User
	if c.config.Database != "" {
		startupMsg.Parameters["database"] = c.config.Database
	}

	if _, err := c.netConn.Write(startupMsg.Encode(nil)); err != nil {
		return err
	}

	for {
		msg, err := c.receive()
		if err != nil {
			return err
		}

		switch msg := msg.(type) {
		case *pgproto3.AuthenticationOk:
		case *pgproto3.AuthenticationCleartextPassword:
			if err := c.txPasswordMessage(c.config.Password); err != nil {
				return err
			}
		case *pgproto3.AuthenticationMD5Password:
			digestedPassword := "md5" + hexMD5(hexMD5(c.config.Password+c.config.User)+string(msg.Salt[:]))
			if err := c.txPasswordMessage(digestedPassword); err != nil {
				return err
			}
		case *pgproto3.AuthenticationSASL:
			if err := c.scramAuth(msg.AuthMechanisms); err != nil {
				return err
			}
		case *pgproto3.BackendKeyData:
			c.pid = msg.ProcessID
			c.secretKey = msg.SecretKey
		case *pgproto3.ReadyForQuery:
			return nil
		case *pgproto3.ErrorResponse:
			return errorResponseToPgError(msg)
		default:
			return fmt.Errorf("unexpected message during startup: %T", msg)
		}
	}
}

func (c *Conn) txPasswordMessage(password string) error {
	msg := &pgproto3.PasswordMessage{Password: password}
	_, err := c.netConn.Write(msg.Encode(nil))
	return err
}

func hexMD5(s string) string {
	hash := md5.New()
	io.WriteString(hash, s)
	return hex.EncodeToString(hash.Sum(nil))
}

// receive reads one backend message, folding parameter statuses and notices
// into connection state.
func (c *Conn) receive() (pgproto3.BackendMessage, error) {
	for {
		msg, err := c.frontend.Receive()
		if err != nil {
			c.bad = true
			return nil, err
		}

		switch msg := msg.(type) {
		case *pgproto3.ParameterStatus:
			c.parameterStatuses[msg.Name] = msg.Value
		case *pgproto3.NoticeResponse:
			if c.config.OnNotice != nil {
				c.config.OnNotice(noticeResponseToNotice(msg))
			}
		case *pgproto3.NotificationResponse:
			// LISTEN/NOTIFY is not part of this client's surface.
		case *pgproto3.ReadyForQuery:
			c.txStatus = msg.TxStatus
			return msg, nil
		default:
			return msg, nil
		}
	}
}

// receiveMessage is receive under a context watch.
func (c *Conn) receiveMessage(ctx context.Context) (pgproto3.BackendMessage, error) {
	if c.closed {
		return nil, ErrConnClosed
	}
	c.contextWatcher.Watch(ctx)
	defer c.contextWatcher.Unwatch()
	return c.receive()
}

func (c *Conn) send(ctx context.Context, buf []byte) error {
	if c.closed {
		return ErrConnClosed
	}
	c.contextWatcher.Watch(ctx)
	defer c.contextWatcher.Unwatch()
	if _, err := c.netConn.Write(buf); err != nil {
		c.bad = true
		return err
	}
	return nil
}

func (c *Conn) beginCycle(singleRow bool) {
	c.resultPending = true
	c.producedInCycle = false
	c.singleRow = singleRow
	c.cycleFields = nil
}

// SendQueryParams sends sql through the extended protocol with an unnamed
// statement, binding paramValues with the given OIDs and format codes.
// Results are requested in text format.
func (c *Conn) SendQueryParams(ctx context.Context, sql string, paramOIDs []uint32, paramValues [][]byte, paramFormats []int16, singleRow bool) error {
	buf := c.wbuf[:0]
	buf = (&pgproto3.Parse{Query: sql, ParameterOIDs: paramOIDs}).Encode(buf)
	buf = (&pgproto3.Bind{Parameters: paramValues, ParameterFormatCodes: paramFormats}).Encode(buf)
	buf = (&pgproto3.Describe{ObjectType: 'P'}).Encode(buf)
	buf = (&pgproto3.Execute{}).Encode(buf)
	buf = (&pgproto3.Sync{}).Encode(buf)
	c.wbuf = buf[:0]

	if err := c.send(ctx, buf); err != nil {
		return err
	}
	c.beginCycle(singleRow)
	return nil
}

// SendQueryPrepared executes the named prepared statement.
func (c *Conn) SendQueryPrepared(ctx context.Context, name string, paramValues [][]byte, paramFormats []int16, singleRow bool) error {
	buf := c.wbuf[:0]
	buf = (&pgproto3.Bind{PreparedStatement: name, Parameters: paramValues, ParameterFormatCodes: paramFormats}).Encode(buf)
	buf = (&pgproto3.Describe{ObjectType: 'P'}).Encode(buf)
	buf = (&pgproto3.Execute{}).Encode(buf)
	buf = (&pgproto3.Sync{}).Encode(buf)
	c.wbuf = buf[:0]

	if err := c.send(ctx, buf); err != nil {
		return err
	}
	c.beginCycle(singleRow)
	return nil
}

// SendPrepare creates a named prepared statement with the given parameter
// OIDs. The resulting cycle yields a CommandOK result.
func (c *Conn) SendPrepare(ctx context.Context, name, sql string, paramOIDs []uint32) error {
	buf := c.wbuf[:0]
	buf = (&pgproto3.Parse{Name: name, Query: sql, ParameterOIDs: paramOIDs}).Encode(buf)
	buf = (&pgproto3.Describe{ObjectType: 'S', Name: name}).Encode(buf)
	buf = (&pgproto3.Sync{}).Encode(buf)
	c.wbuf = buf[:0]

	if err := c.send(ctx, buf); err != nil {
		return err
	}
	c.beginCycle(false)
	return nil
}

// SendQuery sends sql through the simple query protocol.
func (c *Conn) SendQuery(ctx context.Context, sql string) error {
	buf := appendQuery(c.wbuf[:0], sql)
	c.wbuf = buf[:0]

	if err := c.send(ctx, buf); err != nil {
		return err
	}
	c.beginCycle(false)
	return nil
}

// appendQuery appends a simple protocol query message to buf.
func appendQuery(buf []byte, query string) []byte {
	buf = append(buf, 'Q')
	buf = pgio.AppendInt32(buf, int32(len(query)+5))
	buf = append(buf, query...)
	buf = append(buf, 0)
	return buf
}

// GetResult returns the next result of the current cycle, or nil when the
// cycle is complete. In single-row delivery each data row arrives as its
// own SingleTuple result, terminated by an empty TuplesOK.
func (c *Conn) GetResult(ctx context.Context) (*Result, error) {
	if !c.resultPending {
		return nil, nil
	}

	var fields []pgproto3.FieldDescription
	var rows [][][]byte
	sawRowDescription := false

	for {
		msg, err := c.receiveMessage(ctx)
		if err != nil {
			return nil, err
		}

		switch msg := msg.(type) {
		case *pgproto3.RowDescription:
			fields = copyFields(msg.Fields)
			sawRowDescription = true
			if c.singleRow {
				c.cycleFields = fields
			}
		case *pgproto3.DataRow:
			row := copyRow(msg.Values)
			if c.singleRow {
				c.producedInCycle = true
				return &Result{Status: SingleTuple, Fields: c.cycleFields, Rows: [][][]byte{row}}, nil
			}
			rows = append(rows, row)
		case *pgproto3.CommandComplete:
			c.producedInCycle = true
			status := CommandOK
			if sawRowDescription || (c.singleRow && c.cycleFields != nil) {
				status = TuplesOK
			}
			if c.singleRow {
				// The terminating result of a single-row sequence carries
				// no rows.
				rows = nil
				fields = c.cycleFields
			}
			return &Result{Status: status, Fields: fields, Rows: rows, CommandTag: string(msg.CommandTag)}, nil
		case *pgproto3.EmptyQueryResponse:
			c.producedInCycle = true
			return &Result{Status: EmptyQuery}, nil
		case *pgproto3.ErrorResponse:
			c.producedInCycle = true
			return &Result{Status: FatalError, Err: errorResponseToPgError(msg)}, nil
		case *pgproto3.CopyInResponse:
			c.producedInCycle = true
			return &Result{Status: CopyIn}, nil
		case *pgproto3.CopyOutResponse:
			c.producedInCycle = true
			return &Result{Status: CopyOut}, nil
		case *pgproto3.CopyBothResponse:
			c.producedInCycle = true
			return &Result{Status: CopyBoth}, nil
		case *pgproto3.ReadyForQuery:
			c.resultPending = false
			if !c.producedInCycle {
				// A cycle that carried only statement preparation traffic
				// reports success as a command result, the way libpq's
				// PQprepare does.
				c.producedInCycle = true
				return &Result{Status: CommandOK}, nil
			}
			return nil, nil
		case *pgproto3.ParseComplete, *pgproto3.BindComplete, *pgproto3.CloseComplete,
			*pgproto3.NoData, *pgproto3.ParameterDescription, *pgproto3.PortalSuspended:
			// Bookkeeping messages between results.
		default:
			c.producedInCycle = true
			return &Result{Status: BadResponse, Err: &PgError{
				Severity: "ERROR",
				Code:     "08P01",
				Message:  fmt.Sprintf("unexpected message %T", msg),
			}}, nil
		}
	}
}

func copyFields(fields []pgproto3.FieldDescription) []pgproto3.FieldDescription {
	out := make([]pgproto3.FieldDescription, len(fields))
	copy(out, fields)
	for i := range out {
		out[i].Name = append([]byte(nil), fields[i].Name...)
	}
	return out
}

// copyRow copies cell values out of the receive buffer, which pgproto3
// reuses between messages.
func copyRow(values [][]byte) [][]byte {
	row := make([][]byte, len(values))
	for i, v := range values {
		if v != nil {
			row[i] = append([]byte(nil), v...)
		}
	}
	return row
}

// ResultPending reports whether a cycle is mid-flight, i.e. results were
// requested and the terminating ready-for-query has not been consumed.
func (c *Conn) ResultPending() bool { return c.resultPending }

// PutCopyData sends one CopyData message.
func (c *Conn) PutCopyData(ctx context.Context, data []byte) error {
	buf := c.wbuf[:0]
	buf = append(buf, 'd')
	buf = pgio.AppendInt32(buf, int32(len(data)+4))
	buf = append(buf, data...)
	c.wbuf = buf[:0]
	return c.send(ctx, buf)
}

// PutCopyEnd terminates the COPY stream; the command result follows.
func (c *Conn) PutCopyEnd(ctx context.Context) error {
	return c.send(ctx, []byte{'c', 0, 0, 0, 4})
}

// PutCopyFail aborts the COPY stream with the given reason.
func (c *Conn) PutCopyFail(ctx context.Context, message string) error {
	buf := c.wbuf[:0]
	buf = append(buf, 'f')
	buf = pgio.AppendInt32(buf, int32(len(message)+5))
	buf = append(buf, message...)
	buf = append(buf, 0)
	c.wbuf = buf[:0]
	return c.send(ctx, buf)
}

// Status reports whether the connection is usable.
func (c *Conn) Status() bool { return !c.closed && !c.bad }

// TxStatus returns the last reported transaction status byte: 'I' idle,
// 'T' in transaction, 'E' in failed transaction.
func (c *Conn) TxStatus() byte { return c.txStatus }

// ParameterStatus returns the last reported value of a run-time parameter.
func (c *Conn) ParameterStatus(key string) string { return c.parameterStatuses[key] }

// PID returns the backend process ID.
func (c *Conn) PID() uint32 { return c.pid }

// Reset discards the current connection and establishes a fresh one with
// the same configuration, preserving the handle identity.
func (c *Conn) Reset(ctx context.Context) error {
	if !c.closed {
		c.netConn.Close()
		c.closed = true
	}

	fresh, err := Connect(ctx, c.config)
	if err != nil {
		return err
	}
	*c = *fresh
	return nil
}

// Close sends the terminate message and closes the socket. It is safe to
// call on an already closed connection.
func (c *Conn) Close(ctx context.Context) error {
	if c.closed {
		return nil
	}
	c.closed = true

	c.contextWatcher.Watch(ctx)
	defer c.contextWatcher.Unwatch()

	_, err := c.netConn.Write([]byte{'X', 0, 0, 0, 4})
	if err != nil {
		c.netConn.Close()
		return err
	}
	return c.netConn.Close()
}
