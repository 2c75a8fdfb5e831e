package anser_test

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/anserdb/anser"
	"github.com/anserdb/anser/field"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockConn implements anser.Conn for facade and pool tests.
type mockConn struct {
	d      *mockDriver
	closed bool
	valid  bool
}

func (c *mockConn) Call(ctx context.Context, req *anser.Request, args interface{}, f func(anser.Response) error) error {
	return errors.New("not implemented")
}

func (c *mockConn) Deallocate(ctx context.Context, req *anser.Request) error { return nil }
func (c *mockConn) Begin(ctx context.Context) error                          { return nil }
func (c *mockConn) Commit(ctx context.Context) error                         { return nil }
func (c *mockConn) Rollback(ctx context.Context) error                       { return nil }

func (c *mockConn) SetStatementTimeout(ctx context.Context, timeout time.Duration) error {
	return nil
}

func (c *mockConn) Populate(ctx context.Context, table string, columns []string, rowType *field.Type, rows anser.RowSource) error {
	return nil
}

func (c *mockConn) Validate(ctx context.Context) bool { return c.valid }
func (c *mockConn) Check(f func(bool))                { f(c.valid) }
func (c *mockConn) DriverInfo() anser.DriverInfo      { return c.d.info }

func (c *mockConn) Close(ctx context.Context) error {
	c.closed = true
	c.d.mu.Lock()
	c.d.closes++
	c.d.mu.Unlock()
	return nil
}

type mockDriver struct {
	info     anser.DriverInfo
	mu       sync.Mutex
	connects int
	closes   int
	conns    []*mockConn
}

func (d *mockDriver) Info() anser.DriverInfo { return d.info }

func (d *mockDriver) Connect(ctx context.Context, uri *url.URL, config *anser.Config) (anser.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connects++
	c := &mockConn{d: d, valid: true}
	d.conns = append(d.conns, c)
	return c, nil
}

var (
	registerOnce sync.Once
	concurDriver = &mockDriver{info: anser.DriverInfo{
		Scheme: "mock", CanConcur: true, CanPool: true,
		DefaultMaxSize: 4, DefaultMaxIdleSize: 4,
	}}
	serialDriver = &mockDriver{info: anser.DriverInfo{
		Scheme: "mockserial", CanConcur: false, CanPool: true,
		DefaultMaxSize: 4, DefaultMaxIdleSize: 4,
	}}
)

func registerMockDrivers() {
	registerOnce.Do(func() {
		anser.RegisterDriver("mock", concurDriver)
		anser.RegisterDriver("mockserial", serialDriver)
	})
}

func TestConnectMissingScheme(t *testing.T) {
	registerMockDrivers()
	_, err := anser.Connect(context.Background(), "just-a-path", nil)
	var aerr *anser.Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, anser.KindLoadRejected, aerr.Kind)
	assert.Contains(t, aerr.Error(), "Missing URI scheme.")
}

func TestConnectUnknownScheme(t *testing.T) {
	registerMockDrivers()
	_, err := anser.Connect(context.Background(), "nosuch://h/db", nil)
	var aerr *anser.Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, anser.KindLoadRejected, aerr.Kind)
}

func TestConnectInvalidTweaksVersion(t *testing.T) {
	registerMockDrivers()
	_, err := anser.Connect(context.Background(), "mock://h/db", &anser.Config{TweaksVersion: "not-a-version"})
	var aerr *anser.Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, anser.KindLoadRejected, aerr.Kind)
}

func TestWithConnectionClosesOnReturn(t *testing.T) {
	registerMockDrivers()
	var conn anser.Conn
	err := anser.WithConnection(context.Background(), "mock://h/db", nil, func(c anser.Conn) error {
		conn = c
		return nil
	})
	require.NoError(t, err)
	assert.True(t, conn.(*mockConn).closed)
}

func TestWithConnectionClosesOnError(t *testing.T) {
	registerMockDrivers()
	boom := errors.New("boom")
	var conn anser.Conn
	err := anser.WithConnection(context.Background(), "mock://h/db", nil, func(c anser.Conn) error {
		conn = c
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.True(t, conn.(*mockConn).closed)
}

func TestWithConnectionClosesOnPanic(t *testing.T) {
	registerMockDrivers()
	var conn anser.Conn
	assert.Panics(t, func() {
		anser.WithConnection(context.Background(), "mock://h/db", nil, func(c anser.Conn) error {
			conn = c
			panic("f exploded")
		})
	})
	require.NotNil(t, conn)
	assert.True(t, conn.(*mockConn).closed)
}

func TestConnectPoolReusesConnections(t *testing.T) {
	registerMockDrivers()
	before := concurDriver.connects

	p, err := anser.ConnectPool(context.Background(), "mock://h/db", nil,
		anser.WithMaxSize(2), anser.WithMaxIdleSize(2))
	require.NoError(t, err)
	defer p.Drain()

	for i := 0; i < 3; i++ {
		err := p.WithConnection(context.Background(), func(c anser.Conn) error { return nil })
		require.NoError(t, err)
	}
	assert.Equal(t, 1, concurDriver.connects-before)
}

func TestConnectPoolSerialDriverGating(t *testing.T) {
	registerMockDrivers()

	p, err := anser.ConnectPool(context.Background(), "mockserial://h/db", nil,
		anser.WithMaxSize(10), anser.WithMaxIdleSize(0))
	require.NoError(t, err)
	defer p.Drain()

	require.NoError(t, p.WithConnection(context.Background(), func(c anser.Conn) error { return nil }))
	stat := p.Stat()
	assert.Equal(t, 1, stat.MaxResources)
	// max_idle_size zero means always-fresh connections.
	assert.Equal(t, 0, stat.IdleResources)
}

func TestConnectPoolInvalidSizes(t *testing.T) {
	registerMockDrivers()
	_, err := anser.ConnectPool(context.Background(), "mock://h/db", nil, anser.WithMaxIdleSize(2))
	require.Error(t, err)
}

func TestConnectPoolPostConnect(t *testing.T) {
	registerMockDrivers()
	boom := errors.New("post-connect refused")

	p, err := anser.ConnectPool(context.Background(), "mock://h/db", nil,
		anser.WithMaxSize(1),
		anser.WithPostConnect(func(ctx context.Context, c anser.Conn) error { return boom }),
	)
	require.NoError(t, err)
	defer p.Drain()

	err = p.WithConnection(context.Background(), func(c anser.Conn) error { return nil })
	require.ErrorIs(t, err, boom)
}

func TestDriverDiscoveryRunsOncePerScheme(t *testing.T) {
	registerMockDrivers()
	attempts := 0
	anser.SetDriverDiscovery(func(scheme string) (anser.Driver, error) {
		attempts++
		return nil, nil
	})
	defer anser.SetDriverDiscovery(nil)

	_, err := anser.Connect(context.Background(), "dynamic://h/db", nil)
	require.Error(t, err)
	_, err = anser.Connect(context.Background(), "dynamic://h/db", nil)
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}
