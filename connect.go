package anser

import (
	"context"
	"net/url"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/anserdb/anser/pool"
)

// Connect resolves a driver from the URI scheme and opens a connection.
func Connect(ctx context.Context, uri string, config *Config) (Conn, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, NewLoadRejected(uri, "malformed URI")
	}
	d, aerr := loadDriver(u)
	if aerr != nil {
		return nil, aerr
	}

	cfg := config.clone()
	if cfg.TweaksVersion != "" {
		if _, err := semver.NewVersion(cfg.TweaksVersion); err != nil {
			return nil, NewLoadRejected(redactURI(u), "invalid tweaks version "+cfg.TweaksVersion)
		}
		if cfg.Params == nil {
			cfg.Params = make(map[string][]string)
		}
		cfg.Params["tweaks_version"] = []string{cfg.TweaksVersion}
	}

	return d.Connect(ctx, u, cfg)
}

// WithConnection opens a connection, runs f, and disconnects on every exit
// path, including a panic in f.
func WithConnection(ctx context.Context, uri string, config *Config, f func(Conn) error) error {
	conn, err := Connect(ctx, uri, config)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	return f(conn)
}

// Pool is a bounded pool of connections to one endpoint.
type Pool struct {
	p *pool.Pool
}

type poolSettings struct {
	maxSize     int
	maxIdleSize int
	maxUseCount int
	postConnect func(context.Context, Conn) error
}

// PoolOption adjusts pool construction.
type PoolOption func(*poolSettings)

// WithMaxSize bounds the total number of open connections.
func WithMaxSize(n int) PoolOption {
	return func(s *poolSettings) { s.maxSize = n }
}

// WithMaxIdleSize bounds the number of idle connections retained.
func WithMaxIdleSize(n int) PoolOption {
	return func(s *poolSettings) { s.maxIdleSize = n }
}

// WithMaxUseCount bounds how many times a connection is handed out before
// being discarded.
func WithMaxUseCount(n int) PoolOption {
	return func(s *poolSettings) { s.maxUseCount = n }
}

// WithPostConnect runs fn on each new connection before it enters the pool;
// an error fails the acquisition.
func WithPostConnect(fn func(context.Context, Conn) error) PoolOption {
	return func(s *poolSettings) { s.postConnect = fn }
}

// ConnectPool builds a connection pool for the URI. Size bounds default to
// the driver's and are narrowed by the driver's concurrency and poolability
// capabilities.
func ConnectPool(ctx context.Context, uri string, config *Config, opts ...PoolOption) (*Pool, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, NewLoadRejected(uri, "malformed URI")
	}
	d, aerr := loadDriver(u)
	if aerr != nil {
		return nil, aerr
	}
	info := d.Info()

	settings := poolSettings{maxSize: -1, maxIdleSize: -1}
	for _, opt := range opts {
		opt(&settings)
	}

	connect := func(ctx context.Context) (interface{}, error) {
		conn, err := Connect(ctx, uri, config)
		if err != nil {
			return nil, err
		}
		if settings.postConnect != nil {
			if err := settings.postConnect(ctx, conn); err != nil {
				conn.Close(ctx)
				return nil, err
			}
		}
		return conn, nil
	}

	p, err := pool.New(pool.Config{
		MaxSize:            settings.maxSize,
		MaxIdleSize:        settings.maxIdleSize,
		MaxUseCount:        settings.maxUseCount,
		CanConcur:          info.CanConcur,
		CanPool:            info.CanPool,
		DefaultMaxSize:     info.DefaultMaxSize,
		DefaultMaxIdleSize: info.DefaultMaxIdleSize,
		Connect:            connect,
		Disconnect: func(value interface{}) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			value.(Conn).Close(ctx)
			cancel()
		},
		Validate: func(ctx context.Context, value interface{}) bool {
			return value.(Conn).Validate(ctx)
		},
		Check: func(value interface{}, report func(bool)) {
			value.(Conn).Check(report)
		},
	})
	if err != nil {
		return nil, NewLoadRejected(redactURI(u), err.Error())
	}
	return &Pool{p: p}, nil
}

// WithConnection acquires a connection, runs f, and releases the connection
// on every exit path.
func (p *Pool) WithConnection(ctx context.Context, f func(Conn) error) error {
	res, err := p.p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer res.Release()
	return f(res.Value().(Conn))
}

// Drain closes all idle connections and prevents further acquisitions.
// Connections in use are closed as they are released.
func (p *Pool) Drain() {
	p.p.Drain()
}

// Stat reports pool occupancy.
func (p *Pool) Stat() pool.Stat {
	return p.p.Stat()
}
