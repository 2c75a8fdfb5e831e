package anser

import (
	"context"
	"net/url"
	"sync"
)

// DriverInfo describes a driver's dialect and capabilities.
type DriverInfo struct {
	// Scheme is the primary URI scheme of the driver.
	Scheme string

	// CanConcur reports whether distinct connections may be used
	// concurrently.
	CanConcur bool

	// CanPool reports whether idle connections remain usable and may be
	// kept in a pool.
	CanPool bool

	// DefaultMaxSize and DefaultMaxIdleSize are the pool bounds applied
	// when the caller sets none.
	DefaultMaxSize     int
	DefaultMaxIdleSize int
}

// Driver is implemented by database back ends. Drivers register themselves
// with RegisterDriver, typically from an init function.
type Driver interface {
	Info() DriverInfo
	Connect(ctx context.Context, uri *url.URL, config *Config) (Conn, error)
}

var (
	driverMu        sync.Mutex
	drivers         = make(map[string]Driver)
	discoveryTried  = make(map[string]bool)
	driverDiscovery func(scheme string) (Driver, error)
)

// RegisterDriver makes a driver available under the given URI scheme. It
// panics on a duplicate scheme, which indicates two drivers fighting over
// the same namespace.
func RegisterDriver(scheme string, d Driver) {
	driverMu.Lock()
	defer driverMu.Unlock()
	if _, dup := drivers[scheme]; dup {
		panic("anser: RegisterDriver called twice for scheme " + scheme)
	}
	drivers[scheme] = d
}

// SetDriverDiscovery installs a hook consulted at most once per scheme when
// no registered driver matches, e.g. to load drivers dynamically.
func SetDriverDiscovery(fn func(scheme string) (Driver, error)) {
	driverMu.Lock()
	defer driverMu.Unlock()
	driverDiscovery = fn
}

func loadDriver(uri *url.URL) (Driver, *Error) {
	if uri.Scheme == "" {
		return nil, NewLoadRejected(redactURI(uri), "Missing URI scheme.")
	}

	driverMu.Lock()
	defer driverMu.Unlock()

	if d, ok := drivers[uri.Scheme]; ok {
		return d, nil
	}
	if driverDiscovery != nil && !discoveryTried[uri.Scheme] {
		discoveryTried[uri.Scheme] = true
		d, err := driverDiscovery(uri.Scheme)
		if err != nil {
			return nil, &Error{Kind: KindLoadRejected, URI: redactURI(uri), Msg: "driver discovery failed", Err: err}
		}
		if d != nil {
			drivers[uri.Scheme] = d
			return d, nil
		}
	}
	return nil, NewLoadRejected(redactURI(uri), "no driver for scheme "+uri.Scheme)
}

// redactURI renders a URI with any password replaced.
func redactURI(u *url.URL) string {
	if u == nil {
		return ""
	}
	if _, pwSet := u.User.Password(); pwSet {
		redacted := *u
		redacted.User = url.UserPassword(u.User.Username(), "xxxxx")
		return redacted.String()
	}
	return u.String()
}
