// Package postgres implements the anser driver for PostgreSQL. It speaks
// the server's frontend/backend protocol through the internal pqconn
// client, prepares statements keyed by request identity, resolves enum type
// OIDs lazily, and streams many-row responses in single-row mode when the
// connection is configured for it.
//
// The driver registers itself for the postgresql:// and postgres:// URI
// schemes:
//
//	import _ "github.com/anserdb/anser/postgres"
package postgres

import (
	"context"
	"net/url"
	"runtime"
	"sort"
	"strings"

	"github.com/anserdb/anser"
	"github.com/anserdb/anser/internal/pqconn"
)

func init() {
	d := &driver{}
	anser.RegisterDriver("postgresql", d)
	anser.RegisterDriver("postgres", d)
}

type driver struct{}

func defaultPoolSize() int {
	n := runtime.NumCPU()
	if n < 4 {
		n = 4
	}
	return n
}

func (d *driver) Info() anser.DriverInfo {
	return anser.DriverInfo{
		Scheme:             "postgresql",
		CanConcur:          true,
		CanPool:            true,
		DefaultMaxSize:     defaultPoolSize(),
		DefaultMaxIdleSize: defaultPoolSize(),
	}
}

// driverParams are config keys consumed by the connector itself; they never
// reach the conninfo string.
var driverParams = map[string]struct{}{
	"tweaks_version": {},
}

// conninfo converts the URI and passthrough settings into libpq conninfo
// form. With no additional settings the URI passes through untouched;
// otherwise settings are merged with the URI's components into a key-value
// string, each value single-quoted with backslash escapes and multi-valued
// keys CSV-joined.
func conninfo(uri *url.URL, cfg *anser.Config) (string, error) {
	extra := make(map[string][]string)
	for k, vs := range cfg.Params {
		if _, skip := driverParams[k]; skip {
			continue
		}
		extra[k] = vs
	}

	var endpoint *url.URL
	if cfg.EndpointURI != "" {
		var err error
		endpoint, err = url.Parse(cfg.EndpointURI)
		if err != nil {
			return "", err
		}
	}

	if len(extra) == 0 && endpoint == nil && uri.Host != "" {
		return uri.String(), nil
	}

	settings := make(map[string]string)
	addURI := func(u *url.URL) {
		if u == nil {
			return
		}
		if u.Hostname() != "" {
			settings["host"] = u.Hostname()
		}
		if u.Port() != "" {
			settings["port"] = u.Port()
		}
		if u.User != nil {
			if u.User.Username() != "" {
				settings["user"] = u.User.Username()
			}
			if pw, ok := u.User.Password(); ok {
				settings["password"] = pw
			}
		}
		if db := strings.TrimLeft(u.Path, "/"); db != "" {
			settings["dbname"] = db
		}
		for k, vs := range u.Query() {
			settings[k] = strings.Join(vs, ",")
		}
	}
	addURI(uri)
	addURI(endpoint)
	for k, vs := range extra {
		settings[k] = strings.Join(vs, ",")
	}

	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(k)
		sb.WriteString("='")
		sb.WriteString(escapeConninfoValue(settings[k]))
		sb.WriteByte('\'')
	}
	return sb.String(), nil
}

func escapeConninfoValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

// quoteLiteral quotes a string constant for inclusion in query text.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// quoteIdent quotes an identifier such as a table or column name.
func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// Connect establishes a connection and performs session startup, which pins
// the session time zone to UTC so timestamp text round-trips unambiguously.
func (d *driver) Connect(ctx context.Context, uri *url.URL, config *anser.Config) (anser.Conn, error) {
	if config == nil {
		config = &anser.Config{}
	}
	redacted := redactedURI(uri)

	connString, err := conninfo(uri, config)
	if err != nil {
		return nil, anser.NewConnectFailed(redacted, err)
	}
	pqConfig, err := pqconn.ParseConfig(connString)
	if err != nil {
		return nil, anser.NewConnectFailed(redacted, err)
	}
	if config.NoticeHandler != nil {
		handler := config.NoticeHandler
		pqConfig.OnNotice = func(n *pqconn.Notice) {
			handler(anser.ServerMessage{
				Severity: n.Severity,
				Code:     n.Code,
				Message:  n.Message,
				Detail:   n.Detail,
				Hint:     n.Hint,
			})
		}
	}

	pq, err := pqconn.Connect(ctx, pqConfig)
	if err != nil {
		return nil, anser.NewConnectFailed(redacted, err)
	}

	c := &conn{
		pq:       pq,
		info:     d.Info(),
		uri:      redacted,
		config:   config,
		prepared: make(map[int64]*preparedEntry),
		typeOIDs: make(map[string]uint32),
	}
	if aerr := c.setTimeZoneUTC(ctx); aerr != nil {
		pq.Close(ctx)
		return nil, anser.NewPostConnect(redacted, aerr)
	}
	return c, nil
}

func redactedURI(u *url.URL) string {
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
