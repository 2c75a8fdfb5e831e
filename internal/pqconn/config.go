package pqconn

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io/ioutil"
	"math"
	"net"
	"net/url"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgpassfile"
	"github.com/jackc/pgservicefile"
)

// DialFunc is used to establish the network connection.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Config is the resolved settings used to establish a connection. Build one
// with ParseConfig.
type Config struct {
	Host           string // host name or path to unix domain socket directory
	Port           uint16
	Database       string
	User           string
	Password       string
	TLSConfig      *tls.Config // nil disables TLS
	ConnectTimeout time.Duration
	DialFunc       DialFunc
	RuntimeParams  map[string]string

	Fallbacks []*FallbackConfig

	// OnNotice receives notices reported by the server.
	OnNotice func(*Notice)
}

// FallbackConfig is an alternative (host, port, TLS) triple to attempt when
// the primary fails, covering sslmode prefer/allow and multi-host settings.
type FallbackConfig struct {
	Host      string
	Port      uint16
	TLSConfig *tls.Config
}

// NetworkAddress converts a host and port into network and address suitable
// for net.Dial.
func NetworkAddress(host string, port uint16) (network, address string) {
	if strings.HasPrefix(host, "/") {
		network = "unix"
		address = filepath.Join(host, ".s.PGSQL.") + strconv.FormatInt(int64(port), 10)
	} else {
		network = "tcp"
		address = fmt.Sprintf("%s:%d", host, port)
	}
	return network, address
}

// ParseConfig builds a *Config with behaviour similar to the libpq C
// library: connString may be a URL or a DSN, PG* environment variables
// supply defaults, a service file referenced by a "service" setting is
// merged in, and a missing password is looked up in the passfile.
func ParseConfig(connString string) (*Config, error) {
	settings := defaultSettings()
	addEnvSettings(settings)

	if connString != "" {
		if strings.HasPrefix(connString, "postgres://") || strings.HasPrefix(connString, "postgresql://") {
			if err := addURLSettings(settings, connString); err != nil {
				return nil, err
			}
		} else {
			if err := addDSNSettings(settings, connString); err != nil {
				return nil, err
			}
		}
	}

	if service, present := settings["service"]; present {
		if err := addServiceSettings(settings, service); err != nil {
			return nil, err
		}
	}

	config := &Config{
		Database:      settings["database"],
		User:          settings["user"],
		Password:      settings["password"],
		RuntimeParams: make(map[string]string),
	}

	if s, present := settings["connect_timeout"]; present {
		timeout, err := strconv.ParseInt(s, 10, 64)
		if err != nil || timeout < 0 {
			return nil, fmt.Errorf("invalid connect_timeout: %v", s)
		}
		config.ConnectTimeout = time.Duration(timeout) * time.Second
	}
	config.DialFunc = makeDefaultDialer(config.ConnectTimeout).DialContext

	notRuntimeParams := map[string]struct{}{
		"host":            {},
		"port":            {},
		"database":        {},
		"user":            {},
		"password":        {},
		"passfile":        {},
		"servicefile":     {},
		"service":         {},
		"connect_timeout": {},
		"sslmode":         {},
		"sslkey":          {},
		"sslcert":         {},
		"sslrootcert":     {},
	}
	for k, v := range settings {
		if _, present := notRuntimeParams[k]; present {
			continue
		}
		config.RuntimeParams[k] = v
	}

	var fallbacks []*FallbackConfig
	hosts := strings.Split(settings["host"], ",")
	ports := strings.Split(settings["port"], ",")
	for i, host := range hosts {
		var portStr string
		if i < len(ports) {
			portStr = ports[i]
		} else {
			portStr = ports[0]
		}
		port, err := parsePort(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid port: %v", portStr)
		}

		var tlsConfigs []*tls.Config
		// TLS settings are ignored for unix domain sockets, like libpq.
		if network, _ := NetworkAddress(host, port); network == "unix" {
			tlsConfigs = []*tls.Config{nil}
		} else {
			tlsConfigs, err = configTLS(settings, host)
			if err != nil {
				return nil, err
			}
		}

		for _, tlsConfig := range tlsConfigs {
			fallbacks = append(fallbacks, &FallbackConfig{Host: host, Port: port, TLSConfig: tlsConfig})
		}
	}
	config.Host = fallbacks[0].Host
	config.Port = fallbacks[0].Port
	config.TLSConfig = fallbacks[0].TLSConfig
	config.Fallbacks = fallbacks[1:]

	if config.Password == "" {
		if passfile, err := pgpassfile.ReadPassfile(settings["passfile"]); err == nil {
			host := config.Host
			if network, _ := NetworkAddress(config.Host, config.Port); network == "unix" {
				host = "localhost"
			}
			config.Password = passfile.FindPassword(host, strconv.Itoa(int(config.Port)), config.Database, config.User)
		}
	}

	return config, nil
}

func defaultSettings() map[string]string {
	settings := map[string]string{
		"host": defaultHost(),
		"port": "5432",
	}
	if u, err := user.Current(); err == nil {
		settings["user"] = u.Username
		settings["passfile"] = filepath.Join(u.HomeDir, ".pgpass")
		settings["servicefile"] = filepath.Join(u.HomeDir, ".pg_service.conf")
	}
	return settings
}

// defaultHost mimics libpq's default host by checking the existence of
// common unix socket locations.
func defaultHost() string {
	candidatePaths := []string{
		"/var/run/postgresql",
		"/private/tmp",
		"/tmp",
	}
	for _, path := range candidatePaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return "localhost"
}

func addEnvSettings(settings map[string]string) {
	nameMap := map[string]string{
		"PGHOST":            "host",
		"PGPORT":            "port",
		"PGDATABASE":        "database",
		"PGUSER":            "user",
		"PGPASSWORD":        "password",
		"PGPASSFILE":        "passfile",
		"PGSERVICE":         "service",
		"PGSERVICEFILE":     "servicefile",
		"PGAPPNAME":         "application_name",
		"PGCONNECT_TIMEOUT": "connect_timeout",
		"PGSSLMODE":         "sslmode",
		"PGSSLKEY":          "sslkey",
		"PGSSLCERT":         "sslcert",
		"PGSSLROOTCERT":     "sslrootcert",
	}
	for envname, realname := range nameMap {
		if value := os.Getenv(envname); value != "" {
			settings[realname] = value
		}
	}
}

func addURLSettings(settings map[string]string, connString string) error {
	u, err := url.Parse(connString)
	if err != nil {
		return err
	}

	if u.User != nil {
		settings["user"] = u.User.Username()
		if password, present := u.User.Password(); present {
			settings["password"] = password
		}
	}

	// Multiple host:port pairs become host,host and port,port settings.
	var hosts, ports []string
	for _, host := range strings.Split(u.Host, ",") {
		parts := strings.SplitN(host, ":", 2)
		if parts[0] != "" {
			hosts = append(hosts, parts[0])
		}
		if len(parts) == 2 {
			ports = append(ports, parts[1])
		}
	}
	if len(hosts) > 0 {
		settings["host"] = strings.Join(hosts, ",")
	}
	if len(ports) > 0 {
		settings["port"] = strings.Join(ports, ",")
	}

	if database := strings.TrimLeft(u.Path, "/"); database != "" {
		settings["database"] = database
	}
	for k, v := range u.Query() {
		settings[k] = strings.Join(v, ",")
	}
	return nil
}

func addDSNSettings(settings map[string]string, s string) error {
	for len(s) > 0 {
		s = strings.TrimLeft(s, " \t\n\r")
		if s == "" {
			break
		}

		eq := strings.IndexByte(s, '=')
		if eq < 1 {
			return errors.New("invalid dsn")
		}
		key := strings.TrimRight(s[:eq], " \t")
		if key == "dbname" {
			key = "database"
		}
		s = strings.TrimLeft(s[eq+1:], " \t")

		var value strings.Builder
		if strings.HasPrefix(s, "'") {
			s = s[1:]
			for {
				if s == "" {
					return errors.New("invalid dsn: unterminated quoted value")
				}
				switch s[0] {
				case '\'':
					s = s[1:]
				case '\\':
					if len(s) < 2 {
						return errors.New("invalid dsn: trailing backslash")
					}
					value.WriteByte(s[1])
					s = s[2:]
					continue
				default:
					value.WriteByte(s[0])
					s = s[1:]
					continue
				}
				break
			}
		} else {
			for len(s) > 0 && s[0] != ' ' && s[0] != '\t' {
				if s[0] == '\\' {
					if len(s) < 2 {
						return errors.New("invalid dsn: trailing backslash")
					}
					value.WriteByte(s[1])
					s = s[2:]
					continue
				}
				value.WriteByte(s[0])
				s = s[1:]
			}
		}
		settings[key] = value.String()
	}
	return nil
}

func addServiceSettings(settings map[string]string, serviceName string) error {
	servicefile, err := pgservicefile.ReadServicefile(settings["servicefile"])
	if err != nil {
		return fmt.Errorf("failed to read service file %q: %w", settings["servicefile"], err)
	}
	service, err := servicefile.GetService(serviceName)
	if err != nil {
		return fmt.Errorf("unknown service %q", serviceName)
	}
	// Explicit settings take precedence over the service file.
	for k, v := range service.Settings {
		if _, present := settings[k]; !present {
			settings[k] = v
		}
	}
	return nil
}

// configTLS uses libpq's TLS parameters to construct the candidate TLS
// configs; sslmode allow and prefer yield two candidates.
func configTLS(settings map[string]string, host string) ([]*tls.Config, error) {
	sslmode := settings["sslmode"]
	sslrootcert := settings["sslrootcert"]
	sslcert := settings["sslcert"]
	sslkey := settings["sslkey"]

	if sslmode == "" {
		sslmode = "prefer"
	}

	tlsConfig := &tls.Config{}
	switch sslmode {
	case "disable":
		return []*tls.Config{nil}, nil
	case "allow", "prefer":
		tlsConfig.InsecureSkipVerify = true
	case "require":
		tlsConfig.InsecureSkipVerify = sslrootcert == ""
		tlsConfig.ServerName = host
	case "verify-ca", "verify-full":
		tlsConfig.ServerName = host
	default:
		return nil, errors.New("sslmode is invalid")
	}

	if sslrootcert != "" {
		caCertPool := x509.NewCertPool()
		caCert, err := ioutil.ReadFile(sslrootcert)
		if err != nil {
			return nil, fmt.Errorf("unable to read CA file %q: %w", sslrootcert, err)
		}
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("unable to add CA to cert pool")
		}
		tlsConfig.RootCAs = caCertPool
	}

	if (sslcert != "") != (sslkey != "") {
		return nil, errors.New(`both "sslcert" and "sslkey" are required`)
	}
	if sslcert != "" {
		cert, err := tls.LoadX509KeyPair(sslcert, sslkey)
		if err != nil {
			return nil, fmt.Errorf("unable to read cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	switch sslmode {
	case "allow":
		return []*tls.Config{nil, tlsConfig}, nil
	case "prefer":
		return []*tls.Config{tlsConfig, nil}, nil
	default:
		return []*tls.Config{tlsConfig}, nil
	}
}

func parsePort(s string) (uint16, error) {
	port, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	if port < 1 || port > math.MaxUint16 {
		return 0, errors.New("outside range")
	}
	return uint16(port), nil
}

func makeDefaultDialer(timeout time.Duration) *net.Dialer {
	return &net.Dialer{KeepAlive: 5 * time.Minute, Timeout: timeout}
}
