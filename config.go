package anser

// Config carries driver-independent connection settings. A nil *Config is
// equivalent to the zero value.
type Config struct {
	// Params holds freeform settings passed through to the driver's
	// connection string. Multi-valued keys are CSV-joined by the driver.
	Params map[string][]string

	// EndpointURI optionally overrides parts of the connection endpoint
	// derived from the connect URI.
	EndpointURI string

	// NoticeHandler receives server notices. Nil discards them.
	NoticeHandler func(ServerMessage)

	// UseSingleRowMode streams many-row responses row by row instead of
	// buffering complete results.
	UseSingleRowMode bool

	// TweaksVersion selects versioned behavioural tweaks. It is validated
	// as a semantic version by Connect and installed into Params before the
	// driver connects.
	TweaksVersion string

	// Env resolves environment references in query templates.
	Env func(DriverInfo, string) (*Template, bool)

	// Logger receives log output from the driver. Nil disables logging.
	Logger Logger

	// LogLevel bounds the log output. The zero value means LogLevelInfo.
	LogLevel LogLevel
}

func (c *Config) clone() *Config {
	out := &Config{}
	if c == nil {
		return out
	}
	*out = *c
	if c.Params != nil {
		out.Params = make(map[string][]string, len(c.Params))
		for k, vs := range c.Params {
			out.Params[k] = append([]string(nil), vs...)
		}
	}
	return out
}

// EffectiveLogLevel returns the configured log level, defaulting to
// LogLevelInfo.
func (c *Config) EffectiveLogLevel() LogLevel {
	if c == nil || c.LogLevel == 0 {
		return LogLevelInfo
	}
	return c.LogLevel
}

// ShouldLog reports whether a message at the given level is wanted.
func (c *Config) ShouldLog(level LogLevel) bool {
	if c == nil || c.Logger == nil {
		return false
	}
	return c.EffectiveLogLevel() >= level
}
