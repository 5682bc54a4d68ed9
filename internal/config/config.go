package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/dshills/dbgp/internal/app"
	"github.com/dshills/dbgp/internal/backend"
	"github.com/dshills/dbgp/internal/backend/property"
	"github.com/dshills/dbgp/internal/config/loader"
)

// EnvPrefix starts every environment override.
const EnvPrefix = "DBGP_"

// DefaultPort is the port engines connect to.
const DefaultPort = 9000

// Config is the complete dbgp configuration.
type Config struct {
	IDE    IDEConfig    `toml:"ide"`
	Engine EngineConfig `toml:"engine"`
	Log    LogConfig    `toml:"log"`
}

// IDEConfig configures the listening side.
type IDEConfig struct {
	Host   string `toml:"host"`
	Port   int    `toml:"port"`
	IDEKey string `toml:"idekey"`
	// Proxy is the host:port of a DBGP proxy to register with.
	Proxy string `toml:"proxy"`

	AcceptTimeout   Duration `toml:"accept_timeout"`
	ResponseTimeout Duration `toml:"response_timeout"`

	BreakpointsFile string    `toml:"breakpoints_file"`
	PathMaps        []PathMap `toml:"path_map"`
}

// Address is the host:port the IDE listens on.
func (c IDEConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// PathMap pairs a local path prefix with the prefix the engine sees.
type PathMap struct {
	Local  string `toml:"local"`
	Remote string `toml:"remote"`
}

// EngineConfig configures the debugging side.
type EngineConfig struct {
	Host   string `toml:"host"`
	Port   int    `toml:"port"`
	IDEKey string `toml:"idekey"`
	Cookie string `toml:"cookie"`

	MaxChildren int  `toml:"max_children"`
	MaxData     int  `toml:"max_data"`
	MaxDepth    int  `toml:"max_depth"`
	ShowHidden  bool `toml:"show_hidden"`

	Interactive bool `toml:"interactive"`
	// Attempts bounds connection retries.
	Attempts uint64 `toml:"attempts"`
}

// Options returns the engine defaults advertised through feature_get.
func (c EngineConfig) Options() backend.Options {
	o := backend.DefaultOptions()
	o.MaxChildren = c.MaxChildren
	o.MaxData = c.MaxData
	o.MaxDepth = c.MaxDepth
	o.ShowHidden = c.ShowHidden
	o.Interactive = c.Interactive
	return o
}

// ConnectOptions returns the session options for one connection.
func (c EngineConfig) ConnectOptions() backend.ConnectOptions {
	return backend.ConnectOptions{
		Address:  net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		IDEKey:   c.IDEKey,
		Cookie:   c.Cookie,
		Attempts: c.Attempts,
	}
}

// LogConfig configures the root logger.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// LoggerConfig converts the section for app.NewLogger.
func (c LogConfig) LoggerConfig() (app.LoggerConfig, error) {
	level, err := app.ParseLogLevel(c.Level)
	if err != nil {
		return app.LoggerConfig{}, err
	}
	lc := app.DefaultLoggerConfig()
	lc.Level = level
	if c.Format != "" {
		lc.Format = c.Format
	}
	lc.File = c.File
	return lc, nil
}

// Duration is a time.Duration written as a string, e.g. "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		IDE: IDEConfig{
			Port:            DefaultPort,
			AcceptTimeout:   Duration{},
			ResponseTimeout: Duration{5 * time.Second},
		},
		Engine: EngineConfig{
			Host:        "localhost",
			Port:        DefaultPort,
			MaxChildren: property.DefaultMaxChildren,
			MaxData:     property.DefaultMaxData,
			MaxDepth:    property.DefaultMaxDepth,
			Attempts:    5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: app.FormatConsole,
		},
	}
}

// Options control Load.
type Options struct {
	// Path of the TOML file. Empty skips the file layer; a missing file
	// is not an error.
	Path string
	// EnvFiles are .env files read before the process environment.
	EnvFiles []string
	// Strict rejects unknown keys in the file.
	Strict bool

	Fs      afero.Fs
	Environ func() []string
}

// Load builds the configuration from defaults, the file and the
// environment, and validates the result.
func Load(opts Options) (*Config, error) {
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	cfg := Default()

	if opts.Path != "" {
		tl := loader.NewTOMLLoader(fs)
		tl.Strict = opts.Strict
		if _, err := tl.LoadFrom(opts.Path, cfg); err != nil {
			return nil, fmt.Errorf("%w: %w", app.ErrInvalidConfig, err)
		}
	}

	el := loader.NewEnvLoader(EnvPrefix, opts.EnvFiles...).WithFs(fs)
	if opts.Environ != nil {
		el.WithEnviron(opts.Environ)
	}
	vars, err := el.Load()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", app.ErrInvalidConfig, err)
	}
	if err := cfg.applyEnv(vars); err != nil {
		return nil, err
	}

	cfg.IDE.BreakpointsFile = expandHome(cfg.IDE.BreakpointsFile)
	cfg.Log.File = expandHome(cfg.Log.File)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides settings from DBGP_* variables. DBGP_IDEKEY and
// DBGP_PORT apply to both sides so a local IDE and engine agree.
func (c *Config) applyEnv(vars map[string]string) error {
	if v, ok := vars["DBGP_IDEKEY"]; ok {
		c.IDE.IDEKey = v
		c.Engine.IDEKey = v
	}
	if v, ok := vars["DBGP_COOKIE"]; ok {
		c.Engine.Cookie = v
	}
	if v, ok := vars["DBGP_HOST"]; ok {
		c.Engine.Host = v
	}
	if v, ok := vars["DBGP_PORT"]; ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return &ValidationError{Path: "DBGP_PORT", Value: v, Message: "not a number"}
		}
		c.IDE.Port = port
		c.Engine.Port = port
	}
	if v, ok := vars["DBGP_LOG_LEVEL"]; ok {
		c.Log.Level = v
	}
	return nil
}

// Validate checks every setting.
func (c *Config) Validate() error {
	if err := validPort("ide.port", c.IDE.Port, true); err != nil {
		return err
	}
	if err := validPort("engine.port", c.Engine.Port, false); err != nil {
		return err
	}
	if c.IDE.Proxy != "" {
		if _, _, err := net.SplitHostPort(c.IDE.Proxy); err != nil {
			return &ValidationError{Path: "ide.proxy", Value: c.IDE.Proxy, Message: "want host:port"}
		}
	}
	if c.IDE.AcceptTimeout.Duration < 0 {
		return &ValidationError{Path: "ide.accept_timeout", Value: c.IDE.AcceptTimeout, Message: "negative"}
	}
	if c.IDE.ResponseTimeout.Duration < 0 {
		return &ValidationError{Path: "ide.response_timeout", Value: c.IDE.ResponseTimeout, Message: "negative"}
	}
	for i, m := range c.IDE.PathMaps {
		if m.Local == "" || m.Remote == "" {
			return &ValidationError{Path: fmt.Sprintf("ide.path_map[%d]", i), Value: m, Message: "local and remote are required"}
		}
	}
	if c.Engine.MaxChildren < 0 || c.Engine.MaxData < 0 || c.Engine.MaxDepth < 0 {
		return &ValidationError{Path: "engine", Value: c.Engine, Message: "limits must not be negative"}
	}
	if _, err := app.ParseLogLevel(c.Log.Level); err != nil {
		return &ValidationError{Path: "log.level", Value: c.Log.Level, Message: "want debug, info, warn or error"}
	}
	switch c.Log.Format {
	case "", app.FormatConsole, app.FormatJSON:
	default:
		return &ValidationError{Path: "log.format", Value: c.Log.Format, Message: "want console or json"}
	}
	return nil
}

func validPort(path string, port int, zeroOK bool) error {
	if port < 0 || port > 65535 || (port == 0 && !zeroOK) {
		return &ValidationError{Path: path, Value: port, Message: "out of range"}
	}
	return nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
