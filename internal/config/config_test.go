package config

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/dbgp/internal/app"
	"github.com/dshills/dbgp/internal/config/loader"
)

func noEnv() []string { return nil }

func writeFile(t *testing.T, fs afero.Fs, name, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0o644))
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(Options{Path: "/missing.toml", Fs: afero.NewMemMapFs(), Environ: noEnv})
	require.NoError(t, err)
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("defaults changed (-want +got):\n%s", diff)
	}
	assert.Equal(t, ":9000", cfg.IDE.Address())
}

func TestLoadFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/etc/dbgp.toml", `
[ide]
host = "127.0.0.1"
port = 9005
idekey = "dev"
proxy = "proxy.internal:9001"
response_timeout = "10s"
breakpoints_file = "/var/lib/dbgp/bp.yaml"

[[ide.path_map]]
local = "/home/dev/app"
remote = "/srv/app"

[engine]
max_children = 64
show_hidden = true

[log]
level = "debug"
format = "json"
`)

	cfg, err := Load(Options{Path: "/etc/dbgp.toml", Fs: fs, Environ: noEnv})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9005", cfg.IDE.Address())
	assert.Equal(t, "dev", cfg.IDE.IDEKey)
	assert.Equal(t, "proxy.internal:9001", cfg.IDE.Proxy)
	assert.Equal(t, 10*time.Second, cfg.IDE.ResponseTimeout.Duration)
	assert.Equal(t, []PathMap{{Local: "/home/dev/app", Remote: "/srv/app"}}, cfg.IDE.PathMaps)

	// untouched keys keep their defaults
	assert.Equal(t, "localhost", cfg.Engine.Host)
	assert.Equal(t, 64, cfg.Engine.MaxChildren)
	assert.Equal(t, Default().Engine.MaxData, cfg.Engine.MaxData)

	opts := cfg.Engine.Options()
	assert.Equal(t, 64, opts.MaxChildren)
	assert.True(t, opts.ShowHidden)
	assert.Equal(t, "go", opts.Language)

	lc, err := cfg.Log.LoggerConfig()
	require.NoError(t, err)
	assert.Equal(t, app.LogLevelDebug, lc.Level)
	assert.Equal(t, app.FormatJSON, lc.Format)
}

func TestLoadEnvOverrides(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/dbgp.toml", "[ide]\nidekey = \"file\"\n")
	writeFile(t, fs, "/.env", "DBGP_COOKIE=from-dotenv\nDBGP_IDEKEY=dotenv\nOTHER=1\n")

	environ := func() []string {
		return []string{"DBGP_IDEKEY=env", "DBGP_PORT=9100", "DBGP_HOST=10.1.1.1", "PATH=/bin"}
	}
	cfg, err := Load(Options{Path: "/dbgp.toml", EnvFiles: []string{"/.env", "/missing.env"}, Fs: fs, Environ: environ})
	require.NoError(t, err)

	assert.Equal(t, "env", cfg.IDE.IDEKey)
	assert.Equal(t, "env", cfg.Engine.IDEKey)
	assert.Equal(t, "from-dotenv", cfg.Engine.Cookie)
	assert.Equal(t, 9100, cfg.IDE.Port)

	co := cfg.Engine.ConnectOptions()
	assert.Equal(t, "10.1.1.1:9100", co.Address)
	assert.Equal(t, "from-dotenv", co.Cookie)
	assert.Equal(t, uint64(5), co.Attempts)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		environ []string
		strict  bool
		path    string
	}{
		{name: "syntax", file: "[ide\nport = 1\n"},
		{name: "bad port", file: "[ide]\nport = 70000\n", path: "ide.port"},
		{name: "engine port zero", file: "[engine]\nport = 0\n", path: "engine.port"},
		{name: "bad proxy", file: "[ide]\nproxy = \"nohost\"\n", path: "ide.proxy"},
		{name: "bad duration", file: "[ide]\nresponse_timeout = \"soon\"\n"},
		{name: "half path map", file: "[[ide.path_map]]\nlocal = \"/a\"\n", path: "ide.path_map[0]"},
		{name: "bad level", file: "[log]\nlevel = \"loud\"\n", path: "log.level"},
		{name: "bad format", file: "[log]\nformat = \"xml\"\n", path: "log.format"},
		{name: "env port", environ: []string{"DBGP_PORT=nine"}, path: "DBGP_PORT"},
		{name: "unknown key strict", file: "[ide]\ncolour = 1\n", strict: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			writeFile(t, fs, "/dbgp.toml", tt.file)
			_, err := Load(Options{
				Path:    "/dbgp.toml",
				Strict:  tt.strict,
				Fs:      fs,
				Environ: func() []string { return tt.environ },
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, app.ErrInvalidConfig)

			if tt.path != "" {
				var verr *ValidationError
				require.True(t, errors.As(err, &verr), "%v", err)
				assert.Equal(t, tt.path, verr.Path)
			}
		})
	}
}

func TestLoadSyntaxErrorPosition(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/dbgp.toml", "[ide]\nport = = 1\n")
	_, err := Load(Options{Path: "/dbgp.toml", Fs: fs, Environ: noEnv})

	var perr *loader.ParseError
	require.True(t, errors.As(err, &perr), "%v", err)
	assert.Equal(t, "/dbgp.toml", perr.Path)
	assert.Equal(t, 2, perr.Line)
	assert.Contains(t, err.Error(), "line 2")
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration)
	b, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(b))
	assert.Error(t, d.UnmarshalText([]byte("later")))
}
