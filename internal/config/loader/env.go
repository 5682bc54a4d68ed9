package loader

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
)

// EnvLoader collects prefixed environment variables. Values from .env
// files are read first; the process environment overrides them.
type EnvLoader struct {
	prefix  string
	files   []string
	fs      afero.Fs
	environ func() []string
}

// NewEnvLoader creates a loader for variables starting with prefix,
// e.g. "DBGP_". Missing env files are skipped.
func NewEnvLoader(prefix string, envFiles ...string) *EnvLoader {
	return &EnvLoader{
		prefix:  prefix,
		files:   envFiles,
		fs:      afero.NewOsFs(),
		environ: os.Environ,
	}
}

// WithFs reads env files from fs.
func (l *EnvLoader) WithFs(fs afero.Fs) *EnvLoader {
	l.fs = fs
	return l
}

// WithEnviron replaces the process environment, as returned by
// os.Environ.
func (l *EnvLoader) WithEnviron(environ func() []string) *EnvLoader {
	l.environ = environ
	return l
}

// Load returns the prefixed variables keyed by their full name.
// Empty values count as set.
func (l *EnvLoader) Load() (map[string]string, error) {
	vars := make(map[string]string)

	for _, name := range l.files {
		f, err := l.fs.Open(name)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("reading env file %s: %w", name, err)
		}
		parsed, err := godotenv.Parse(f)
		f.Close()
		if err != nil {
			return nil, &ParseError{Path: name, Message: err.Error(), Err: err}
		}
		for k, v := range parsed {
			if strings.HasPrefix(k, l.prefix) {
				vars[k] = v
			}
		}
	}

	for _, kv := range l.environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(k, l.prefix) {
			vars[k] = v
		}
	}
	return vars, nil
}
