// Package loader reads configuration sources: TOML files and the
// process environment, optionally seeded from .env files.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
)

// TOMLLoader decodes TOML files into typed configuration structs.
type TOMLLoader struct {
	fs afero.Fs
	// Strict rejects keys that have no field in the target.
	Strict bool
}

// NewTOMLLoader creates a TOML loader reading from fs. A nil fs reads
// the host filesystem.
func NewTOMLLoader(fs afero.Fs) *TOMLLoader {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &TOMLLoader{fs: fs}
}

// LoadFrom decodes the file at path into v. A missing file leaves v
// untouched and reports found=false.
func (l *TOMLLoader) LoadFrom(path string, v any) (found bool, err error) {
	data, err := afero.ReadFile(l.fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return true, l.Decode(path, data, v)
}

// Decode decodes data into v. source names the data in errors.
func (l *TOMLLoader) Decode(source string, data []byte, v any) error {
	d := toml.NewDecoder(bytes.NewReader(data))
	if l.Strict {
		d.DisallowUnknownFields()
	}
	err := d.Decode(v)
	if err == nil {
		return nil
	}

	perr := &ParseError{Path: source, Message: err.Error(), Err: err}
	var derr *toml.DecodeError
	if errors.As(err, &derr) {
		perr.Line, perr.Column = derr.Position()
	}
	var serr *toml.StrictMissingError
	if errors.As(err, &serr) {
		perr.Message = serr.String()
	}
	return perr
}

// ParseError is a configuration file that could not be decoded.
type ParseError struct {
	Path    string
	Line    int
	Column  int
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Line > 0 && e.Column > 0 {
		return fmt.Sprintf("parse error in %s at line %d, column %d: %s", e.Path, e.Line, e.Column, e.Message)
	}
	if e.Line > 0 {
		return fmt.Sprintf("parse error in %s at line %d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("parse error in %s: %s", e.Path, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
