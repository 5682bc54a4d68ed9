package config

import (
	"fmt"

	"github.com/dshills/dbgp/internal/app"
)

// ValidationError is a setting whose value cannot be used.
type ValidationError struct {
	Path    string // dotted key, e.g. "ide.port"
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s = %v: %s", e.Path, e.Value, e.Message)
}

// Unwrap makes every ValidationError match app.ErrInvalidConfig.
func (e *ValidationError) Unwrap() error {
	return app.ErrInvalidConfig
}
