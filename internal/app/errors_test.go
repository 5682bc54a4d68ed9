package app

import (
	"errors"
	"fmt"
	"testing"
)

func TestOperationError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *OperationError
		expected string
	}{
		{"nil error", nil, ""},
		{"op only", &OperationError{Op: "listen"}, "listen"},
		{"op and target", &OperationError{Op: "load", Target: "/etc/dbgp.toml"}, "load /etc/dbgp.toml"},
		{
			"with context",
			&OperationError{Op: "register", Target: "dev", Context: "proxy 10.0.0.1:9001"},
			"register dev (proxy 10.0.0.1:9001)",
		},
		{
			"full chain",
			&OperationError{Op: "listen", Target: ":9000", Context: "bind", Err: errors.New("address in use")},
			"listen :9000 (bind): address in use",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, expected %q", got, tt.expected)
			}
		})
	}
}

func TestOperationError_WithContextNil(t *testing.T) {
	var err *OperationError
	if err.WithContext("x") != nil {
		t.Error("WithContext on nil should return nil")
	}
}

func TestOperationError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("parse: %w", ErrInvalidConfig)
	err := Wrap("load", "dbgp.toml", inner)

	if !errors.Is(err, ErrInvalidConfig) {
		t.Error("errors.Is should see through OperationError")
	}
	var op *OperationError
	if !errors.As(err, &op) || op.Target != "dbgp.toml" {
		t.Errorf("errors.As = %+v", op)
	}
	if Wrap("load", "x", nil) != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{errors.New("boom"), 1},
		{Wrap("load", "f", ErrInvalidConfig), 2},
	}
	for _, tt := range tests {
		if got := ExitCode(tt.err); got != tt.want {
			t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
