package backend

import (
	"path/filepath"

	"github.com/dshills/dbgp/internal/dbgp"
)

// canonic returns the absolute, cleaned form of a filename. Results are
// cached. The caller holds d.mu.
func (d *Debugger) canonic(name string) string {
	if name == "" || dbgp.IsPseudoFile(name) {
		return name
	}
	if c, ok := d.canon[name]; ok {
		return c
	}
	c := name
	if abs, err := filepath.Abs(name); err == nil {
		c = abs
	}
	c = filepath.Clean(c)
	d.canon[name] = c
	return c
}

// Canonic returns the canonical form of a filename or file URI.
func (d *Debugger) Canonic(name string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.canonic(dbgp.URIToPath(name))
}
