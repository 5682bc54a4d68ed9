package debug

import (
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dshills/dbgp/internal/dbgp"
)

// Mapping pairs a local path prefix with the prefix the engine sees.
type Mapping struct {
	Local  string `toml:"local" yaml:"local"`
	Remote string `toml:"remote" yaml:"remote"`
}

// ParseMapping parses "local=remote".
func ParseMapping(s string) (Mapping, error) {
	local, remote, ok := strings.Cut(s, "=")
	local, remote = strings.TrimSpace(local), strings.TrimSpace(remote)
	if !ok || local == "" || remote == "" {
		return Mapping{}, fmt.Errorf("path map %q: want local=remote", s)
	}
	return Mapping{Local: local, Remote: remote}, nil
}

// PathMap translates filenames between the IDE host and the engine
// host. The longest matching prefix wins.
type PathMap struct {
	mu   sync.RWMutex
	maps []Mapping
}

// NewPathMap creates a path map.
func NewPathMap(maps ...Mapping) *PathMap {
	m := &PathMap{}
	m.Set(maps)
	return m
}

// Set replaces all mappings.
func (m *PathMap) Set(maps []Mapping) {
	sorted := make([]Mapping, len(maps))
	copy(sorted, maps)
	m.mu.Lock()
	m.maps = sorted
	m.mu.Unlock()
}

// Mappings returns a copy of the mappings.
func (m *PathMap) Mappings() []Mapping {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Mapping, len(m.maps))
	copy(out, m.maps)
	return out
}

// ToRemote maps a local path to the engine's form.
func (m *PathMap) ToRemote(local string) string {
	for _, mp := range m.byLength(func(mp Mapping) string { return mp.Local }) {
		if rest, ok := cutPrefix(local, mp.Local); ok {
			return join(mp.Remote, rest, remoteSeparator(mp.Remote))
		}
	}
	return local
}

// ToLocal maps an engine path to the IDE's form.
func (m *PathMap) ToLocal(remote string) string {
	for _, mp := range m.byLength(func(mp Mapping) string { return mp.Remote }) {
		if rest, ok := cutPrefix(remote, mp.Remote); ok {
			return join(mp.Local, rest, filepath.Separator)
		}
	}
	return filepath.FromSlash(remote)
}

// RemoteURI renders a local filename as the file URI the engine expects.
func (m *PathMap) RemoteURI(local string) string {
	if local == "" || dbgp.IsPseudoFile(local) || strings.Contains(local, "://") {
		return dbgp.FileURI(local)
	}
	return dbgp.FileURI(strings.ReplaceAll(m.ToRemote(local), `\`, "/"))
}

// LocalPath turns a filename received from the engine into a local path.
func (m *PathMap) LocalPath(uri string) string {
	if uri == "" {
		return ""
	}
	return m.ToLocal(remotePath(uri))
}

func (m *PathMap) byLength(key func(Mapping) string) []Mapping {
	if m == nil {
		return nil
	}
	maps := m.Mappings()
	sort.SliceStable(maps, func(i, j int) bool {
		return len(key(maps[i])) > len(key(maps[j]))
	})
	return maps
}

// remotePath extracts the engine-side path from a file URI without
// converting separators for this host.
func remotePath(uri string) string {
	if !strings.HasPrefix(uri, "file:") {
		return uri
	}
	u, err := url.Parse(uri)
	if err != nil {
		return strings.TrimPrefix(uri, "file://")
	}
	p := u.Path
	if u.Host != "" && u.Host != "localhost" {
		p = "//" + u.Host + p
	}
	if len(p) > 2 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	return p
}

func isWindowsPath(p string) bool {
	return strings.Contains(p, `\`) || (len(p) >= 2 && p[1] == ':')
}

func remoteSeparator(prefix string) byte {
	if isWindowsPath(prefix) {
		return '\\'
	}
	return '/'
}

// cutPrefix matches prefix against p on a path boundary. Separators are
// compared loosely and Windows paths case-insensitively.
func cutPrefix(p, prefix string) (string, bool) {
	np := strings.ReplaceAll(p, `\`, "/")
	npre := strings.TrimRight(strings.ReplaceAll(prefix, `\`, "/"), "/")
	if isWindowsPath(prefix) {
		np, npre = strings.ToLower(np), strings.ToLower(npre)
	}
	if np == npre {
		return "", true
	}
	if !strings.HasPrefix(np, npre+"/") {
		return "", false
	}
	return strings.ReplaceAll(p, `\`, "/")[len(npre)+1:], true
}

func join(prefix, rest string, sep byte) string {
	prefix = strings.TrimRight(prefix, `/\`)
	if sep == '\\' {
		prefix = strings.ReplaceAll(prefix, "/", `\`)
		rest = strings.ReplaceAll(rest, "/", `\`)
	} else {
		prefix = strings.ReplaceAll(prefix, `\`, string(sep))
	}
	if rest == "" {
		return prefix
	}
	return prefix + string(sep) + rest
}
