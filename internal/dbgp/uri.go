package dbgp

import (
	"net/url"
	"path/filepath"
	"strings"
)

// IsPseudoFile reports names like "<eval>" that do not refer to a file.
func IsPseudoFile(name string) bool {
	return strings.HasPrefix(name, "<") && strings.HasSuffix(name, ">")
}

// FileURI renders a local path as a file:// URL. Pseudo names map to
// dbgp:///<name>.
func FileURI(path string) string {
	if path == "" {
		return ""
	}
	if IsPseudoFile(path) {
		return "dbgp:///" + path[1:len(path)-1]
	}
	if strings.Contains(path, "://") || strings.HasPrefix(path, "dbgp:") {
		return path
	}
	p := filepath.ToSlash(path)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	u := url.URL{Scheme: "file", Path: p}
	return u.String()
}

// URIToPath converts a file:// URL to a local path. Other strings are
// returned unchanged.
func URIToPath(uri string) string {
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
	// file:///C:/x on Windows carries a drive letter after the slash.
	if len(p) > 2 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	return filepath.FromSlash(p)
}
