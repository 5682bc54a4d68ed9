// Package config loads the settings shared by the IDE daemon and the
// engine.
//
// Settings come from three layers, later ones overriding earlier ones:
//
//  1. built-in defaults (Default)
//  2. a TOML file, usually dbgp.toml
//  3. DBGP_* environment variables, optionally seeded from .env files
//
// A file looks like:
//
//	[ide]
//	port = 9000
//	idekey = "dev"
//	proxy = "proxy.internal:9001"
//	response_timeout = "10s"
//	breakpoints_file = "~/.local/state/dbgp/breakpoints.yaml"
//
//	[[ide.path_map]]
//	local = "/home/dev/app"
//	remote = "/srv/app"
//
//	[engine]
//	host = "localhost"
//	max_children = 64
//
//	[log]
//	level = "debug"
//	format = "json"
//
// The watcher subpackage reports edits to the file so a running daemon
// can re-apply it.
package config
