// Package lua evaluates debugger expressions with gopher-lua.
//
// Conditional and watch breakpoints, eval, property_set values and the
// interactive console all run through an Evaluator. Code executes in a
// sandbox with only the base, table, string and math libraries; the
// paused frame's variables are visible as globals.
//
// Go maps, slices, structs and pointers are exposed lazily:
//
//	cfg.Servers[1].Port    -- first element, Lua indexing is 1-based
//	#cfg.Servers           -- length
//	cfg.Tags["env"] = "qa" -- assigns through to the Go map
package lua
